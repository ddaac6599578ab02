package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// persistInterval is how often a dirty aggregator state is written
const persistInterval = 2 * time.Second

// sessionState is the persisted aggregator state
type sessionState struct {
	Configuration settings                     `json:"configuration"`
	TimingData    map[TabID][]*timingDataEntry `json:"timingData"`
	TabRequests   []*RequestEntry              `json:"tabRequests"`
}

// sessionStore keeps the aggregator state in a gzip compressed JSON file
// so a restarted recorder can pick up where it left off
type sessionStore struct {
	path  string
	stats *stats
}

func newSessionStore(path string, st *stats) (*sessionStore, error) {
	if path == "" {
		return nil, errors.New("session file path cannot be empty")
	}
	if st == nil {
		st = newStats()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}

	return &sessionStore{path: path, stats: st}, nil
}

// save replaces the session file with state
func (s *sessionStore) save(state sessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	return s.write(payload)
}

// write compresses an encoded state into the session file. The file is
// written next to the target and renamed so a crash never leaves a
// truncated file behind.
func (s *sessionStore) write(payload []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		gz.Close()
		return fmt.Errorf("failed to compress session state: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress session state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		atomic.AddInt64(&s.stats.StoreErrors, 1)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		atomic.AddInt64(&s.stats.StoreErrors, 1)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	atomic.AddInt64(&s.stats.StoreWrites, 1)
	return nil
}

// load reads the session file. A missing file yields ok=false.
func (s *sessionStore) load() (state sessionState, ok bool, err error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return sessionState{}, false, nil
	} else if err != nil {
		return sessionState{}, false, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return sessionState{}, false, fmt.Errorf("failed to decompress session file: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return sessionState{}, false, fmt.Errorf("failed to read session file: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return sessionState{}, false, fmt.Errorf("failed to decode session file: %w", err)
	}

	return state, true, nil
}

// clear removes the session file
func (s *sessionStore) clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// restore loads the persisted state into agg. It reports whether there
// was anything to restore.
func (a *Aggregator) restore(store *sessionStore) (bool, error) {
	state, ok, err := store.load()
	if err != nil || !ok {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings = state.Configuration
	a.tabs = map[TabID][]*timingDataEntry{}
	for tab, entries := range state.TimingData {
		a.tabs[tab] = entries
	}
	a.requests.reset()
	for _, r := range state.TabRequests {
		a.requests.entries[requestKey{Tab: r.Tab, RequestID: r.RequestID, URL: r.URL}] = r
	}

	return true, nil
}

// persist writes the state to store when it changed since the last write
func (a *Aggregator) persist(store *sessionStore) error {
	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return nil
	}

	// encode under the lock, the entries keep changing once it is released
	payload, err := json.Marshal(sessionState{
		Configuration: a.settings,
		TimingData:    a.tabs,
		TabRequests:   a.requests.all(),
	})
	a.dirty = false
	a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	return store.write(payload)
}

// persistLoop writes the aggregator state whenever it changed, and once
// more when ctx is done
func (a *Aggregator) persistLoop(ctx context.Context, store *sessionStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.persist(store); err != nil {
				log.Error().Err(err).Msg("failed to persist session state on shutdown")
			}
			return
		case <-ticker.C:
			if err := a.persist(store); err != nil {
				log.Warn().Err(err).Msg("failed to persist session state")
			}
		}
	}
}
