package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sessionStore {
	t.Helper()
	store, err := newSessionStore(filepath.Join(t.TempDir(), "nested", "session.json.gz"), nil)
	require.NoError(t, err)
	return store
}

func TestSessionStore_SaveLoad(t *testing.T) {
	store := newTestStore(t)

	key := requestKey{Tab: "tab", RequestID: "1", URL: "https://example.com/"}
	state := sessionState{
		Configuration: settings{
			RecordIncompleted: true,
			UseSessionStorage: true,
			Connect:           &connectParams{Port: "8000", ClientID: "c"},
		},
		TimingData: map[TabID][]*timingDataEntry{
			"tab": {{Requests: []requestKey{key}, Loaded: true}},
		},
		TabRequests: []*RequestEntry{{
			Tab:       key.Tab,
			RequestID: key.RequestID,
			URL:       key.URL,
			StartTime: floatPtr(1000.5),
			Finished:  true,
		}},
	}

	require.NoError(t, store.save(state))

	got, ok, err := store.load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state, got)
}

func TestSessionStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, ok, err := store.load()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionStore_LoadCorrupt(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.path, []byte("not gzip"), 0o600))

	_, ok, err := store.load()
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSessionStore_Clear(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.save(sessionState{}))

	require.NoError(t, store.clear())
	_, err := os.Stat(store.path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// clearing twice is fine
	assert.NoError(t, store.clear())
}

func TestNewSessionStore_EmptyPath(t *testing.T) {
	_, err := newSessionStore("", nil)
	assert.Error(t, err)
}

func TestAggregator_PersistRestore(t *testing.T) {
	store := newTestStore(t)

	agg := newAggregator(nil)
	agg.Configure(settings{UseSessionStorage: true, Connect: &connectParams{Port: "8000", ClientID: "c"}})
	agg.HandleRequestEvent(requestEvent(eventBeforeRequest, "tab", "1", "https://example.com/", 1000))
	agg.HandlePageEvent("tab", PageEvent{Kind: pageEventBeforeUnload})

	require.NoError(t, agg.persist(store))
	assert.False(t, agg.dirty)

	restored := newAggregator(nil)
	ok, err := restored.restore(store)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, agg.Settings(), restored.Settings())
	require.Len(t, restored.tabs["tab"], 2)
	assert.True(t, restored.tabs["tab"][0].BeforeUnload)
	require.Equal(t, 1, restored.requests.len())

	// the restored request is still tied to its navigation
	restored.HandleRequestEvent(completedEvent("tab", "1", "https://example.com/", 1100))
	sink := &recordingSink{}
	restored.useSink(sink)
	restored.NavigationCommitted("tab")
	require.Len(t, delivered(restored, sink), 1)
}

func TestAggregator_PersistSkipsCleanState(t *testing.T) {
	st := newStats()
	store, err := newSessionStore(filepath.Join(t.TempDir(), "session.json.gz"), st)
	require.NoError(t, err)

	agg := newAggregator(nil)
	require.NoError(t, agg.persist(store))
	assert.Equal(t, int64(0), atomic.LoadInt64(&st.StoreWrites))

	agg.Configure(settings{UseSessionStorage: true})
	require.NoError(t, agg.persist(store))
	require.NoError(t, agg.persist(store))
	assert.Equal(t, int64(1), atomic.LoadInt64(&st.StoreWrites))
}

func TestAggregator_ResetClearsStore(t *testing.T) {
	store := newTestStore(t)

	agg := newAggregator(nil)
	agg.useStore(store)
	agg.Configure(settings{UseSessionStorage: true})
	require.NoError(t, agg.persist(store))

	agg.Reset()
	_, ok, err := store.load()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, agg.dirty)
}

func TestAggregator_PersistLoopWritesOnShutdown(t *testing.T) {
	store := newTestStore(t)

	agg := newAggregator(nil)
	agg.Configure(settings{UseSessionStorage: true, RecordIncompleted: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		agg.persistLoop(ctx, store, time.Hour)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("persist loop did not stop")
	}

	state, ok, err := store.load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, state.Configuration.RecordIncompleted)
}
