package main

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// recordSink receives the records of flushed navigations
type recordSink interface {
	DumpRecords(records []PerformanceRecord)
}

// timingSource fetches the current timing data of a tab from its page
type timingSource interface {
	CurrentTimingData(ctx context.Context, tab TabID) (TimingSnapshot, error)
}

// multiSink fans records out to several sinks
type multiSink []recordSink

func (m multiSink) DumpRecords(records []PerformanceRecord) {
	for _, s := range m {
		s.DumpRecords(records)
	}
}

// Aggregator buffers navigations per tab and correlates them with the
// requests they made. Every handler takes the lock for its synchronous
// part only. Timing sources are called without it, sinks are fed by the
// dispatcher.
type Aggregator struct {
	mu       sync.Mutex
	tabs     map[TabID][]*timingDataEntry // oldest first, last is current
	requests *requestTable
	settings settings
	dirty    bool

	sink       recordSink
	dispatcher *recordDispatcher
	source     timingSource
	store  *sessionStore
	stats  *stats

	checkCompletedDelay time.Duration
	updateCheckDelay    time.Duration
}

func newAggregator(st *stats) *Aggregator {
	if st == nil {
		st = newStats()
	}

	return &Aggregator{
		tabs:                map[TabID][]*timingDataEntry{},
		requests:            newRequestTable(),
		dispatcher:          newRecordDispatcher(),
		stats:               st,
		checkCompletedDelay: 250 * time.Millisecond,
		updateCheckDelay:    500 * time.Millisecond,
	}
}

// useSink sets where flushed records go
func (a *Aggregator) useSink(sink recordSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// useTimingSource sets where fresh page timing data is fetched from
func (a *Aggregator) useTimingSource(source timingSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.source = source
}

// useStore sets the session store state is persisted to
func (a *Aggregator) useStore(store *sessionStore) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store = store
}

// Configure replaces the recorder configuration
func (a *Aggregator) Configure(s settings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = s
	a.markDirty()
}

// Settings returns the current configuration
func (a *Aggregator) Settings() settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// HandleRequestEvent applies a request lifecycle event. The first event of
// a request attaches it to the tab's current navigation.
func (a *Aggregator) HandleRequestEvent(ev RequestEvent) {
	if ev.Tab == "" || !recordable(ev.URL) {
		return
	}
	atomic.AddInt64(&a.stats.RequestEvents, 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	key := requestKey{Tab: ev.Tab, RequestID: ev.RequestID, URL: ev.URL}
	entry, created := a.requests.getOrCreate(key)
	if created {
		current := a.currentEntry(ev.Tab)
		current.Requests = append(current.Requests, key)
	}
	entry.apply(ev)
	a.markDirty()
}

// HandlePageEvent applies a lifecycle signal of the page loaded in tab.
// Signals for a tab that has no navigation yet are ignored, except for
// beforeUnload which always opens a new navigation.
func (a *Aggregator) HandlePageEvent(tab TabID, ev PageEvent) {
	atomic.AddInt64(&a.stats.PageEvents, 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	_, known := a.tabs[tab]

	switch ev.Kind {
	case pageEventBeforeUnload:
		if known {
			current := a.currentEntry(tab)
			current.BeforeUnload = true
			if ev.Snapshot != nil {
				current.mergeSnapshot(*ev.Snapshot)
			}
		}
		a.newEntry(tab)

	case pageEventLoad:
		if known {
			a.currentEntry(tab).Loaded = true
		}

	case pageEventResourceTimingBufferFull:
		if known && ev.Snapshot != nil {
			a.currentEntry(tab).mergeSnapshot(*ev.Snapshot)
		}
	}

	a.markDirty()
}

// NavigationCommitted flushes the navigations of tab that have unloaded
// and whose requests have all finished
func (a *Aggregator) NavigationCommitted(tab TabID) {
	atomic.AddInt64(&a.stats.Navigations, 1)

	a.mu.Lock()
	records, sink := a.flushTab(tab, true), a.sink
	a.mu.Unlock()

	a.emit(sink, records)
}

// TabClosed flushes every navigation of tab, finished or not, and drops
// the tab's state
func (a *Aggregator) TabClosed(tab TabID) {
	a.mu.Lock()
	records, sink := a.flushTab(tab, false), a.sink
	delete(a.tabs, tab)
	a.requests.removeTab(tab)
	a.markDirty()
	a.mu.Unlock()

	a.emit(sink, records)
}

// Shutdown flushes every tab as if it had been closed and waits for the
// records to reach the sink
func (a *Aggregator) Shutdown() {
	for _, tab := range a.tabIDs() {
		a.TabClosed(tab)
	}
	a.Close()
}

// Close waits for the flushed records to reach the sink. Records flushed
// afterwards are handed over directly.
func (a *Aggregator) Close() {
	a.dispatcher.close()
}

// waitDispatched blocks until the records flushed so far reached the sink
func (a *Aggregator) waitDispatched() {
	a.dispatcher.wait()
}

// Reset drops all tab and request state. The configuration is kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.tabs = map[TabID][]*timingDataEntry{}
	a.requests.reset()
	// a write already in flight may land after the file is removed, the
	// next write replaces it with the empty state
	a.markDirty()
	store := a.store
	a.mu.Unlock()

	if store != nil {
		if err := store.clear(); err != nil {
			log.Warn().Err(err).Msg("failed to clear session store")
		}
	}
}

// flushTab removes the leading navigations of tab and builds their
// records. With onlyFinished, it stops at the first navigation that has
// not unloaded or still has a running request. Must hold mu.
func (a *Aggregator) flushTab(tab TabID, onlyFinished bool) []PerformanceRecord {
	entries := a.tabs[tab]
	if len(entries) == 0 {
		return nil
	}

	at := len(entries)
	if onlyFinished {
		for i, entry := range entries {
			if !entry.BeforeUnload || a.hasPendingRequests(entry) {
				at = i
				break
			}
		}
	}
	if at == 0 {
		return nil
	}

	removed := entries[:at]
	a.tabs[tab] = append([]*timingDataEntry(nil), entries[at:]...)

	records := make([]PerformanceRecord, 0, len(removed))
	for _, entry := range removed {
		var requests []*RequestEntry
		for _, key := range entry.Requests {
			if r := a.requests.remove(key); r != nil {
				requests = append(requests, r)
			}
		}
		records = append(records, buildRecord(entry, requests))
	}
	a.markDirty()

	return filterRecordEntries(records, a.settings.RecordIncompleted)
}

func (a *Aggregator) emit(sink recordSink, records []PerformanceRecord) {
	if len(records) == 0 || sink == nil {
		return
	}
	atomic.AddInt64(&a.stats.RecordsFlushed, int64(len(records)))
	a.dispatcher.dispatch(sink, records)
}

// hasPendingRequests reports whether any known request of entry has not
// finished yet. Must hold mu.
func (a *Aggregator) hasPendingRequests(entry *timingDataEntry) bool {
	for _, key := range entry.Requests {
		if r := a.requests.get(key); r != nil && !r.Finished {
			return true
		}
	}
	return false
}

// currentEntry returns the navigation of tab that is being collected,
// creating it if necessary. Must hold mu.
func (a *Aggregator) currentEntry(tab TabID) *timingDataEntry {
	entries := a.tabs[tab]
	if len(entries) == 0 {
		return a.newEntry(tab)
	}
	return entries[len(entries)-1]
}

// newEntry starts a new navigation for tab. Must hold mu.
func (a *Aggregator) newEntry(tab TabID) *timingDataEntry {
	entry := &timingDataEntry{Requests: []requestKey{}}
	a.tabs[tab] = append(a.tabs[tab], entry)
	return entry
}

// markDirty flags the state for the next session store write. Must hold mu.
func (a *Aggregator) markDirty() {
	if a.settings.UseSessionStorage {
		a.dirty = true
	}
}

// tabIDs returns the known tabs in a stable order
func (a *Aggregator) tabIDs() []TabID {
	a.mu.Lock()
	defer a.mu.Unlock()

	tabs := make([]TabID, 0, len(a.tabs))
	for tab := range a.tabs {
		tabs = append(tabs, tab)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i] < tabs[j] })
	return tabs
}
