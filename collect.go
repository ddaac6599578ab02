package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// timingFetch is a pending refresh of a tab's current navigation
type timingFetch struct {
	tab   TabID
	entry *timingDataEntry
}

// Collect builds records for every navigation known so far. It first
// waits for running requests to finish, for at most 75% of timeout, then
// asks every tab with requests for fresh timing data and waits for the
// answers until timeout has fully elapsed. Whatever is known by then is
// returned, finished or not.
func (a *Aggregator) Collect(ctx context.Context, timeout time.Duration) []PerformanceRecord {
	start := time.Now()
	deadline := start.Add(timeout)

	settleCtx, cancelSettle := context.WithDeadline(ctx, start.Add(timeout*3/4))
	settled := waitUntil(settleCtx, a.checkCompletedDelay, a.allFinished)
	cancelSettle()
	if !settled {
		log.Debug().Dur("waited", time.Since(start)).Msg("requests still running, collecting anyway")
	}

	fetches, source := a.pendingFetches()
	if len(fetches) > 0 && source != nil {
		fetchCtx, cancelFetch := context.WithDeadline(ctx, deadline)
		defer cancelFetch()

		var pending atomic.Int64
		pending.Store(int64(len(fetches)))

		for _, f := range fetches {
			go func() {
				defer pending.Add(-1)

				snapshot, err := source.CurrentTimingData(fetchCtx, f.tab)
				if err != nil {
					log.Debug().Err(err).Str("tab", string(f.tab)).Msg("failed to refresh timing data")
					return
				}

				a.mu.Lock()
				f.entry.mergeSnapshot(snapshot)
				a.markDirty()
				a.mu.Unlock()
			}()
		}

		if !waitUntil(fetchCtx, a.updateCheckDelay, func() bool { return pending.Load() == 0 }) {
			log.Debug().Int64("pending", pending.Load()).Msg("timing data refresh timed out")
		}
	}

	records := a.buildAll()
	atomic.AddInt64(&a.stats.RecordsCollected, int64(len(records)))
	return records
}

// allFinished reports whether every known request of every navigation
// has finished
func (a *Aggregator) allFinished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, entries := range a.tabs {
		for _, entry := range entries {
			if a.hasPendingRequests(entry) {
				return false
			}
		}
	}
	return true
}

// pendingFetches lists the current navigation of every tab that made
// requests
func (a *Aggregator) pendingFetches() ([]timingFetch, timingSource) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var fetches []timingFetch
	for tab, entries := range a.tabs {
		if len(entries) == 0 {
			continue
		}
		if current := entries[len(entries)-1]; len(current.Requests) > 0 {
			fetches = append(fetches, timingFetch{tab: tab, entry: current})
		}
	}
	return fetches, a.source
}

// buildAll builds a record for every navigation of every tab, leaving the
// state untouched
func (a *Aggregator) buildAll() []PerformanceRecord {
	tabs := a.tabIDs()

	a.mu.Lock()
	defer a.mu.Unlock()

	records := []PerformanceRecord{}
	for _, tab := range tabs {
		for _, entry := range a.tabs[tab] {
			var requests []*RequestEntry
			for _, key := range entry.Requests {
				if r := a.requests.get(key); r != nil {
					requests = append(requests, r)
				}
			}
			records = append(records, buildRecord(entry, requests))
		}
	}
	return records
}
