package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimingSource answers timing data requests with a fixed snapshot, or
// blocks until the request is cancelled
type fakeTimingSource struct {
	snapshot TimingSnapshot
	block    bool
	calls    atomic.Int64
}

func (f *fakeTimingSource) CurrentTimingData(ctx context.Context, _ TabID) (TimingSnapshot, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return TimingSnapshot{}, ctx.Err()
	}
	return f.snapshot, nil
}

type failingTimingSource struct{}

func (failingTimingSource) CurrentTimingData(context.Context, TabID) (TimingSnapshot, error) {
	return TimingSnapshot{}, errors.New("page recorder not available")
}

func TestCollect_ReturnsUnfinishedWithinTimeout(t *testing.T) {
	agg, _ := newTestAggregator(t)
	source := &fakeTimingSource{block: true}
	agg.useTimingSource(source)

	agg.HandleRequestEvent(requestEvent(eventBeforeRequest, "tab", "1", "https://example.com/slow", 1000))

	start := time.Now()
	records := agg.Collect(context.Background(), time.Second)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 1500*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 750*time.Millisecond)

	require.Len(t, records, 1)
	require.Len(t, records[0].Requests, 1)
	assert.False(t, records[0].Requests[0].Finished)
	assert.Equal(t, int64(1), source.calls.Load())
}

func TestCollect_MergesFreshTimingData(t *testing.T) {
	agg, _ := newTestAggregator(t)
	agg.updateCheckDelay = 10 * time.Millisecond
	url := "https://example.com/"
	source := &fakeTimingSource{snapshot: TimingSnapshot{
		Entries: map[string][]ResourceTiming{
			url: {{URL: url, EntryType: "navigation", TransferSize: 1234}},
		},
	}}
	agg.useTimingSource(source)

	agg.HandleRequestEvent(requestEvent(eventBeforeRequest, "tab", "1", url, 1000))
	agg.HandleRequestEvent(completedEvent("tab", "1", url, 1100))

	start := time.Now()
	records := agg.Collect(context.Background(), 2*time.Second)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, records, 1)
	require.Len(t, records[0].Requests, 1)
	assert.Equal(t, int64Ptr(1234), records[0].Requests[0].ResponseSize)

	// collecting leaves the state in place
	assert.Len(t, agg.tabs["tab"], 1)
	assert.Equal(t, 1, agg.requests.len())
}

func TestCollect_WaitsForRunningRequests(t *testing.T) {
	agg, _ := newTestAggregator(t)
	agg.checkCompletedDelay = 10 * time.Millisecond
	url := "https://example.com/"

	agg.HandleRequestEvent(requestEvent(eventBeforeRequest, "tab", "1", url, 1000))
	go func() {
		time.Sleep(50 * time.Millisecond)
		agg.HandleRequestEvent(completedEvent("tab", "1", url, 1100))
	}()

	records := agg.Collect(context.Background(), 5*time.Second)
	require.Len(t, records, 1)
	assert.True(t, records[0].Requests[0].Finished)
}

func TestCollect_SkipsFailedRefresh(t *testing.T) {
	agg, _ := newTestAggregator(t)
	agg.updateCheckDelay = 10 * time.Millisecond
	agg.useTimingSource(failingTimingSource{})
	url := "https://example.com/"

	agg.HandleRequestEvent(requestEvent(eventBeforeRequest, "tab", "1", url, 1000))
	agg.HandleRequestEvent(completedEvent("tab", "1", url, 1100))

	records := agg.Collect(context.Background(), time.Second)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Requests, 1)
}

func TestCollect_NoState(t *testing.T) {
	agg, _ := newTestAggregator(t)
	source := &fakeTimingSource{}
	agg.useTimingSource(source)

	records := agg.Collect(context.Background(), time.Second)
	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.Equal(t, int64(0), source.calls.Load())
}
