package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingSink holds every batch until it is released
type blockingSink struct {
	recordingSink
	release chan struct{}
}

func (s *blockingSink) DumpRecords(records []PerformanceRecord) {
	<-s.release
	s.recordingSink.DumpRecords(records)
}

func recordFor(url string) PerformanceRecord {
	return PerformanceRecord{Requests: []RequestSummary{{URL: url}}}
}

func TestRecordDispatcher_KeepsOrder(t *testing.T) {
	d := newRecordDispatcher()
	defer d.close()
	sink := &recordingSink{}

	for _, url := range []string{"a", "b", "c"} {
		d.dispatch(sink, []PerformanceRecord{recordFor(url)})
	}
	d.wait()

	records := sink.snapshot()
	require.Len(t, records, 3)
	for i, url := range []string{"a", "b", "c"} {
		assert.Equal(t, url, records[i].Requests[0].URL)
	}
	assert.Equal(t, 3, sink.calls)
}

func TestRecordDispatcher_DoesNotWaitForSink(t *testing.T) {
	d := newRecordDispatcher()
	sink := &blockingSink{release: make(chan struct{})}

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		d.dispatch(sink, []PerformanceRecord{recordFor("a")})
		d.dispatch(sink, []PerformanceRecord{recordFor("b")})
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("dispatch waited for the sink")
	}
	assert.Empty(t, sink.snapshot())

	close(sink.release)
	d.close()
	assert.Len(t, sink.snapshot(), 2)
}

func TestRecordDispatcher_AfterClose(t *testing.T) {
	d := newRecordDispatcher()
	d.close()
	d.close()

	sink := &recordingSink{}
	d.dispatch(sink, []PerformanceRecord{recordFor("late")})
	assert.Len(t, sink.snapshot(), 1)

	d.wait()
}
