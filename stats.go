package main

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// stats is a set of counters describing what the recorder has seen and sent
type stats struct {
	// request lifecycle events applied to the request table
	RequestEvents int64
	// page lifecycle events received from page recorders
	PageEvents int64
	// navigations committed in recorded tabs
	Navigations int64

	// records handed to sinks after a flush
	RecordsFlushed int64
	// records returned to the collector for a data request
	RecordsCollected int64

	// frames written to the collector socket
	FramesSent int64
	// frames queued because no socket was open
	FramesQueued int64
	// frames dropped because the outbox was full
	FramesDropped int64
	// dial attempts to the collector
	Dials int64
	// failed dial attempts
	DialErrors int64

	// session store writes
	StoreWrites int64
	// failed session store writes
	StoreErrors int64
}

func newStats() *stats {
	return &stats{}
}

func (s *stats) String() string {
	var sb strings.Builder
	sb.Grow(256)

	fmt.Fprintf(&sb, "request_events_total=%d\n", atomic.LoadInt64(&s.RequestEvents))
	fmt.Fprintf(&sb, "page_events_total=%d\n", atomic.LoadInt64(&s.PageEvents))
	fmt.Fprintf(&sb, "navigations_total=%d\n", atomic.LoadInt64(&s.Navigations))

	fmt.Fprintf(&sb, "records_flushed_total=%d\n", atomic.LoadInt64(&s.RecordsFlushed))
	fmt.Fprintf(&sb, "records_collected_total=%d\n", atomic.LoadInt64(&s.RecordsCollected))

	fmt.Fprintf(&sb, "frames_sent_total=%d\n", atomic.LoadInt64(&s.FramesSent))
	fmt.Fprintf(&sb, "frames_queued_total=%d\n", atomic.LoadInt64(&s.FramesQueued))
	fmt.Fprintf(&sb, "frames_dropped_total=%d\n", atomic.LoadInt64(&s.FramesDropped))
	fmt.Fprintf(&sb, "dials_total=%d\n", atomic.LoadInt64(&s.Dials))
	fmt.Fprintf(&sb, "dial_errors_total=%d\n", atomic.LoadInt64(&s.DialErrors))

	fmt.Fprintf(&sb, "store_writes_total=%d\n", atomic.LoadInt64(&s.StoreWrites))
	fmt.Fprintf(&sb, "store_errors_total=%d\n", atomic.LoadInt64(&s.StoreErrors))

	return sb.String()
}
