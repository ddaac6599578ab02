package main

import (
	"sync"
)

type dispatchBatch struct {
	sink    recordSink
	records []PerformanceRecord
}

// recordDispatcher hands flushed records to their sink from its own
// goroutine, one batch at a time and in the order they were queued, so
// that a slow sink never holds up the event handlers
type recordDispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []dispatchBatch
	busy    bool
	closed  bool
	done    chan struct{}
}

func newRecordDispatcher() *recordDispatcher {
	d := &recordDispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// dispatch queues records for sink. Once the dispatcher is closed the
// records are handed over directly.
func (d *recordDispatcher) dispatch(sink recordSink, records []PerformanceRecord) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		sink.DumpRecords(records)
		return
	}
	d.pending = append(d.pending, dispatchBatch{sink: sink, records: records})
	d.cond.Broadcast()
	d.mu.Unlock()
}

func (d *recordDispatcher) run() {
	defer close(d.done)

	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.pending) == 0 {
			return
		}

		batch := d.pending[0]
		d.pending[0] = dispatchBatch{}
		d.pending = d.pending[1:]
		d.busy = true
		d.mu.Unlock()

		batch.sink.DumpRecords(batch.records)

		d.mu.Lock()
		d.busy = false
		d.cond.Broadcast()
	}
}

// wait blocks until every queued batch has been handed over
func (d *recordDispatcher) wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for (len(d.pending) > 0 || d.busy) && !d.closed {
		d.cond.Wait()
	}
	if d.closed {
		d.mu.Unlock()
		<-d.done
		d.mu.Lock()
	}
}

// close hands over what is still queued and stops the goroutine
func (d *recordDispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}
