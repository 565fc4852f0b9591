package identio

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples audit emission from the request path. A single
// worker feeds the sink from a bounded queue; Close seals the queue and the
// worker flushes whatever is still buffered before exiting.
type auditDispatcher struct {
	sink       AuditSink
	queue      chan AuditEvent
	dropIfFull bool

	// mu guards queue closure: Emit holds the read side while sending, so
	// Close can never close the channel under an in-flight send.
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	drained sync.WaitGroup
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:       sink,
		queue:      make(chan AuditEvent, cfg.BufferSize),
		dropIfFull: cfg.DropIfFull,
	}

	d.drained.Add(1)
	go func() {
		defer d.drained.Done()
		for event := range d.queue {
			d.sink.Emit(context.Background(), event)
		}
	}()

	return d
}

// Emit enqueues one event. With DropIfFull a saturated queue sheds the event
// and counts the drop; otherwise the caller waits for room until its context
// ends. Events emitted after Close are discarded.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close seals the queue, waits for the worker to flush it, and returns.
// Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.drained.Wait()
}

// Dropped reports events shed because the queue was full, or, for blocking
// emits, because the caller's context ended first.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
