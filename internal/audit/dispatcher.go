package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards audit events to a sink. The auth
// critical path only enqueues; sink latency and sink failures never reach
// the caller-visible result.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	dropIfFull bool
	dropped    atomic.Uint64

	mu     sync.RWMutex
	closed bool
	drain  sync.WaitGroup
}

// NewDispatcher returns nil when disabled. All methods are nil-safe, so a
// disabled dispatcher needs no special casing at call sites.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, cfg.BufferSize),
		dropIfFull: cfg.DropIfFull,
	}

	d.drain.Add(1)
	go func() {
		defer d.drain.Done()
		for event := range d.queue {
			d.sink.Emit(context.Background(), event)
		}
	}()

	return d
}

// Emit enqueues an event. With DropIfFull set a full queue sheds the event
// and counts it; otherwise Emit blocks until there is room or ctx ends.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// The read lock keeps Close from closing the queue mid-send.
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

	select {
	case d.queue <- event:
	case <-ctx.Done():
	}
}

// Close stops intake, delivers everything already queued, and returns once
// the worker has exited. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	alreadyClosed := d.closed
	d.closed = true
	if !alreadyClosed {
		close(d.queue)
	}
	d.mu.Unlock()

	if !alreadyClosed {
		d.drain.Wait()
	}
}

// Dropped reports how many events the full queue shed.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
