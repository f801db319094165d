package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Reasons passed to Config.OnDrop.
const (
	DropBufferFull  = "buffer_full"
	DropContextDone = "context_done"
	DropClosing     = "closing"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the caller when the buffer
	// is full.
	DropIfFull bool
	// OnDrop, if set, is called on the emitting goroutine for every event
	// that never reaches the sink.
	OnDrop func(ev Event, reason string)
}

// Dispatcher hands events to a sink on one background goroutine so slow
// sinks never sit on the authentication path. A nil *Dispatcher accepts and
// discards events.
type Dispatcher struct {
	sink     Sink
	queue    chan Event
	overflow func(context.Context, Event) string
	onDrop   func(Event, string)

	// mu guards queue against sends after Close has closed it.
	mu       sync.RWMutex
	closed   bool
	quit     chan struct{}
	quitOnce sync.Once
	drained  chan struct{}

	dropped atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, max(cfg.BufferSize, 1)),
		onDrop:  cfg.OnDrop,
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	d.overflow = d.wait
	if cfg.DropIfFull {
		d.overflow = d.shed
	}
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.drained)
	for ev := range d.queue {
		d.sink.Emit(context.Background(), ev)
	}
}

// Emit queues ev. It is a no-op after Close.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
		return
	default:
	}
	if reason := d.overflow(ctx, ev); reason != "" {
		d.dropped.Add(1)
		if d.onDrop != nil {
			d.onDrop(ev, reason)
		}
	}
}

// shed gives up as soon as the buffer is full.
func (d *Dispatcher) shed(context.Context, Event) string {
	return DropBufferFull
}

// wait blocks for buffer space until ctx ends or Close begins.
func (d *Dispatcher) wait(ctx context.Context, ev Event) string {
	select {
	case d.queue <- ev:
		return ""
	case <-ctx.Done():
		return DropContextDone
	case <-d.quit:
		return DropClosing
	}
}

// Close delivers everything already queued and stops the worker. Emitters
// still waiting for buffer space are released and their events dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.quitOnce.Do(func() {
		close(d.quit)
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	<-d.drained
}

// Dropped returns the number of events that never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
