package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the queue depth used when NewAsync is given a
// non-positive buffer.
const DefaultBuffer = 256

// Async decouples producers from a slow downstream emitter. Emit never
// blocks: when the queue is full the event is dropped and counted.
type Async struct {
	next    Emitter
	queue   chan Event
	dropped atomic.Uint64
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsync starts a delivery goroutine forwarding queued events to next.
func NewAsync(next Emitter, buffer int) *Async {
	if next == nil {
		next = NoopEmitter{}
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	a := &Async{
		next:  next,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for evt := range a.queue {
		a.next.Emit(evt)
	}
}

// Emit implements the Emitter interface.
func (a *Async) Emit(evt Event) {
	if evt == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- evt:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close stops accepting events and waits until queued events are delivered.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
}
