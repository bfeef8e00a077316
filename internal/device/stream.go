package device

import (
	"fmt"
	"sync"
)

// Stream is an in-order, non-blocking work queue. A dedicated goroutine
// drains enqueued operations one at a time; enqueueing never blocks the host,
// even while the stream itself is parked on a spin gate or an event wait.
type Stream struct {
	ctx *Context

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewStream creates a stream issuing on this context.
func (c *Context) NewStream() (*Stream, error) {
	s := &Stream{
		ctx:  c,
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s, nil
}

func (s *Stream) Context() *Context { return s.ctx }

func (s *Stream) Device() *Device { return s.ctx.dev }

func (s *Stream) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		op := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		op()
	}
}

// Enqueue appends op to the stream. Ops run strictly in enqueue order. Ops
// enqueued after Destroy run inline on the caller, so a late Synchronize
// still returns instead of blocking on work the worker will never drain.
func (s *Stream) Enqueue(op func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		op()
		return
	}
	s.queue = append(s.queue, op)
	s.cond.Signal()
	s.mu.Unlock()
}

// Synchronize blocks the host until every previously enqueued op completed.
func (s *Stream) Synchronize() {
	ch := make(chan struct{})
	s.Enqueue(func() { close(ch) })
	<-ch
}

// RecordEvent arms e and enqueues the op that completes it with a timestamp.
// Waits registered against e after this call observe this recording.
func (s *Stream) RecordEvent(e *Event) {
	rec := e.arm()
	s.Enqueue(rec.complete)
}

// WaitEvent enqueues an op that parks the stream until the most recent
// recording of e (as of this call) completes. Waiting on a never-recorded
// event is a no-op, matching driver semantics for unrecorded events.
func (s *Stream) WaitEvent(e *Event) {
	rec := e.current()
	s.Enqueue(func() {
		if rec != nil {
			<-rec.ch
		}
	})
}

// Destroy drains the stream and stops its worker. Destroying a stream parked
// on an unreleased spin gate blocks until the gate releases or times out.
func (s *Stream) Destroy() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stream on device %d destroyed twice", s.ctx.dev.id)
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
	return nil
}
