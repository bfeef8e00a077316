package device

import (
	"fmt"
	"sync"
	"time"
)

// Event marks a point in a stream's execution. Recording an event re-arms
// it; cross-stream ordering is built by waiting on the latest recording.
type Event struct {
	mu  sync.Mutex
	rec *eventRecord
}

type eventRecord struct {
	ch chan struct{}
	at time.Time
}

func (r *eventRecord) complete() {
	r.at = time.Now()
	close(r.ch)
}

// NewEvent creates an event owned by this context.
func (c *Context) NewEvent() (*Event, error) {
	return &Event{}, nil
}

func (e *Event) arm() *eventRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec = &eventRecord{ch: make(chan struct{})}
	return e.rec
}

func (e *Event) current() *eventRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

// Timestamp returns when the latest recording completed.
func (e *Event) Timestamp() (time.Time, error) {
	rec := e.current()
	if rec == nil {
		return time.Time{}, fmt.Errorf("event was never recorded")
	}
	select {
	case <-rec.ch:
		return rec.at, nil
	default:
		return time.Time{}, fmt.Errorf("event recording has not completed")
	}
}

// Destroy releases the event. Present so paired create/destroy lifetimes can
// be expressed uniformly with streams.
func (e *Event) Destroy() error { return nil }

// ElapsedTime returns the time between the completed recordings of start and
// end, like measuring between two device timestamps.
func ElapsedTime(start, end *Event) (time.Duration, error) {
	s, err := start.Timestamp()
	if err != nil {
		return 0, fmt.Errorf("start event: %w", err)
	}
	e, err := end.Timestamp()
	if err != nil {
		return 0, fmt.Errorf("end event: %w", err)
	}
	d := e.Sub(s)
	if d < 0 {
		return 0, fmt.Errorf("end event completed %v before start event", -d)
	}
	return d, nil
}
