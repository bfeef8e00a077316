package device

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"
)

// BlockingFlag is the host-and-stream-visible gate releasing a group of
// streams at once. The host resets it before a trial and raises it once all
// timed work is enqueued; streams spin on it via SpinOnFlag.
type BlockingFlag struct {
	v atomic.Int32
}

func NewBlockingFlag() *BlockingFlag { return &BlockingFlag{} }

// Reset arms the flag so spinning streams block.
func (f *BlockingFlag) Reset() { f.v.Store(0) }

// Release unblocks every stream spinning on the flag.
func (f *BlockingFlag) Release() { f.v.Store(1) }

// Raised reports whether the flag has been released.
func (f *BlockingFlag) Raised() bool { return f.v.Load() != 0 }

// clocksToDuration converts a cycle count to wall time at a clock rate in
// kHz. The division happens before widening to nanoseconds so cycle counts
// near the uint64 range cannot overflow the duration; out-of-range results
// clamp to the maximum representable duration.
func clocksToDuration(clocks uint64, khz int) time.Duration {
	ms := float64(clocks) / float64(khz)
	if ms >= float64(math.MaxInt64)/float64(time.Millisecond) {
		return math.MaxInt64
	}
	d := time.Duration(ms * float64(time.Millisecond))
	if d <= 0 && clocks > 0 {
		// sub-nanosecond bounds round up rather than disarming the gate
		return 1
	}
	return d
}

// SpinOnFlag enqueues a busy-wait on the stream that parks it until the flag
// is raised. timeoutClocks bounds the wait in device clock cycles, converted
// through the device's clock rate; zero waits forever.
func SpinOnFlag(s *Stream, flag *BlockingFlag, timeoutClocks uint64) {
	var timeout time.Duration
	if timeoutClocks > 0 {
		timeout = clocksToDuration(timeoutClocks, s.Device().Attributes().ClockRateKHz)
	}
	s.Enqueue(func() {
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		for !flag.Raised() {
			if timeout > 0 && time.Now().After(deadline) {
				return
			}
			runtime.Gosched()
		}
	})
}
