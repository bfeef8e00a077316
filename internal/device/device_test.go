package device

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestEnumerate(t *testing.T) {
	devs, err := Enumerate(3)
	if err != nil {
		t.Fatalf("Enumerate(3): %v", err)
	}
	if len(devs) != 3 {
		t.Fatalf("got %d devices, want 3", len(devs))
	}
	for i, d := range devs {
		if d.ID() != i {
			t.Errorf("device %d has ID %d", i, d.ID())
		}
		attrs := d.Attributes()
		if attrs.MultiprocessorCount < 1 || attrs.ClockRateKHz < 1 {
			t.Errorf("device %d has implausible attributes %+v", i, attrs)
		}
		if d.TotalLaneCount() == 0 {
			t.Errorf("device %d reports zero lanes", i)
		}
	}

	if _, err := Enumerate(0); err == nil {
		t.Error("Enumerate(0) succeeded, want error")
	}
}

func TestStreamOrdering(t *testing.T) {
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	defer ctx.Release()

	s, err := ctx.NewStream()
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer s.Destroy()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		s.Enqueue(func() { got = append(got, i) })
	}
	s.Synchronize()

	if len(got) != 100 {
		t.Fatalf("ran %d ops, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("op %d ran out of order (got %d)", i, v)
		}
	}
}

func TestCrossStreamEventWait(t *testing.T) {
	devs, _ := Enumerate(2)
	ctx0 := devs[0].RetainPrimaryContext()
	ctx1 := devs[1].RetainPrimaryContext()
	defer ctx0.Release()
	defer ctx1.Release()

	s0, _ := ctx0.NewStream()
	s1, _ := ctx1.NewStream()
	defer s0.Destroy()
	defer s1.Destroy()

	ev, _ := ctx0.NewEvent()
	flag := NewBlockingFlag()
	flag.Reset()

	var mu sync.Mutex
	var order []string
	mark := func(tag string) func() {
		return func() {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}

	// s0 parks on the gate, then marks and records; s1 must not mark until
	// the recording completes, no matter how long its ops sat queued.
	SpinOnFlag(s0, flag, 0)
	s0.Enqueue(mark("first"))
	s0.RecordEvent(ev)
	s1.WaitEvent(ev)
	s1.Enqueue(mark("second"))

	time.Sleep(10 * time.Millisecond) // give s1 a chance to run early if broken
	flag.Release()
	s0.Synchronize()
	s1.Synchronize()

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("event wait did not order streams: %v", order)
	}
}

func TestWaitOnUnrecordedEventIsNoop(t *testing.T) {
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	defer ctx.Release()
	s, _ := ctx.NewStream()
	defer s.Destroy()
	ev, _ := ctx.NewEvent()

	s.WaitEvent(ev)
	done := make(chan struct{})
	go func() {
		s.Synchronize()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream hung waiting on an unrecorded event")
	}
}

func TestSynchronizeAfterDestroy(t *testing.T) {
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	defer ctx.Release()
	s, _ := ctx.NewStream()
	if err := s.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Synchronize()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Synchronize hung on a destroyed stream")
	}
}

func TestEventElapsed(t *testing.T) {
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	defer ctx.Release()
	s, _ := ctx.NewStream()
	defer s.Destroy()

	start, _ := ctx.NewEvent()
	end, _ := ctx.NewEvent()

	s.RecordEvent(start)
	s.Enqueue(func() { time.Sleep(20 * time.Millisecond) })
	s.RecordEvent(end)
	s.Synchronize()

	d, err := ElapsedTime(start, end)
	if err != nil {
		t.Fatalf("ElapsedTime: %v", err)
	}
	if d < 20*time.Millisecond {
		t.Errorf("elapsed %v, want at least 20ms", d)
	}
}

func TestElapsedTimeRequiresRecording(t *testing.T) {
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	defer ctx.Release()
	a, _ := ctx.NewEvent()
	b, _ := ctx.NewEvent()
	if _, err := ElapsedTime(a, b); err == nil {
		t.Error("ElapsedTime on unrecorded events succeeded, want error")
	}
}

func TestBlockingFlagReleases(t *testing.T) {
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	defer ctx.Release()
	s, _ := ctx.NewStream()
	defer s.Destroy()

	flag := NewBlockingFlag()
	flag.Reset()
	ran := false
	SpinOnFlag(s, flag, 0)
	s.Enqueue(func() { ran = true })

	time.Sleep(10 * time.Millisecond)
	if ran {
		t.Fatal("op behind the gate ran before release")
	}
	flag.Release()
	s.Synchronize()
	if !ran {
		t.Fatal("op behind the gate never ran")
	}
}

func TestBlockingFlagTimeout(t *testing.T) {
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	defer ctx.Release()
	s, _ := ctx.NewStream()
	defer s.Destroy()

	flag := NewBlockingFlag()
	flag.Reset()
	// roughly 1ms worth of cycles at the simulated clock rate
	clocks := uint64(devs[0].Attributes().ClockRateKHz) * 1000 / 1000
	SpinOnFlag(s, flag, clocks)

	done := make(chan struct{})
	go func() {
		s.Synchronize()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("spin gate with timeout never made forward progress")
	}
}

func TestClocksToDurationLongTimeouts(t *testing.T) {
	const khz = 1410000 // simulated 1.41 GHz clock

	// ten seconds of cycles is beyond what a naive
	// cycles-times-nanoseconds product can hold in an int64; the bound
	// must stay exact and positive, not wrap and disarm the gate
	if got := clocksToDuration(141*1e8, khz); got != 10*time.Second {
		t.Errorf("10s of cycles converted to %v", got)
	}
	if got := clocksToDuration(1, khz); got <= 0 {
		t.Errorf("single cycle converted to %v, want positive", got)
	}
	if got := clocksToDuration(math.MaxUint64, khz); got <= time.Hour {
		t.Errorf("max cycle count converted to %v, want a huge positive bound", got)
	}
}

func TestSpinTimeoutSurvivesLargeClockCounts(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-second gate timeout")
	}
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	defer ctx.Release()
	s, _ := ctx.NewStream()
	defer s.Destroy()

	flag := NewBlockingFlag()
	flag.Reset()
	// about 6.7s of cycles at the simulated clock, more nanoseconds than
	// an int64 cycle count can carry; the gate must still time out
	SpinOnFlag(s, flag, 94*1e8)

	done := make(chan struct{})
	go func() {
		s.Synchronize()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("gate with a long timeout never released")
	}
}

func TestPeerAccess(t *testing.T) {
	devs, _ := Enumerate(2)
	d0, d1 := devs[0], devs[1]

	if d0.CanAccessPeer(d0) {
		t.Error("device reports peer access to itself")
	}
	if !d0.CanAccessPeer(d1) {
		t.Fatal("distinct devices should be peers in the simulated backend")
	}
	if err := d0.EnablePeerAccess(d1); err != nil {
		t.Fatalf("EnablePeerAccess: %v", err)
	}
	// enabling again is success, not an error
	if err := d0.EnablePeerAccess(d1); err != nil {
		t.Fatalf("re-enabling peer access: %v", err)
	}
	if !d0.PeerAccessEnabled(d1) {
		t.Error("peer access not recorded")
	}
	if err := d0.EnablePeerAccess(d0); err == nil {
		t.Error("enabling peer access to self succeeded, want error")
	}
}

func TestContextRetainRelease(t *testing.T) {
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	if err := ctx.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := ctx.Release(); err == nil {
		t.Error("over-releasing the primary context succeeded, want error")
	}
}

func TestAllocBookkeeping(t *testing.T) {
	devs, _ := Enumerate(1)
	ctx := devs[0].RetainPrimaryContext()
	defer ctx.Release()

	buf, free, err := ctx.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(buf) != 4096 {
		t.Fatalf("got %d bytes, want 4096", len(buf))
	}
	if got := devs[0].AllocatedBytes(); got != 4096 {
		t.Errorf("AllocatedBytes = %d, want 4096", got)
	}
	if err := free(); err != nil {
		t.Fatalf("free: %v", err)
	}
	if got := devs[0].AllocatedBytes(); got != 0 {
		t.Errorf("AllocatedBytes after free = %d, want 0", got)
	}
	if err := free(); err == nil {
		t.Error("double free succeeded, want error")
	}

	if _, _, err := ctx.Alloc(0); err == nil {
		t.Error("zero-sized Alloc succeeded, want error")
	}
}

func TestAllocHost(t *testing.T) {
	buf, release, err := AllocHost(1 << 20)
	if err != nil {
		t.Fatalf("AllocHost: %v", err)
	}
	if len(buf) != 1<<20 {
		t.Fatalf("got %d bytes, want %d", len(buf), 1<<20)
	}
	if err := release(); err != nil {
		t.Errorf("release: %v", err)
	}
}
