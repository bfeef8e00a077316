package transfer

import (
	"sync"

	"github.com/gputools/gobandwidth/internal/config"
	"github.com/gputools/gobandwidth/internal/device"
)

const (
	// elementSize is the wide granularity the compute copy moves data in.
	elementSize = 16

	// smallCopyThreshold is the size below which the compute copy keeps the
	// whole request (rounded to elements) instead of truncating to the lane
	// width. Matches the default buffer size.
	smallCopyThreshold = config.DefaultBufferSizeMiB * config.MiB
)

// Mechanism is a device copy procedure. Copy enqueues loopCount back-to-back
// copies on the stream without any host synchronization in between and
// returns the byte count actually moved, which may be truncated from
// requested. AdjustedCopySize computes that count without issuing anything,
// so callers can size pattern fill and verify regions in advance.
type Mechanism interface {
	Name() string
	Copy(dst, src []byte, s *device.Stream, requested, loopCount uint64) uint64
	AdjustedCopySize(requested uint64, s *device.Stream) uint64
}

// EngineCopy issues transfers through the stream's copy engine. It never
// truncates the requested size.
type EngineCopy struct{}

func NewEngineCopy() *EngineCopy { return &EngineCopy{} }

func (*EngineCopy) Name() string { return "CE" }

func (*EngineCopy) AdjustedCopySize(requested uint64, _ *device.Stream) uint64 {
	return requested
}

func (*EngineCopy) Copy(dst, src []byte, s *device.Stream, requested, loopCount uint64) uint64 {
	d, sr := dst[:requested], src[:requested]
	s.Enqueue(func() {
		for l := uint64(0); l < loopCount; l++ {
			copy(d, sr)
		}
	})
	return requested
}

// ComputeCopy issues transfers from the device's execution units: the buffer
// is partitioned across a per-device worker pool sized by the multiprocessor
// count, moving 16-byte elements. Large requests are truncated to a multiple
// of the full lane width so no worker handles a partial stride.
type ComputeCopy struct {
	mu    sync.Mutex
	pools map[int]*copyPool
}

func NewComputeCopy() *ComputeCopy {
	return &ComputeCopy{pools: make(map[int]*copyPool)}
}

func (*ComputeCopy) Name() string { return "SM" }

func (c *ComputeCopy) AdjustedCopySize(requested uint64, s *device.Stream) uint64 {
	lanes := s.Device().TotalLaneCount()
	if requested < smallCopyThreshold {
		// rounded down to whole elements only
		return (requested / elementSize) * elementSize
	}
	elems := requested / elementSize
	elems = lanes * (elems / lanes)
	return elems * elementSize
}

func (c *ComputeCopy) Copy(dst, src []byte, s *device.Stream, requested, loopCount uint64) uint64 {
	adjusted := c.AdjustedCopySize(requested, s)
	pool := c.pool(s.Device())
	d, sr := dst[:adjusted], src[:adjusted]
	s.Enqueue(func() {
		for l := uint64(0); l < loopCount; l++ {
			pool.copyPartitioned(d, sr)
		}
	})
	return adjusted
}

func (c *ComputeCopy) pool(dev *device.Device) *copyPool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[dev.ID()]
	if !ok {
		p = newCopyPool(dev.Attributes().MultiprocessorCount)
		c.pools[dev.ID()] = p
	}
	return p
}

// Preload resolves every mechanism on every device before any scenario runs.
// Resolving lazily mid-run can deadlock scenarios that synchronize across
// devices, so the pools are brought up here.
func Preload(devs []*device.Device, mechs ...Mechanism) {
	for _, m := range mechs {
		cc, ok := m.(*ComputeCopy)
		if !ok {
			continue
		}
		for _, dev := range devs {
			cc.pool(dev)
		}
	}
}

// copyPool is a fixed set of workers standing in for a device's execution
// units. Workers live for the life of the pool so timed copies never pay
// goroutine startup.
type copyPool struct {
	workers int
	jobs    chan copyJob
}

type copyJob struct {
	dst, src []byte
	wg       *sync.WaitGroup
}

func newCopyPool(workers int) *copyPool {
	if workers < 1 {
		workers = 1
	}
	p := &copyPool{workers: workers, jobs: make(chan copyJob)}
	for i := 0; i < workers; i++ {
		go func() {
			for j := range p.jobs {
				copy(j.dst, j.src)
				j.wg.Done()
			}
		}()
	}
	return p
}

// copyPartitioned splits the region across the workers in whole elements and
// blocks until every span completed.
func (p *copyPool) copyPartitioned(dst, src []byte) {
	elems := len(dst) / elementSize
	if elems == 0 {
		return
	}
	per := (elems + p.workers - 1) / p.workers
	var wg sync.WaitGroup
	for start := 0; start < elems; start += per {
		end := start + per
		if end > elems {
			end = elems
		}
		wg.Add(1)
		p.jobs <- copyJob{
			dst: dst[start*elementSize : end*elementSize],
			src: src[start*elementSize : end*elementSize],
			wg:  &wg,
		}
	}
	wg.Wait()
}
