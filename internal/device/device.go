// Package device provides the in-process device runtime the transfer engine
// issues work against: devices with primary contexts, in-order streams,
// timestamped events with cross-stream waits, a host-released spin gate and
// pinned host allocations. Device memory lives in process memory, so copies
// move real bytes and timings reflect real memory-system throughput.
package device

import (
	"fmt"
	"runtime"
	"sync"
)

const threadsPerMultiprocessor = 512

// Attributes describe a device the way the transfer engine needs to see it.
type Attributes struct {
	Name                string
	MultiprocessorCount int
	ClockRateKHz        int
}

type Device struct {
	id    int
	attrs Attributes

	mu         sync.Mutex
	primary    *Context
	retained   int
	allocBytes uint64
	peers      map[int]struct{}
}

// Enumerate brings up count simulated devices. Parallelism is derived from
// the host CPU count so the compute copy scales with the machine it runs on.
func Enumerate(count int) ([]*Device, error) {
	if count < 1 {
		return nil, fmt.Errorf("device count must be at least 1, got %d", count)
	}
	sm := runtime.NumCPU()
	if sm < 1 {
		sm = 1
	}
	devs := make([]*Device, count)
	for i := range devs {
		devs[i] = &Device{
			id: i,
			attrs: Attributes{
				Name:                fmt.Sprintf("simulated-device-%d", i),
				MultiprocessorCount: sm,
				ClockRateKHz:        1410000,
			},
			peers: make(map[int]struct{}),
		}
		devs[i].primary = &Context{dev: devs[i]}
	}
	return devs, nil
}

func (d *Device) ID() int { return d.id }

func (d *Device) Name() string { return d.attrs.Name }

func (d *Device) Attributes() Attributes { return d.attrs }

// TotalLaneCount is the width the compute copy partitions buffers across.
func (d *Device) TotalLaneCount() uint64 {
	return uint64(d.attrs.MultiprocessorCount) * threadsPerMultiprocessor
}

// RetainPrimaryContext returns the device's primary context, bumping its
// retain count. Every retain must be paired with a Context.Release.
func (d *Device) RetainPrimaryContext() *Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retained++
	return d.primary
}

// CanAccessPeer reports whether direct transfers to peer are possible. The
// simulated backend shares one address space, so any distinct device is
// reachable.
func (d *Device) CanAccessPeer(peer *Device) bool {
	return peer != nil && peer.id != d.id
}

// EnablePeerAccess makes peer's allocations addressable from this device.
// Enabling an already enabled peer is success, not an error.
func (d *Device) EnablePeerAccess(peer *Device) error {
	if !d.CanAccessPeer(peer) {
		return fmt.Errorf("device %d cannot access peer %d", d.id, peer.id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[peer.id] = struct{}{}
	return nil
}

// PeerAccessEnabled reports whether EnablePeerAccess(peer) has been called.
func (d *Device) PeerAccessEnabled(peer *Device) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.peers[peer.id]
	return ok
}

// AllocatedBytes reports the device memory currently allocated through the
// primary context.
func (d *Device) AllocatedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocBytes
}

func (d *Device) release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.retained == 0 {
		return fmt.Errorf("primary context of device %d released more times than retained", d.id)
	}
	d.retained--
	return nil
}
