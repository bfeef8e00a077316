// Package transfer implements the synchronized multi-endpoint transfer
// engine: memory endpoints with deterministic pattern fill and verify, the
// two copy mechanisms, the group orchestrator and the sample reducer.
package transfer

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/gputools/gobandwidth/internal/device"
)

// ErrUnsupportedTopology marks scenario requests the engine cannot serve,
// such as a pair with no issuing context. Callers may skip the scenario and
// continue; every other engine error invalidates the measurement and is
// fatal.
var ErrUnsupportedTopology = errors.New("unsupported transfer topology")

// IsFatal reports whether err indicates the measurement itself may be
// invalid. Fatal errors must not be retried or silently skipped.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrUnsupportedTopology)
}

// Endpoint is one fixed-capacity allocation participating in transfers.
type Endpoint interface {
	// Buffer exposes the allocation for copy mechanisms.
	Buffer() []byte
	// BufferSize is the capacity fixed at construction.
	BufferSize() uint64
	// PrimaryContext is the execution context transfers should issue from,
	// nil for host endpoints.
	PrimaryContext() *device.Context
	// Node is the endpoint's display identity.
	Node() string

	FillPattern(seed uint32, nbytes uint64) error
	VerifyPattern(seed uint32, nbytes uint64) error

	Close() error
}

// HostEndpoint owns a pinned host allocation. It retains the primary context
// of the device it will exchange data with for its lifetime, mirroring how
// host staging memory is tied to a device context.
type HostEndpoint struct {
	buf     []byte
	release func() error
	ctx     *device.Context
}

func NewHostEndpoint(size uint64, target *device.Device) (*HostEndpoint, error) {
	ctx := target.RetainPrimaryContext()
	buf, release, err := device.AllocHost(size)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("allocating %d host bytes: %w", size, err), ctx.Release())
	}
	return &HostEndpoint{buf: buf, release: release, ctx: ctx}, nil
}

func (h *HostEndpoint) Buffer() []byte { return h.buf }

func (h *HostEndpoint) BufferSize() uint64 { return uint64(len(h.buf)) }

func (h *HostEndpoint) Node() string { return "Host" }

// Host endpoints have no issuing context of their own.
func (h *HostEndpoint) PrimaryContext() *device.Context { return nil }

func (h *HostEndpoint) FillPattern(seed uint32, nbytes uint64) error {
	return fillPattern(h.buf, seed, nbytes)
}

func (h *HostEndpoint) VerifyPattern(seed uint32, nbytes uint64) error {
	return verifyPattern(h.Node(), h.buf, seed, nbytes)
}

func (h *HostEndpoint) Close() error {
	if h.buf == nil {
		return nil
	}
	h.buf = nil
	return multierr.Append(h.release(), h.ctx.Release())
}

// DeviceEndpoint owns a device allocation and the retained primary context of
// its device.
type DeviceEndpoint struct {
	buf  []byte
	free func() error
	ctx  *device.Context
}

func NewDeviceEndpoint(size uint64, dev *device.Device) (*DeviceEndpoint, error) {
	ctx := dev.RetainPrimaryContext()
	buf, free, err := ctx.Alloc(size)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("allocating %d bytes on %s: %w", size, dev.Name(), err), ctx.Release())
	}
	return &DeviceEndpoint{buf: buf, free: free, ctx: ctx}, nil
}

func (d *DeviceEndpoint) Buffer() []byte { return d.buf }

func (d *DeviceEndpoint) BufferSize() uint64 { return uint64(len(d.buf)) }

func (d *DeviceEndpoint) PrimaryContext() *device.Context { return d.ctx }

func (d *DeviceEndpoint) Device() *device.Device { return d.ctx.Device() }

func (d *DeviceEndpoint) Node() string {
	return fmt.Sprintf("Device %d", d.ctx.Device().ID())
}

func (d *DeviceEndpoint) FillPattern(seed uint32, nbytes uint64) error {
	return fillPattern(d.buf, seed, nbytes)
}

func (d *DeviceEndpoint) VerifyPattern(seed uint32, nbytes uint64) error {
	return verifyPattern(d.Node(), d.buf, seed, nbytes)
}

// EnablePeerAccess establishes direct addressability in both directions
// between this endpoint's device and peer's. Returns false when the devices
// cannot reach each other. Re-enabling is success.
func (d *DeviceEndpoint) EnablePeerAccess(peer *DeviceEndpoint) (bool, error) {
	if !d.Device().CanAccessPeer(peer.Device()) {
		return false, nil
	}
	if err := d.Device().EnablePeerAccess(peer.Device()); err != nil {
		return false, err
	}
	if err := peer.Device().EnablePeerAccess(d.Device()); err != nil {
		return false, err
	}
	return true, nil
}

func (d *DeviceEndpoint) Close() error {
	if d.buf == nil {
		return nil
	}
	d.buf = nil
	return multierr.Append(d.free(), d.ctx.Release())
}
