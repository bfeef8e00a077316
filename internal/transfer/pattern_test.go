package transfer

import (
	"errors"
	"testing"

	"github.com/gputools/gobandwidth/internal/device"
)

func testDevice(t *testing.T) *device.Device {
	t.Helper()
	devs, err := device.Enumerate(1)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	return devs[0]
}

func TestPatternRoundTrip(t *testing.T) {
	dev := testDevice(t)
	sizes := []uint64{
		4096,
		patternChunkSize,
		patternChunkSize + 4096,
		5 * 1024 * 1024,
	}
	seeds := []uint32{1, 0xCAFEBABE, 0xBAADF00D}

	for _, size := range sizes {
		for _, seed := range seeds {
			ep, err := NewHostEndpoint(size, dev)
			if err != nil {
				t.Fatalf("NewHostEndpoint(%d): %v", size, err)
			}
			if err := ep.FillPattern(seed, size); err != nil {
				t.Fatalf("FillPattern(%#x, %d): %v", seed, size, err)
			}
			if err := ep.VerifyPattern(seed, size); err != nil {
				t.Errorf("round trip failed for size %d seed %#x: %v", size, seed, err)
			}
			if err := ep.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		}
	}
}

func TestPatternDiscrimination(t *testing.T) {
	dev := testDevice(t)
	ep, err := NewDeviceEndpoint(1<<20, dev)
	if err != nil {
		t.Fatalf("NewDeviceEndpoint: %v", err)
	}
	defer ep.Close()

	if err := ep.FillPattern(0xCAFEBABE, 1<<20); err != nil {
		t.Fatalf("FillPattern: %v", err)
	}
	err = ep.VerifyPattern(0xBAADF00D, 1<<20)
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("got %v, want MismatchError", err)
	}
	if mismatch.Offset != 0 {
		t.Errorf("distinct seeds mismatch at offset %d, want 0", mismatch.Offset)
	}
	if !IsFatal(err) {
		t.Error("verification mismatch must be fatal")
	}
}

func TestVerifyReportsCorruptedOffset(t *testing.T) {
	dev := testDevice(t)
	size := uint64(3 * 1024 * 1024)
	ep, err := NewHostEndpoint(size, dev)
	if err != nil {
		t.Fatalf("NewHostEndpoint: %v", err)
	}
	defer ep.Close()

	cases := []uint64{0, 3, 12345, patternChunkSize, patternChunkSize + 17, size - 1}
	for _, corrupt := range cases {
		if err := ep.FillPattern(7, size); err != nil {
			t.Fatalf("FillPattern: %v", err)
		}
		ep.Buffer()[corrupt] ^= 0xFF

		err := ep.VerifyPattern(7, size)
		var mismatch *MismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("corruption at %d not detected: %v", corrupt, err)
		}
		want := corrupt &^ 3 // first mismatching word
		if mismatch.Offset != want {
			t.Errorf("corruption at %d reported at offset %d, want %d", corrupt, mismatch.Offset, want)
		}
		if mismatch.Limit != size {
			t.Errorf("mismatch limit %d, want %d", mismatch.Limit, size)
		}
	}
}

func TestFillBeyondCapacity(t *testing.T) {
	dev := testDevice(t)
	ep, err := NewHostEndpoint(4096, dev)
	if err != nil {
		t.Fatalf("NewHostEndpoint: %v", err)
	}
	defer ep.Close()

	if err := ep.FillPattern(1, 8192); err == nil {
		t.Error("fill beyond capacity succeeded, want error")
	}
	if err := ep.VerifyPattern(1, 8192); err == nil {
		t.Error("verify beyond capacity succeeded, want error")
	}
}

func TestEndpointLifecycle(t *testing.T) {
	dev := testDevice(t)

	ep, err := NewDeviceEndpoint(1<<20, dev)
	if err != nil {
		t.Fatalf("NewDeviceEndpoint: %v", err)
	}
	if ep.PrimaryContext() == nil {
		t.Error("device endpoint has no primary context")
	}
	if got := dev.AllocatedBytes(); got != 1<<20 {
		t.Errorf("AllocatedBytes = %d, want %d", got, 1<<20)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := dev.AllocatedBytes(); got != 0 {
		t.Errorf("AllocatedBytes after Close = %d, want 0", got)
	}
	if err := ep.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	host, err := NewHostEndpoint(4096, dev)
	if err != nil {
		t.Fatalf("NewHostEndpoint: %v", err)
	}
	if host.PrimaryContext() != nil {
		t.Error("host endpoint reports a primary context")
	}
	if host.Node() != "Host" {
		t.Errorf("host node identity %q", host.Node())
	}
	if err := host.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
