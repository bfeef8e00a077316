package config

import "fmt"

const MiB = 1024 * 1024

// Defaults match the values the CLI advertises. The default buffer size is
// also the threshold below which the compute copy falls back to its simple
// per-element partitioning.
const (
	DefaultBufferSizeMiB = 64
	DefaultLoopCount     = 16
	DefaultTestSamples   = 3
	DefaultDeviceCount   = 2
)

// Config is the run-wide configuration. It is built once by the entry point
// and passed by reference into every component that needs it; nothing in this
// repository reads configuration from package-level state.
type Config struct {
	// DeviceCount is the number of devices to bring up.
	DeviceCount int

	// BufferSizeMiB is the per-endpoint allocation size in MiB.
	BufferSizeMiB uint64

	// LoopCount is the number of back-to-back copies within one timed sample.
	LoopCount uint64

	// TestSamples is the number of timed trials reduced into the reported
	// statistic.
	TestSamples int

	// Verbose enables the per-sample measurement lines.
	Verbose bool

	// SkipVerification disables the pattern check after each trial.
	SkipVerification bool

	// UseMean selects the arithmetic mean instead of the median when
	// reducing samples.
	UseMean bool

	// BarrierTimeoutClocks bounds the spin gate in device clock cycles.
	// Zero leaves the gate unbounded.
	BarrierTimeoutClocks uint64

	// MetricsAddr, when non-empty, is the listen address for the prometheus
	// exporter.
	MetricsAddr string
}

func Default() *Config {
	return &Config{
		DeviceCount:   DefaultDeviceCount,
		BufferSizeMiB: DefaultBufferSizeMiB,
		LoopCount:     DefaultLoopCount,
		TestSamples:   DefaultTestSamples,
	}
}

// BufferBytes returns the endpoint allocation size in bytes.
func (c *Config) BufferBytes() uint64 {
	return c.BufferSizeMiB * MiB
}

func (c *Config) Validate() error {
	if c.DeviceCount < 1 {
		return fmt.Errorf("device count must be at least 1, got %d", c.DeviceCount)
	}
	if c.BufferSizeMiB < 1 {
		return fmt.Errorf("buffer size must be at least 1 MiB, got %d", c.BufferSizeMiB)
	}
	if c.LoopCount < 1 {
		return fmt.Errorf("loop count must be at least 1, got %d", c.LoopCount)
	}
	if c.TestSamples < 1 {
		return fmt.Errorf("test samples must be at least 1, got %d", c.TestSamples)
	}
	return nil
}
