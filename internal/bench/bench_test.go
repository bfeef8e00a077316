package bench

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gputools/gobandwidth/internal/config"
	"github.com/gputools/gobandwidth/internal/device"
)

func TestCatalogKeysUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, sc := range Catalog() {
		if sc.Key == "" {
			t.Error("scenario with empty key")
		}
		if seen[sc.Key] {
			t.Errorf("duplicate scenario key %q", sc.Key)
		}
		seen[sc.Key] = true
		if sc.Run == nil {
			t.Errorf("scenario %q has no run function", sc.Key)
		}
		if !strings.HasSuffix(sc.Key, "_ce") && !strings.HasSuffix(sc.Key, "_sm") {
			t.Errorf("scenario %q does not name its copy mechanism", sc.Key)
		}
	}
	if len(seen) == 0 {
		t.Fatal("empty catalog")
	}
}

func TestFind(t *testing.T) {
	catalog := Catalog()

	sc, err := Find(catalog, catalog[0].Key)
	if err != nil || sc.Key != catalog[0].Key {
		t.Errorf("Find by key: got %q, %v", sc.Key, err)
	}

	sc, err = Find(catalog, "1")
	if err != nil || sc.Key != catalog[1].Key {
		t.Errorf("Find by index: got %q, %v", sc.Key, err)
	}

	if _, err := Find(catalog, "9999"); err == nil {
		t.Error("out-of-bounds index accepted")
	}
	if _, err := Find(catalog, "no_such_testcase"); err == nil {
		t.Error("unknown key accepted")
	}
}

func testRunner(t *testing.T, deviceCount int) (*Runner, []*device.Device, *observer.ObservedLogs) {
	t.Helper()
	cfg := config.Default()
	cfg.BufferSizeMiB = 1
	cfg.LoopCount = 2
	cfg.TestSamples = 1
	cfg.DeviceCount = deviceCount

	devs, err := device.Enumerate(deviceCount)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	core, logs := observer.New(zapcore.InfoLevel)
	return NewRunner(cfg, devs, zap.New(core), nil), devs, logs
}

func TestRunScenarioWaivesOnTooFewDevices(t *testing.T) {
	r, _, logs := testRunner(t, 1)
	sc, err := Find(Catalog(), "device_to_device_memcpy_write_ce")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := r.RunScenario(sc); err != nil {
		t.Fatalf("waived scenario returned %v", err)
	}
	if logs.FilterMessage("Waiving scenario").Len() != 1 {
		t.Error("expected a waiver log line")
	}
	if logs.FilterMessage("Scenario result").Len() != 0 {
		t.Error("waived scenario must not report a result")
	}
}

func TestRunScenarioEndToEnd(t *testing.T) {
	r, devs, logs := testRunner(t, 2)
	// scenarios report one result per measured group: the per-device ones
	// twice with two devices, the fan-in one once
	keys := []string{
		"host_to_device_memcpy_ce",
		"device_to_device_memcpy_read_ce",
		"host_to_device_memcpy_sm",
		"all_to_host_memcpy_ce",
	}
	wantResults := 2 + 2 + 2 + 1
	for _, key := range keys {
		sc, err := Find(Catalog(), key)
		if err != nil {
			t.Fatalf("Find(%q): %v", key, err)
		}
		if err := r.RunScenario(sc); err != nil {
			t.Fatalf("scenario %q: %v", key, err)
		}
	}
	if got := logs.FilterMessage("Scenario result").Len(); got != wantResults {
		t.Errorf("logged %d results, want %d", got, wantResults)
	}
	// every scenario must release what it allocated
	for _, dev := range devs {
		if n := dev.AllocatedBytes(); n != 0 {
			t.Errorf("%s leaks %d bytes after scenarios", dev.Attributes().Name, n)
		}
	}
}
