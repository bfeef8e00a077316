package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"github.com/gputools/gobandwidth/internal/bench"
	"github.com/gputools/gobandwidth/internal/config"
	"github.com/gputools/gobandwidth/internal/device"
	"github.com/gputools/gobandwidth/internal/metrics"
	"github.com/gputools/gobandwidth/internal/transfer"
	"github.com/gputools/gobandwidth/pkg/logutil"
)

func main() {
	cfg := config.Default()
	var (
		list      bool
		testcases []string
	)

	pflag.Uint64VarP(&cfg.BufferSizeMiB, "buffer-size", "b", cfg.BufferSizeMiB, "Memcpy buffer size in MiB")
	pflag.Uint64Var(&cfg.LoopCount, "loop-count", cfg.LoopCount, "Copies performed within one timed sample")
	pflag.IntVarP(&cfg.TestSamples, "test-samples", "i", cfg.TestSamples, "Timed samples per scenario")
	pflag.IntVar(&cfg.DeviceCount, "device-count", cfg.DeviceCount, "Number of devices to bring up")
	pflag.StringSliceVarP(&testcases, "testcase", "t", nil, "Scenario(s) to run, by name or index")
	pflag.BoolVarP(&list, "list", "l", false, "List available scenarios")
	pflag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log every sample measurement")
	pflag.BoolVarP(&cfg.SkipVerification, "skip-verification", "s", false, "Skip data verification after copy")
	pflag.BoolVarP(&cfg.UseMean, "use-mean", "m", false, "Use mean instead of median for results")
	pflag.Uint64Var(&cfg.BarrierTimeoutClocks, "barrier-timeout-clocks", cfg.BarrierTimeoutClocks, "Spin gate timeout in device clock cycles, 0 disables")
	pflag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listen address, empty disables")
	pflag.Parse()

	catalog := bench.Catalog()
	if list {
		fmt.Println("Index, Name:\n\tDescription\n=======================")
		for i, sc := range catalog {
			fmt.Printf("%d, %s:\n\t%s\n\n", i, sc.Key, sc.Desc)
		}
		return
	}

	logutil.InitLogger(cfg.Verbose)
	logger := logutil.GetLogger()
	atexit.Register(func() { _ = logger.Sync() })

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		atexit.Exit(1)
	}

	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		atexit.Exit(130)
	}()

	devs, err := device.Enumerate(cfg.DeviceCount)
	if err != nil {
		logger.Error("Device enumeration failed", zap.Error(err))
		atexit.Exit(1)
	}
	for _, dev := range devs {
		attrs := dev.Attributes()
		logger.Info("Device",
			zap.Int("id", dev.ID()),
			zap.String("name", attrs.Name),
			zap.Int("multiprocessors", attrs.MultiprocessorCount),
			zap.Int("clock_khz", attrs.ClockRateKHz))
	}

	var exporter *metrics.Exporter
	if cfg.MetricsAddr != "" {
		exporter = metrics.NewExporter()
		go func() {
			logger.Info("Serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := exporter.Serve(cfg.MetricsAddr); err != nil {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	runner := bench.NewRunner(cfg, devs, logger, exporter)

	toRun := catalog
	if len(testcases) > 0 {
		toRun = toRun[:0:0]
		for _, id := range testcases {
			sc, err := bench.Find(catalog, id)
			if err != nil {
				logger.Error("Unknown scenario", zap.String("testcase", id), zap.Error(err))
				atexit.Exit(1)
			}
			toRun = append(toRun, sc)
		}
	}

	for _, sc := range toRun {
		if err := runner.RunScenario(sc); err != nil {
			if transfer.IsFatal(err) {
				logger.Error("Scenario failed fatally, aborting run",
					zap.String("testcase", sc.Key), zap.Error(err))
				atexit.Exit(1)
			}
			logger.Warn("Skipping scenario",
				zap.String("testcase", sc.Key), zap.Error(err))
		}
	}

	logger.Info("All scenarios complete")
	atexit.Exit(0)
}
