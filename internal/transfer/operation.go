package transfer

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gputools/gobandwidth/internal/config"
	"github.com/gputools/gobandwidth/internal/device"
)

// ContextPreference selects the context a pair's transfer is issued from.
type ContextPreference int

const (
	// PreferSrcContext issues from the source's context when it has one,
	// falling back to the destination's.
	PreferSrcContext ContextPreference = iota
	// PreferDstContext issues from the destination's context when it has
	// one, falling back to the source's.
	PreferDstContext
)

// BandwidthValue is the aggregation mode reducing per-pair bandwidth into
// the reported value.
type BandwidthValue int

const (
	// PerPairBW reports pair 0's statistic; used when all pairs are
	// expected identical.
	PerPairBW BandwidthValue = iota
	// SumBW reports the sum of every pair's own statistic.
	SumBW
	// TotalBW reports bytes across all pairs divided by the span covering
	// the latest-finishing pair.
	TotalBW
)

const (
	warmupCount = 4

	dstPatternSeed = 0xCAFEBABE
	srcPatternSeed = 0xBAADF00D
)

// Result carries the reduced aggregate plus each pair's own reduced value,
// all in bytes/second.
type Result struct {
	Aggregate float64
	PerPair   []float64
}

// Operation runs synchronized transfer groups: every pair in a group starts
// its timed region from a common release point established by a spin gate and
// an event chain rooted at pair 0, so launch-order skew never biases the
// measurement.
type Operation struct {
	cfg   *config.Config
	mech  Mechanism
	pref  ContextPreference
	value BandwidthValue
	log   *zap.Logger
}

func NewOperation(cfg *config.Config, mech Mechanism, pref ContextPreference, value BandwidthValue, log *zap.Logger) *Operation {
	return &Operation{cfg: cfg, mech: mech, pref: pref, value: value, log: log}
}

// Run measures a single (src, dst) pair.
func (o *Operation) Run(src, dst Endpoint) (Result, error) {
	return o.RunGroup([]Endpoint{src}, []Endpoint{dst})
}

// RunGroup measures a group of pairs launched under one barrier. Resources
// acquired along the way are released on every exit path, including a fatal
// verification failure.
func (o *Operation) RunGroup(srcs, dsts []Endpoint) (Result, error) {
	if len(srcs) == 0 || len(srcs) != len(dsts) {
		return Result{}, fmt.Errorf("group of %d sources and %d destinations: %w", len(srcs), len(dsts), ErrUnsupportedTopology)
	}
	for i := range srcs {
		if srcs[i].BufferSize() != dsts[i].BufferSize() {
			return Result{}, fmt.Errorf("pair %d capacity mismatch: src %d bytes, dst %d bytes",
				i, srcs[i].BufferSize(), dsts[i].BufferSize())
		}
	}

	var rel releaser
	res, err := o.runGroup(srcs, dsts, &rel)
	return res, multierr.Append(err, rel.Release())
}

func (o *Operation) runGroup(srcs, dsts []Endpoint, rel *releaser) (Result, error) {
	n := len(srcs)

	contexts := make([]*device.Context, n)
	streams := make([]*device.Stream, n)
	startEvents := make([]*device.Event, n)
	endEvents := make([]*device.Event, n)
	finalCopySize := make([]uint64, n)
	stats := make([]*Statistic, n)

	for i := 0; i < n; i++ {
		switch {
		case o.pref == PreferSrcContext && srcs[i].PrimaryContext() != nil:
			contexts[i] = srcs[i].PrimaryContext()
		case dsts[i].PrimaryContext() != nil:
			contexts[i] = dsts[i].PrimaryContext()
		case srcs[i].PrimaryContext() != nil:
			contexts[i] = srcs[i].PrimaryContext()
		default:
			return Result{}, fmt.Errorf("pair %d (%s -> %s) has no issuing context: %w",
				i, srcs[i].Node(), dsts[i].Node(), ErrUnsupportedTopology)
		}

		var err error
		if streams[i], err = contexts[i].NewStream(); err != nil {
			return Result{}, fmt.Errorf("creating stream for pair %d: %w", i, err)
		}
		rel.add(streams[i].Destroy)
		if startEvents[i], err = contexts[i].NewEvent(); err != nil {
			return Result{}, fmt.Errorf("creating start event for pair %d: %w", i, err)
		}
		rel.add(startEvents[i].Destroy)
		if endEvents[i], err = contexts[i].NewEvent(); err != nil {
			return Result{}, fmt.Errorf("creating end event for pair %d: %w", i, err)
		}
		rel.add(endEvents[i].Destroy)

		// CE and SM copy sizes differ when SM truncates; fill and verify
		// must cover exactly what the copy will move.
		finalCopySize[i] = o.mech.AdjustedCopySize(srcs[0].BufferSize(), streams[i])
		stats[i] = NewStatistic(o.cfg.UseMean)
	}

	flag := device.NewBlockingFlag()
	totalEnd, err := contexts[0].NewEvent()
	if err != nil {
		return Result{}, fmt.Errorf("creating total completion event: %w", err)
	}
	rel.add(totalEnd.Destroy)
	totalStat := NewStatistic(o.cfg.UseMean)
	adjustedCopySizes := make([]uint64, n)

	for sample := 0; sample < o.cfg.TestSamples; sample++ {
		flag.Reset()

		// Patterns go in before any stream work so fills are never timed.
		for i := 0; i < n; i++ {
			if err := dsts[i].FillPattern(dstPatternSeed, finalCopySize[i]); err != nil {
				return Result{}, fmt.Errorf("filling %s: %w", dsts[i].Node(), err)
			}
			if err := srcs[i].FillPattern(srcPatternSeed, finalCopySize[i]); err != nil {
				return Result{}, fmt.Errorf("filling %s: %w", srcs[i].Node(), err)
			}
		}

		// Park every stream on the gate, then absorb first-launch overhead
		// behind it.
		for i := 0; i < n; i++ {
			device.SpinOnFlag(streams[i], flag, o.cfg.BarrierTimeoutClocks)
			o.mech.Copy(dsts[i].Buffer(), srcs[i].Buffer(), streams[i], srcs[i].BufferSize(), warmupCount)
		}

		// All timed regions start from pair 0's start event.
		streams[0].RecordEvent(startEvents[0])
		for i := 1; i < n; i++ {
			streams[i].WaitEvent(startEvents[0])
			streams[i].RecordEvent(startEvents[i])
		}

		for i := 0; i < n; i++ {
			adjustedCopySizes[i] = o.mech.Copy(dsts[i].Buffer(), srcs[i].Buffer(), streams[i], srcs[i].BufferSize(), o.cfg.LoopCount)
			streams[i].RecordEvent(endEvents[i])
			if o.value == TotalBW && i != 0 {
				// stream 0 finishes last so totalEnd spans the slowest pair
				streams[0].WaitEvent(endEvents[i])
			}
		}
		streams[0].RecordEvent(totalEnd)

		flag.Release()
		for i := 0; i < n; i++ {
			streams[i].Synchronize()
		}

		if !o.cfg.SkipVerification {
			for i := 0; i < n; i++ {
				if err := dsts[i].VerifyPattern(srcPatternSeed, finalCopySize[i]); err != nil {
					return Result{}, fmt.Errorf("verifying %s after copy from %s: %w",
						dsts[i].Node(), srcs[i].Node(), err)
				}
			}
		}

		for i := 0; i < n; i++ {
			elapsed, err := device.ElapsedTime(startEvents[i], endEvents[i])
			if err != nil {
				return Result{}, fmt.Errorf("reading elapsed time for pair %d: %w", i, err)
			}
			bw := float64(adjustedCopySizes[i]*o.cfg.LoopCount) / elapsed.Seconds()
			stats[i].Add(bw)
			if o.cfg.Verbose && (o.value != PerPairBW || i == 0) {
				o.log.Info("Sample",
					zap.Int("sample", sample),
					zap.String("src", srcs[i].Node()),
					zap.String("dst", dsts[i].Node()),
					zap.Float64("gbps", bw*1e-9))
			}
		}

		if o.value == TotalBW {
			elapsed, err := device.ElapsedTime(startEvents[0], totalEnd)
			if err != nil {
				return Result{}, fmt.Errorf("reading total elapsed time: %w", err)
			}
			var totalSize uint64
			for _, sz := range adjustedCopySizes {
				totalSize += sz
			}
			bw := float64(totalSize*o.cfg.LoopCount) / elapsed.Seconds()
			totalStat.Add(bw)
			if o.cfg.Verbose {
				o.log.Info("Sample",
					zap.Int("sample", sample),
					zap.String("src", "all"),
					zap.String("dst", "all"),
					zap.Float64("total_gbps", bw*1e-9))
			}
		}
	}

	res := Result{PerPair: make([]float64, n)}
	for i := 0; i < n; i++ {
		res.PerPair[i] = stats[i].Value()
	}
	switch o.value {
	case SumBW:
		for _, v := range res.PerPair {
			res.Aggregate += v
		}
	case TotalBW:
		res.Aggregate = totalStat.Value()
	default:
		res.Aggregate = res.PerPair[0]
	}
	return res, nil
}

// releaser unwinds acquired resources in reverse order on every exit path.
type releaser struct {
	fns []func() error
}

func (r *releaser) add(f func() error) {
	r.fns = append(r.fns, f)
}

func (r *releaser) Release() error {
	var err error
	for i := len(r.fns) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.fns[i]())
	}
	r.fns = nil
	return err
}
