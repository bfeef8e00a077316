package transfer

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Statistic accumulates bandwidth samples across trials and reduces them to
// one robust value. The mean/median choice is fixed at construction for the
// whole run.
type Statistic struct {
	samples []float64
	useMean bool
}

func NewStatistic(useMean bool) *Statistic {
	return &Statistic{useMean: useMean}
}

func (s *Statistic) Add(v float64) {
	s.samples = append(s.samples, v)
}

func (s *Statistic) Count() int { return len(s.samples) }

// Value reduces the accumulated samples. A single sample is returned exactly
// under both modes; no samples reduce to zero.
func (s *Statistic) Value() float64 {
	switch {
	case len(s.samples) == 0:
		return 0
	case len(s.samples) == 1:
		return s.samples[0]
	case s.useMean:
		return stat.Mean(s.samples, nil)
	}
	sorted := append([]float64(nil), s.samples...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
