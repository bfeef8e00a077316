// Package bench is the scenario driver: the catalog of named transfer
// topologies and the runner that builds endpoints for them and hands groups
// to the transfer engine.
package bench

import (
	"fmt"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gputools/gobandwidth/internal/config"
	"github.com/gputools/gobandwidth/internal/device"
	"github.com/gputools/gobandwidth/internal/metrics"
	"github.com/gputools/gobandwidth/internal/transfer"
)

// Scenario is one named benchmark topology.
type Scenario struct {
	Key        string
	Desc       string
	MinDevices int
	Run        func(r *Runner) error
}

// Runner owns the devices and mechanisms scenarios draw on.
type Runner struct {
	cfg      *config.Config
	devs     []*device.Device
	log      *zap.Logger
	exporter *metrics.Exporter

	engine  *transfer.EngineCopy
	compute *transfer.ComputeCopy

	current string
}

// NewRunner wires up the runner and preloads both copy mechanisms on every
// device, so no mechanism resolves lazily mid-scenario.
func NewRunner(cfg *config.Config, devs []*device.Device, log *zap.Logger, exporter *metrics.Exporter) *Runner {
	r := &Runner{
		cfg:      cfg,
		devs:     devs,
		log:      log,
		exporter: exporter,
		engine:   transfer.NewEngineCopy(),
		compute:  transfer.NewComputeCopy(),
	}
	transfer.Preload(devs, r.engine, r.compute)
	return r
}

// RunScenario executes one scenario, waiving it when the topology needs more
// devices than are present.
func (r *Runner) RunScenario(sc Scenario) error {
	if len(r.devs) < sc.MinDevices {
		r.log.Info("Waiving scenario",
			zap.String("testcase", sc.Key),
			zap.Int("devices", len(r.devs)),
			zap.Int("required", sc.MinDevices))
		return nil
	}
	r.log.Info("Running scenario", zap.String("testcase", sc.Key))
	r.current = sc.Key
	return sc.Run(r)
}

// Find resolves a scenario by key or by catalog index.
func Find(catalog []Scenario, id string) (Scenario, error) {
	if idx, err := strconv.Atoi(id); err == nil {
		if idx < 0 || idx >= len(catalog) {
			return Scenario{}, fmt.Errorf("testcase index %d out of bounds", idx)
		}
		return catalog[idx], nil
	}
	for _, sc := range catalog {
		if sc.Key == id {
			return sc, nil
		}
	}
	return Scenario{}, fmt.Errorf("testcase %q not found", id)
}

func (r *Runner) operation(m transfer.Mechanism, pref transfer.ContextPreference, v transfer.BandwidthValue) *transfer.Operation {
	return transfer.NewOperation(r.cfg, m, pref, v, r.log)
}

func (r *Runner) report(m transfer.Mechanism, label string, res transfer.Result) {
	gbps := res.Aggregate * 1e-9
	r.log.Info("Scenario result",
		zap.String("testcase", r.current),
		zap.String("mechanism", m.Name()),
		zap.String("pairs", label),
		zap.Float64("gbps", gbps))
	if r.exporter != nil {
		r.exporter.RecordScenario(r.current, gbps)
	}
}

// closeAll releases endpoints in reverse acquisition order.
func closeAll(eps []transfer.Endpoint) error {
	var err error
	for i := len(eps) - 1; i >= 0; i-- {
		err = multierr.Append(err, eps[i].Close())
	}
	return err
}

// group tracks the endpoints of one synchronized run so acquisition and
// release stay paired even when construction fails partway.
type group struct {
	size uint64
	all  []transfer.Endpoint
	srcs []transfer.Endpoint
	dsts []transfer.Endpoint
}

func (g *group) host(dev *device.Device) (*transfer.HostEndpoint, error) {
	ep, err := transfer.NewHostEndpoint(g.size, dev)
	if err != nil {
		return nil, err
	}
	g.all = append(g.all, ep)
	return ep, nil
}

func (g *group) device(dev *device.Device) (*transfer.DeviceEndpoint, error) {
	ep, err := transfer.NewDeviceEndpoint(g.size, dev)
	if err != nil {
		return nil, err
	}
	g.all = append(g.all, ep)
	return ep, nil
}

func (g *group) pair(src, dst transfer.Endpoint) {
	g.srcs = append(g.srcs, src)
	g.dsts = append(g.dsts, dst)
}

// run builds a group with build, measures it and releases its endpoints on
// every path.
func (r *Runner) run(m transfer.Mechanism, pref transfer.ContextPreference, v transfer.BandwidthValue,
	label string, build func(g *group) error) (err error) {
	g := &group{size: r.cfg.BufferBytes()}
	defer func() {
		err = multierr.Append(err, closeAll(g.all))
	}()

	if err := build(g); err != nil {
		return err
	}
	res, err := r.operation(m, pref, v).RunGroup(g.srcs, g.dsts)
	if err != nil {
		return err
	}
	r.report(m, label, res)
	return nil
}
