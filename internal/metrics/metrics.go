// Package metrics exposes per-scenario bandwidth through prometheus when a
// listen address is configured. The rest of the tool never depends on it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Exporter struct {
	registry       *prometheus.Registry
	bandwidthGauge *prometheus.GaugeVec
	scenarioCount  *prometheus.CounterVec
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		bandwidthGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gobandwidth_scenario_bandwidth_gbps",
				Help: "Reduced bandwidth of the last run of a scenario in GB/s",
			},
			[]string{"scenario"},
		),
		scenarioCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gobandwidth_scenario_runs_total",
				Help: "Number of completed scenario runs",
			},
			[]string{"scenario"},
		),
	}
	e.registry.MustRegister(e.bandwidthGauge, e.scenarioCount)
	return e
}

// RecordScenario publishes the reduced bandwidth of one scenario run.
func (e *Exporter) RecordScenario(scenario string, gbps float64) {
	e.bandwidthGauge.WithLabelValues(scenario).Set(gbps)
	e.scenarioCount.WithLabelValues(scenario).Inc()
}

// Serve blocks serving /metrics on addr.
func (e *Exporter) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
