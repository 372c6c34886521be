// Package telemetry exposes benchmark results as Prometheus metrics and
// OpenTelemetry traces.
package telemetry

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/metrics"
	"github.com/weiihann/buildbench/report"
	"github.com/weiihann/buildbench/suite"
)

const namespace = "buildbench"

// PromListener records measured metrics in a Prometheus registry. Time
// metrics are in milliseconds.
type PromListener struct {
	bench.NopListener

	gatherer prometheus.Gatherer

	values   *prometheus.GaugeVec
	builds   *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewPromListener registers the benchmark collectors with reg.
func NewPromListener(reg *prometheus.Registry) (*PromListener, error) {
	p := &PromListener{
		gatherer: reg,
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_value",
			Help:      "Value of a measured benchmark metric.",
		}, []string{"scenario", "iteration", "step", "metric"}),
		builds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Whole build time of measured steps.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"scenario"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenario_failures_total",
			Help:      "Number of failed scenario iterations.",
		}, []string{"scenario"}),
	}

	for _, c := range []prometheus.Collector{p.values, p.builds, p.failures} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return p, nil
}

func (p *PromListener) ScenarioFinished(
	sc *suite.Scenario,
	iteration int,
	result *bench.ScenarioResult,
	err error,
) {
	if err != nil {
		p.failures.WithLabelValues(sc.Name).Inc()

		return
	}

	if result == nil {
		return
	}

	iter := strconv.Itoa(iteration)

	for _, sr := range result.Measured() {
		step := strconv.Itoa(sr.Index + 1)

		for _, m := range report.Metrics(sr.Build) {
			p.values.WithLabelValues(sc.Name, iter, step, m.Name).Set(float64(m.Value))
		}

		if whole, ok := sr.Build.Time.Value(metrics.PhaseBuild.Name); ok {
			p.builds.WithLabelValues(sc.Name).Observe(whole.Seconds())
		}
	}
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format, for the node exporter textfile collector.
func (p *PromListener) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}

	return nil
}
