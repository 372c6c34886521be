package report

import (
	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/metrics"
	"github.com/weiihann/buildbench/suite"
)

// Record is the reported outcome of one scenario iteration. It is the unit
// written by every result file and store.
type Record struct {
	RunID     string       `json:"runId,omitempty" msgpack:"run_id"`
	Scenario  string       `json:"displayName" msgpack:"scenario"`
	Iteration int          `json:"iteration" msgpack:"iteration"`
	Steps     []StepRecord `json:"steps" msgpack:"steps"`
}

// StepRecord holds the reported metrics of one measured step. Step is one
// based.
type StepRecord struct {
	Step    int      `json:"step" msgpack:"step"`
	Results []Metric `json:"results" msgpack:"results"`
}

// Metric is a flattened metric. Times are in milliseconds.
type Metric struct {
	Name  string `json:"metricName" msgpack:"name"`
	Value int64  `json:"metricValue,string" msgpack:"value"`
}

// NewRecord builds the record of one successful scenario iteration. Only
// measured steps are included and only tracked metrics are kept.
func NewRecord(runID string, sc *suite.Scenario, result *bench.ScenarioResult) Record {
	rec := Record{
		RunID:     runID,
		Scenario:  sc.Name,
		Iteration: result.Iteration,
		Steps:     []StepRecord{},
	}

	for _, sr := range result.Measured() {
		step := StepRecord{Step: sr.Index + 1, Results: []Metric{}}

		for _, m := range Metrics(sr.Build) {
			if sc.Tracks(m.Name) {
				step.Results = append(step.Results, m)
			}
		}

		rec.Steps = append(rec.Steps, step)
	}

	return rec
}

// Metrics flattens a build result into dotted metric names: time metrics
// first, in milliseconds, then performance counters. Zero values are
// skipped.
func Metrics(b *bench.BuildResult) []Metric {
	if b == nil {
		return nil
	}

	var out []Metric

	for _, f := range metrics.Flatten(b.Time) {
		if ms := f.Value.Milliseconds(); f.Value > 0 {
			out = append(out, Metric{Name: f.Name, Value: ms})
		}
	}

	for _, f := range metrics.Flatten(b.Performance) {
		if f.Value != 0 {
			out = append(out, Metric{Name: f.Name, Value: f.Value})
		}
	}

	return out
}
