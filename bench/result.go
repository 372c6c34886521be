package bench

import (
	"fmt"
	"time"

	"github.com/weiihann/buildbench/metrics"
	"github.com/weiihann/buildbench/suite"
)

// BuildResult holds the measurements of one build.
type BuildResult struct {
	Time        *metrics.Container[time.Duration]
	Performance *metrics.Container[int64]
}

// EmptyBuildResult returns a result with no measurements.
func EmptyBuildResult() *BuildResult {
	return &BuildResult{
		Time:        metrics.NewContainer[time.Duration](),
		Performance: metrics.NewContainer[int64](),
	}
}

// StepResult is a finished step and the build it ran. Index is zero based.
type StepResult struct {
	Step  suite.Step
	Index int
	Build *BuildResult
}

// ScenarioResult collects the step results of one scenario iteration in
// execution order.
type ScenarioResult struct {
	Scenario  string
	Iteration int
	Steps     []*StepResult
}

// Measured returns the results of steps that are reported.
func (r *ScenarioResult) Measured() []*StepResult {
	out := make([]*StepResult, 0, len(r.Steps))

	for _, s := range r.Steps {
		if s.Step.IsMeasured() {
			out = append(out, s)
		}
	}

	return out
}

// StepError is the reason a scenario iteration was aborted. Step is one
// based.
type StepError struct {
	Step int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("Step %d failed. See logs in artifacts for more information.", e.Step)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
