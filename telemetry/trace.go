package telemetry

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/suite"
)

const instrumentation = "github.com/weiihann/buildbench"

// NewTracerProvider returns a provider exporting spans as JSON to w. The
// caller must shut it down to flush pending spans.
func NewTracerProvider(w io.Writer, runID string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", "buildbench"),
		attribute.String("buildbench.run_id", runID),
	)

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// TraceListener turns the run into a span tree: one span for the suite,
// one per scenario iteration, one per step and one per cleanup.
type TraceListener struct {
	bench.NopListener

	ctx    context.Context
	tracer trace.Tracer

	suite    trace.Span
	scenario trace.Span
	step     trace.Span
	cleanup  trace.Span

	suiteCtx    context.Context
	scenarioCtx context.Context
}

// NewTraceListener returns a listener creating spans with tp, rooted at
// ctx.
func NewTraceListener(ctx context.Context, tp trace.TracerProvider) *TraceListener {
	return &TraceListener{
		ctx:    ctx,
		tracer: tp.Tracer(instrumentation),
	}
}

func (t *TraceListener) SuiteStarted(s *suite.Suite) {
	t.suiteCtx, t.suite = t.tracer.Start(t.ctx, "suite",
		trace.WithAttributes(attribute.Int("buildbench.scenarios", len(s.Scenarios))),
	)
}

func (t *TraceListener) ScenarioStarted(sc *suite.Scenario, iteration int) {
	t.scenarioCtx, t.scenario = t.tracer.Start(t.parent(), "scenario "+sc.Name,
		trace.WithAttributes(
			attribute.String("buildbench.scenario", sc.Name),
			attribute.Int("buildbench.iteration", iteration),
		),
	)
}

func (t *TraceListener) StepStarted(sc *suite.Scenario, index int) {
	ctx := t.scenarioCtx
	if ctx == nil {
		ctx = t.parent()
	}

	_, t.step = t.tracer.Start(ctx, fmt.Sprintf("step %d", index+1),
		trace.WithAttributes(
			attribute.String("buildbench.scenario", sc.Name),
			attribute.Int("buildbench.step", index+1),
			attribute.String("buildbench.step_kind", suite.Kind(sc.Steps[index])),
		),
	)
}

func (t *TraceListener) TaskExecutionStarted(tasks []string) {
	span := t.step
	if span == nil {
		span = t.cleanup
	}

	if span != nil {
		span.AddEvent("tasks", trace.WithAttributes(attribute.StringSlice("buildbench.tasks", tasks)))
	}
}

func (t *TraceListener) StepFinished(_ *suite.Scenario, _ int, result *bench.StepResult, err error) {
	if t.step == nil {
		return
	}

	if err != nil {
		t.step.RecordError(err)
		t.step.SetStatus(codes.Error, firstLine(err.Error()))
	} else if result != nil {
		t.step.SetAttributes(attribute.Bool("buildbench.measured", result.Step.IsMeasured()))
	}

	t.step.End()
	t.step = nil
}

func (t *TraceListener) ScenarioFinished(_ *suite.Scenario, _ int, _ *bench.ScenarioResult, err error) {
	if t.scenario == nil {
		return
	}

	if err != nil {
		t.scenario.RecordError(err)
		t.scenario.SetStatus(codes.Error, err.Error())
	}

	t.scenario.End()
	t.scenario, t.scenarioCtx = nil, nil
}

func (t *TraceListener) CleanupStarted() {
	_, t.cleanup = t.tracer.Start(t.parent(), "cleanup")
}

func (t *TraceListener) CleanupFinished() {
	if t.cleanup != nil {
		t.cleanup.End()
		t.cleanup = nil
	}
}

func (t *TraceListener) AllFinished() {
	t.Close()
}

// Close ends every span still open, innermost first. A run that stops
// early never reaches AllFinished, so callers close the listener when Run
// returns.
func (t *TraceListener) Close() {
	for _, span := range []trace.Span{t.step, t.cleanup, t.scenario, t.suite} {
		if span != nil {
			span.End()
		}
	}

	t.step, t.cleanup, t.scenario, t.suite = nil, nil, nil, nil
	t.scenarioCtx, t.suiteCtx = nil, nil
}

func (t *TraceListener) parent() context.Context {
	if t.suiteCtx != nil {
		return t.suiteCtx
	}

	return t.ctx
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")

	return line
}
