// Package bench runs benchmark suites: it applies each step's file changes,
// drives the build executor and reports progress to listeners.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/weiihann/buildbench/changes"
	"github.com/weiihann/buildbench/suite"
)

// Evaluator runs suites against one project. It is not safe for concurrent
// use.
type Evaluator struct {
	applier  *changes.Applier
	executor Executor
	progress *Composite
	logs     LogSinkProvider
	logger   *slog.Logger
}

// NewEvaluator returns an Evaluator that mutates the project through applier
// and builds it with executor.
func NewEvaluator(
	applier *changes.Applier,
	executor Executor,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		applier:  applier,
		executor: executor,
		progress: NewComposite(),
		logger:   logger,
	}
}

// AddListener registers l to receive progress callbacks.
func (e *Evaluator) AddListener(l Listener) {
	e.progress.Add(l)
}

// SetLogSinkProvider sets where build console output goes.
func (e *Evaluator) SetLogSinkProvider(p LogSinkProvider) {
	e.logs = p
}

// Run executes every iteration of every scenario of s in order. A failing
// step aborts only its iteration. Run returns an error only when the suite
// cannot continue: a RevertLastStep with nothing to revert, or ctx being
// cancelled. Whatever happens, every change still applied is reverted
// before Run returns.
func (e *Evaluator) Run(ctx context.Context, s *suite.Suite) error {
	defer e.teardown(ctx)

	e.progress.SuiteStarted(s)

	var (
		prev          *suite.Scenario
		prevIteration int
	)

	for _, sc := range s.Scenarios {
		for iteration := 1; iteration <= sc.Repeat; iteration++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			if prev != nil {
				e.cleanup(ctx, s, sc, prev, prevIteration)
			}

			if err := e.runIteration(ctx, s, sc, iteration); err != nil {
				return err
			}

			prev, prevIteration = sc, iteration
		}
	}

	e.progress.AllFinished()

	return nil
}

func (e *Evaluator) teardown(ctx context.Context) {
	if err := e.applier.RevertAll(); err != nil {
		e.logger.ErrorContext(ctx, "project could not be fully restored",
			slog.String("error", err.Error()),
		)
	}
}

func (e *Evaluator) runIteration(
	ctx context.Context,
	s *suite.Suite,
	sc *suite.Scenario,
	iteration int,
) error {
	logger := e.logger.With(
		slog.String("scenario", sc.Name),
		slog.Int("iteration", iteration),
	)

	e.progress.ScenarioStarted(sc, iteration)

	result := &ScenarioResult{Scenario: sc.Name, Iteration: iteration}

	for i, step := range sc.Steps {
		if _, ok := step.(*suite.StopDaemon); ok {
			if err := e.executor.RestartConnection(ctx); err != nil {
				logger.WarnContext(ctx, "aborting scenario: could not restart build daemon",
					slog.Int("step", i+1),
					slog.String("error", err.Error()),
				)
				e.progress.ScenarioFinished(sc, iteration, nil, &StepError{Step: i + 1, Err: err})

				return nil
			}

			continue
		}

		e.progress.StepStarted(sc, i)

		if err := e.applier.Apply(step); err != nil {
			e.progress.StepFinished(sc, i, nil, err)
			e.progress.ScenarioFinished(sc, iteration, nil, &StepError{Step: i + 1, Err: err})

			if errors.Is(err, changes.ErrNothingToRevert) {
				return fmt.Errorf("scenario %q step %d: %w", sc.Name, i+1, err)
			}

			logger.WarnContext(ctx, "aborting scenario: could not apply step changes",
				slog.Int("step", i+1),
				slog.String("error", err.Error()),
			)

			return nil
		}

		build, err := e.runStep(ctx, s, sc, step, i, iteration)
		if err != nil {
			logger.WarnContext(ctx, "aborting scenario: step failed",
				slog.Int("step", i+1),
				slog.String("error", err.Error()),
			)
			e.progress.StepFinished(sc, i, nil, err)
			e.progress.ScenarioFinished(sc, iteration, nil, &StepError{Step: i + 1, Err: err})

			return nil
		}

		sr := &StepResult{Step: step, Index: i, Build: build}
		result.Steps = append(result.Steps, sr)
		e.progress.StepFinished(sc, i, sr, nil)
	}

	e.progress.ScenarioFinished(sc, iteration, result, nil)

	return nil
}

func (e *Evaluator) runStep(
	ctx context.Context,
	s *suite.Suite,
	sc *suite.Scenario,
	step suite.Step,
	index, iteration int,
) (*BuildResult, error) {
	tasks := suite.BuildTasks(step, s.DefaultTasks)

	out, closeOut := e.openLog(ctx, sc.Name, strconv.Itoa(index+1), iteration)
	defer closeOut()

	e.progress.TaskExecutionStarted(tasks)

	res, err := e.execute(ctx, BuildRequest{
		Tasks:            tasks,
		JDK:              sc.JDK,
		Arguments:        sc.Arguments,
		ExpectedToFail:   step.IsExpectedToFail(),
		AltCompilerTasks: sc.AltCompilerTasks,
		Output:           out,
	})
	if err != nil {
		if !step.IsExpectedToFail() {
			return nil, err
		}

		e.logger.InfoContext(ctx, "build failed as expected",
			slog.String("scenario", sc.Name),
			slog.Int("step", index+1),
			slog.String("error", err.Error()),
		)
	}

	if res == nil {
		res = EmptyBuildResult()
	}

	return res, nil
}

// cleanup restores the project after prev before the next iteration of sc
// and rebuilds so sc starts from up to date outputs.
func (e *Evaluator) cleanup(
	ctx context.Context,
	s *suite.Suite,
	sc, prev *suite.Scenario,
	prevIteration int,
) {
	if !e.applier.HasPendingChanges() {
		return
	}

	e.progress.CleanupStarted()
	defer e.progress.CleanupFinished()

	if err := e.applier.RevertAll(); err != nil {
		e.logger.WarnContext(ctx, "cleanup could not revert all changes",
			slog.String("error", err.Error()),
		)
	}

	tasks := suite.CleanupTasks(prev, sc, s.DefaultTasks)
	if len(tasks) == 0 {
		e.logger.InfoContext(ctx, "no cleanup tasks",
			slog.String("scenario", prev.Name),
		)

		return
	}

	out, closeOut := e.openLog(ctx, prev.Name, "cleanup", prevIteration)
	defer closeOut()

	e.progress.TaskExecutionStarted(tasks)

	if _, err := e.execute(ctx, BuildRequest{
		Tasks:     tasks,
		JDK:       sc.JDK,
		Arguments: sc.Arguments,
		Output:    out,
	}); err != nil {
		e.logger.WarnContext(ctx, "cleanup build failed",
			slog.String("scenario", prev.Name),
			slog.String("error", err.Error()),
		)
	}
}

// execute calls the executor, turning a panic into an error.
func (e *Evaluator) execute(ctx context.Context, req BuildRequest) (res *BuildResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("build executor panicked: %v", r)
		}
	}()

	return e.executor.Execute(ctx, req)
}

func (e *Evaluator) openLog(
	ctx context.Context,
	scenario, step string,
	iteration int,
) (io.Writer, func()) {
	noop := func() {}

	if e.logs == nil {
		return nil, noop
	}

	w, err := e.logs(scenario, step, iteration)
	if err != nil {
		e.logger.WarnContext(ctx, "build log unavailable, discarding output",
			slog.String("scenario", scenario),
			slog.String("step", step),
			slog.String("error", err.Error()),
		)

		return nil, noop
	}

	if w == nil {
		return nil, noop
	}

	return w, func() {
		if err := w.Close(); err != nil {
			e.logger.WarnContext(ctx, "close build log",
				slog.String("error", err.Error()),
			)
		}
	}
}
