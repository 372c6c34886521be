package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/buildbench/changes"
	"github.com/weiihann/buildbench/suite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor records requests and answers with a fixed BUILD time. fail
// decides per call whether the build fails.
type fakeExecutor struct {
	project    string
	watch      string
	requests   []BuildRequest
	seen       []string
	restarts   int
	restartErr error
	fail       func(call int, req BuildRequest) error
	panicOn    int
}

func (f *fakeExecutor) Execute(_ context.Context, req BuildRequest) (*BuildResult, error) {
	f.requests = append(f.requests, req)
	call := len(f.requests)

	if f.watch != "" {
		content, err := os.ReadFile(filepath.Join(f.project, f.watch))
		if err != nil {
			content = []byte("<absent>")
		}

		f.seen = append(f.seen, string(content))
	}

	if req.Output != nil {
		fmt.Fprintf(req.Output, "build %v\n", req.Tasks)
	}

	if f.panicOn == call {
		panic("daemon crashed")
	}

	if f.fail != nil {
		if err := f.fail(call, req); err != nil {
			return nil, err
		}
	}

	res := EmptyBuildResult()
	res.Time.SetValue("BUILD", time.Duration(call)*time.Millisecond)

	return res, nil
}

func (f *fakeExecutor) RestartConnection(context.Context) error {
	f.restarts++

	return f.restartErr
}

type recorder struct {
	events    []string
	scenarios []*ScenarioResult
	failures  []error
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) SuiteStarted(*suite.Suite) { r.add("suite") }

func (r *recorder) ScenarioStarted(sc *suite.Scenario, it int) {
	r.add("scenario %s #%d", sc.Name, it)
}

func (r *recorder) ScenarioFinished(sc *suite.Scenario, it int, res *ScenarioResult, err error) {
	if err != nil {
		r.failures = append(r.failures, err)
		r.add("scenario %s #%d failed: %v", sc.Name, it, err)

		return
	}

	r.scenarios = append(r.scenarios, res)
	r.add("scenario %s #%d done", sc.Name, it)
}

func (r *recorder) StepStarted(_ *suite.Scenario, i int) { r.add("step %d", i+1) }

func (r *recorder) StepFinished(_ *suite.Scenario, i int, _ *StepResult, err error) {
	if err != nil {
		r.add("step %d failed", i+1)

		return
	}

	r.add("step %d done", i+1)
}

func (r *recorder) TaskExecutionStarted(tasks []string) {
	r.add("tasks %s", strings.Join(tasks, ","))
}

func (r *recorder) CleanupStarted()  { r.add("cleanup") }
func (r *recorder) CleanupFinished() { r.add("cleanup done") }
func (r *recorder) AllFinished()     { r.add("all") }

type env struct {
	project string
	changes string
	exec    *fakeExecutor
	rec     *recorder
	eval    *Evaluator
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		project: t.TempDir(),
		changes: t.TempDir(),
		rec:     &recorder{},
	}
	e.exec = &fakeExecutor{project: e.project}
	e.eval = NewEvaluator(changes.NewApplier(e.project, discardLogger()), e.exec, discardLogger())
	e.eval.AddListener(e.rec)

	return e
}

func (e *env) file(t *testing.T, dir, name, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func (e *env) read(t *testing.T, name string) string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(e.project, name))
	require.NoError(t, err)

	return string(b)
}

func (e *env) builder() *suite.Builder {
	return suite.NewBuilder().
		DefaultTasks(":dist").
		ChangeableFile("foo", "Foo.txt")
}

func (e *env) v2() string {
	return filepath.Join(e.changes, "v2.txt")
}

func TestEditAndRevert(t *testing.T) {
	e := newEnv(t)
	e.file(t, e.project, "Foo.txt", "v1")
	e.file(t, e.changes, "v2.txt", "v2")
	e.exec.watch = "Foo.txt"

	s, err := e.builder().
		Scenario("edit-and-revert", func(sc *suite.ScenarioBuilder) {
			sc.Step(func(st *suite.ChangeStepBuilder) { st.ChangeFileFrom("foo", "V2", e.v2()) })
			sc.RevertLastStep(nil)
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	assert.Equal(t, []string{"v2", "v1"}, e.exec.seen)
	assert.Equal(t, "v1", e.read(t, "Foo.txt"))

	require.Len(t, e.rec.scenarios, 1)
	res := e.rec.scenarios[0]
	require.Len(t, res.Steps, 2)
	assert.IsType(t, &suite.SimpleStep{}, res.Steps[0].Step)
	assert.Len(t, res.Measured(), 2)

	assert.Equal(t, []string{
		"suite",
		"scenario edit-and-revert #1",
		"step 1", "tasks :dist", "step 1 done",
		"step 2", "tasks :dist", "step 2 done",
		"scenario edit-and-revert #1 done",
		"all",
	}, e.rec.events)
}

func TestExpectedToFailKeepsGoing(t *testing.T) {
	e := newEnv(t)
	e.exec.fail = func(call int, _ BuildRequest) error {
		if call == 1 {
			return errors.New("compilation error")
		}

		return nil
	}

	s, err := e.builder().
		Scenario("broken", func(sc *suite.ScenarioBuilder) {
			sc.Step(func(st *suite.ChangeStepBuilder) { st.ExpectBuildToFail() })
			sc.Step(nil)
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	require.Empty(t, e.rec.failures)
	require.Len(t, e.rec.scenarios, 1)

	steps := e.rec.scenarios[0].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, 0, steps[0].Build.Time.Len())
	assert.True(t, e.exec.requests[0].ExpectedToFail)
}

func TestFailingStepAbortsOnlyItsIteration(t *testing.T) {
	e := newEnv(t)
	e.exec.fail = func(call int, _ BuildRequest) error {
		if call == 2 {
			return errors.New("boom")
		}

		return nil
	}

	s, err := e.builder().
		Scenario("flaky", func(sc *suite.ScenarioBuilder) {
			sc.Repeat(2)
			sc.Step(nil)
			sc.Step(nil)
			sc.Step(nil)
		}).
		Scenario("after", func(sc *suite.ScenarioBuilder) { sc.Step(nil) }).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	require.Len(t, e.rec.failures, 1)

	var stepErr *StepError
	require.ErrorAs(t, e.rec.failures[0], &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	assert.Equal(t, "Step 2 failed. See logs in artifacts for more information.", stepErr.Error())

	require.Len(t, e.rec.scenarios, 2)
	assert.Equal(t, "flaky", e.rec.scenarios[0].Scenario)
	assert.Equal(t, 2, e.rec.scenarios[0].Iteration)
	assert.Equal(t, "after", e.rec.scenarios[1].Scenario)

	assert.Contains(t, e.rec.events, "step 2 failed")
	assert.NotContains(t, e.rec.events[:8], "step 3")
	assert.Equal(t, "all", e.rec.events[len(e.rec.events)-1])
}

func TestApplyFailureAbortsIteration(t *testing.T) {
	e := newEnv(t)
	e.file(t, e.project, "Foo.txt", "v1")

	s, err := e.builder().
		Scenario("missing-source", func(sc *suite.ScenarioBuilder) {
			sc.Repeat(2)
			sc.Step(func(st *suite.ChangeStepBuilder) {
				st.ChangeFileFrom("foo", "GONE", filepath.Join(e.changes, "gone.txt"))
			})
			sc.Step(nil)
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	assert.Empty(t, e.exec.requests)
	assert.Len(t, e.rec.failures, 2)
	assert.Equal(t, "v1", e.read(t, "Foo.txt"))
	assert.Equal(t, "all", e.rec.events[len(e.rec.events)-1])
}

func TestExecutorPanicIsStepFailure(t *testing.T) {
	e := newEnv(t)
	e.exec.panicOn = 1

	s, err := e.builder().
		Scenario("panics", func(sc *suite.ScenarioBuilder) { sc.Step(nil) }).
		Scenario("runs", func(sc *suite.ScenarioBuilder) { sc.Step(nil) }).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	require.Len(t, e.rec.failures, 1)
	assert.ErrorContains(t, errors.Unwrap(e.rec.failures[0]), "daemon crashed")
	require.Len(t, e.rec.scenarios, 1)
	assert.Equal(t, "runs", e.rec.scenarios[0].Scenario)
}

func TestCleanupBetweenScenarios(t *testing.T) {
	e := newEnv(t)
	e.file(t, e.project, "Foo.txt", "v1")
	e.file(t, e.changes, "v2.txt", "v2")
	e.exec.watch = "Foo.txt"

	var logs []string

	e.eval.SetLogSinkProvider(func(scenario, step string, iteration int) (io.WriteCloser, error) {
		logs = append(logs, fmt.Sprintf("%s/%s/%d", scenario, step, iteration))

		return nopCloser{&bytes.Buffer{}}, nil
	})

	s, err := e.builder().
		Scenario("edit", func(sc *suite.ScenarioBuilder) {
			sc.Step(func(st *suite.ChangeStepBuilder) { st.ChangeFileFrom("foo", "V2", e.v2()) })
		}).
		Scenario("next", func(sc *suite.ScenarioBuilder) {
			sc.Step(func(st *suite.ChangeStepBuilder) { st.RunTasks("clean", ":compile") })
			sc.Step(nil)
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	require.Len(t, e.exec.requests, 4)
	assert.Equal(t, []string{":compile", ":dist"}, e.exec.requests[1].Tasks)
	assert.Equal(t, "v1", e.exec.seen[1])
	assert.Equal(t, []string{"edit/1/1", "edit/cleanup/1", "next/1/1", "next/2/1"}, logs)

	assert.Contains(t, e.rec.events, "cleanup")
	assert.Contains(t, e.rec.events, "tasks :compile,:dist")
}

func TestExplicitEmptyCleanupRunsNoBuild(t *testing.T) {
	e := newEnv(t)
	e.file(t, e.project, "Foo.txt", "v1")
	e.file(t, e.changes, "v2.txt", "v2")

	s, err := e.builder().
		Scenario("edit", func(sc *suite.ScenarioBuilder) {
			sc.Repeat(2)
			sc.CleanupTasks()
			sc.Step(func(st *suite.ChangeStepBuilder) { st.ChangeFileFrom("foo", "V2", e.v2()) })
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	assert.Len(t, e.exec.requests, 2)
	assert.Contains(t, e.rec.events, "cleanup")
	assert.Contains(t, e.rec.events, "cleanup done")
	assert.Equal(t, "v1", e.read(t, "Foo.txt"))
}

func TestNoCleanupWithoutPendingChanges(t *testing.T) {
	e := newEnv(t)

	s, err := e.builder().
		Scenario("a", func(sc *suite.ScenarioBuilder) { sc.Step(nil) }).
		Scenario("b", func(sc *suite.ScenarioBuilder) { sc.Step(nil) }).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	assert.NotContains(t, e.rec.events, "cleanup")
	assert.Len(t, e.exec.requests, 2)
}

func TestStopDaemonRestartsWithoutStep(t *testing.T) {
	e := newEnv(t)

	s, err := e.builder().
		Scenario("daemon", func(sc *suite.ScenarioBuilder) {
			sc.StopDaemon()
			sc.Step(nil)
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	assert.Equal(t, 1, e.exec.restarts)
	assert.Equal(t, []string{
		"suite",
		"scenario daemon #1",
		"step 2", "tasks :dist", "step 2 done",
		"scenario daemon #1 done",
		"all",
	}, e.rec.events)
}

func TestRevertWithNothingAppliedStopsSuite(t *testing.T) {
	e := newEnv(t)
	e.file(t, e.project, "Foo.txt", "v1")
	e.file(t, e.changes, "v2.txt", "v2")

	s, err := e.builder().
		Scenario("edit", func(sc *suite.ScenarioBuilder) {
			sc.Step(func(st *suite.ChangeStepBuilder) { st.ChangeFileFrom("foo", "V2", e.v2()) })
			sc.RevertLastStep(nil)
			sc.RevertLastStep(nil)
		}).
		Scenario("never", func(sc *suite.ScenarioBuilder) { sc.Step(nil) }).
		Build()
	require.NoError(t, err)

	err = e.eval.Run(context.Background(), s)
	require.ErrorIs(t, err, changes.ErrNothingToRevert)

	assert.Len(t, e.rec.failures, 1)
	assert.NotContains(t, e.rec.events, "scenario never #1")
	assert.NotContains(t, e.rec.events, "all")
	assert.Equal(t, "v1", e.read(t, "Foo.txt"))
}

func TestTeardownRevertsOnCancel(t *testing.T) {
	e := newEnv(t)
	e.file(t, e.project, "Foo.txt", "v1")
	e.file(t, e.changes, "v2.txt", "v2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.exec.fail = func(int, BuildRequest) error {
		cancel()

		return nil
	}

	s, err := e.builder().
		Scenario("edit", func(sc *suite.ScenarioBuilder) {
			sc.Repeat(3)
			sc.Step(func(st *suite.ChangeStepBuilder) { st.ChangeFileFrom("foo", "V2", e.v2()) })
		}).
		Build()
	require.NoError(t, err)

	err = e.eval.Run(ctx, s)
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, e.exec.requests, 1)
	assert.Equal(t, "v1", e.read(t, "Foo.txt"))
}

func TestFailedDaemonRestartAbortsIteration(t *testing.T) {
	e := newEnv(t)
	e.exec.restartErr = errors.New("daemon did not stop")

	s, err := e.builder().
		Scenario("daemon", func(sc *suite.ScenarioBuilder) {
			sc.Step(nil)
			sc.StopDaemon()
			sc.Step(nil)
		}).
		Scenario("after", func(sc *suite.ScenarioBuilder) { sc.Step(nil) }).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	assert.Equal(t, 1, e.exec.restarts)
	require.Len(t, e.exec.requests, 2)

	require.Len(t, e.rec.failures, 1)

	var stepErr *StepError
	require.ErrorAs(t, e.rec.failures[0], &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	require.ErrorIs(t, stepErr, e.exec.restartErr)

	assert.NotContains(t, e.rec.events, "step 3")
	require.Len(t, e.rec.scenarios, 1)
	assert.Equal(t, "after", e.rec.scenarios[0].Scenario)
	assert.Equal(t, "all", e.rec.events[len(e.rec.events)-1])
}

// blockRestore replaces the project file name with a non-empty directory,
// so reverting the change that created it fails.
func (e *env) blockRestore(t *testing.T, name string) {
	t.Helper()

	path := filepath.Join(e.project, name)
	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "inner"), 0o755))
}

func (e *env) captureLogs() *bytes.Buffer {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e.eval = NewEvaluator(changes.NewApplier(e.project, logger), e.exec, logger)
	e.eval.AddListener(e.rec)

	return &buf
}

func TestTeardownFailureIsLoggedNotReturned(t *testing.T) {
	e := newEnv(t)
	e.file(t, e.changes, "v2.txt", "v2")
	logs := e.captureLogs()

	e.exec.fail = func(int, BuildRequest) error {
		e.blockRestore(t, "New.txt")

		return nil
	}

	s, err := e.builder().
		ChangeableFile("new", "New.txt").
		Scenario("create", func(sc *suite.ScenarioBuilder) {
			sc.Step(func(st *suite.ChangeStepBuilder) { st.ChangeFileFrom("new", "V2", e.v2()) })
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, e.eval.Run(context.Background(), s))

	assert.Equal(t, "all", e.rec.events[len(e.rec.events)-1])
	assert.DirExists(t, filepath.Join(e.project, "New.txt"))
	assert.Contains(t, logs.String(), "project could not be fully restored")
}

func TestTeardownFailureKeepsCancellation(t *testing.T) {
	e := newEnv(t)
	e.file(t, e.project, "Foo.txt", "v1")
	e.file(t, e.changes, "v2.txt", "v2")
	logs := e.captureLogs()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.exec.fail = func(int, BuildRequest) error {
		e.blockRestore(t, "New.txt")
		cancel()

		return nil
	}

	s, err := e.builder().
		ChangeableFile("new", "New.txt").
		Scenario("create", func(sc *suite.ScenarioBuilder) {
			sc.Repeat(2)
			sc.Step(func(st *suite.ChangeStepBuilder) {
				st.ChangeFileFrom("foo", "V2", e.v2())
				st.ChangeFileFrom("new", "V2", e.v2())
			})
		}).
		Build()
	require.NoError(t, err)

	err = e.eval.Run(ctx, s)
	require.ErrorIs(t, err, context.Canceled)

	var rerr *changes.RevertError
	assert.False(t, errors.As(err, &rerr))

	assert.Equal(t, "v1", e.read(t, "Foo.txt"))
	assert.Contains(t, logs.String(), "project could not be fully restored")
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
