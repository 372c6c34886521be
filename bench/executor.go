package bench

import (
	"context"
	"io"
)

// BuildRequest describes one build.
type BuildRequest struct {
	Tasks     []string
	JDK       string
	Arguments []string

	// ExpectedToFail tells the executor a failure is anticipated so it can
	// still return whatever it measured.
	ExpectedToFail bool

	// AltCompilerTasks are the tasks that may run in alternate compiler
	// mode.
	AltCompilerTasks []string

	// Output receives the build's console output. Nil discards it.
	Output io.Writer
}

// Executor runs builds of the project under test.
type Executor interface {
	// Execute runs a build. On failure it may return a partial result
	// together with the error.
	Execute(ctx context.Context, req BuildRequest) (*BuildResult, error)
	// RestartConnection restarts any persistent connection to the build
	// tool, such as a daemon.
	RestartConnection(ctx context.Context) error
}

// LogSinkProvider opens the sink for one build's console output. A nil
// writer discards the output.
type LogSinkProvider func(scenario, step string, iteration int) (io.WriteCloser, error)
