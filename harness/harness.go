package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/weiihann/buildbench/bench"
)

// MetricsFileEnv names the environment variable holding the path the build
// tool writes its build report to.
const MetricsFileEnv = "BUILDBENCH_METRICS_FILE"

// ErrMetricsDecode is returned when a build report exists but cannot be
// read.
var ErrMetricsDecode = errors.New("decode build report")

// outputTail bounds how much build output is kept for error messages.
const outputTail = 4 << 10

// waitDelay bounds how long a cancelled build may keep its output pipes
// open before they are closed.
const waitDelay = 5 * time.Second

// Runner runs builds of one project with an external build tool. It
// implements bench.Executor.
type Runner struct {
	Name       string
	ProjectDir string
	Command    CommandConfig
	// HeapDumpPath, when set, makes JVMs started by the build dump their
	// heap there on OutOfMemoryError.
	HeapDumpPath string
	Timeout      time.Duration
	Logger       *slog.Logger
}

// NewRunner creates a Runner for the project in projectDir.
func NewRunner(
	name, projectDir string,
	command CommandConfig,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		Name:       name,
		ProjectDir: projectDir,
		Command:    command,
		Logger:     logger.With(slog.String("tool", name)),
	}
}

// Execute runs one build and returns its metrics. When the build fails and
// req.ExpectedToFail is set, whatever was measured is returned along with
// the error.
func (r *Runner) Execute(ctx context.Context, req bench.BuildRequest) (*bench.BuildResult, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	reportFile, err := os.CreateTemp("", "buildbench-*-metrics.json")
	if err != nil {
		return nil, fmt.Errorf("create build report file: %w", err)
	}

	reportPath := reportFile.Name()
	reportFile.Close()

	defer os.Remove(reportPath)

	cmd := exec.CommandContext(ctx, r.Command.Binary, r.args(req, reportPath)...)
	cmd.Dir = r.ProjectDir
	isolate(cmd)
	cmd.Env = append(os.Environ(), r.env(req, reportPath)...)

	out := req.Output
	if out == nil {
		out = io.Discard
	}

	tail := &tailBuffer{max: outputTail}
	combined := io.MultiWriter(out, tail)
	cmd.Stdout = combined
	cmd.Stderr = combined

	r.Logger.Info("starting build",
		slog.String("binary", r.Command.Binary),
		slog.String("tasks", strings.Join(req.Tasks, " ")),
	)

	wallStart := time.Now()
	runErr := cmd.Run()
	wallElapsed := time.Since(wallStart)

	r.Logger.Info("build finished",
		slog.Duration("wall_time", wallElapsed),
		slog.Bool("failed", runErr != nil),
	)

	if runErr != nil {
		runErr = fmt.Errorf("build %s failed: %w\noutput: %s", r.Name, runErr, tail.String())

		if !req.ExpectedToFail {
			return nil, runErr
		}
	}

	rep, err := readReport(reportPath)
	if err != nil {
		return nil, fmt.Errorf("%s build report: %w", r.Name, err)
	}

	if rep == nil {
		r.Logger.Debug("build produced no report")
	}

	return buildResult(wallElapsed, rep), runErr
}

// RestartConnection stops the build tool's daemon, if it has one. The next
// build starts a fresh one.
func (r *Runner) RestartConnection(ctx context.Context) error {
	if len(r.Command.StopArgs) == 0 {
		return nil
	}

	r.Logger.Info("stopping build daemon")

	cmd := exec.CommandContext(ctx, r.Command.Binary, r.Command.StopArgs...)
	cmd.Dir = r.ProjectDir
	isolate(cmd)
	cmd.Env = append(os.Environ(), r.Command.Env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("stop %s daemon: %w\nstderr: %s", r.Name, err, stderr.String())
	}

	return nil
}

// Close stops the build daemon at the end of a run.
func (r *Runner) Close(ctx context.Context) error {
	return r.RestartConnection(ctx)
}

func (r *Runner) args(req bench.BuildRequest, reportPath string) []string {
	args := make([]string, 0, len(r.Command.ExtraArgs)+len(req.Arguments)+len(req.Tasks)+2)
	args = append(args, r.Command.ExtraArgs...)

	if r.Command.MetricsArgument != "" {
		args = append(args, strings.ReplaceAll(r.Command.MetricsArgument, "{path}", reportPath))
	}

	args = append(args, req.Arguments...)

	if r.Command.AltCompilerArgument != "" && usesAltCompiler(req) {
		args = append(args, r.Command.AltCompilerArgument)
	}

	return append(args, req.Tasks...)
}

func (r *Runner) env(req bench.BuildRequest, reportPath string) []string {
	env := slices.Clone(r.Command.Env)
	env = append(env, MetricsFileEnv+"="+reportPath)

	if req.JDK != "" {
		env = append(env, "JAVA_HOME="+req.JDK)
	}

	if r.HeapDumpPath != "" {
		env = append(env, "JAVA_TOOL_OPTIONS=-XX:HeapDumpPath="+r.HeapDumpPath+
			" -XX:+HeapDumpOnOutOfMemoryError")
	}

	return env
}

func usesAltCompiler(req bench.BuildRequest) bool {
	for _, t := range req.Tasks {
		if slices.Contains(req.AltCompilerTasks, t) {
			return true
		}
	}

	return false
}

// readReport returns nil without error when the tool wrote no report.
func readReport(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: %w", ErrMetricsDecode, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetricsDecode, err)
	}

	if info.Size() == 0 {
		return nil, nil
	}

	return parseReport(f)
}

func parseReport(r io.Reader) (*Report, error) {
	var rep Report
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetricsDecode, err)
	}

	return &rep, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
