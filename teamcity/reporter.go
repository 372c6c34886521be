package teamcity

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/report"
	"github.com/weiihann/buildbench/suite"
)

// progress reports the events common to every TeamCity reporter.
type progress struct {
	bench.NopListener

	tc *Messenger
}

func (p *progress) ScenarioStarted(sc *suite.Scenario, _ int) {
	p.tc.TestStarted(sc.Name)
}

func (p *progress) TaskExecutionStarted(tasks []string) {
	quoted := make([]string, len(tasks))
	for i, t := range tasks {
		quoted[i] = "'" + t + "'"
	}

	p.tc.Message("Executing tasks: "+strings.Join(quoted, ", "), StatusNormal)
}

func (p *progress) StepFinished(_ *suite.Scenario, _ int, _ *bench.StepResult, err error) {
	if err != nil {
		p.tc.Message("Step finished with error: "+err.Error(), StatusFailure)

		return
	}

	p.tc.Message("Step finished", StatusNormal)
}

func (p *progress) CleanupStarted() {
	p.tc.Message("Cleanup after last scenario is started", StatusNormal)
}

func (p *progress) CleanupFinished() {
	p.tc.Message("Cleanup after last scenario is finished", StatusNormal)
}

// finish closes the test of a scenario iteration, failing it first when the
// iteration failed.
func (p *progress) finish(sc *suite.Scenario, err error) {
	if err != nil {
		p.tc.TestFailed(sc.Name, err.Error())
	}

	p.tc.TestFinished(sc.Name)
}

// ParametersReporter publishes every measured metric as a build statistic
// and tracked metrics as env.br.* build parameters.
type ParametersReporter struct {
	progress
}

// NewParametersReporter returns a reporter writing service messages to w.
func NewParametersReporter(w io.Writer) *ParametersReporter {
	return &ParametersReporter{progress{tc: NewMessenger(w)}}
}

func (r *ParametersReporter) ScenarioFinished(
	sc *suite.Scenario,
	iteration int,
	result *bench.ScenarioResult,
	err error,
) {
	defer r.finish(sc, err)

	if err != nil || result == nil {
		return
	}

	r.tc.SetParameter("env.br."+KeyFor(sc.Name)+".display_name", sc.Name)

	for _, sr := range result.Measured() {
		for _, m := range report.Metrics(sr.Build) {
			key := KeyFor(fmt.Sprintf("%s.iter-%d.step-%d.%s", sc.Name, iteration, sr.Index+1, m.Name))
			value := strconv.FormatInt(m.Value, 10)

			if sc.Tracks(m.Name) {
				r.tc.SetParameter("env.br."+key, value)
			}

			r.tc.Statistic(key, value)
		}
	}
}

// FileReporter writes one JSON record per successful scenario iteration
// into a JSON array file. Progress still goes to the service message
// stream.
type FileReporter struct {
	progress

	path   string
	runID  string
	logger *slog.Logger

	f     *os.File
	buf   *bufio.Writer
	first bool
	err   error
}

// NewFileReporter returns a reporter writing records to path and progress
// messages to w. The file is created when the suite starts.
func NewFileReporter(path, runID string, w io.Writer, logger *slog.Logger) *FileReporter {
	return &FileReporter{
		progress: progress{tc: NewMessenger(w)},
		path:     path,
		runID:    runID,
		logger:   logger.With(slog.String("file", path)),
		first:    true,
	}
}

func (r *FileReporter) SuiteStarted(*suite.Suite) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		r.fail(fmt.Errorf("create results directory: %w", err))

		return
	}

	f, err := os.Create(r.path)
	if err != nil {
		r.fail(fmt.Errorf("create results file: %w", err))

		return
	}

	r.f = f
	r.buf = bufio.NewWriter(f)
	r.write([]byte("[\n"))
}

func (r *FileReporter) ScenarioFinished(
	sc *suite.Scenario,
	_ int,
	result *bench.ScenarioResult,
	err error,
) {
	defer r.finish(sc, err)

	if err != nil || result == nil || r.buf == nil {
		return
	}

	data, mErr := json.Marshal(report.NewRecord(r.runID, sc, result))
	if mErr != nil {
		r.fail(fmt.Errorf("encode record: %w", mErr))

		return
	}

	if !r.first {
		r.write([]byte(",\n"))
	}

	r.first = false
	r.write(data)
}

func (r *FileReporter) AllFinished() {
	_ = r.Close()
}

// Close terminates the JSON array and closes the results file. It is safe
// to call more than once and returns the first error seen while writing.
func (r *FileReporter) Close() error {
	if r.f == nil {
		return r.err
	}

	r.write([]byte("\n]\n"))

	if r.buf != nil {
		if err := r.buf.Flush(); err != nil {
			r.fail(fmt.Errorf("flush results file: %w", err))
		}
	}

	if err := r.f.Close(); err != nil {
		r.fail(fmt.Errorf("close results file: %w", err))
	}

	r.f, r.buf = nil, nil

	return r.err
}

func (r *FileReporter) write(p []byte) {
	if r.buf == nil {
		return
	}

	if _, err := r.buf.Write(p); err != nil {
		r.fail(fmt.Errorf("write results file: %w", err))
	}
}

// fail records err and stops further writes. The file handle stays open
// until Close.
func (r *FileReporter) fail(err error) {
	r.logger.Warn("results file not written", slog.String("error", err.Error()))

	if r.err == nil {
		r.err = err
	}

	r.buf = nil
}
