package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/changes"
	"github.com/weiihann/buildbench/compact"
	"github.com/weiihann/buildbench/config"
	"github.com/weiihann/buildbench/harness"
	"github.com/weiihann/buildbench/history"
	"github.com/weiihann/buildbench/influx"
	"github.com/weiihann/buildbench/report"
	"github.com/weiihann/buildbench/suite"
	"github.com/weiihann/buildbench/suitefile"
	"github.com/weiihann/buildbench/teamcity"
	"github.com/weiihann/buildbench/telemetry"
	"github.com/weiihann/buildbench/upload"
)

// timestampLayout prefixes every artifact of a run.
const timestampLayout = "2006-01-02-15-04-05"

var getenv = os.Getenv

type configFlags struct {
	path       string
	project    string
	suite      string
	tool       string
	resultsDir string
	reporters  []string
	history    string
	timeout    time.Duration
	logLevel   string
	logFormat  string
}

func (f *configFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.path, "config", "c", "",
		"Path to a YAML runner configuration")
	flags.StringVar(&f.project, "project", "",
		"Directory of the project to benchmark")
	flags.StringVar(&f.suite, "suite", "",
		"Suite file or directory of .hcl suite files")
	flags.StringVar(&f.tool, "tool", "",
		fmt.Sprintf("Build tool: %s, or a binary to run", strings.Join(harness.KnownTools(), ", ")))
	flags.StringVar(&f.resultsDir, "results-dir", "",
		"Directory receiving run artifacts (default "+config.DefaultResultsDir+")")
	flags.StringSliceVar(&f.reporters, "reporter", nil,
		"Progress reporters: console, teamcity, teamcity-file")
	flags.StringVar(&f.history, "history", "",
		"History database directory (empty disables history)")
	flags.DurationVar(&f.timeout, "timeout", 0,
		"Timeout for a single build (0 = none)")
	flags.StringVar(&f.logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	flags.StringVar(&f.logFormat, "log-format", "",
		"Log format: text or json")
}

// load reads the configuration file, then applies changed flags and the
// environment.
func (f *configFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.path)
	if err != nil {
		return cfg, usageError("%v", err)
	}

	changed := cmd.Flags().Changed

	overrides := []struct {
		flag string
		dst  *string
		v    string
	}{
		{"project", &cfg.ProjectDir, f.project},
		{"suite", &cfg.Suite, f.suite},
		{"tool", &cfg.Tool, f.tool},
		{"results-dir", &cfg.ResultsDir, f.resultsDir},
		{"history", &cfg.History.Path, f.history},
		{"log-level", &cfg.Log.Level, f.logLevel},
		{"log-format", &cfg.Log.Format, f.logFormat},
	}

	for _, o := range overrides {
		if changed(o.flag) {
			*o.dst = o.v
		}
	}

	if changed("reporter") {
		cfg.Reporters = f.reporters
	}

	if changed("timeout") {
		cfg.BuildTimeout = f.timeout
	}

	cfg.ApplyEnv(getenv)

	if err := cfg.Validate(); err != nil {
		return cfg, usageError("%v", err)
	}

	return cfg, nil
}

func newRunCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark suite against a project",
		Long: `Load the suite, check it against the project and run every scenario
iteration. Results are reported to the configured reporters and written to
a timestamped directory below the results directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())

			return runSuite(cmd.Context(), cfg, cmd.OutOrStdout(), logger)
		},
	}

	flags.register(cmd)

	return cmd
}

// run holds the artifacts of one invocation.
type run struct {
	id     string
	start  time.Time
	prefix string
	dir    string
}

func newRun(resultsDir string, now time.Time) run {
	prefix := now.Format(timestampLayout)

	return run{
		id:     uuid.NewString(),
		start:  now,
		prefix: prefix,
		dir:    filepath.Join(resultsDir, prefix),
	}
}

func (r run) path(suffix string) string {
	return filepath.Join(r.dir, r.prefix+suffix)
}

// buildLogs returns a provider opening one log file per build below the
// run directory.
func (r run) buildLogs() bench.LogSinkProvider {
	return func(scenario, step string, iteration int) (io.WriteCloser, error) {
		name := fmt.Sprintf("%s-build-%s-#%d-%s.log", r.prefix, fileSafe(scenario), iteration, step)

		return os.Create(filepath.Join(r.dir, name))
	}
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}

		return r
	}, s)
}

func loadSuite(cfg config.Config) (*suite.Suite, error) {
	s, err := suitefile.Load(cfg.Suite)
	if err != nil {
		return nil, err
	}

	if err := suite.Validate(cfg.ProjectDir, s); err != nil {
		return nil, err
	}

	return s, nil
}

func runSuite(ctx context.Context, cfg config.Config, stdout io.Writer, logger *slog.Logger) error {
	s, err := loadSuite(cfg)
	if err != nil {
		return err
	}

	r := newRun(cfg.ResultsDir, time.Now())
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}

	logger = logger.With(slog.String("run", r.id))

	logger.InfoContext(ctx, "starting benchmark",
		slog.String("project", cfg.ProjectDir),
		slog.String("suite", cfg.Suite),
		slog.String("tool", cfg.Tool),
		slog.Int("scenarios", len(s.Scenarios)),
		slog.String("results", r.dir),
	)

	runner := harness.NewRunner(cfg.Tool, cfg.ProjectDir, harness.ResolveTool(cfg.ProjectDir, cfg.Tool), logger)
	runner.HeapDumpPath = cfg.HeapDumpPath
	runner.Timeout = cfg.BuildTimeout

	defer func() {
		if err := runner.Close(context.WithoutCancel(ctx)); err != nil {
			logger.WarnContext(ctx, "stop build tool", slog.String("error", err.Error()))
		}
	}()

	eval := bench.NewEvaluator(changes.NewApplier(cfg.ProjectDir, logger), runner, logger)
	eval.SetLogSinkProvider(r.buildLogs())

	var (
		console *report.Console
		closers []func() error
	)

	if cfg.Has(config.ReporterConsole) {
		console = report.NewConsole(stdout, logger)
		eval.AddListener(console)
	}

	if cfg.Has(config.ReporterTeamCity) {
		eval.AddListener(teamcity.NewParametersReporter(stdout))
	}

	if cfg.Has(config.ReporterTeamCityFile) {
		fr := teamcity.NewFileReporter(r.path(".result.json"), r.id, stdout, logger)
		eval.AddListener(fr)
		closers = append(closers, fr.Close)
	}

	cw := compact.NewWriter(r.path(".result.bin"), r.id, logger)
	eval.AddListener(cw)
	closers = append(closers, cw.Close)

	if cfg.History.Path != "" {
		store, err := history.Open(history.Options{Path: cfg.History.Path, Logger: logger})
		if err != nil {
			return err
		}

		defer store.Close()

		eval.AddListener(history.NewListener(store, history.Run{ID: r.id, Suite: cfg.Suite, StartedAt: r.start}, logger))
	}

	var prom *telemetry.PromListener

	if cfg.Prometheus.Textfile != "" {
		prom, err = telemetry.NewPromListener(prometheus.NewRegistry())
		if err != nil {
			return err
		}

		eval.AddListener(prom)
	}

	if cfg.Trace.File != "" {
		shutdown, err := addTracing(ctx, eval, cfg.Trace.File, r.id)
		if err != nil {
			return err
		}

		defer shutdown()
	}

	if cfg.Influx != nil {
		w, closeInflux := influx.Dial(influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		defer closeInflux()

		eval.AddListener(influx.NewListener(ctx, w, r.id, logger))
	}

	runErr := eval.Run(ctx, s)

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WarnContext(ctx, "results file incomplete", slog.String("error", err.Error()))
		}
	}

	logger.InfoContext(ctx, "benchmark finished",
		slog.Int("records", cw.Written()),
		slog.Duration("elapsed", time.Since(r.start)),
	)

	if prom != nil {
		if err := prom.WriteTextfile(cfg.Prometheus.Textfile); err != nil {
			logger.WarnContext(ctx, "prometheus textfile not written", slog.String("error", err.Error()))
		}
	}

	if console != nil {
		fmt.Fprintln(stdout)

		if err := report.Summary(stdout, console.Aggregate()); err != nil && !errors.Is(err, report.ErrNoResults) {
			logger.WarnContext(ctx, "summary", slog.String("error", err.Error()))
		}
	}

	if cfg.Upload != nil {
		uploadResults(context.WithoutCancel(ctx), cfg.Upload, r, logger)
	}

	return runErr
}

func addTracing(ctx context.Context, eval *bench.Evaluator, path, runID string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}

	tp, err := telemetry.NewTracerProvider(f, runID)
	if err != nil {
		f.Close()

		return nil, err
	}

	tl := telemetry.NewTraceListener(ctx, tp)
	eval.AddListener(tl)

	return func() {
		tl.Close()
		_ = tp.Shutdown(context.WithoutCancel(ctx))
		f.Close()
	}, nil
}

func uploadResults(ctx context.Context, cfg *config.UploadConfig, r run, logger *slog.Logger) {
	u, closeClient, err := upload.NewGCS(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsFile, logger)
	if err != nil {
		logger.WarnContext(ctx, "results not uploaded", slog.String("error", err.Error()))

		return
	}

	defer closeClient()

	n, err := u.Dir(ctx, r.dir, r.id)
	if err != nil {
		logger.WarnContext(ctx, "results upload incomplete",
			slog.Int("uploaded", n),
			slog.String("error", err.Error()),
		)

		return
	}

	logger.InfoContext(ctx, "results uploaded",
		slog.String("bucket", cfg.Bucket),
		slog.Int("files", n),
	)
}
