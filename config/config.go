// Package config loads the runner configuration: where the project and
// suite live, which build tool runs them and where results go.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Reporter names accepted in Config.Reporters.
const (
	ReporterConsole      = "console"
	ReporterTeamCity     = "teamcity"
	ReporterTeamCityFile = "teamcity-file"
)

// DefaultResultsDir is where run artifacts are written unless configured.
const DefaultResultsDir = "build/benchmark-results"

// Config is the runner configuration.
type Config struct {
	// ProjectDir is the project being benchmarked.
	ProjectDir string `yaml:"project_dir" validate:"required"`

	// Suite is an HCL suite file or a directory of them.
	Suite string `yaml:"suite" validate:"required"`

	Tool         string        `yaml:"tool" validate:"required"`
	BuildTimeout time.Duration `yaml:"build_timeout" validate:"gte=0"`
	HeapDumpPath string        `yaml:"heap_dump_path"`
	ResultsDir   string        `yaml:"results_dir" validate:"required"`

	// Reporters defaults to the console, or to TeamCity when running on a
	// TeamCity agent.
	Reporters []string `yaml:"reporters" validate:"dive,oneof=console teamcity teamcity-file"`

	Log        LogConfig        `yaml:"log"`
	History    HistoryConfig    `yaml:"history"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Trace      TraceConfig      `yaml:"trace"`
	Influx     *InfluxConfig    `yaml:"influx"`
	Upload     *UploadConfig    `yaml:"upload"`
}

// LogConfig sets the level and format of the run's log output.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// HistoryConfig locates the run history database.
type HistoryConfig struct {
	// Path of the history database. Empty disables history.
	Path string `yaml:"path"`
}

// PrometheusConfig controls the Prometheus textfile export.
type PrometheusConfig struct {
	// Textfile receives the run's metrics in text exposition format.
	Textfile string `yaml:"textfile"`
}

// TraceConfig controls the span export of a run.
type TraceConfig struct {
	// File receives the run's spans as JSON.
	File string `yaml:"file"`
}

// InfluxConfig addresses the InfluxDB bucket results are written to.
type InfluxConfig struct {
	URL    string `yaml:"url" validate:"required,url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org" validate:"required"`
	Bucket string `yaml:"bucket" validate:"required"`
}

// UploadConfig names the Cloud Storage bucket result files are uploaded to.
type UploadConfig struct {
	Bucket          string `yaml:"bucket" validate:"required"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Tool:       "gradle",
		ResultsDir: DefaultResultsDir,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg from the environment as seen through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("HEAP_DUMP_PATH"); v != "" {
		c.HeapDumpPath = v
	}

	if len(c.Reporters) == 0 {
		c.Reporters = []string{defaultReporter(getenv)}
	}

	url, token := getenv("INFLUXDB_URL"), getenv("INFLUXDB_TOKEN")
	org, bucket := getenv("INFLUXDB_ORG"), getenv("INFLUXDB_BUCKET")

	if url == "" && token == "" && org == "" && bucket == "" {
		return
	}

	if c.Influx == nil {
		c.Influx = &InfluxConfig{}
	}

	setIf(&c.Influx.URL, url)
	setIf(&c.Influx.Token, token)
	setIf(&c.Influx.Org, org)
	setIf(&c.Influx.Bucket, bucket)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// IsTeamCity reports whether the environment is a TeamCity agent.
func IsTeamCity(getenv func(string) string) bool {
	return getenv("TEAMCITY_VERSION") != ""
}

func defaultReporter(getenv func(string) string) string {
	if !IsTeamCity(getenv) {
		return ReporterConsole
	}

	if fileBased, _ := strconv.ParseBool(getenv("USE_FILE_BASED_TC_REPORTING")); fileBased {
		return ReporterTeamCityFile
	}

	return ReporterTeamCity
}

// Validate checks cfg against its field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", err)
		}

		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
		}

		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	return nil
}

// Has reports whether reporter is enabled.
func (c *Config) Has(reporter string) bool {
	return slices.Contains(c.Reporters, reporter)
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}

	return ns
}
