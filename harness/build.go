package harness

import (
	"os"
	"path/filepath"
)

// CommandConfig holds the resolved binary, extra arguments, and environment
// variables needed to drive a build tool.
type CommandConfig struct {
	Binary    string
	ExtraArgs []string
	Env       []string

	// StopArgs stop the tool's daemon. Empty for tools without one.
	StopArgs []string

	// MetricsArgument is passed on every build with {path} replaced by the
	// build report path.
	MetricsArgument string

	// AltCompilerArgument is passed when a build runs a task compatible with
	// the alternate compiler mode.
	AltCompilerArgument string
}

// KnownTools returns the build tools with built-in defaults.
func KnownTools() []string {
	return []string{"gradle", "maven"}
}

// ResolveTool returns the command configuration for tool in projectDir. A
// wrapper script checked into the project is preferred over a tool on PATH.
// Unknown tools are run as given, with no daemon handling.
func ResolveTool(projectDir, tool string) CommandConfig {
	switch tool {
	case "gradle":
		return CommandConfig{
			Binary:              wrapperOr(projectDir, "gradlew", "gradle"),
			ExtraArgs:           []string{"--console=plain"},
			StopArgs:            []string{"--stop"},
			MetricsArgument:     "-Pkotlin.internal.single.build.metrics.file={path}",
			AltCompilerArgument: "-Pkotlin.experimental.tryK2=true",
		}
	case "maven":
		return CommandConfig{
			Binary:    wrapperOr(projectDir, "mvnw", "mvn"),
			ExtraArgs: []string{"--batch-mode"},
		}
	default:
		return CommandConfig{Binary: tool}
	}
}

func wrapperOr(projectDir, wrapper, fallback string) string {
	path := filepath.Join(projectDir, wrapper)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fallback
	}

	return path
}
