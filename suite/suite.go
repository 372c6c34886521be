// Package suite describes benchmark suites: scenarios, the steps they run
// and the file changes those steps apply to the project under test.
package suite

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidSuite is returned when a suite cannot be built or fails
// validation.
var ErrInvalidSuite = errors.New("invalid suite")

// Suite is an ordered set of scenarios plus the defaults they inherit. A
// built Suite is never modified.
type Suite struct {
	Scenarios        []*Scenario
	DefaultTasks     []string
	DefaultJDK       string
	DefaultArguments []string
	ChangeableFiles  []ChangeableFile
	ChangesDir       string
}

// Scenario returns the scenario with the given name.
func (s *Suite) Scenario(name string) (*Scenario, bool) {
	for _, sc := range s.Scenarios {
		if sc.Name == name {
			return sc, true
		}
	}

	return nil, false
}

// Scenario is one named, repeatable benchmark case. JDK, Arguments and
// TrackedMetrics already carry the suite defaults when the scenario did not
// override them.
type Scenario struct {
	Name   string
	Steps  []Step
	Repeat int

	JDK       string
	Arguments []string

	// TrackedMetrics is nil when every metric is reported.
	TrackedMetrics []string

	// CleanupTasks is nil when cleanup tasks are derived from the steps of
	// the next scenario. A non-nil empty slice runs no cleanup build.
	CleanupTasks []string

	ExpectedSlowBuildReason string
	AltCompilerTasks        []string
}

// Tracks reports whether metric is reported for this scenario.
func (s *Scenario) Tracks(metric string) bool {
	return s.TrackedMetrics == nil || slices.Contains(s.TrackedMetrics, metric)
}

// UsesAltCompiler reports whether any of tasks may run in alternate compiler
// mode.
func (s *Scenario) UsesAltCompiler(tasks []string) bool {
	for _, t := range tasks {
		if slices.Contains(s.AltCompilerTasks, t) {
			return true
		}
	}

	return false
}

// ChangeableFile is a project file that scenarios may rewrite. Target is
// relative to the project root.
type ChangeableFile struct {
	Name   string
	Target string
}

// TypeOfChange names a concrete edit in CONSTANT_CASE, for example
// ADD_PRIVATE_FUNCTION.
type TypeOfChange string

// FileName returns the variant file name for a change to target: the
// camelCase form of the change plus the target's extension.
func (t TypeOfChange) FileName(target string) string {
	return ConstantCaseToCamelCase(string(t)) + filepath.Ext(target)
}

// FileChange replaces the content of File with the bytes found at Source.
type FileChange struct {
	File   ChangeableFile
	Type   TypeOfChange
	Source string
}

// ConstantCaseToCamelCase converts ADD_PRIVATE_FUNCTION to
// addPrivateFunction.
func ConstantCaseToCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")

	var b strings.Builder

	for i, p := range parts {
		if i == 0 || p == "" {
			b.WriteString(p)

			continue
		}

		r, size := utf8.DecodeRuneInString(p)
		b.WriteRune(unicode.ToTitle(r))
		b.WriteString(p[size:])
	}

	return b.String()
}
