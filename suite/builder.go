package suite

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/weiihann/buildbench/metrics"
)

// Builder assembles a Suite. Calls may be chained; errors are collected and
// reported once by Build.
type Builder struct {
	defaultTasks     []string
	defaultJDK       string
	defaultArguments []string
	defaultTracked   []string
	changesDir       string
	files            []ChangeableFile
	scenarios        []*ScenarioBuilder
}

// NewBuilder returns an empty suite builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// DefaultTasks sets the tasks built by steps that do not name their own.
func (b *Builder) DefaultTasks(tasks ...string) *Builder {
	b.defaultTasks = slices.Clone(tasks)

	return b
}

// DefaultJDK sets the toolchain used by scenarios without their own.
func (b *Builder) DefaultJDK(path string) *Builder {
	b.defaultJDK = path

	return b
}

// DefaultArguments sets the build tool arguments used by scenarios without
// their own. Like the other defaults, a later call replaces an earlier one.
func (b *Builder) DefaultArguments(args ...string) *Builder {
	b.defaultArguments = slices.Clone(args)

	return b
}

// DefaultTrackedMetrics sets the metrics reported by scenarios without their
// own tracked set.
func (b *Builder) DefaultTrackedMetrics(names ...string) *Builder {
	b.defaultTracked = withRequiredMetrics(names)

	return b
}

// ChangesDir sets the directory holding change variants. A variant for
// file f and change t is read from <dir>/<f>/<t.FileName(target)> unless the
// change names its own source.
func (b *Builder) ChangesDir(dir string) *Builder {
	b.changesDir = dir

	return b
}

// ChangeableFile declares a project file that steps may rewrite.
func (b *Builder) ChangeableFile(name, target string) *Builder {
	b.files = append(b.files, ChangeableFile{Name: name, Target: target})

	return b
}

// Scenario declares a scenario configured by fn.
func (b *Builder) Scenario(name string, fn func(*ScenarioBuilder)) *Builder {
	sb := &ScenarioBuilder{name: name, repeat: 1}
	if fn != nil {
		fn(sb)
	}

	b.scenarios = append(b.scenarios, sb)

	return b
}

// Build resolves defaults and change sources and returns the finished
// suite.
func (b *Builder) Build() (*Suite, error) {
	var errs []error

	files := make(map[string]ChangeableFile, len(b.files))
	for _, f := range b.files {
		if _, dup := files[f.Name]; dup {
			errs = append(errs, fmt.Errorf("changeable file %q declared twice", f.Name))

			continue
		}

		files[f.Name] = f
	}

	s := &Suite{
		DefaultTasks:     slices.Clone(b.defaultTasks),
		DefaultJDK:       b.defaultJDK,
		DefaultArguments: slices.Clone(b.defaultArguments),
		ChangeableFiles:  slices.Clone(b.files),
		ChangesDir:       b.changesDir,
	}

	seen := make(map[string]bool, len(b.scenarios))

	for _, sb := range b.scenarios {
		switch {
		case sb.name == "":
			errs = append(errs, errors.New("scenario without a name"))

			continue
		case seen[sb.name]:
			errs = append(errs, fmt.Errorf("scenario %q declared twice", sb.name))

			continue
		}

		seen[sb.name] = true

		sc, err := sb.build(b, files)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %q: %w", sb.name, err))

			continue
		}

		s.Scenarios = append(s.Scenarios, sc)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSuite, errors.Join(errs...))
	}

	return s, nil
}

func (b *Builder) source(c pendingChange, f ChangeableFile) string {
	if c.source != "" {
		return c.source
	}

	return filepath.Join(b.changesDir, f.Name, c.kind.FileName(f.Target))
}

// ScenarioBuilder configures one scenario.
type ScenarioBuilder struct {
	name      string
	repeat    int
	jdk       string
	arguments []string
	tracked   []string
	cleanup   []string
	slow      string
	alt       []string
	steps     []stepDecl
}

// Repeat sets how many iterations the scenario runs. It defaults to 1.
func (s *ScenarioBuilder) Repeat(n int) *ScenarioBuilder {
	s.repeat = n

	return s
}

// JDK overrides the suite's default toolchain.
func (s *ScenarioBuilder) JDK(path string) *ScenarioBuilder {
	s.jdk = path

	return s
}

// Arguments appends build tool arguments, replacing the suite defaults.
func (s *ScenarioBuilder) Arguments(args ...string) *ScenarioBuilder {
	if s.arguments == nil {
		s.arguments = []string{}
	}

	s.arguments = append(s.arguments, args...)

	return s
}

// TrackedMetrics limits reporting to names. The whole-build time and its
// configuration phase are always added.
func (s *ScenarioBuilder) TrackedMetrics(names ...string) *ScenarioBuilder {
	s.tracked = withRequiredMetrics(names)

	return s
}

// CleanupTasks appends explicit cleanup tasks. Calling it with no tasks
// disables the cleanup build after this scenario.
func (s *ScenarioBuilder) CleanupTasks(tasks ...string) *ScenarioBuilder {
	if s.cleanup == nil {
		s.cleanup = []string{}
	}

	s.cleanup = append(s.cleanup, tasks...)

	return s
}

// ExpectSlowBuild records why the scenario is known to be slow.
func (s *ScenarioBuilder) ExpectSlowBuild(reason string) *ScenarioBuilder {
	s.slow = reason

	return s
}

// AltCompilerTasks sets the tasks compatible with the alternate compiler
// mode.
func (s *ScenarioBuilder) AltCompilerTasks(tasks ...string) *ScenarioBuilder {
	s.alt = slices.Clone(tasks)

	return s
}

// Step adds a step that applies file changes and builds.
func (s *ScenarioBuilder) Step(fn func(*ChangeStepBuilder)) *ScenarioBuilder {
	sb := &ChangeStepBuilder{StepBuilder: newStepBuilder()}
	if fn != nil {
		fn(sb)
	}

	s.steps = append(s.steps, stepDecl{kind: stepSimple, step: sb.StepBuilder, changes: sb.changes})

	return s
}

// RevertLastStep adds a step that undoes the last applied step and builds.
func (s *ScenarioBuilder) RevertLastStep(fn func(*StepBuilder)) *ScenarioBuilder {
	sb := newStepBuilder()
	if fn != nil {
		fn(sb)
	}

	s.steps = append(s.steps, stepDecl{kind: stepRevert, step: sb})

	return s
}

// StopDaemon adds a step that restarts the build executor's connection.
func (s *ScenarioBuilder) StopDaemon() *ScenarioBuilder {
	s.steps = append(s.steps, stepDecl{kind: stepStopDaemon})

	return s
}

func (s *ScenarioBuilder) build(b *Builder, files map[string]ChangeableFile) (*Scenario, error) {
	if s.repeat < 1 {
		return nil, fmt.Errorf("repeat must be at least 1, got %d", s.repeat)
	}

	sc := &Scenario{
		Name:                    s.name,
		Repeat:                  s.repeat,
		JDK:                     s.jdk,
		Arguments:               slices.Clone(s.arguments),
		TrackedMetrics:          slices.Clone(s.tracked),
		CleanupTasks:            slices.Clone(s.cleanup),
		ExpectedSlowBuildReason: s.slow,
		AltCompilerTasks:        slices.Clone(s.alt),
	}

	if sc.JDK == "" {
		sc.JDK = b.defaultJDK
	}

	if s.arguments == nil {
		sc.Arguments = slices.Clone(b.defaultArguments)
	}

	if s.tracked == nil {
		sc.TrackedMetrics = slices.Clone(b.defaultTracked)
	}

	for i, d := range s.steps {
		step, err := d.build(b, files)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}

		sc.Steps = append(sc.Steps, step)
	}

	return sc, nil
}

// StepBuilder configures the build half of a step.
type StepBuilder struct {
	tasks          []string
	measured       bool
	expectedToFail bool
}

func newStepBuilder() *StepBuilder {
	return &StepBuilder{measured: true}
}

// RunTasks overrides the suite's default tasks for this step.
func (s *StepBuilder) RunTasks(tasks ...string) *StepBuilder {
	s.tasks = slices.Clone(tasks)
	if s.tasks == nil {
		s.tasks = []string{}
	}

	return s
}

// DoNotMeasure excludes the step from reported results.
func (s *StepBuilder) DoNotMeasure() *StepBuilder {
	s.measured = false

	return s
}

// ExpectBuildToFail marks the build as expected to fail; its failure is
// not reported.
func (s *StepBuilder) ExpectBuildToFail() *StepBuilder {
	s.expectedToFail = true

	return s
}

// ChangeStepBuilder configures a step that applies file changes.
type ChangeStepBuilder struct {
	*StepBuilder

	changes []pendingChange
}

// RunTasks is StepBuilder.RunTasks, chaining on the change step.
func (s *ChangeStepBuilder) RunTasks(tasks ...string) *ChangeStepBuilder {
	s.StepBuilder.RunTasks(tasks...)

	return s
}

// DoNotMeasure is StepBuilder.DoNotMeasure, chaining on the change step.
func (s *ChangeStepBuilder) DoNotMeasure() *ChangeStepBuilder {
	s.StepBuilder.DoNotMeasure()

	return s
}

// ExpectBuildToFail is StepBuilder.ExpectBuildToFail, chaining on the change
// step.
func (s *ChangeStepBuilder) ExpectBuildToFail() *ChangeStepBuilder {
	s.StepBuilder.ExpectBuildToFail()

	return s
}

// ChangeFile rewrites the named changeable file with the variant for kind.
func (s *ChangeStepBuilder) ChangeFile(file string, kind TypeOfChange) *ChangeStepBuilder {
	s.changes = append(s.changes, pendingChange{file: file, kind: kind})

	return s
}

// ChangeFileFrom rewrites the named changeable file with the content of
// source.
func (s *ChangeStepBuilder) ChangeFileFrom(file string, kind TypeOfChange, source string) *ChangeStepBuilder {
	s.changes = append(s.changes, pendingChange{file: file, kind: kind, source: source})

	return s
}

type stepKind int

const (
	stepSimple stepKind = iota
	stepRevert
	stepStopDaemon
)

type pendingChange struct {
	file   string
	kind   TypeOfChange
	source string
}

type stepDecl struct {
	kind    stepKind
	step    *StepBuilder
	changes []pendingChange
}

func (d stepDecl) build(b *Builder, files map[string]ChangeableFile) (Step, error) {
	switch d.kind {
	case stepStopDaemon:
		return &StopDaemon{}, nil
	case stepRevert:
		return &RevertLastStep{
			Tasks:          slices.Clone(d.step.tasks),
			Measured:       d.step.measured,
			ExpectedToFail: d.step.expectedToFail,
		}, nil
	}

	step := &SimpleStep{
		Tasks:          slices.Clone(d.step.tasks),
		Measured:       d.step.measured,
		ExpectedToFail: d.step.expectedToFail,
	}

	for _, c := range d.changes {
		f, ok := files[c.file]
		if !ok {
			return nil, fmt.Errorf("unknown changeable file %q", c.file)
		}

		step.Changes = append(step.Changes, FileChange{
			File:   f,
			Type:   c.kind,
			Source: b.source(c, f),
		})
	}

	return step, nil
}

func withRequiredMetrics(names []string) []string {
	out := make([]string, 0, len(names)+2)

	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}

	for _, n := range []string{metrics.TrackedBuild, metrics.TrackedConfiguration} {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}

	return out
}
