// Package suitefile loads benchmark suites declared in HCL.
//
// A suite file looks like:
//
//	default_tasks = [":dist"]
//	changes_dir   = "changes"
//
//	changeable_file "core-util" {
//	  target = "core/src/Util.kt"
//	}
//
//	scenario "add private function" {
//	  repeat = 3
//
//	  step {
//	    change "core-util" {
//	      type = "ADD_PRIVATE_FUNCTION"
//	    }
//	  }
//	  revert_last_step {}
//	  stop_daemon {}
//	}
//
// Steps run in the order they are written. Relative paths are resolved
// against the directory of the file declaring them. Expressions may refer to
// suite_dir, the directory of the current file, and to environment variables
// as env.NAME.
package suitefile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/weiihann/buildbench/suite"
)

// Extension is the file extension of suite files.
const Extension = ".hcl"

type fileBody struct {
	DefaultTasks     []string `hcl:"default_tasks,optional"`
	DefaultJDK       string   `hcl:"default_jdk,optional"`
	DefaultArguments []string `hcl:"default_arguments,optional"`
	TrackedMetrics   []string `hcl:"tracked_metrics,optional"`
	ChangesDir       string   `hcl:"changes_dir,optional"`

	Files     []*changeableFileBlock `hcl:"changeable_file,block"`
	Scenarios []*scenarioBlock       `hcl:"scenario,block"`
}

type changeableFileBlock struct {
	Name   string `hcl:"name,label"`
	Target string `hcl:"target"`
}

type scenarioBlock struct {
	Name             string    `hcl:"name,label"`
	Repeat           *int      `hcl:"repeat,optional"`
	JDK              string    `hcl:"jdk,optional"`
	Arguments        []string  `hcl:"arguments,optional"`
	TrackedMetrics   []string  `hcl:"tracked_metrics,optional"`
	CleanupTasks     *[]string `hcl:"cleanup_tasks,optional"`
	ExpectSlowBuild  string    `hcl:"expect_slow_build,optional"`
	AltCompilerTasks []string  `hcl:"alt_compiler_tasks,optional"`

	Body hcl.Body `hcl:",remain"`
}

type stepBlock struct {
	Tasks         *[]string      `hcl:"tasks,optional"`
	Measured      *bool          `hcl:"measured,optional"`
	ExpectFailure bool           `hcl:"expect_failure,optional"`
	Changes       []*changeBlock `hcl:"change,block"`
}

type revertBlock struct {
	Tasks         *[]string `hcl:"tasks,optional"`
	Measured      *bool     `hcl:"measured,optional"`
	ExpectFailure bool      `hcl:"expect_failure,optional"`
}

type stopDaemonBlock struct{}

type changeBlock struct {
	File   string `hcl:"file,label"`
	Type   string `hcl:"type"`
	Source string `hcl:"source,optional"`
}

var stepsSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "step"},
		{Type: "revert_last_step"},
		{Type: "stop_daemon"},
	},
}

// parsed is one decoded file together with the directory its relative
// paths are resolved against.
type parsed struct {
	dir  string
	body fileBody
}

// Load reads the suite at path, which is a suite file or a directory whose
// suite files are merged in lexical order.
func Load(path string) (*suite.Suite, error) {
	files, err := findFiles(path)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no %s suite files in %s", Extension, path)
	}

	parser := hclparse.NewParser()

	var (
		decoded []parsed
		diags   hcl.Diagnostics
	)

	for _, file := range files {
		f, parseDiags := parser.ParseHCLFile(file)
		diags = append(diags, parseDiags...)

		if parseDiags.HasErrors() {
			continue
		}

		var body fileBody

		diags = append(diags, gohcl.DecodeBody(f.Body, evalContext(filepath.Dir(file)), &body)...)
		decoded = append(decoded, parsed{dir: filepath.Dir(file), body: body})
	}

	if diags.HasErrors() {
		return nil, fmt.Errorf("load suite %s: %w", path, diags)
	}

	b, buildDiags := builderFor(decoded)
	if buildDiags.HasErrors() {
		return nil, fmt.Errorf("load suite %s: %w", path, buildDiags)
	}

	s, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("load suite %s: %w", path, err)
	}

	return s, nil
}

func builderFor(files []parsed) (*suite.Builder, hcl.Diagnostics) {
	b := suite.NewBuilder()

	var diags hcl.Diagnostics

	known := make(map[string]bool)

	for _, f := range files {
		body := f.body

		if body.DefaultTasks != nil {
			b.DefaultTasks(body.DefaultTasks...)
		}

		if body.DefaultJDK != "" {
			b.DefaultJDK(body.DefaultJDK)
		}

		if body.DefaultArguments != nil {
			b.DefaultArguments(body.DefaultArguments...)
		}

		if body.TrackedMetrics != nil {
			b.DefaultTrackedMetrics(body.TrackedMetrics...)
		}

		if body.ChangesDir != "" {
			b.ChangesDir(resolve(f.dir, body.ChangesDir))
		}

		for _, cf := range body.Files {
			b.ChangeableFile(cf.Name, cf.Target)
			known[cf.Name] = true
		}
	}

	for _, f := range files {
		for _, sc := range f.body.Scenarios {
			steps, stepDiags := decodeSteps(sc.Body, evalContext(f.dir), f.dir, known)
			diags = append(diags, stepDiags...)

			if stepDiags.HasErrors() {
				continue
			}

			b.Scenario(sc.Name, func(s *suite.ScenarioBuilder) {
				configureScenario(s, sc)

				for _, add := range steps {
					add(s)
				}
			})
		}
	}

	return b, diags
}

func configureScenario(s *suite.ScenarioBuilder, sc *scenarioBlock) {
	if sc.Repeat != nil {
		s.Repeat(*sc.Repeat)
	}

	if sc.JDK != "" {
		s.JDK(sc.JDK)
	}

	if sc.Arguments != nil {
		s.Arguments(sc.Arguments...)
	}

	if sc.TrackedMetrics != nil {
		s.TrackedMetrics(sc.TrackedMetrics...)
	}

	if sc.CleanupTasks != nil {
		s.CleanupTasks(*sc.CleanupTasks...)
	}

	if sc.ExpectSlowBuild != "" {
		s.ExpectSlowBuild(sc.ExpectSlowBuild)
	}

	if sc.AltCompilerTasks != nil {
		s.AltCompilerTasks(sc.AltCompilerTasks...)
	}
}

// decodeSteps returns one builder call per step block, in source order.
func decodeSteps(
	body hcl.Body,
	ctx *hcl.EvalContext,
	dir string,
	known map[string]bool,
) ([]func(*suite.ScenarioBuilder), hcl.Diagnostics) {
	content, diags := body.Content(stepsSchema)
	if diags.HasErrors() {
		return nil, diags
	}

	var steps []func(*suite.ScenarioBuilder)

	for _, block := range content.Blocks {
		switch block.Type {
		case "step":
			var sb stepBlock

			blockDiags := gohcl.DecodeBody(block.Body, ctx, &sb)
			diags = append(diags, blockDiags...)

			for _, c := range sb.Changes {
				if !known[c.File] {
					diags = append(diags, &hcl.Diagnostic{
						Severity: hcl.DiagError,
						Summary:  "Unknown changeable file",
						Detail:   fmt.Sprintf("No changeable_file block is named %q.", c.File),
						Subject:  block.DefRange.Ptr(),
					})
				}
			}

			if blockDiags.HasErrors() {
				continue
			}

			steps = append(steps, func(s *suite.ScenarioBuilder) {
				s.Step(func(st *suite.ChangeStepBuilder) {
					configureStep(st.StepBuilder, sb.Tasks, sb.Measured, sb.ExpectFailure)

					for _, c := range sb.Changes {
						if c.Source == "" {
							st.ChangeFile(c.File, suite.TypeOfChange(c.Type))

							continue
						}

						st.ChangeFileFrom(c.File, suite.TypeOfChange(c.Type), resolve(dir, c.Source))
					}
				})
			})
		case "revert_last_step":
			var rb revertBlock

			blockDiags := gohcl.DecodeBody(block.Body, ctx, &rb)
			diags = append(diags, blockDiags...)

			if blockDiags.HasErrors() {
				continue
			}

			steps = append(steps, func(s *suite.ScenarioBuilder) {
				s.RevertLastStep(func(st *suite.StepBuilder) {
					configureStep(st, rb.Tasks, rb.Measured, rb.ExpectFailure)
				})
			})
		case "stop_daemon":
			diags = append(diags, gohcl.DecodeBody(block.Body, ctx, &stopDaemonBlock{})...)

			steps = append(steps, func(s *suite.ScenarioBuilder) {
				s.StopDaemon()
			})
		}
	}

	return steps, diags
}

func configureStep(st *suite.StepBuilder, tasks *[]string, measured *bool, expectFailure bool) {
	if tasks != nil {
		st.RunTasks(*tasks...)
	}

	if measured != nil && !*measured {
		st.DoNotMeasure()
	}

	if expectFailure {
		st.ExpectBuildToFail()
	}
}

func evalContext(dir string) *hcl.EvalContext {
	env := make(map[string]cty.Value)

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && hclsyntax.ValidIdentifier(k) {
			env[k] = cty.StringVal(v)
		}
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"suite_dir": cty.StringVal(dir),
			"env":       cty.ObjectVal(env),
		},
	}
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(dir, p)
}

func findFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("suite path: %w", err)
	}

	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && strings.HasSuffix(d.Name(), Extension) {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find suite files in %s: %w", root, err)
	}

	slices.Sort(files)

	return files, nil
}
