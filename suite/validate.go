package suite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Validate checks that s can run against the project in projectDir without
// touching it: the project exists, changeable targets stay inside it, every
// change source is readable and every RevertLastStep has a step to undo.
func Validate(projectDir string, s *Suite) error {
	var errs []error

	info, err := os.Stat(projectDir)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("project dir: %w", err))
	case !info.IsDir():
		errs = append(errs, fmt.Errorf("project dir %s is not a directory", projectDir))
	}

	for _, f := range s.ChangeableFiles {
		if !filepath.IsLocal(f.Target) {
			errs = append(errs, fmt.Errorf(
				"changeable file %q: target %q is outside the project", f.Name, f.Target,
			))
		}
	}

	for _, sc := range s.Scenarios {
		errs = append(errs, validateScenario(sc)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSuite, errors.Join(errs...))
	}

	return nil
}

func validateScenario(sc *Scenario) []error {
	var (
		errs    []error
		applied int
		checked = make(map[string]bool)
	)

	for i, step := range sc.Steps {
		switch st := step.(type) {
		case *SimpleStep:
			applied++

			for _, c := range st.Changes {
				if checked[c.Source] {
					continue
				}

				checked[c.Source] = true

				if _, err := os.Stat(c.Source); err != nil {
					errs = append(errs, fmt.Errorf(
						"scenario %q step %d: change %s of %q: %w",
						sc.Name, i+1, c.Type, c.File.Name, err,
					))
				}
			}
		case *RevertLastStep:
			if applied == 0 {
				errs = append(errs, fmt.Errorf(
					"scenario %q step %d: nothing to revert", sc.Name, i+1,
				))

				continue
			}

			applied--
		case *StopDaemon:
		}
	}

	return errs
}
