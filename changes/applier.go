// Package changes applies and reverts scenario file changes in the project
// under test, keeping a stack of what still has to be undone.
package changes

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/weiihann/buildbench/suite"
)

// ErrNothingToRevert is returned when a RevertLastStep finds no applied
// changes. It means the scenario is malformed.
var ErrNothingToRevert = errors.New("no applied changes to revert")

// RevertError lists the files that could not be restored.
type RevertError struct {
	Files []string
	Err   error
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("could not revert %d file(s): %v", len(e.Files), e.Err)
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// snapshot is the state of one file before a change was written to it.
type snapshot struct {
	path    string
	content []byte
	existed bool
	mode    fs.FileMode
	// createdDir is the outermost directory created to hold a new file,
	// empty when the parent already existed.
	createdDir string
}

// applied holds the snapshots of one step, in write order.
type applied struct {
	snapshots []snapshot
}

// Applier owns the project directory for the duration of a run. It is not
// safe for concurrent use.
type Applier struct {
	projectDir string
	stack      []*applied
	logger     *slog.Logger
}

// NewApplier returns an Applier writing below projectDir.
func NewApplier(projectDir string, logger *slog.Logger) *Applier {
	return &Applier{
		projectDir: projectDir,
		logger:     logger.With(slog.String("project", projectDir)),
	}
}

// HasPendingChanges reports whether any applied change is still in place.
func (a *Applier) HasPendingChanges() bool {
	return len(a.stack) > 0
}

// Pending returns the number of steps whose changes are still applied.
func (a *Applier) Pending() int {
	return len(a.stack)
}

// Apply performs the file work of step. A SimpleStep writes all of its
// changes or none: when a write fails, the files already written are
// restored and nothing is pushed. A RevertLastStep undoes the most recent
// applied step. StopDaemon does nothing.
func (a *Applier) Apply(step suite.Step) error {
	switch st := step.(type) {
	case *suite.SimpleStep:
		return a.applySimple(st)
	case *suite.RevertLastStep:
		return a.revertLast()
	case *suite.StopDaemon:
		return nil
	default:
		return fmt.Errorf("unsupported step %T", step)
	}
}

func (a *Applier) applySimple(st *suite.SimpleStep) error {
	entry := &applied{}

	for _, c := range st.Changes {
		if err := a.write(entry, c); err != nil {
			if rerr := a.revert(entry); rerr != nil {
				a.logger.Warn("could not roll back partially applied step",
					slog.String("error", rerr.Error()),
				)
			}

			return fmt.Errorf("apply %s to %s: %w", c.Type, c.File.Target, err)
		}
	}

	a.stack = append(a.stack, entry)

	return nil
}

func (a *Applier) write(entry *applied, c suite.FileChange) error {
	target := filepath.Join(a.projectDir, c.File.Target)

	snap := snapshot{path: target, mode: 0o644}

	info, err := os.Stat(target)

	switch {
	case err == nil:
		content, err := os.ReadFile(target)
		if err != nil {
			return fmt.Errorf("read current content: %w", err)
		}

		snap.content = content
		snap.existed = true
		snap.mode = info.Mode().Perm()
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("stat target: %w", err)
	}

	content, err := os.ReadFile(c.Source)
	if err != nil {
		return fmt.Errorf("read change source: %w", err)
	}

	entry.snapshots = append(entry.snapshots, snap)

	if !snap.existed {
		created, err := missingAncestor(filepath.Dir(target), filepath.Clean(a.projectDir))
		if err != nil {
			return fmt.Errorf("stat parent dir: %w", err)
		}

		entry.snapshots[len(entry.snapshots)-1].createdDir = created

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create parent dir: %w", err)
		}
	}

	if err := os.WriteFile(target, content, snap.mode); err != nil {
		return fmt.Errorf("write target: %w", err)
	}

	a.logger.Debug("applied change",
		slog.String("file", c.File.Name),
		slog.String("change", string(c.Type)),
	)

	return nil
}

func (a *Applier) revertLast() error {
	if len(a.stack) == 0 {
		return ErrNothingToRevert
	}

	top := a.stack[len(a.stack)-1]
	a.stack = a.stack[:len(a.stack)-1]

	if err := a.revert(top); err != nil {
		a.stack = append(a.stack, top)

		return err
	}

	return nil
}

// RevertAll undoes every applied step, most recent first. It does not stop
// at the first failure; entries that could not be fully restored stay on
// the stack and the returned error names their files.
func (a *Applier) RevertAll() error {
	var (
		kept []*applied
		errs []error
	)

	for len(a.stack) > 0 {
		top := a.stack[len(a.stack)-1]
		a.stack = a.stack[:len(a.stack)-1]

		if err := a.revert(top); err != nil {
			a.logger.Warn("failed to revert changes",
				slog.String("error", err.Error()),
			)

			kept = append(kept, top)
			errs = append(errs, err)
		}
	}

	for i := len(kept) - 1; i >= 0; i-- {
		a.stack = append(a.stack, kept[i])
	}

	return errors.Join(errs...)
}

// revert restores the snapshots of entry in reverse write order. Snapshots
// that fail are kept in entry for a later attempt.
func (a *Applier) revert(entry *applied) error {
	var (
		failed []snapshot
		files  []string
		errs   []error
	)

	for i := len(entry.snapshots) - 1; i >= 0; i-- {
		snap := entry.snapshots[i]

		if err := restore(snap); err != nil {
			failed = append([]snapshot{snap}, failed...)
			files = append(files, snap.path)
			errs = append(errs, fmt.Errorf("%s: %w", snap.path, err))
		}
	}

	entry.snapshots = failed

	if len(errs) > 0 {
		return &RevertError{Files: files, Err: errors.Join(errs...)}
	}

	return nil
}

func restore(snap snapshot) error {
	if !snap.existed {
		err := os.Remove(snap.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		if snap.createdDir != "" {
			removeEmptyDirs(filepath.Dir(snap.path), snap.createdDir)
		}

		return nil
	}

	return os.WriteFile(snap.path, snap.content, snap.mode)
}

// missingAncestor returns the outermost directory between dir and root that
// does not exist yet, or "" when dir exists.
func missingAncestor(dir, root string) (string, error) {
	var missing string

	for dir != root && dir != filepath.Dir(dir) {
		_, err := os.Stat(dir)
		if err == nil {
			break
		}

		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		missing = dir
		dir = filepath.Dir(dir)
	}

	return missing, nil
}

// removeEmptyDirs removes dir and its parents up to and including top,
// stopping at the first one that is not empty.
func removeEmptyDirs(dir, top string) {
	for {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return
		}

		if dir == top || dir == filepath.Dir(dir) {
			return
		}

		dir = filepath.Dir(dir)
	}
}
