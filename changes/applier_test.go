package changes

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/buildbench/suite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	project string
	sources string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	return fixture{project: t.TempDir(), sources: t.TempDir()}
}

func (f fixture) writeProject(t *testing.T, rel, content string) {
	t.Helper()

	path := filepath.Join(f.project, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f fixture) readProject(t *testing.T, rel string) string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(f.project, rel))
	require.NoError(t, err)

	return string(b)
}

func (f fixture) change(t *testing.T, target, content string) suite.FileChange {
	t.Helper()

	src := filepath.Join(f.sources, filepath.Base(target)+"-"+content)
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

	return suite.FileChange{
		File:   suite.ChangeableFile{Name: target, Target: target},
		Type:   "REPLACE",
		Source: src,
	}
}

func TestApplyRevertRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "Foo.txt", "v1")

	a := NewApplier(f.project, discardLogger())

	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "Foo.txt", "v2")},
	}))
	assert.Equal(t, "v2", f.readProject(t, "Foo.txt"))
	assert.True(t, a.HasPendingChanges())

	require.NoError(t, a.Apply(&suite.RevertLastStep{}))
	assert.Equal(t, "v1", f.readProject(t, "Foo.txt"))
	assert.False(t, a.HasPendingChanges())
}

func TestRevertDeletesFilesThatDidNotExist(t *testing.T) {
	f := newFixture(t)
	a := NewApplier(f.project, discardLogger())

	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "src/new/Added.kt", "fun added() = 1")},
	}))
	assert.Equal(t, "fun added() = 1", f.readProject(t, "src/new/Added.kt"))

	require.NoError(t, a.Apply(&suite.RevertLastStep{}))
	assert.NoFileExists(t, filepath.Join(f.project, "src/new/Added.kt"))
}

func TestRevertIsLIFO(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "A.txt", "a1")
	f.writeProject(t, "B.txt", "b1")

	a := NewApplier(f.project, discardLogger())

	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "A.txt", "a2")},
	}))
	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "B.txt", "b2")},
	}))
	assert.Equal(t, 2, a.Pending())

	require.NoError(t, a.Apply(&suite.RevertLastStep{}))
	assert.Equal(t, "a2", f.readProject(t, "A.txt"))
	assert.Equal(t, "b1", f.readProject(t, "B.txt"))

	require.NoError(t, a.Apply(&suite.RevertLastStep{}))
	assert.Equal(t, "a1", f.readProject(t, "A.txt"))
	assert.Equal(t, "b1", f.readProject(t, "B.txt"))
}

func TestSameFileTwiceInOneStep(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "Foo.txt", "v1")

	a := NewApplier(f.project, discardLogger())

	require.NoError(t, a.Apply(&suite.SimpleStep{Changes: []suite.FileChange{
		f.change(t, "Foo.txt", "v2"),
		f.change(t, "Foo.txt", "v3"),
	}}))
	assert.Equal(t, "v3", f.readProject(t, "Foo.txt"))

	require.NoError(t, a.RevertAll())
	assert.Equal(t, "v1", f.readProject(t, "Foo.txt"))
}

func TestPartialApplyIsRolledBack(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "A.txt", "a1")

	a := NewApplier(f.project, discardLogger())

	missing := suite.FileChange{
		File:   suite.ChangeableFile{Name: "b", Target: "B.txt"},
		Type:   "REPLACE",
		Source: filepath.Join(f.sources, "does-not-exist"),
	}

	err := a.Apply(&suite.SimpleStep{Changes: []suite.FileChange{
		f.change(t, "A.txt", "a2"),
		missing,
	}})
	require.Error(t, err)

	assert.Equal(t, "a1", f.readProject(t, "A.txt"))
	assert.NoFileExists(t, filepath.Join(f.project, "B.txt"))
	assert.False(t, a.HasPendingChanges())
}

func TestRevertLastWithEmptyStack(t *testing.T) {
	a := NewApplier(t.TempDir(), discardLogger())

	require.ErrorIs(t, a.Apply(&suite.RevertLastStep{}), ErrNothingToRevert)
}

func TestStopDaemonIsNoop(t *testing.T) {
	a := NewApplier(t.TempDir(), discardLogger())

	require.NoError(t, a.Apply(&suite.StopDaemon{}))
	assert.False(t, a.HasPendingChanges())
}

func TestPreservesFileMode(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "gradlew", "#!/bin/sh\n")
	require.NoError(t, os.Chmod(filepath.Join(f.project, "gradlew"), 0o755))

	a := NewApplier(f.project, discardLogger())

	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "gradlew", "#!/bin/sh\necho changed\n")},
	}))

	info, err := os.Stat(filepath.Join(f.project, "gradlew"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestRevertAllKeepsFailuresForRetry(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "Keep.txt", "k1")

	a := NewApplier(f.project, discardLogger())

	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "Keep.txt", "k2")},
	}))
	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "New.txt", "n")},
	}))

	// A non-empty directory in place of the created file cannot be removed.
	blocked := filepath.Join(f.project, "New.txt")
	require.NoError(t, os.Remove(blocked))
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "inner"), 0o755))

	err := a.RevertAll()
	require.Error(t, err)

	var rerr *RevertError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, []string{blocked}, rerr.Files)

	assert.Equal(t, "k1", f.readProject(t, "Keep.txt"))
	assert.Equal(t, 1, a.Pending())

	require.NoError(t, os.RemoveAll(blocked))
	require.NoError(t, a.RevertAll())
	assert.False(t, a.HasPendingChanges())
}

func TestRevertRemovesCreatedDirectories(t *testing.T) {
	f := newFixture(t)
	a := NewApplier(f.project, discardLogger())

	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "gen/pkg/New.kt", "class New")},
	}))
	assert.DirExists(t, filepath.Join(f.project, "gen", "pkg"))

	require.NoError(t, a.RevertAll())
	assert.NoDirExists(t, filepath.Join(f.project, "gen"))
	assert.DirExists(t, f.project)
}

func TestRevertKeepsPreexistingAndNonEmptyDirectories(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "src/Main.kt", "fun main() {}")

	a := NewApplier(f.project, discardLogger())

	require.NoError(t, a.Apply(&suite.SimpleStep{Changes: []suite.FileChange{
		f.change(t, "src/new/Added.kt", "fun added() = 1"),
		f.change(t, "out/classes/Gen.kt", "class Gen"),
	}}))

	// Build output written next to the change must survive the revert.
	f.writeProject(t, "out/classes/Gen.class", "bytes")

	require.NoError(t, a.Apply(&suite.RevertLastStep{}))
	assert.NoDirExists(t, filepath.Join(f.project, "src", "new"))
	assert.Equal(t, "fun main() {}", f.readProject(t, "src/Main.kt"))
	assert.NoFileExists(t, filepath.Join(f.project, "out", "classes", "Gen.kt"))
	assert.Equal(t, "bytes", f.readProject(t, "out/classes/Gen.class"))
}

func TestFailedRevertLastKeepsEntry(t *testing.T) {
	f := newFixture(t)
	f.writeProject(t, "Keep.txt", "k1")

	a := NewApplier(f.project, discardLogger())

	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "Keep.txt", "k2")},
	}))
	require.NoError(t, a.Apply(&suite.SimpleStep{
		Changes: []suite.FileChange{f.change(t, "New.txt", "n")},
	}))

	blocked := filepath.Join(f.project, "New.txt")
	require.NoError(t, os.Remove(blocked))
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "inner"), 0o755))

	var rerr *RevertError
	require.ErrorAs(t, a.Apply(&suite.RevertLastStep{}), &rerr)
	assert.Equal(t, 2, a.Pending())
	assert.Equal(t, "k2", f.readProject(t, "Keep.txt"))

	require.NoError(t, os.RemoveAll(blocked))
	require.NoError(t, a.Apply(&suite.RevertLastStep{}))
	assert.Equal(t, 1, a.Pending())
	assert.Equal(t, "k2", f.readProject(t, "Keep.txt"))

	require.NoError(t, a.Apply(&suite.RevertLastStep{}))
	assert.Equal(t, "k1", f.readProject(t, "Keep.txt"))
}
