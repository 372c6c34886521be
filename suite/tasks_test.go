package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupTasks(t *testing.T) {
	next := &Scenario{
		Name: "next",
		Steps: []Step{
			&SimpleStep{Tasks: []string{TaskClean, ":a"}},
			&SimpleStep{},
			&RevertLastStep{Tasks: []string{":b", ":a"}},
		},
	}
	defaults := []string{":dist", TaskClean}

	tests := []struct {
		name string
		prev *Scenario
		want []string
	}{
		{
			name: "derived from next scenario",
			prev: &Scenario{Name: "prev"},
			want: []string{":a", ":dist", ":b"},
		},
		{
			name: "explicit on previous scenario",
			prev: &Scenario{Name: "prev", CleanupTasks: []string{TaskClean, ":x"}},
			want: []string{TaskClean, ":x"},
		},
		{
			name: "explicitly empty",
			prev: &Scenario{Name: "prev", CleanupTasks: []string{}},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanupTasks(tt.prev, next, defaults)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDerivedCleanupNeverBuildsClean(t *testing.T) {
	next := &Scenario{Steps: []Step{
		&SimpleStep{Tasks: []string{TaskClean}},
		&StopDaemon{},
		&RevertLastStep{},
	}}

	got := CleanupTasks(nil, next, []string{TaskClean, ":dist"})

	assert.NotContains(t, got, TaskClean)
	assert.Equal(t, []string{":dist"}, got)
}

func TestBuildTasks(t *testing.T) {
	defaults := []string{":dist"}

	assert.Equal(t, defaults, BuildTasks(&SimpleStep{}, defaults))
	assert.Equal(t, []string{":x"}, BuildTasks(&SimpleStep{Tasks: []string{":x"}}, defaults))
	assert.Empty(t, BuildTasks(&RevertLastStep{Tasks: []string{}}, defaults))
}

func TestValidate(t *testing.T) {
	project := t.TempDir()
	changes := t.TempDir()
	variant := filepath.Join(changes, "v2.txt")
	require.NoError(t, os.WriteFile(variant, []byte("v2"), 0o644))

	valid := func(sc *ScenarioBuilder) {
		sc.Step(func(st *ChangeStepBuilder) { st.ChangeFileFrom("foo", "V2", variant) })
		sc.StopDaemon()
		sc.RevertLastStep(nil)
	}

	t.Run("valid", func(t *testing.T) {
		s, err := NewBuilder().
			ChangeableFile("foo", "Foo.txt").
			Scenario("edit-and-revert", valid).
			Build()
		require.NoError(t, err)
		require.NoError(t, Validate(project, s))
	})

	t.Run("missing project", func(t *testing.T) {
		s, err := NewBuilder().Build()
		require.NoError(t, err)
		require.ErrorIs(t, Validate(filepath.Join(project, "nope"), s), ErrInvalidSuite)
	})

	t.Run("revert without step", func(t *testing.T) {
		s, err := NewBuilder().
			Scenario("bad", func(sc *ScenarioBuilder) { sc.RevertLastStep(nil) }).
			Build()
		require.NoError(t, err)

		err = Validate(project, s)
		require.ErrorIs(t, err, ErrInvalidSuite)
		assert.Contains(t, err.Error(), "nothing to revert")
	})

	t.Run("missing source", func(t *testing.T) {
		s, err := NewBuilder().
			ChangesDir(changes).
			ChangeableFile("foo", "Foo.txt").
			Scenario("bad", func(sc *ScenarioBuilder) {
				sc.Step(func(st *ChangeStepBuilder) { st.ChangeFile("foo", "MISSING") })
			}).
			Build()
		require.NoError(t, err)
		require.ErrorIs(t, Validate(project, s), ErrInvalidSuite)
	})

	t.Run("target escapes project", func(t *testing.T) {
		s, err := NewBuilder().ChangeableFile("foo", "../Foo.txt").Build()
		require.NoError(t, err)
		require.ErrorIs(t, Validate(project, s), ErrInvalidSuite)
	})
}
