package suite

import "slices"

// TaskClean is never part of a derived cleanup build so incremental state is
// not invalidated twice.
const TaskClean = "clean"

// CleanupTasks returns the tasks built when cleaning up after prev, before
// the next iteration of next. prev's explicit cleanup list wins when set;
// otherwise it is the union of the tasks next's steps build, in first-seen
// order, without "clean".
func CleanupTasks(prev, next *Scenario, defaults []string) []string {
	if prev != nil && prev.CleanupTasks != nil {
		return slices.Clone(prev.CleanupTasks)
	}

	out := []string{}

	for _, step := range next.Steps {
		tasks := step.StepTasks()
		if tasks == nil {
			tasks = defaults
		}

		for _, t := range tasks {
			if t == TaskClean || slices.Contains(out, t) {
				continue
			}

			out = append(out, t)
		}
	}

	return out
}

// BuildTasks returns the tasks a step builds.
func BuildTasks(step Step, defaults []string) []string {
	if tasks := step.StepTasks(); tasks != nil {
		return tasks
	}

	return defaults
}
