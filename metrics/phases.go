package metrics

// Phase is a well-known time metric together with its declared parent.
type Phase struct {
	Name   string
	Parent string
}

// Build phases reported by every build. BUILD is the whole build; its
// configuration sub-phase is always tracked.
var (
	PhaseBuild         = Phase{Name: "BUILD"}
	PhaseConfiguration = Phase{Name: "CONFIGURATION", Parent: "BUILD"}
	PhaseExecution     = Phase{Name: "EXECUTION", Parent: "BUILD"}

	PhaseUpToDateChecks       = Phase{Name: "UP_TO_DATE_CHECKS", Parent: "EXECUTION"}
	PhaseUpToDateChecksBefore = Phase{Name: "UP_TO_DATE_CHECKS_BEFORE_TASK", Parent: "UP_TO_DATE_CHECKS"}
	PhaseUpToDateChecksAfter  = Phase{Name: "UP_TO_DATE_CHECKS_AFTER_TASK", Parent: "UP_TO_DATE_CHECKS"}

	PhaseCompilationTasks    = Phase{Name: "COMPILATION_TASKS", Parent: "EXECUTION"}
	PhaseNonCompilationTasks = Phase{Name: "NON_COMPILATION_TASKS", Parent: "EXECUTION"}
	PhaseCompileBuildSrc     = Phase{Name: "COMPILE_BUILD_SRC", Parent: "COMPILATION_TASKS"}

	PhaseFirstTestWaiting = Phase{Name: "FIRST_TEST_EXECUTION_WAITING", Parent: "EXECUTION"}
)

// Fully qualified names that are always part of a tracked metrics set.
const (
	TrackedBuild         = "BUILD"
	TrackedConfiguration = "BUILD.CONFIGURATION"
)

// PerformanceMetricsKey groups per-task-type performance counters.
const PerformanceMetricsKey = "Performance metrics"
