// Package harness runs builds of the project under test with an external
// build tool and turns the tool's build report into metrics.
package harness

// Report is the build report a build tool writes to the file named by the
// BUILDBENCH_METRICS_FILE environment variable.
type Report struct {
	ConfigurationMs       int64             `json:"configuration_ms"`
	ExecutionMs           int64             `json:"execution_ms"`
	SnapshotBeforeTaskMs  int64             `json:"snapshot_before_task_ms"`
	SnapshotAfterTaskMs   int64             `json:"snapshot_after_task_ms"`
	FirstTestMs           *int64            `json:"first_test_ms,omitempty"`
	JavaInstrumentationMs int64             `json:"java_instrumentation_ms"`
	ParentMetric          map[string]string `json:"parent_metric"`
	Tasks                 []TaskData        `json:"tasks"`
}

// TaskData describes one executed task.
type TaskData struct {
	Path               string           `json:"path"`
	Type               string           `json:"type"`
	DidWork            bool             `json:"did_work"`
	TimeMs             int64            `json:"time_ms"`
	BuildTimesMs       map[string]int64 `json:"build_times_ms"`
	PerformanceMetrics map[string]int64 `json:"performance_metrics"`
}
