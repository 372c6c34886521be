package harness

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/weiihann/buildbench/bench"
	"github.com/weiihann/buildbench/metrics"
)

const (
	rootTaskMetric   = "GRADLE_TASK"
	taskActionMetric = "GRADLE_TASK_ACTION"
	buildSrcCompile  = ":buildSrc:compileKotlin"
	instrumentation  = "Not null instrumentation"
	javaCompileType  = "JavaCompile"
	unknownTaskType  = "unknown"
)

var compileTaskTypes = []string{"JavaCompile", "KotlinCompile", "KotlinCompileCommon", "Kotlin2JsCompile"}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// buildResult converts a build report into metrics. wall is the measured
// duration of the whole build. A nil report yields only the build time.
func buildResult(wall time.Duration, rep *Report) *bench.BuildResult {
	res := bench.EmptyBuildResult()
	res.Time.SetPhase(metrics.PhaseBuild, wall)

	if rep == nil {
		return res
	}

	execution := ms(rep.ExecutionMs)
	if rep.ExecutionMs == 0 && wall > ms(rep.ConfigurationMs) {
		execution = wall - ms(rep.ConfigurationMs)
	}

	res.Time.SetPhase(metrics.PhaseConfiguration, ms(rep.ConfigurationMs))
	res.Time.SetPhase(metrics.PhaseExecution, execution)
	res.Time.SetPhase(metrics.PhaseUpToDateChecks, ms(rep.SnapshotBeforeTaskMs+rep.SnapshotAfterTaskMs))
	res.Time.SetPhase(metrics.PhaseUpToDateChecksBefore, ms(rep.SnapshotBeforeTaskMs))
	res.Time.SetPhase(metrics.PhaseUpToDateChecksAfter, ms(rep.SnapshotAfterTaskMs))

	if rep.FirstTestMs != nil {
		res.Time.SetPhase(metrics.PhaseFirstTestWaiting, ms(*rep.FirstTestMs))
	}

	addTaskData(res, rep)

	return res
}

// addTaskData groups the report's tasks by short type and adds a time and a
// performance container per type. Compile task types count towards
// COMPILATION_TASKS, everything else towards NON_COMPILATION_TASKS.
func addTaskData(res *bench.BuildResult, rep *Report) {
	parents := make(map[string]string, len(rep.ParentMetric)+1)
	maps.Copy(parents, rep.ParentMetric)
	parents[taskActionMetric] = rootTaskMetric

	byType := make(map[string][]TaskData)
	for _, t := range rep.Tasks {
		key := shortTaskTypeName(t.Type)
		if t.Type == "" || t.Type == unknownTaskType {
			key = taskNameFromPath(t.Path)
		}

		byType[key] = append(byType[key], t)
	}

	var compilation, nonCompilation time.Duration

	for _, typeName := range slices.Sorted(maps.Keys(byType)) {
		rootName := func(name string) string {
			if _, ok := parents[name]; !ok {
				return typeName
			}

			return name
		}

		var (
			typeTime  time.Duration
			timeNames []string
			timeMs    = make(map[string]int64)
			perfNames []string
			perf      = make(map[string]int64)
		)

		for _, t := range byType[typeName] {
			if !t.DidWork {
				continue
			}

			typeTime += ms(t.TimeMs)

			for _, name := range slices.Sorted(maps.Keys(t.BuildTimesMs)) {
				v := t.BuildTimesMs[name]
				if v <= 0 {
					continue
				}

				name = rootName(name)
				if _, ok := timeMs[name]; !ok {
					timeNames = append(timeNames, name)
				}

				timeMs[name] += v
			}

			for _, name := range slices.Sorted(maps.Keys(t.PerformanceMetrics)) {
				v := t.PerformanceMetrics[name]
				if v <= 0 {
					continue
				}

				if _, ok := perf[name]; !ok {
					perfNames = append(perfNames, name)
				}

				perf[name] += v
			}
		}

		times := metrics.NewContainer[time.Duration]()
		for _, name := range timeNames {
			parent := ""
			if p, ok := parents[name]; ok {
				parent = rootName(p)
			}

			times.Set(name, metrics.Leaf(ms(timeMs[name])), parent)
		}

		if typeName == javaCompileType {
			times.Set(instrumentation, metrics.Leaf(ms(rep.JavaInstrumentationMs)), javaCompileType)
		}

		phase := metrics.PhaseNonCompilationTasks
		if slices.Contains(compileTaskTypes, typeName) {
			phase = metrics.PhaseCompilationTasks
			compilation += typeTime
		} else {
			nonCompilation += typeTime
		}

		res.Time.SetContainer(typeName, times, phase.Name)

		counters := metrics.NewContainer[int64]()
		if len(perfNames) > 0 {
			counters.SetValue(typeName, 0)
		}

		for _, name := range perfNames {
			counters.Set(name, metrics.Leaf(perf[name]), rootName(typeName))
		}

		res.Performance.SetContainer(typeName, counters, metrics.PerformanceMetricsKey)
	}

	buildSrc := buildSrcTime(rep.Tasks)
	compilation += buildSrc

	res.Time.SetPhase(metrics.PhaseCompileBuildSrc, buildSrc)
	res.Time.SetPhase(metrics.PhaseCompilationTasks, compilation)
	res.Time.SetPhase(metrics.PhaseNonCompilationTasks, nonCompilation)
	res.Performance.SetValue(metrics.PerformanceMetricsKey, 0)
}

func buildSrcTime(tasks []TaskData) time.Duration {
	for _, t := range tasks {
		if t.Path == buildSrcCompile {
			return ms(t.TimeMs)
		}
	}

	return 0
}

// shortTaskTypeName strips the package and Gradle's decoration suffix:
// org.jetbrains.kotlin.gradle.tasks.KotlinCompile_Decorated becomes
// KotlinCompile.
func shortTaskTypeName(fqName string) string {
	if i := strings.LastIndex(fqName, "."); i >= 0 {
		fqName = fqName[i+1:]
	}

	return strings.TrimSuffix(fqName, "_Decorated")
}

func taskNameFromPath(path string) string {
	if i := strings.LastIndex(path, ":"); i >= 0 {
		return path[i+1:]
	}

	return path
}
