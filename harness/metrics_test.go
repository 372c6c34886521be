package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/buildbench/metrics"
)

func TestBuildResultWithoutReport(t *testing.T) {
	res := buildResult(2*time.Second, nil)

	assert.Equal(t, []string{"BUILD"}, res.Time.Names())
	assert.Equal(t, 0, res.Performance.Len())
}

func TestBuildResultTaskData(t *testing.T) {
	firstTest := int64(40)
	rep := &Report{
		ConfigurationMs:       100,
		ExecutionMs:           800,
		SnapshotBeforeTaskMs:  5,
		SnapshotAfterTaskMs:   7,
		FirstTestMs:           &firstTest,
		JavaInstrumentationMs: 11,
		ParentMetric:          map[string]string{"RUN_COMPILATION": "GRADLE_TASK"},
		Tasks: []TaskData{
			{
				Path: ":a:compileKotlin", Type: "org.jetbrains.kotlin.gradle.tasks.KotlinCompile_Decorated",
				DidWork: true, TimeMs: 300,
				BuildTimesMs:       map[string]int64{"GRADLE_TASK": 300, "RUN_COMPILATION": 250},
				PerformanceMetrics: map[string]int64{"SOURCE_LINES_NUMBER": 1000},
			},
			{
				Path: ":b:compileKotlin", Type: "org.jetbrains.kotlin.gradle.tasks.KotlinCompile_Decorated",
				DidWork: true, TimeMs: 200,
				BuildTimesMs:       map[string]int64{"GRADLE_TASK": 200, "RUN_COMPILATION": 150},
				PerformanceMetrics: map[string]int64{"SOURCE_LINES_NUMBER": 500},
			},
			{
				Path: ":c:compileKotlin", Type: "org.jetbrains.kotlin.gradle.tasks.KotlinCompile_Decorated",
				DidWork: false, TimeMs: 1000,
			},
			{Path: ":a:compileJava", Type: "org.gradle.api.tasks.compile.JavaCompile", DidWork: true, TimeMs: 50},
			{Path: ":a:processResources", Type: "unknown", DidWork: true, TimeMs: 20},
			{Path: ":buildSrc:compileKotlin", Type: "unknown", DidWork: false, TimeMs: 60},
		},
	}

	res := buildResult(time.Second, rep)

	value := func(name string) time.Duration {
		t.Helper()

		v, ok := res.Time.Value(name)
		require.True(t, ok, name)

		return v
	}

	assert.Equal(t, time.Second, value("BUILD"))
	assert.Equal(t, 100*time.Millisecond, value("CONFIGURATION"))
	assert.Equal(t, 800*time.Millisecond, value("EXECUTION"))
	assert.Equal(t, 12*time.Millisecond, value("UP_TO_DATE_CHECKS"))
	assert.Equal(t, 40*time.Millisecond, value("FIRST_TEST_EXECUTION_WAITING"))
	assert.Equal(t, 60*time.Millisecond, value("COMPILE_BUILD_SRC"))
	// KotlinCompile 500 + JavaCompile 50 + buildSrc 60.
	assert.Equal(t, 610*time.Millisecond, value("COMPILATION_TASKS"))
	assert.Equal(t, 20*time.Millisecond, value("NON_COMPILATION_TASKS"))

	kotlin, ok := res.Time.Get("KotlinCompile")
	require.True(t, ok)
	assert.Equal(t, "COMPILATION_TASKS", res.Time.Parent("KotlinCompile"))

	root, ok := kotlin.Children().Value("KotlinCompile")
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, root)

	compile, ok := kotlin.Children().Value("RUN_COMPILATION")
	require.True(t, ok)
	assert.Equal(t, 400*time.Millisecond, compile)
	assert.Equal(t, "KotlinCompile", kotlin.Children().Parent("RUN_COMPILATION"))

	java, ok := res.Time.Get("JavaCompile")
	require.True(t, ok)
	instr, ok := java.Children().Value("Not null instrumentation")
	require.True(t, ok)
	assert.Equal(t, 11*time.Millisecond, instr)

	assert.Equal(t, "NON_COMPILATION_TASKS", res.Time.Parent("processResources"))

	var perf []string
	for _, f := range metrics.Flatten(res.Performance) {
		if f.Value > 0 {
			perf = append(perf, f.Name)
		}
	}

	assert.Equal(t, []string{"Performance metrics.KotlinCompile.KotlinCompile.SOURCE_LINES_NUMBER"}, perf)
}

func TestShortTaskTypeName(t *testing.T) {
	tests := map[string]string{
		"org.jetbrains.kotlin.gradle.tasks.KotlinCompile_Decorated": "KotlinCompile",
		"org.gradle.api.tasks.compile.JavaCompile":                  "JavaCompile",
		"Copy": "Copy",
	}

	for in, want := range tests {
		assert.Equal(t, want, shortTaskTypeName(in))
	}

	assert.Equal(t, "processResources", taskNameFromPath(":a:processResources"))
	assert.Equal(t, "jar", taskNameFromPath("jar"))
}
