package expect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/gradle"
)

const freeDebugOutput = `> Task :preFreeDebugUnitTestBuild UP-TO-DATE
> Task :compileFreeDebugUnitTestJavaWithJavac
> Task :testFreeDebugUnitTest

de.mannodermaus.app.JavaFreeDebugTest > test() PASSED

de.mannodermaus.app.JavaDebugTest > test() PASSED

de.mannodermaus.app.JavaFreeTest > test() PASSED

de.mannodermaus.app.JavaTest > test() PASSED

BUILD SUCCESSFUL in 4s
`

func result(output string, tasks ...gradle.TaskResult) *gradle.Result {
	return &gradle.Result{Output: output, Tasks: tasks}
}

func TestTaskSucceeded(t *testing.T) {
	r := result("",
		gradle.TaskResult{Path: ":build", Outcome: gradle.Success},
		gradle.TaskResult{Path: ":lint", Outcome: gradle.Skipped},
		gradle.TaskResult{Path: ":preBuild", Outcome: gradle.UpToDate},
		gradle.TaskResult{Path: ":check", Outcome: gradle.NotRun},
		gradle.TaskResult{Path: ":test", Outcome: gradle.Failed},
	)

	tests := []struct {
		task string
		ok   bool
	}{
		{"build", true},
		{":build", true},
		{"lint", false},
		{"preBuild", false},
		{"check", false},
		{"test", false},
		{"missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			msg := TaskSucceeded(tt.task).Check(r)
			require.Equal(t, tt.ok, msg == "", msg)
		})
	}
}

func TestTaskOutcomeNotRun(t *testing.T) {
	r := result("", gradle.TaskResult{Path: ":testFreeReleaseUnitTest", Outcome: gradle.NotRun})
	require.Empty(t, TaskOutcome("testFreeReleaseUnitTest", gradle.NotRun).Check(r))
	require.Empty(t, TaskOutcome("neverMentioned", gradle.NotRun).Check(r))
	require.Equal(t, "task :testFreeReleaseUnitTest finished NOT_RUN, expected UP_TO_DATE",
		TaskOutcome("testFreeReleaseUnitTest", gradle.UpToDate).Check(r))
}

func TestCountTests(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		className  string
		wantPassed int
		wantFailed int
	}{
		{
			name:       "one class per task",
			output:     freeDebugOutput,
			className:  "JavaFreeDebugTest",
			wantPassed: 1,
		},
		{
			name:      "absent class",
			output:    freeDebugOutput,
			className: "KotlinTest",
		},
		{
			name: "several methods count once",
			output: `> Task :testDebugUnitTest

de.mannodermaus.app.JavaTest > first() PASSED

JavaTest > second() PASSED
`,
			className:  "JavaTest",
			wantPassed: 1,
		},
		{
			name: "one execution per task",
			output: `> Task :testDebugUnitTest

de.mannodermaus.app.JavaTest > test() PASSED
> Task :testReleaseUnitTest

de.mannodermaus.app.JavaTest > test() PASSED
> Task :build
`,
			className:  "JavaTest",
			wantPassed: 2,
		},
		{
			name: "a failed method fails the execution",
			output: `> Task :testDebugUnitTest

de.mannodermaus.app.JavaTest > first() PASSED

de.mannodermaus.app.JavaTest > second() FAILED
> Task :testReleaseUnitTest

de.mannodermaus.app.JavaTest > first() PASSED

de.mannodermaus.app.JavaTest > second() PASSED
`,
			className:  "JavaTest",
			wantPassed: 1,
			wantFailed: 1,
		},
		{
			name: "similar names do not match",
			output: `> Task :testDebugUnitTest

de.mannodermaus.app.NotJavaTest > test() PASSED

de.mannodermaus.app.JavaTestSuite > test() PASSED
`,
			className: "JavaTest",
		},
		{
			name:       "events before any task header",
			output:     "JavaTest > test() PASSED\n",
			className:  "JavaTest",
			wantPassed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, failed := CountTests(tt.output, tt.className)
			require.Equal(t, tt.wantPassed, passed)
			require.Equal(t, tt.wantFailed, failed)
		})
	}
}

func TestEvaluateInheritedClasses(t *testing.T) {
	r := result(freeDebugOutput, gradle.TaskResult{Path: ":testFreeDebugUnitTest", Outcome: gradle.Success})
	v := Evaluate(r,
		TaskSucceeded("testFreeDebugUnitTest"),
		TestExecuted("JavaFreeDebugTest", 1),
		TestExecuted("JavaDebugTest", 1),
		TestExecuted("JavaFreeTest", 1),
		TestExecuted("JavaTest", 1),
	)
	require.True(t, v.Passed, v.Report())
	require.NoError(t, v.Err())
	require.Equal(t, "All 5 expectations met", v.Report())
}

func TestEvaluateCollectsAllFailures(t *testing.T) {
	r := result(freeDebugOutput, gradle.TaskResult{Path: ":testFreeDebugUnitTest", Outcome: gradle.Failed})
	v := Evaluate(r,
		TaskSucceeded("testFreeDebugUnitTest"),
		TestExecuted("JavaTest", 2),
		TestExecuted("JavaReleaseTest", 1),
		TestExecuted("JavaDebugTest", 1),
	)
	require.False(t, v.Passed)
	require.Equal(t, 4, v.Total)
	require.Len(t, v.Failures, 3)

	report := v.Report()
	require.Contains(t, report, "Gradle execution failed. Output:\n> Task :preFreeDebugUnitTestBuild")
	require.Contains(t, report, "3/4 expectations failed")
	require.Contains(t, report, "task :testFreeDebugUnitTest finished FAILED, expected SUCCESS")
	require.Contains(t, report, "test class JavaTest passed 1 time(s), expected 2")
	require.Contains(t, report, "test class JavaReleaseTest passed 0 time(s), expected 1")

	err := v.Err()
	require.True(t, fault.Is(err, fault.Assertion))
	require.Contains(t, err.Error(), "JavaReleaseTest")
}

func TestEvaluateIsRepeatable(t *testing.T) {
	r := result(freeDebugOutput, gradle.TaskResult{Path: ":testFreeDebugUnitTest", Outcome: gradle.Success})
	exps := []Expectation{TaskSucceeded("build"), TestExecuted("JavaTest", 1)}
	require.Equal(t, Evaluate(r, exps...), Evaluate(r, exps...))
}

func TestEvaluateNilResult(t *testing.T) {
	v := Evaluate(nil, TaskSucceeded("build"))
	require.False(t, v.Passed)
	require.Equal(t, "no build result", v.Failures[0].Message)
}

func TestEvaluateNoExpectations(t *testing.T) {
	v := Evaluate(result(""))
	require.True(t, v.Passed)
	require.Zero(t, v.Total)
}
