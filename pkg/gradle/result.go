package gradle

import (
	"bufio"
	"regexp"
	"strings"
)

// Outcome is the state a task finished in.
type Outcome string

const (
	Success  Outcome = "SUCCESS"
	Failed   Outcome = "FAILED"
	Skipped  Outcome = "SKIPPED"
	UpToDate Outcome = "UP_TO_DATE"
	NotRun   Outcome = "NOT_RUN"
)

// TaskResult is the outcome of one task, keyed by its path (":build").
type TaskResult struct {
	Path    string  `json:"path"`
	Outcome Outcome `json:"outcome"`
}

// Result is everything captured from one build invocation.
type Result struct {
	// Tasks lists task outcomes in the order the build reported them,
	// followed by requested tasks that never ran.
	Tasks []TaskResult `json:"tasks"`

	// Output is the combined console text.
	Output string `json:"output"`

	// ExitCode is the build process exit status.
	ExitCode int `json:"exit_code"`

	// TimedOut is set when the build was killed at the timeout.
	TimedOut bool `json:"timed_out"`
}

// Task returns the outcome recorded for path.
func (r *Result) Task(path string) (TaskResult, bool) {
	for _, task := range r.Tasks {
		if task.Path == path {
			return task, true
		}
	}
	return TaskResult{}, false
}

// Succeeded reports whether the process exited cleanly.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// taskLinePattern matches plain console task headers, e.g.
// "> Task :testDebugUnitTest UP-TO-DATE".
var taskLinePattern = regexp.MustCompile(`^> Task (:\S*)(?: (UP-TO-DATE|SKIPPED|NO-SOURCE|FROM-CACHE|FAILED))?\s*$`)

// ParseTasks extracts task outcomes from plain console output in order of
// appearance. A task reported more than once keeps its last outcome.
func ParseTasks(output string) []TaskResult {
	var tasks []TaskResult
	index := make(map[string]int)

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := taskLinePattern.FindStringSubmatch(strings.TrimRight(scanner.Text(), "\r"))
		if m == nil {
			continue
		}
		outcome := outcomeFromLabel(m[2])
		if i, seen := index[m[1]]; seen {
			tasks[i].Outcome = outcome
			continue
		}
		index[m[1]] = len(tasks)
		tasks = append(tasks, TaskResult{Path: m[1], Outcome: outcome})
	}
	return tasks
}

func outcomeFromLabel(label string) Outcome {
	switch label {
	case "":
		return Success
	case "FAILED":
		return Failed
	case "SKIPPED", "NO-SOURCE":
		return Skipped
	default:
		// FROM-CACHE: the outputs came from the build cache, the task did not run.
		return UpToDate
	}
}

// newResult assembles a Result, adding NOT_RUN entries for requested tasks the
// build never reported.
func newResult(output string, exitCode int, requested []string) *Result {
	r := &Result{
		Tasks:    ParseTasks(output),
		Output:   output,
		ExitCode: exitCode,
	}
	for _, path := range requested {
		if _, ok := r.Task(path); !ok {
			r.Tasks = append(r.Tasks, TaskResult{Path: path, Outcome: NotRun})
		}
	}
	return r
}

// timedOutResult reports every requested task as failed.
func timedOutResult(output string, requested []string) *Result {
	r := &Result{Output: output, ExitCode: -1, TimedOut: true}
	for _, path := range requested {
		r.Tasks = append(r.Tasks, TaskResult{Path: path, Outcome: Failed})
	}
	return r
}
