// Package expect evaluates declarative expectations against a build result.
package expect

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/gradle"
	"github.com/715d/variantmatrix/pkg/variant"
)

// Expectation is a named predicate over a build result. Check returns an empty
// string when the expectation holds and a description of the mismatch otherwise.
type Expectation struct {
	Name  string
	Check func(r *gradle.Result) string
}

// TaskSucceeded expects the task to have run and not failed. UP-TO-DATE and
// SKIPPED tasks do not count.
func TaskSucceeded(task string) Expectation {
	return TaskOutcome(task, gradle.Success)
}

// TaskOutcome expects the task to have finished with exactly want.
func TaskOutcome(task string, want gradle.Outcome) Expectation {
	path := variant.TaskPath(task)
	return Expectation{
		Name: fmt.Sprintf("task %s is %s", path, want),
		Check: func(r *gradle.Result) string {
			got, ok := r.Task(path)
			if !ok {
				if want == gradle.NotRun {
					return ""
				}
				return fmt.Sprintf("task %s was not part of the build, expected %s", path, want)
			}
			if got.Outcome != want {
				return fmt.Sprintf("task %s finished %s, expected %s", path, got.Outcome, want)
			}
			return ""
		},
	}
}

// TestExecuted expects className to have passed in exactly times test tasks.
// A class counts once per task however many test methods it declares.
func TestExecuted(className string, times int) Expectation {
	return Expectation{
		Name: fmt.Sprintf("test class %s passed %d time(s)", className, times),
		Check: func(r *gradle.Result) string {
			passed, failed := CountTests(r.Output, className)
			if passed == times {
				return ""
			}
			msg := fmt.Sprintf("test class %s passed %d time(s), expected %d", className, passed, times)
			if failed > 0 {
				msg += fmt.Sprintf(" (%d failed)", failed)
			}
			return msg
		},
	}
}

var (
	// taskHeaderPattern starts a new task section, e.g. "> Task :testDebugUnitTest".
	taskHeaderPattern = regexp.MustCompile(`^> Task :`)

	// testEventPattern matches test event lines, e.g.
	// "de.mannodermaus.app.JavaTest > test() PASSED". Group 1 is the simple
	// class name.
	testEventPattern = regexp.MustCompile(`^\s*(?:[\w$]+\.)*([\w$]+) > .+ (PASSED|FAILED)\s*$`)
)

// CountTests counts the task sections of console output in which className
// ran. A section where every event of the class passed counts as passed, one
// with any failed event counts as failed. Events before the first task header
// form their own section.
func CountTests(output, className string) (passed, failed int) {
	var seen, sectionFailed bool
	closeSection := func() {
		switch {
		case !seen:
		case sectionFailed:
			failed++
		default:
			passed++
		}
		seen, sectionFailed = false, false
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if taskHeaderPattern.MatchString(line) {
			closeSection()
			continue
		}
		m := testEventPattern.FindStringSubmatch(line)
		if m == nil || m[1] != className {
			continue
		}
		seen = true
		if m[2] == "FAILED" {
			sectionFailed = true
		}
	}
	closeSection()
	return passed, failed
}

// Failure is one unmet expectation.
type Failure struct {
	Expectation string `json:"expectation"`
	Message     string `json:"message"`
}

// Verdict is the joint outcome of evaluating a list of expectations.
type Verdict struct {
	Passed   bool      `json:"passed"`
	Total    int       `json:"total"`
	Failures []Failure `json:"failures,omitempty"`

	output string
}

// Evaluate checks every expectation, including those after a failure. It does
// not modify r, so evaluating the same result twice gives the same verdict.
func Evaluate(r *gradle.Result, expectations ...Expectation) Verdict {
	v := Verdict{Total: len(expectations)}
	if r != nil {
		v.output = r.Output
	}
	for _, exp := range expectations {
		var msg string
		if r == nil {
			msg = "no build result"
		} else {
			msg = exp.Check(r)
		}
		if msg != "" {
			v.Failures = append(v.Failures, Failure{Expectation: exp.Name, Message: msg})
		}
	}
	v.Passed = len(v.Failures) == 0
	return v
}

// Report renders the captured output followed by every failure.
func (v Verdict) Report() string {
	if v.Passed {
		return fmt.Sprintf("All %d expectations met", v.Total)
	}
	var b strings.Builder
	b.WriteString("Gradle execution failed. Output:\n")
	b.WriteString(v.output)
	if !strings.HasSuffix(v.output, "\n") {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%d/%d expectations failed:\n", len(v.Failures), v.Total)
	for _, f := range v.Failures {
		fmt.Fprintf(&b, "  - %s\n", f.Message)
	}
	return b.String()
}

// Err returns an assertion fault carrying the report, or nil when all
// expectations held.
func (v Verdict) Err() error {
	if v.Passed {
		return nil
	}
	return fault.New(fault.Assertion, "evaluate", fmt.Errorf("%s", v.Report()))
}
