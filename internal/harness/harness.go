// Package harness runs scenarios across the variant matrix and aggregates
// their outcomes into one report.
package harness

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/715d/variantmatrix/pkg/expect"
	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/gradle"
	"github.com/715d/variantmatrix/pkg/scaffold"
	"github.com/715d/variantmatrix/pkg/variant"
)

// Invoker runs a build against a project. *gradle.Invoker implements it.
type Invoker interface {
	Run(ctx context.Context, project *scaffold.Project, tasks []string, version string) (*gradle.Result, error)
}

// Recorder persists scenario results as they complete.
type Recorder interface {
	RecordScenario(ctx context.Context, runID string, r ScenarioResult) error
}

// Steps a scenario can fail in.
const (
	StepScaffold  = "scaffold"
	StepConfigure = "configure"
	StepInvoke    = "invoke"
	StepAssert    = "assert"
)

// Options configure a Harness. Everything in it is treated as read-only once
// the harness is created.
type Options struct {
	Axes        variant.Axes
	Scenarios   []Scenario
	Environment scaffold.Environment
	Invoker     Invoker

	// WorkDir receives one directory per run. Empty uses a temp dir.
	WorkDir string

	// Jobs bounds how many scenarios run at once. Defaults to NumCPU.
	Jobs int

	// KeepProjects leaves project trees on disk.
	KeepProjects bool

	// Recorder is optional.
	Recorder Recorder
}

// Harness runs scenarios across a variant matrix.
type Harness struct {
	opts       Options
	variants   []variant.Variant
	buildTypes []string
	resolver   *variant.Resolver
	phases     *phaseTable
}

// New validates opts and returns a Harness. All errors are configuration errors.
func New(opts Options) (*Harness, error) {
	if opts.Invoker == nil {
		return nil, fault.Newf(fault.Configuration, "new harness", "no invoker")
	}
	if len(opts.Scenarios) == 0 {
		opts.Scenarios = Scenarios()
	}
	names := make(map[string]struct{}, len(opts.Scenarios))
	for _, s := range opts.Scenarios {
		if s.Name == "" || s.Plan == nil {
			return nil, fault.Newf(fault.Configuration, "new harness", "scenario %q is incomplete", s.Name)
		}
		if _, dup := names[s.Name]; dup {
			return nil, fault.Newf(fault.Configuration, "new harness", "scenario %q listed twice", s.Name)
		}
		names[s.Name] = struct{}{}
	}
	if opts.Jobs <= 0 {
		opts.Jobs = runtime.NumCPU()
	}

	variants, err := opts.Axes.CrossProduct()
	if err != nil {
		return nil, err
	}

	// Scenarios declare sources for the variant's own flavor and every host
	// build type, each optionally unqualified.
	buildTypes := hostBuildTypes(opts.Axes.BuildTypes)
	if err := variant.CheckNames(withEmpty(opts.Axes.Flavors), withEmpty(buildTypes)); err != nil {
		return nil, err
	}

	return &Harness{
		opts:       opts,
		variants:   variants,
		buildTypes: buildTypes,
		resolver:   variant.NewResolver(),
		phases:     newPhaseTable(),
	}, nil
}

func withEmpty(values []string) []string {
	out := []string{""}
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Job is one scenario run against one variant.
type Job struct {
	Index    int
	Scenario Scenario
	Variant  variant.Variant
}

// ID identifies the job within a run.
func (j Job) ID() string {
	return j.Scenario.Name + "@" + j.Variant.Key()
}

func (j Job) dirName() string {
	slug := strings.NewReplacer("/", "_", " ", "_").Replace(j.Variant.Key())
	return fmt.Sprintf("%03d-%s-%s", j.Index, j.Scenario.Name, slug)
}

// Jobs lists every scenario and variant pair that will run, scenario-major.
func (h *Harness) Jobs() []Job {
	var jobs []Job
	for _, s := range h.opts.Scenarios {
		for _, v := range h.variants {
			if s.applies(v) {
				jobs = append(jobs, Job{Index: len(jobs), Scenario: s, Variant: v})
			}
		}
	}
	return jobs
}

// Phase returns the current phase of a job of the active or last run.
func (h *Harness) Phase(jobID string) (Phase, bool) {
	return h.phases.get(jobID)
}

// PhaseCounts returns how many jobs are in each phase.
func (h *Harness) PhaseCounts() map[Phase]int {
	return h.phases.counts()
}

// ScenarioResult is the outcome of one job.
type ScenarioResult struct {
	Scenario string `json:"scenario"`
	Variant  string `json:"variant"`

	// Phase is DONE or FAILED.
	Phase Phase `json:"phase"`

	// Step names where a failed scenario stopped.
	Step string `json:"step,omitempty"`

	// Invocation is the index of the failing build, -1 if none ran.
	Invocation int `json:"invocation"`

	Diagnostic string           `json:"diagnostic,omitempty"`
	Failures   []expect.Failure `json:"failures,omitempty"`
	Output     string           `json:"output,omitempty"`
	Duration   time.Duration    `json:"duration"`
	ProjectDir string           `json:"project_dir"`
}

// Passed reports whether the scenario reached DONE.
func (r ScenarioResult) Passed() bool {
	return r.Phase == PhaseDone
}

// Report is the aggregated outcome of a run.
type Report struct {
	RunID    string           `json:"run_id"`
	Results  []ScenarioResult `json:"results"`
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Duration time.Duration    `json:"duration"`
}

// Failed returns the results of failed scenarios.
func (r *Report) Failed() []ScenarioResult {
	var failed []ScenarioResult
	for _, res := range r.Results {
		if !res.Passed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Run executes every job. Scenario failures are part of the report; the
// error is reserved for problems that prevent the run from starting.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	jobs := h.Jobs()
	if len(jobs) == 0 {
		return nil, fault.Newf(fault.Configuration, "run", "no scenario applies to the configured matrix")
	}

	runID, err := newRunID()
	if err != nil {
		return nil, err
	}

	workDir := h.opts.WorkDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "variantmatrix-")
		if err != nil {
			return nil, fault.New(fault.Configuration, "run", err)
		}
		if !h.opts.KeepProjects {
			defer os.RemoveAll(workDir)
		}
	}
	runDir := filepath.Join(workDir, runID)

	slog.Info("starting run", "run", runID, "jobs", len(jobs), "workers", h.opts.Jobs, "dir", runDir)

	results := make([]ScenarioResult, len(jobs))
	var wg errgroup.Group
	wg.SetLimit(h.opts.Jobs)
	for idx, job := range jobs {
		wg.Go(func() error {
			results[idx] = h.runScenario(ctx, runID, filepath.Join(runDir, job.dirName()), job)
			return nil
		})
	}
	_ = wg.Wait()
	if !h.opts.KeepProjects {
		// Only succeeds once every project is gone.
		_ = os.Remove(runDir)
	}

	report := newReport(runID, results)
	report.Duration = time.Since(start)
	slog.Info("run completed", "run", runID, "success", report.Success, "dur", report.Duration)
	return report, nil
}

func newReport(runID string, results []ScenarioResult) *Report {
	report := &Report{RunID: runID, Results: results}
	failed := report.Failed()
	report.Success = len(failed) == 0
	if report.Success {
		report.Message = fmt.Sprintf("All %d scenarios passed", len(results))
		return report
	}

	var msgs []string
	for _, r := range failed {
		msgs = append(msgs, fmt.Sprintf("[%s %s] failed in %s:\n%s", r.Scenario, r.Variant, r.Step, indent(r.Diagnostic)))
	}
	report.Message = fmt.Sprintf("%d/%d scenarios failed:\n%s", len(failed), len(results), strings.Join(msgs, "\n"))
	return report
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "  " + l
		}
	}
	return strings.Join(lines, "\n")
}

// runScenario drives one job through its phases. It never returns an error;
// every failure ends up in the result.
func (h *Harness) runScenario(ctx context.Context, runID, root string, job Job) (res ScenarioResult) {
	start := time.Now()
	id := job.ID()
	h.phases.start(id)

	res = ScenarioResult{
		Scenario:   job.Scenario.Name,
		Variant:    job.Variant.Key(),
		Invocation: -1,
		ProjectDir: root,
	}

	defer func() {
		res.Duration = time.Since(start)
		if !h.opts.KeepProjects {
			if err := os.RemoveAll(root); err != nil {
				slog.Warn("failed to remove project", "dir", root, "err", err)
			}
		}
		if h.opts.Recorder != nil {
			if err := h.opts.Recorder.RecordScenario(context.WithoutCancel(ctx), runID, res); err != nil {
				slog.Warn("failed to record scenario", "scenario", id, "err", err)
			}
		}
		slog.Info("scenario finished", "scenario", res.Scenario, "variant", res.Variant, "phase", res.Phase, "step", res.Step, "dur", res.Duration)
	}()

	fail := func(step string, err error, output string) ScenarioResult {
		h.advance(id, PhaseFailed)
		res.Phase = PhaseFailed
		res.Step = step
		res.Diagnostic = err.Error()
		res.Output = output
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(StepScaffold, err, "")
	}

	project := scaffold.New(root, h.opts.Environment, h.resolver)
	if err := project.Initialize(); err != nil {
		return fail(StepScaffold, err, "")
	}
	if err := project.WriteManifest(project.Environment().Package); err != nil {
		return fail(StepScaffold, err, "")
	}
	h.advance(id, PhaseScaffolded)

	plan := job.Scenario.Plan(Setup{Variant: job.Variant, BuildTypes: h.buildTypes})
	if len(plan.Invocations) == 0 {
		return fail(StepConfigure, errors.New("scenario plans no build invocation"), "")
	}
	for _, decl := range plan.Declarations {
		if err := project.Apply(decl); err != nil {
			return fail(StepConfigure, err, "")
		}
		h.advance(id, PhaseConfigured)
	}

	for i, inv := range plan.Invocations {
		res.Invocation = i
		slog.Debug("invoking", "scenario", id, "invocation", i, "tasks", inv.Tasks)
		result, err := h.opts.Invoker.Run(ctx, project, inv.Tasks, job.Variant.ToolVersion)
		if err != nil {
			var output string
			if result != nil {
				output = result.Output
			}
			return fail(StepInvoke, fmt.Errorf("tasks %s: %w", strings.Join(inv.Tasks, " "), err), output)
		}
		h.advance(id, PhaseInvoked)

		verdict := expect.Evaluate(result, inv.Expect...)
		h.advance(id, PhaseAsserted)
		if !verdict.Passed {
			res.Failures = verdict.Failures
			return fail(StepAssert, verdict.Err(), result.Output)
		}
	}

	h.advance(id, PhaseDone)
	res.Phase = PhaseDone
	res.Invocation = -1
	return res
}

func (h *Harness) advance(id string, next Phase) {
	if err := h.phases.advance(id, next); err != nil {
		slog.Error("phase tracking", "err", err)
	}
}

func newRunID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}
	return time.Now().UTC().Format("20060102T150405Z") + "-" + hex.EncodeToString(b), nil
}
