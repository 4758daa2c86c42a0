package harness

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/gradle"
	"github.com/715d/variantmatrix/pkg/scaffold"
	"github.com/715d/variantmatrix/pkg/variant"
)

// quietLogs discards log output for the duration of t unless tests run with -v.
func quietLogs(t *testing.T) {
	t.Helper()
	if testing.Verbose() {
		return
	}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.DiscardHandler))
	t.Cleanup(func() { slog.SetDefault(prev) })
}

var testEnvironment = scaffold.Environment{
	SDKDir:            "/sdk",
	CompileSDKVersion: DefaultCompileSDKVersion,
	BuildToolsVersion: DefaultBuildToolsVersion,
	MinSDKVersion:     DefaultMinSDKVersion,
	TargetSDKVersion:  DefaultTargetSDKVersion,
	JVMArgs:           DefaultJVMArgs,
}

type memoryRecorder struct {
	mu      sync.Mutex
	runIDs  []string
	results []ScenarioResult
}

func (r *memoryRecorder) RecordScenario(_ context.Context, runID string, res ScenarioResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runIDs = append(r.runIDs, runID)
	r.results = append(r.results, res)
	return nil
}

func newTestHarness(t *testing.T, fake *fakeGradle, modify func(*Options)) *Harness {
	t.Helper()
	quietLogs(t)
	opts := Options{
		Axes: variant.Axes{
			ToolVersions: []string{""},
			Languages:    []variant.Language{variant.Java},
			Flavors:      []string{""},
			BuildTypes:   []string{""},
		},
		Environment: testEnvironment,
		Invoker:     gradle.NewInvoker(gradle.Options{}, fake),
		WorkDir:     t.TempDir(),
		Jobs:        2,
	}
	if modify != nil {
		modify(&opts)
	}
	h, err := New(opts)
	require.NoError(t, err)
	return h
}

func scenariosNamed(t *testing.T, names ...string) []Scenario {
	t.Helper()
	var out []Scenario
	for _, name := range names {
		s, ok := LookupScenario(name)
		require.True(t, ok, name)
		out = append(out, s)
	}
	return out
}

func TestRunFullMatrixPasses(t *testing.T) {
	fake := &fakeGradle{}
	rec := &memoryRecorder{}
	h := newTestHarness(t, fake, func(o *Options) {
		o.Axes = variant.Axes{
			ToolVersions: []string{""},
			Languages:    []variant.Language{variant.Java, variant.Kotlin},
			Flavors:      []string{"", "free"},
			BuildTypes:   []string{"", "debug"},
		}
		o.Jobs = 4
		o.Recorder = rec
	})

	report, err := h.Run(t.Context())
	require.NoError(t, err)
	require.True(t, report.Success, report.Message)
	require.Len(t, report.Results, 12)
	require.Equal(t, "All 12 scenarios passed", report.Message)
	require.Empty(t, report.Failed())

	for _, res := range report.Results {
		require.Equal(t, PhaseDone, res.Phase, "%s %s", res.Scenario, res.Variant)
		require.Empty(t, res.Step)
		require.NoDirExists(t, res.ProjectDir)
	}
	require.Equal(t, map[Phase]int{PhaseDone: 12}, h.PhaseCounts())

	require.Len(t, rec.results, 12)
	for _, id := range rec.runIDs {
		require.Equal(t, report.RunID, id)
	}
}

func TestRunResultsFollowJobOrder(t *testing.T) {
	h := newTestHarness(t, &fakeGradle{}, func(o *Options) {
		o.Axes.Flavors = []string{"", "free", "paid"}
		o.Axes.BuildTypes = []string{"", "debug"}
	})

	jobs := h.Jobs()
	report, err := h.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, report.Results, len(jobs))
	for i, job := range jobs {
		require.Equal(t, job.Scenario.Name, report.Results[i].Scenario)
		require.Equal(t, job.Variant.Key(), report.Results[i].Variant)
	}
}

func TestRunAssertionFailure(t *testing.T) {
	h := newTestHarness(t, &fakeGradle{failClass: "JavaDebugTest"}, func(o *Options) {
		o.Axes.BuildTypes = []string{"debug"}
		o.Scenarios = scenariosNamed(t, "build-type-source-set")
	})

	report, err := h.Run(t.Context())
	require.NoError(t, err)
	require.False(t, report.Success)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	require.Equal(t, PhaseFailed, res.Phase)
	require.Equal(t, StepAssert, res.Step)
	require.Equal(t, 0, res.Invocation)
	require.NotEmpty(t, res.Failures)
	require.Contains(t, res.Output, "JavaDebugTest > test() FAILED")
	require.Contains(t, res.Diagnostic, "Gradle execution failed. Output:")

	require.True(t, strings.HasPrefix(report.Message, "1/1 scenarios failed:"), report.Message)
	require.Contains(t, report.Message, "[build-type-source-set Java/-/-/debug] failed in assert")
	require.Contains(t, report.Message, "task :testDebugUnitTest finished FAILED, expected SUCCESS")

	phase, ok := h.Phase(res.Scenario + "@" + res.Variant)
	require.True(t, ok)
	require.Equal(t, PhaseFailed, phase)
}

func TestRunStopsAtFirstFailedInvocation(t *testing.T) {
	fake := &fakeGradle{failClass: "JavaTest"}
	h := newTestHarness(t, fake, func(o *Options) {
		o.Axes.BuildTypes = []string{"debug"}
		o.Scenarios = scenariosNamed(t, "build-type-source-set")
	})

	report, err := h.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, fake.callCount())
	require.Equal(t, 0, report.Results[0].Invocation)
}

func TestRunInvocationError(t *testing.T) {
	h := newTestHarness(t, &fakeGradle{err: errors.New("exec: \"gradle\": executable file not found in $PATH")}, func(o *Options) {
		o.Scenarios = scenariosNamed(t, "default-source-set")
	})

	report, err := h.Run(t.Context())
	require.NoError(t, err)
	res := report.Results[0]
	require.Equal(t, PhaseFailed, res.Phase)
	require.Equal(t, StepInvoke, res.Step)
	require.Contains(t, res.Diagnostic, "executable file not found")
	require.Contains(t, report.Message, "failed in invoke")
}

func TestRunTimeout(t *testing.T) {
	fake := &fakeGradle{block: true}
	h := newTestHarness(t, fake, func(o *Options) {
		o.Invoker = gradle.NewInvoker(gradle.Options{Timeout: 50 * time.Millisecond}, fake)
		o.Scenarios = scenariosNamed(t, "default-source-set")
	})

	report, err := h.Run(t.Context())
	require.NoError(t, err)
	res := report.Results[0]
	require.Equal(t, PhaseFailed, res.Phase)
	require.Equal(t, StepInvoke, res.Step)
	require.Contains(t, res.Diagnostic, "timed out")
	require.Contains(t, res.Output, "> Task :preBuild")
	require.NoDirExists(t, res.ProjectDir)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	fake := &fakeGradle{}
	h := newTestHarness(t, fake, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	report, err := h.Run(ctx)
	require.NoError(t, err)
	require.False(t, report.Success)
	for _, res := range report.Results {
		require.Equal(t, StepScaffold, res.Step)
	}
	require.Zero(t, fake.callCount())
}

func TestRunKeepProjects(t *testing.T) {
	h := newTestHarness(t, &fakeGradle{}, func(o *Options) {
		o.KeepProjects = true
		o.Scenarios = scenariosNamed(t, "default-source-set")
		o.Axes.Languages = []variant.Language{variant.Kotlin}
	})

	report, err := h.Run(t.Context())
	require.NoError(t, err)
	require.True(t, report.Success, report.Message)

	dir := report.Results[0].ProjectDir
	require.FileExists(t, filepath.Join(dir, scaffold.ManifestFile))
	require.FileExists(t, filepath.Join(dir, "src", "test", "kotlin", "de", "mannodermaus", "app", "KotlinTest.kt"))

	build, err := os.ReadFile(filepath.Join(dir, scaffold.BuildFile))
	require.NoError(t, err)
	require.Contains(t, string(build), `apply plugin: "kotlin-android"`)
	require.Contains(t, string(build), `apply plugin: "de.mannodermaus.android-junit5"`)
	require.Contains(t, string(build), "classpath files(")
	require.NoDirExists(t, filepath.Join(dir, ".variantmatrix"))
}

func TestRunProjectsAreIsolated(t *testing.T) {
	h := newTestHarness(t, &fakeGradle{}, func(o *Options) {
		o.KeepProjects = true
		o.Axes.Languages = []variant.Language{variant.Java, variant.Kotlin}
		o.Axes.Flavors = []string{"", "free"}
		o.Axes.BuildTypes = []string{"", "debug"}
		o.Jobs = 8
	})

	report, err := h.Run(t.Context())
	require.NoError(t, err)
	require.True(t, report.Success, report.Message)

	seen := make(map[string]bool)
	for _, res := range report.Results {
		require.False(t, seen[res.ProjectDir], "shared project dir %s", res.ProjectDir)
		seen[res.ProjectDir] = true
		require.DirExists(t, res.ProjectDir)
	}
}

func TestRunNoApplicableScenario(t *testing.T) {
	h := newTestHarness(t, &fakeGradle{}, func(o *Options) {
		o.Scenarios = scenariosNamed(t, "flavor-inheritance-chain")
	})

	_, err := h.Run(t.Context())
	require.Error(t, err)
	require.True(t, fault.Is(err, fault.Configuration))
}

func TestNew(t *testing.T) {
	base := func() Options {
		return Options{
			Axes: variant.Axes{
				ToolVersions: []string{""},
				Languages:    []variant.Language{variant.Java},
				Flavors:      []string{""},
				BuildTypes:   []string{""},
			},
			Invoker: gradle.NewInvoker(gradle.Options{}, &fakeGradle{}),
		}
	}

	tests := []struct {
		name    string
		modify  func(*Options)
		wantErr string
	}{
		{name: "defaults", modify: func(*Options) {}},
		{name: "no invoker", modify: func(o *Options) { o.Invoker = nil }, wantErr: "no invoker"},
		{name: "empty axis", modify: func(o *Options) { o.Axes.Flavors = nil }, wantErr: `axis "flavors" has no values`},
		{
			name:    "flavor named like build type",
			modify:  func(o *Options) { o.Axes.Flavors = []string{"release"} },
			wantErr: "collides",
		},
		{
			name: "duplicate scenario",
			modify: func(o *Options) {
				s, _ := LookupScenario("default-source-set")
				o.Scenarios = []Scenario{s, s}
			},
			wantErr: "listed twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base()
			tt.modify(&opts)
			h, err := New(opts)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				require.True(t, fault.Is(err, fault.Configuration))
				return
			}
			require.NoError(t, err)
			require.Len(t, h.opts.Scenarios, len(Scenarios()))
			require.Positive(t, h.opts.Jobs)
		})
	}
}

func TestJobs(t *testing.T) {
	h := newTestHarness(t, &fakeGradle{}, func(o *Options) {
		o.Axes = variant.Axes{
			ToolVersions: []string{"4.7", "5.0"},
			Languages:    []variant.Language{variant.Java, variant.Kotlin},
			Flavors:      []string{"", "free"},
			BuildTypes:   []string{"", "debug"},
		}
	})

	jobs := h.Jobs()
	// Five source set scenarios per version and language, two Java-only option
	// scenarios per version.
	require.Len(t, jobs, 2*2*5+2*2)

	ids := make(map[string]bool)
	for i, job := range jobs {
		require.Equal(t, i, job.Index)
		require.False(t, ids[job.ID()], job.ID())
		ids[job.ID()] = true
	}
	require.True(t, ids["flavor-inheritance-chain@Kotlin/5.0/free/debug"])
	require.False(t, ids["return-default-values@Kotlin/4.7/-/-"])
}
