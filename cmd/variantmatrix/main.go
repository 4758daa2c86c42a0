// Package main implements the CLI driver for the variant matrix harness.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/variantmatrix/internal/harness"
	"github.com/715d/variantmatrix/internal/ledger"
	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/gradle"
)

// Config holds the command-line options. Non-zero values override the
// configuration file.
type Config struct {
	File      string        // path of the YAML configuration
	Verbose   bool          // enables debug logging and per-scenario output
	JSON      bool          // enables JSON output format
	Profile   bool          // enables CPU and memory profiling
	Jobs      int           // concurrent scenarios
	Timeout   time.Duration // per-invocation build timeout
	Scenarios []string      // scenario names to run
	Tags      []string      // scenario tags to run
	Keep      bool          // keep project trees on disk
	WorkDir   string        // where project trees are created
	Ledger    string        // sqlite history database

	History int    // list: number of past runs to show
	RunID   string // list: run whose entries to show
}

const (
	exitScenariosFailed = 1
	exitError           = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	var rootCmd = &cobra.Command{
		Use:   "variantmatrix",
		Short: "Verify the Android JUnit 5 plugin across a build variant matrix",
		Long: `variantmatrix generates a throwaway Android project for every scenario and
variant of the configured matrix, runs the build against it and checks the
reported task outcomes and test executions.

The matrix spans languages, Gradle versions, product flavors and build types.
Exit status is 1 when a scenario fails and 2 when the run could not start.`,
		Example: `  variantmatrix -c variantmatrix.yaml            # Run every scenario
  variantmatrix --tag flavors -j 4                # Flavor scenarios, 4 at a time
  variantmatrix --scenario default-source-set -v  # One scenario, verbose
  variantmatrix --json > report.json              # JSON report
  variantmatrix list                              # Show what would run
  variantmatrix list --history 10                 # Recent runs from the ledger`,
		Args:               cobra.NoArgs,
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("variantmatrix version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	rootCmd.PersistentFlags().StringVarP(&cfg.File, "config", "c", "variantmatrix.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	rootCmd.PersistentFlags().StringSliceVar(&cfg.Scenarios, "scenario", nil, "Only run scenarios with these names")
	rootCmd.PersistentFlags().StringSliceVar(&cfg.Tags, "tag", nil, "Only run scenarios carrying one of these tags")
	rootCmd.PersistentFlags().StringVar(&cfg.Ledger, "ledger", "", "Record results in this sqlite database")
	rootCmd.Flags().IntVarP(&cfg.Jobs, "jobs", "j", 0, "Number of scenarios to run concurrently (default: configuration or CPU count)")
	rootCmd.Flags().DurationVar(&cfg.Timeout, "timeout", 0, "Timeout of a single build invocation")
	rootCmd.Flags().BoolVar(&cfg.Keep, "keep", false, "Keep generated projects on disk")
	rootCmd.Flags().StringVar(&cfg.WorkDir, "work-dir", "", "Directory receiving generated projects")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the scenarios and variants a run would execute, or past runs",
		Args:  cobra.NoArgs,
		RunE:  listCommand,
	}
	listCmd.Flags().IntVar(&cfg.History, "history", 0, "Show this many past runs from the ledger")
	listCmd.Flags().StringVar(&cfg.RunID, "run", "", "Show the recorded scenarios of a past run")
	rootCmd.AddCommand(listCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig() (*harness.Config, error) {
	c, err := harness.LoadConfig(cfg.File)
	if err != nil {
		return nil, err
	}
	if cfg.Jobs > 0 {
		c.Jobs = cfg.Jobs
	}
	if cfg.Timeout > 0 {
		c.Gradle.Timeout = cfg.Timeout
	}
	if cfg.Keep {
		c.KeepProjects = true
	}
	if cfg.WorkDir != "" {
		c.WorkDir = cfg.WorkDir
	}
	if cfg.Ledger != "" {
		c.Ledger = cfg.Ledger
	}
	return c, nil
}

// newHarness wires a harness from configuration. The returned closer
// releases the ledger, if any.
func newHarness(c *harness.Config, executor gradle.Executor) (*harness.Harness, func(), error) {
	scenarios, err := harness.SelectScenarios(slices.Concat(c.Scenarios, cfg.Scenarios), cfg.Tags)
	if err != nil {
		return nil, nil, err
	}
	axes, err := c.Axes()
	if err != nil {
		return nil, nil, err
	}
	classpath, err := harness.LoadClasspath(c)
	if err != nil {
		return nil, nil, err
	}
	invokerOpts, err := c.InvokerOptions()
	if err != nil {
		return nil, nil, err
	}

	opts := harness.Options{
		Axes:         axes,
		Scenarios:    scenarios,
		Environment:  c.ScaffoldEnvironment(classpath),
		Invoker:      gradle.NewInvoker(invokerOpts, executor),
		WorkDir:      c.WorkDir,
		Jobs:         c.Jobs,
		KeepProjects: c.KeepProjects,
	}

	closer := func() {}
	if c.Ledger != "" {
		l, err := ledger.Open(c.Ledger)
		if err != nil {
			return nil, nil, fault.New(fault.Configuration, "open ledger", err)
		}
		opts.Recorder = l
		closer = func() { l.Close() }
	}

	h, err := harness.New(opts)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return h, closer, nil
}

func runCommand(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig()
	if err != nil {
		return errWithCode(err, exitError)
	}
	h, closeHarness, err := newHarness(c, nil)
	if err != nil {
		return errWithCode(err, exitError)
	}
	defer closeHarness()

	slog.Info("starting variant matrix", "config", cfg.File, "jobs", c.Jobs)
	report, err := h.Run(cmd.Context())
	if err != nil {
		return errWithCode(fmt.Errorf("run: %w", err), exitError)
	}

	if err := writeReport(cmd.OutOrStdout(), report); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}
	if !report.Success {
		return errWithCode(nil, exitScenariosFailed)
	}
	return nil
}

func writeReport(w io.Writer, report *harness.Report) error {
	if cfg.JSON {
		data, err := json.MarshalIndent(jOutput{
			RunID:     report.RunID,
			Success:   report.Success,
			Message:   report.Message,
			Results:   report.Results,
			Duration:  report.Duration,
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling json output: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var output strings.Builder
	if cfg.Verbose {
		tw := tabwriter.NewWriter(&output, 0, 4, 2, ' ', 0)
		for _, r := range report.Results {
			status := "PASS"
			if !r.Passed() {
				status = "FAIL"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", status, r.Scenario, r.Variant, r.Duration.Round(time.Millisecond))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	output.WriteString(report.Message)
	output.WriteString("\n")
	_, err := io.WriteString(w, output.String())
	return err
}

type jOutput struct {
	RunID     string                   `json:"run_id"`
	Success   bool                     `json:"success"`
	Message   string                   `json:"message"`
	Results   []harness.ScenarioResult `json:"results"`
	Duration  time.Duration            `json:"duration"`
	Version   string                   `json:"version"`
	Timestamp string                   `json:"timestamp"`
}

func listCommand(cmd *cobra.Command, _ []string) error {
	if cfg.History > 0 || cfg.RunID != "" {
		return listHistory(cmd.Context(), cmd.OutOrStdout())
	}

	c, err := loadConfig()
	if err != nil {
		return errWithCode(err, exitError)
	}
	scenarios, err := harness.SelectScenarios(slices.Concat(c.Scenarios, cfg.Scenarios), cfg.Tags)
	if err != nil {
		return errWithCode(err, exitError)
	}
	axes, err := c.Axes()
	if err != nil {
		return errWithCode(err, exitError)
	}
	// Listing never builds, so the invoker needs no executable.
	h, err := harness.New(harness.Options{
		Axes:      axes,
		Scenarios: scenarios,
		Invoker:   gradle.NewInvoker(gradle.Options{}, nil),
	})
	if err != nil {
		return errWithCode(err, exitError)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, job := range h.Jobs() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", job.Scenario.Name, job.Variant.Key(), job.Scenario.Description)
	}
	fmt.Fprintf(tw, "%d scenario runs over %d variants\n", len(h.Jobs()), axes.Size())
	return tw.Flush()
}

func listHistory(ctx context.Context, w io.Writer) error {
	path := cfg.Ledger
	if path == "" {
		c, err := harness.LoadConfig(cfg.File)
		if err != nil {
			return errWithCode(err, exitError)
		}
		path = c.Ledger
	}
	if path == "" {
		return errWithCode(errors.New("no ledger configured"), exitError)
	}

	l, err := ledger.Open(path)
	if err != nil {
		return errWithCode(err, exitError)
	}
	defer l.Close()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if cfg.RunID != "" {
		entries, err := l.Entries(ctx, cfg.RunID)
		if err != nil {
			return errWithCode(err, exitError)
		}
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Phase, e.Scenario, e.Variant, e.Step, e.Duration)
		}
		return tw.Flush()
	}

	runs, err := l.History(ctx, cfg.History)
	if err != nil {
		return errWithCode(err, exitError)
	}
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d failed\t%s\n", r.RunID, r.Started.Local().Format(time.DateTime), r.Failed, r.Total, r.Finished.Sub(r.Started).Round(time.Second))
	}
	return tw.Flush()
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e codedError) Unwrap() error {
	return e.err
}
