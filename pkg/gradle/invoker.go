// Package gradle launches the host build against a scaffolded project and
// captures what it did.
package gradle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/715d/variantmatrix/pkg/fault"
	"github.com/715d/variantmatrix/pkg/scaffold"
	"github.com/715d/variantmatrix/pkg/variant"
)

// Options configure how builds are launched.
type Options struct {
	// Executable runs the build when no version is pinned. Defaults to "gradle".
	Executable string

	// Distributions maps a pinned version to its executable.
	Distributions map[string]string

	// DistributionsDir holds unpacked distributions as gradle-<version>/bin/gradle.
	// Used for versions missing from Distributions.
	DistributionsDir string

	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration

	// ExtraArgs are passed before the task names.
	ExtraArgs []string

	// Daemon keeps the build daemon enabled.
	Daemon bool

	// Online allows the build to reach the network.
	Online bool

	// Env holds KEY=VALUE overrides on top of the inherited environment.
	Env []string
}

// Invoker runs builds. It is safe for concurrent use on distinct projects.
type Invoker struct {
	opts     Options
	executor Executor
}

// NewInvoker returns an Invoker. A nil executor launches real processes.
func NewInvoker(opts Options, executor Executor) *Invoker {
	if opts.Executable == "" {
		opts.Executable = "gradle"
	}
	if executor == nil {
		executor = ProcessExecutor{}
	}
	return &Invoker{opts: opts, executor: executor}
}

// Run builds tasks in project, pinning version when it is not empty. A build
// that fails is returned as a Result. Errors are reserved for builds that
// could not start or ran past the timeout; a timeout returns both.
func (i *Invoker) Run(ctx context.Context, project *scaffold.Project, tasks []string, version string) (*Result, error) {
	if len(tasks) == 0 {
		tasks = []string{"build"}
	}
	requested := make([]string, len(tasks))
	for idx, task := range tasks {
		requested[idx] = variant.TaskPath(task)
	}

	executable, err := i.executableFor(version)
	if err != nil {
		return nil, fault.New(fault.Invocation, "run", err)
	}

	cmd := Command{
		Path: executable,
		Args: i.args(tasks),
		Dir:  project.Root,
		Env:  i.env(),
	}

	runCtx := ctx
	if i.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.opts.Timeout)
		defer cancel()
	}

	slog.Debug("invoking build", "dir", project.Root, "executable", executable, "tasks", tasks, "version", version)
	start := time.Now()
	out, err := i.executor.Execute(runCtx, cmd)
	dur := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			slog.Warn("build timed out", "dir", project.Root, "tasks", tasks, "dur", dur)
			return timedOutResult(out.Text, requested),
				fault.Newf(fault.Invocation, "run", "build of %s timed out after %s", strings.Join(tasks, " "), i.opts.Timeout)
		}
		return nil, fault.New(fault.Invocation, "run", fmt.Errorf("%s: %w", executable, err))
	}

	slog.Debug("build finished", "dir", project.Root, "exit", out.ExitCode, "dur", dur)
	return newResult(out.Text, out.ExitCode, requested), nil
}

func (i *Invoker) executableFor(version string) (string, error) {
	if version == "" {
		return i.opts.Executable, nil
	}
	if path, ok := i.opts.Distributions[version]; ok {
		return path, nil
	}
	if i.opts.DistributionsDir != "" {
		path := filepath.Join(i.opts.DistributionsDir, "gradle-"+version, "bin", "gradle")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("gradle %s: %w", version, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no distribution configured for gradle %s", version)
}

func (i *Invoker) args(tasks []string) []string {
	args := []string{"--console=plain"}
	if !i.opts.Online {
		args = append(args, "--offline")
	}
	if !i.opts.Daemon {
		args = append(args, "--no-daemon")
	}
	args = append(args, i.opts.ExtraArgs...)
	return append(args, tasks...)
}

func (i *Invoker) env() []string {
	env := os.Environ()
	for _, kv := range i.opts.Env {
		key, value, _ := strings.Cut(kv, "=")
		env = updateEnv(env, key, value)
	}
	return env
}

// updateEnv updates or adds an environment variable
func updateEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
