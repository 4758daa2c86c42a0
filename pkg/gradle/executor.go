package gradle

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Command is a process to launch.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Output is what a finished process left behind.
type Output struct {
	Text     string
	ExitCode int
}

// Executor runs a command to completion. A non-zero exit is not an error;
// errors mean the process could not start or was stopped through ctx.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (Output, error)
}

// ProcessExecutor runs commands as local child processes. When ctx ends the
// whole process group is killed so forked build daemons do not outlive it.
type ProcessExecutor struct {
	// WaitDelay bounds how long to wait for output pipes after the kill.
	WaitDelay time.Duration
}

func (e ProcessExecutor) Execute(ctx context.Context, c Command) (Output, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	killProcessGroup(cmd)
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 10 * time.Second
	}

	err := cmd.Run()
	result := Output{Text: out.String()}
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, err
}
