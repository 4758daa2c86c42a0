package gradle

import (
	"context"
	"sync"
)

type fakeExecutor struct {
	mu       sync.Mutex
	commands []Command

	output Output
	err    error

	// block waits for ctx to end before returning.
	block bool
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd Command) (Output, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return Output{Text: f.output.Text, ExitCode: -1}, ctx.Err()
	}
	return f.output, f.err
}

func (f *fakeExecutor) last() Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}
