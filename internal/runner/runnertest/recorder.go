// Package runnertest provides a recording runner.Runner for tests.
package runnertest

import (
	"context"
	"sync"

	"github.com/kitchen-metal/metalctl/internal/runner"
)

// Recorder records every command it is asked to run. When Handler is set it
// decides the outcome and may write to the command's Stdout/Stderr.
type Recorder struct {
	Handler func(cmd runner.Command) error

	mu       sync.Mutex
	commands []runner.Command
}

// Run records cmd and delegates to Handler.
func (r *Recorder) Run(_ context.Context, cmd runner.Command) error {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	handler := r.Handler
	r.mu.Unlock()

	if handler == nil {
		return nil
	}
	return handler(cmd)
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []runner.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runner.Command, len(r.commands))
	copy(out, r.commands)
	return out
}
