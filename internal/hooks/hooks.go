// Package hooks runs the user-supplied shell commands that bracket lifecycle verbs.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kitchen-metal/metalctl/internal/env"
	"github.com/kitchen-metal/metalctl/internal/logging"
	"github.com/kitchen-metal/metalctl/internal/runner"
)

const defaultShell = "sh"

// Options configures an Executor.
type Options struct {
	// Dir is the working directory for hook commands (the kitchen root).
	Dir string
	// DryRun echoes commands instead of executing them.
	DryRun bool
	// Env holds extra variables exported to hook commands.
	Env env.Vars
	// Shell overrides the interpreter used for commands; defaults to sh.
	Shell string
}

// Executor runs hook commands through a shell.
type Executor struct {
	runner runner.Runner
	logger *slog.Logger
	opts   Options
}

// NewExecutor constructs a new Executor. A nil runner selects os/exec.
func NewExecutor(r runner.Runner, logger *slog.Logger, opts Options) *Executor {
	if r == nil {
		r = runner.NewExec()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if strings.TrimSpace(opts.Shell) == "" {
		opts.Shell = defaultShell
	}
	return &Executor{runner: r, logger: logger, opts: opts}
}

// Run executes command in the configured directory. An empty command is a no-op.
// In dry-run mode the command text is echoed rather than executed.
func (e *Executor) Run(ctx context.Context, name, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	out := logging.NewWriter(e.logger, name)
	defer out.Flush()

	cmd := runner.Command{
		Name:   e.opts.Shell,
		Args:   []string{"-c", command},
		Dir:    e.opts.Dir,
		Env:    e.opts.Env,
		Stdout: out,
		Stderr: out,
	}
	if e.opts.DryRun {
		cmd.Name = "echo"
		cmd.Args = []string{command}
	}

	e.logger.Info("running hook", "hook", name, "command", command, "dir", e.opts.Dir, "dryRun", e.opts.DryRun)
	if err := e.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("hook %s: %w", name, err)
	}
	return nil
}
