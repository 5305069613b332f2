package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kitchen-metal/metalctl/internal/env"
	"github.com/kitchen-metal/metalctl/internal/logging"
	"github.com/kitchen-metal/metalctl/internal/runner"
)

// ErrAlreadyConverged is returned when Execute or Converge is called on a finished run.
var ErrAlreadyConverged = errors.New("run already converged")

// CommandOptions configures a CommandEngine.
type CommandOptions struct {
	// Command is the engine executable.
	Command string
	// Args are passed before any engine-specific input.
	Args []string
	// Dir is the working directory for the engine process.
	Dir string
	// Env holds extra variables for the engine process.
	Env env.Vars
}

// CommandEngine converges by running an external engine binary. The binary
// receives the run options and scripts as JSON on stdin and reports the
// converged resources as JSON on stdout.
type CommandEngine struct {
	runner runner.Runner
	logger *slog.Logger
	opts   CommandOptions
}

// NewCommandEngine constructs a CommandEngine. A nil runner selects os/exec.
func NewCommandEngine(r runner.Runner, logger *slog.Logger, opts CommandOptions) (*CommandEngine, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, fmt.Errorf("engine command is empty")
	}
	if r == nil {
		r = runner.NewExec()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &CommandEngine{runner: r, logger: logger, opts: opts}, nil
}

// Begin starts a new run with the given options.
func (e *CommandEngine) Begin(opts RunOptions) (Run, error) {
	return &commandRun{engine: e, opts: opts}, nil
}

type commandRun struct {
	engine    *CommandEngine
	opts      RunOptions
	scripts   []Script
	converged bool
}

// Execute queues script; the engine evaluates queued scripts in order on Converge.
func (r *commandRun) Execute(_ context.Context, script Script) error {
	if r.converged {
		return ErrAlreadyConverged
	}
	r.scripts = append(r.scripts, script)
	r.engine.logger.Debug("script queued", "script", script.Name, "bytes", len(script.Content))
	return nil
}

// Converge invokes the engine binary once and decodes its resource report.
func (r *commandRun) Converge(ctx context.Context) ([]Resource, error) {
	if r.converged {
		return nil, ErrAlreadyConverged
	}
	r.converged = true

	req := wireRequest{Run: toWireOptions(r.opts)}
	for _, s := range r.scripts {
		req.Scripts = append(req.Scripts, wireScript{Name: s.Name, Content: string(s.Content)})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode engine request: %w", err)
	}

	stderr := logging.NewWriter(r.engine.logger, "engine")
	defer stderr.Flush()

	var stdout bytes.Buffer
	cmd := runner.Command{
		Name:   r.engine.opts.Command,
		Args:   r.engine.opts.Args,
		Dir:    r.engine.opts.Dir,
		Env:    r.engine.opts.Env,
		Stdin:  payload,
		Stdout: &stdout,
		Stderr: stderr,
	}
	r.engine.logger.Info("running convergence engine", "command", cmd.String(), "scripts", len(r.scripts), "localMode", r.opts.LocalMode)
	if err := r.engine.runner.Run(ctx, cmd); err != nil {
		return nil, fmt.Errorf("converge: %w", err)
	}

	var resp wireResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return fromWireResources(resp.Resources), nil
}
