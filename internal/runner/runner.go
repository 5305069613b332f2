// Package runner executes external commands on behalf of hooks, the convergence engine and provisioners.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/kitchen-metal/metalctl/internal/env"
)

// Command describes a single external command invocation.
type Command struct {
	// Name is the executable to run.
	Name string
	// Args are passed to the executable verbatim.
	Args []string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env holds extra variables layered on top of the process environment.
	Env env.Vars
	// Stdin is fed to the process when non-nil.
	Stdin []byte
	// Stdout receives standard output; nil discards it.
	Stdout io.Writer
	// Stderr receives standard error; nil discards it.
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// Exec runs commands with os/exec.
type Exec struct{}

// NewExec constructs the default os/exec backed runner.
func NewExec() *Exec {
	return &Exec{}
}

// Run executes cmd and waits for it to finish.
func (e *Exec) Run(ctx context.Context, cmd Command) error {
	if strings.TrimSpace(cmd.Name) == "" {
		return fmt.Errorf("command name is empty")
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}
	if len(cmd.Env) > 0 {
		c.Env = env.Merge(env.FromOS(), cmd.Env).Environ()
	} else {
		c.Env = os.Environ()
	}

	if err := c.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", cmd.Name, err)
	}
	return nil
}
