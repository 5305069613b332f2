// Package engine defines the contract with the external convergence engine and
// a command-backed implementation of it.
package engine

import (
	"context"
	"strings"
)

// Kind tags a converged resource descriptor.
type Kind int

const (
	// KindOther is any resource the lifecycle driver does not track.
	KindOther Kind = iota
	// KindMachine is a machine resource; its name identifies a provisioned machine.
	KindMachine
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMachine:
		return "machine"
	default:
		return "other"
	}
}

// ParseKind maps a resource type reported by the engine onto a Kind.
func ParseKind(value string) Kind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "machine":
		return KindMachine
	default:
		return KindOther
	}
}

// Resource is a single resource descriptor produced by a convergence run.
type Resource struct {
	// Kind is the tagged resource kind.
	Kind Kind
	// Type is the raw type string reported by the engine.
	Type string
	// Name is the resource name.
	Name string
}

// Script is an opaque declarative script executed against a run.
type Script struct {
	// Name identifies the script in logs and engine diagnostics (usually its path).
	Name string
	// Content is the raw script body.
	Content []byte
}

// RunOptions carries the engine configuration for one convergence run.
// Everything the engine needs is passed here rather than read from ambient state.
type RunOptions struct {
	// NodeName is the name of the synthetic node the scripts run on.
	NodeName string
	// Platform is reported to scripts as the node's automatic platform attribute.
	Platform string
	// PlatformVersion is reported as the node's automatic platform_version attribute.
	PlatformVersion string
	// RecipeName names the recipe the scripts are evaluated as.
	RecipeName string
	// LocalMode asks the engine to run against a local, in-process registry.
	LocalMode bool
}

// Engine starts convergence runs.
type Engine interface {
	Begin(opts RunOptions) (Run, error)
}

// Run accumulates scripts and converges them once.
type Run interface {
	// Execute evaluates script against the run context.
	Execute(ctx context.Context, script Script) error
	// Converge runs convergence and returns the resulting resources.
	Converge(ctx context.Context) ([]Resource, error)
}
