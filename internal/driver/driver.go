// Package driver implements the machine lifecycle verbs: it converges the
// declared topology once per environment and tears the resulting machines
// down through the registry and their provisioners.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kitchen-metal/metalctl/internal/engine"
	"github.com/kitchen-metal/metalctl/internal/hooks"
	"github.com/kitchen-metal/metalctl/internal/logging"
	"github.com/kitchen-metal/metalctl/internal/registry"
	"github.com/kitchen-metal/metalctl/internal/state"
)

const preCreateHook = "pre-create"

// DestroyMode selects how Destroy treats session state when a deletion fails.
type DestroyMode int

const (
	// DestroyProgress drops each machine from session state as soon as it is
	// deleted, so a retried destroy resumes with the remaining machines.
	DestroyProgress DestroyMode = iota
	// DestroyAllOrNothing leaves session state untouched unless every machine
	// was deleted.
	DestroyAllOrNothing
)

// String returns the configuration name of the mode.
func (m DestroyMode) String() string {
	if m == DestroyAllOrNothing {
		return "all-or-nothing"
	}
	return "progress"
}

// ParseDestroyMode parses a configured destroy mode; empty selects DestroyProgress.
func ParseDestroyMode(value string) (DestroyMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "progress":
		return DestroyProgress, nil
	case "all-or-nothing":
		return DestroyAllOrNothing, nil
	default:
		return DestroyProgress, fmt.Errorf("unknown destroy mode %q: %w", value, ErrConfiguration)
	}
}

// MachineDeleter deletes a machine given its provisioner URL.
type MachineDeleter interface {
	DeleteMachine(ctx context.Context, url string, rec registry.Record) error
}

// MetricsRecorder receives lifecycle measurements.
type MetricsRecorder interface {
	ObserveVerb(instance, verb string, elapsed time.Duration, err error)
	MachinesConverged(instance string, n int)
	MachineDeleted(instance string, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveVerb(string, string, time.Duration, error) {}
func (noopMetrics) MachinesConverged(string, int)                   {}
func (noopMetrics) MachineDeleted(string, error)                    {}

// HookRunner runs named shell hooks.
type HookRunner interface {
	Run(ctx context.Context, name, command string) error
}

// Options configures a Driver.
type Options struct {
	// Instance names the instance in logs and spans.
	Instance string
	// KitchenRoot is the directory scripts are resolved against.
	KitchenRoot string
	// Layout is the optional driver-level script, relative to KitchenRoot.
	Layout string
	// Platform is the mandatory platform-level script, relative to KitchenRoot.
	Platform string
	// PreCreateCommand runs before every Create when set.
	PreCreateCommand string
	// Run is passed to the engine for every convergence.
	Run engine.RunOptions
	// DestroyMode selects the destroy failure policy.
	DestroyMode DestroyMode

	Engine   engine.Engine
	Registry registry.Client
	Deleter  MachineDeleter
	// Hooks runs the pre-create command; defaults to a shell executor in KitchenRoot.
	Hooks HookRunner

	Logger *slog.Logger
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
	// Metrics is optional.
	Metrics MetricsRecorder
}

// Driver runs lifecycle verbs for one instance against a caller-owned session state.
type Driver struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// New validates opts and constructs a Driver.
func New(opts Options) (*Driver, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("driver requires a convergence engine")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("driver requires a registry client")
	}
	if opts.Deleter == nil {
		return nil, fmt.Errorf("driver requires a machine deleter")
	}
	if strings.TrimSpace(opts.Platform) == "" {
		return nil, fmt.Errorf("platform script is not set: %w", ErrConfiguration)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Instance != "" {
		logger = logger.With("instance", opts.Instance)
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewExecutor(nil, logger, hooks.Options{Dir: opts.KitchenRoot})
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("metalctl/driver")
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	return &Driver{opts: opts, logger: logger, tracer: tracer}, nil
}

// Create runs the pre-create hook and converges the environment.
// The hook runs on every call; convergence runs at most once.
func (d *Driver) Create(ctx context.Context, st *state.State) error {
	return d.traced(ctx, "driver.create", st, func(ctx context.Context) error {
		if err := d.opts.Hooks.Run(ctx, preCreateHook, d.opts.PreCreateCommand); err != nil {
			return err
		}
		if err := d.EnsureConverged(ctx, st); err != nil {
			return err
		}
		d.logger.Info("instance created", "machines", st.Machines)
		return nil
	})
}

// Converge converges the environment if it has not been converged yet.
func (d *Driver) Converge(ctx context.Context, st *state.State) error {
	return d.traced(ctx, "driver.converge", st, func(ctx context.Context) error {
		return d.EnsureConverged(ctx, st)
	})
}

// Setup converges the environment if it has not been converged yet.
func (d *Driver) Setup(ctx context.Context, st *state.State) error {
	return d.traced(ctx, "driver.setup", st, func(ctx context.Context) error {
		return d.EnsureConverged(ctx, st)
	})
}

// Verify converges the environment if it has not been converged yet.
func (d *Driver) Verify(ctx context.Context, st *state.State) error {
	return d.traced(ctx, "driver.verify", st, func(ctx context.Context) error {
		return d.EnsureConverged(ctx, st)
	})
}

// EnsureConverged runs the driver and platform scripts through the engine
// and records the machines they produced. It is a no-op once the
// environment has been created.
func (d *Driver) EnsureConverged(ctx context.Context, st *state.State) error {
	if st.EnvironmentCreated {
		d.logger.Debug("environment already converged", "machines", st.Machines)
		return nil
	}

	return d.traced(ctx, "driver.ensure_converged", st, func(ctx context.Context) error {
		scripts, err := d.loadScripts()
		if err != nil {
			return err
		}

		run, err := d.opts.Engine.Begin(d.opts.Run)
		if err != nil {
			return &ConvergenceError{Stage: "begin", Err: err}
		}
		for _, script := range scripts {
			if err := run.Execute(ctx, script); err != nil {
				return &ConvergenceError{Stage: script.Name, Err: err}
			}
		}
		resources, err := run.Converge(ctx)
		if err != nil {
			return &ConvergenceError{Stage: "converge", Err: err}
		}

		added := 0
		for _, res := range resources {
			if res.Kind != engine.KindMachine {
				continue
			}
			if st.AddMachine(res.Name) {
				added++
				d.logger.Debug("machine converged", "machine", res.Name)
			}
		}
		d.opts.Metrics.MachinesConverged(d.opts.Instance, added)
		st.EnvironmentCreated = true
		d.logger.Info("environment converged", "machines", st.Machines, "resources", len(resources))
		return nil
	})
}

// Destroy deletes every tracked machine found in the registry and clears the
// session state. Destroying a never-created environment is a no-op. The
// first failure aborts the loop; how much state survives it depends on the
// configured DestroyMode.
func (d *Driver) Destroy(ctx context.Context, st *state.State) error {
	return d.traced(ctx, "driver.destroy", st, func(ctx context.Context) error {
		if !st.EnvironmentCreated || len(st.Machines) == 0 {
			d.logger.Info("nothing to destroy")
			return nil
		}

		nodes, err := registry.Lookup(ctx, d.opts.Registry, st.HasMachine)
		if err != nil {
			return fmt.Errorf("list registry nodes: %w", err)
		}

		for _, name := range slices.Clone(st.Machines) {
			rec, ok := nodes[name]
			if !ok {
				d.logger.Warn("machine not in registry, skipping", "machine", name)
				continue
			}
			url, err := rec.ProvisionerURL()
			if err != nil {
				d.opts.Metrics.MachineDeleted(d.opts.Instance, err)
				return err
			}
			err = d.opts.Deleter.DeleteMachine(ctx, url, rec)
			d.opts.Metrics.MachineDeleted(d.opts.Instance, err)
			if err != nil {
				return fmt.Errorf("delete machine %q: %w", name, err)
			}
			if d.opts.DestroyMode == DestroyProgress {
				st.RemoveMachine(name)
			}
			d.logger.Info("machine deleted", "machine", name)
		}

		st.Reset()
		d.logger.Info("instance destroyed")
		return nil
	})
}

func (d *Driver) loadScripts() ([]engine.Script, error) {
	var scripts []engine.Script

	if layout := strings.TrimSpace(d.opts.Layout); layout != "" {
		path := filepath.Join(d.opts.KitchenRoot, layout)
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			d.logger.Warn("driver layout script not found, skipping", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read layout script %s: %v: %w", path, err, ErrConfiguration)
		default:
			scripts = append(scripts, engine.Script{Name: layout, Content: content})
		}
	}

	path := filepath.Join(d.opts.KitchenRoot, d.opts.Platform)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform script %s: %v: %w", path, err, ErrConfiguration)
	}
	return append(scripts, engine.Script{Name: d.opts.Platform, Content: content}), nil
}

func (d *Driver) traced(ctx context.Context, name string, st *state.State, fn func(context.Context) error) error {
	ctx, span := d.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("metal.instance", d.opts.Instance),
		attribute.Bool("metal.environment_created", st.EnvironmentCreated),
		attribute.Int("metal.machines", len(st.Machines)),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	d.opts.Metrics.ObserveVerb(d.opts.Instance, strings.TrimPrefix(name, "driver."), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}
