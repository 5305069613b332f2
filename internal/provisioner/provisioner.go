// Package provisioner dispatches machine deletion to the provisioner that created the machine.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/kitchen-metal/metalctl/internal/logging"
	"github.com/kitchen-metal/metalctl/internal/registry"
	"github.com/kitchen-metal/metalctl/internal/runner"
)

// DefaultActor identifies metalctl to provisioners when no actor is configured.
const DefaultActor = "test_kitchen"

// ErrUnknownScheme indicates a provisioner URL whose scheme has no registered constructor.
var ErrUnknownScheme = errors.New("unknown provisioner scheme")

// IsUnknownScheme reports whether err indicates an unregistered provisioner scheme.
func IsUnknownScheme(err error) bool {
	return errors.Is(err, ErrUnknownScheme)
}

// ActionContext identifies the calling actor to a provisioner.
type ActionContext struct {
	// Actor is an opaque token such as "test_kitchen" used for audit logs.
	Actor string
	// Logger receives provisioner progress.
	Logger *slog.Logger
}

// Log returns the action logger, or a discarding logger when none is set.
func (a ActionContext) Log() *slog.Logger {
	if a.Logger == nil {
		return logging.Discard()
	}
	return a.Logger
}

// Provisioner deletes machines it previously created.
type Provisioner interface {
	DeleteMachine(ctx context.Context, action ActionContext, rec registry.Record) error
}

// Constructor builds a provisioner from the path part of a provisioner URL.
type Constructor func(path string) (Provisioner, error)

// ParseURL splits a provisioner URL on its first "://" into scheme and path.
func ParseURL(raw string) (scheme, path string, err error) {
	scheme, path, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("provisioner url %q: expected scheme://path: %w", raw, registry.ErrMalformedRecord)
	}
	return scheme, path, nil
}

// Dispatcher maps provisioner URL schemes to constructors.
type Dispatcher struct {
	action ActionContext

	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewDispatcher constructs an empty dispatcher acting as action.Actor.
func NewDispatcher(action ActionContext) *Dispatcher {
	if strings.TrimSpace(action.Actor) == "" {
		action.Actor = DefaultActor
	}
	if action.Logger == nil {
		action.Logger = logging.Discard()
	}
	return &Dispatcher{action: action, constructors: make(map[string]Constructor)}
}

// Register installs the constructor for scheme, replacing any previous one.
func (d *Dispatcher) Register(scheme string, c Constructor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constructors[strings.ToLower(scheme)] = c
}

// Schemes lists the registered schemes in sorted order.
func (d *Dispatcher) Schemes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.constructors))
	for scheme := range d.constructors {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// DeleteMachine deletes the machine described by rec using the provisioner
// selected by url. Provisioner errors are returned unchanged.
func (d *Dispatcher) DeleteMachine(ctx context.Context, url string, rec registry.Record) error {
	scheme, path, err := ParseURL(url)
	if err != nil {
		return err
	}

	d.mu.RLock()
	construct, ok := d.constructors[strings.ToLower(scheme)]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("machine %q: scheme %q: %w", rec.Name, scheme, ErrUnknownScheme)
	}

	p, err := construct(path)
	if err != nil {
		return err
	}

	if closer, ok := p.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	d.action.Logger.Info("deleting machine", "machine", rec.Name, "provisioner", scheme, "path", path, "actor", d.action.Actor)
	return p.DeleteMachine(ctx, d.action, rec)
}

// NewDefaultDispatcher returns a dispatcher with the built-in vagrant and
// docker provisioners registered. Vagrant commands run through r.
func NewDefaultDispatcher(action ActionContext, r runner.Runner) *Dispatcher {
	d := NewDispatcher(action)
	d.Register(SchemeVagrant, VagrantConstructor(r))
	d.Register(SchemeDocker, DockerConstructor())
	return d
}
