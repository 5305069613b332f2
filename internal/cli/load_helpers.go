package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kitchen-metal/metalctl/internal/config"
	"github.com/kitchen-metal/metalctl/internal/driver"
	"github.com/kitchen-metal/metalctl/internal/engine"
	"github.com/kitchen-metal/metalctl/internal/env"
	"github.com/kitchen-metal/metalctl/internal/hooks"
	"github.com/kitchen-metal/metalctl/internal/metrics"
	"github.com/kitchen-metal/metalctl/internal/provisioner"
	"github.com/kitchen-metal/metalctl/internal/registry"
	"github.com/kitchen-metal/metalctl/internal/runner"
	"github.com/kitchen-metal/metalctl/internal/state"
)

func parseInlineVarsAndFiles(cmd *cobra.Command) (env.Vars, []string, error) {
	inlineVars, err := env.ParseInlineVars(cmd.Flag("vars").Value.String())
	if err != nil {
		return nil, nil, err
	}

	varFile := cmd.Flag("var-file").Value.String()
	var varFiles []string
	if varFile != "" {
		varFiles = append(varFiles, varFile)
	}
	return inlineVars, varFiles, nil
}

func loadConfigFromCmd(opts *Options, cmd *cobra.Command) (*config.Config, error) {
	inlineVars, varFiles, err := parseInlineVarsAndFiles(cmd)
	if err != nil {
		return nil, err
	}

	cfg, _, err := config.Load(opts.ConfigPath, config.LoadOptions{
		UserVars: inlineVars,
		VarFiles: varFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.DryRun {
		cfg.DryRun = true
	}
	return cfg, nil
}

// registryWriter is implemented by registries metalctl can edit directly.
type registryWriter interface {
	Put(ctx context.Context, rec registry.Record) error
	Delete(ctx context.Context, name string) error
}

// registryHandle pairs a registry client with its release function.
// writer is nil for read-only backends.
type registryHandle struct {
	client registry.Client
	writer registryWriter
	close  func() error
}

func openRegistry(cfg *config.Config, logger *slog.Logger) (*registryHandle, error) {
	switch cfg.Registry.Backend {
	case config.BackendHTTP:
		c, err := registry.NewHTTPClient(cfg.Registry.URL, registry.HTTPOptions{
			Token:  cfg.Registry.Token,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", driver.ErrConfiguration, err)
		}
		return &registryHandle{client: c, close: func() error { return nil }}, nil
	case config.BackendSQLite:
		s, err := registry.OpenSQLite(cfg.RegistryPath())
		if err != nil {
			return nil, err
		}
		return &registryHandle{client: s, writer: s, close: s.Close}, nil
	case config.BackendEtcd:
		s, err := registry.OpenEtcd(registry.EtcdOptions{
			Endpoints: cfg.Registry.Endpoints,
			Prefix:    cfg.Registry.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return &registryHandle{client: s, writer: s, close: s.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported registry backend %q: %w", cfg.Registry.Backend, driver.ErrConfiguration)
	}
}

// instanceSession bundles a driver with the store that persists its state.
type instanceSession struct {
	instance string
	driver   *driver.Driver
	store    *state.Store
	metrics  *metrics.Recorder
	closer   io.Closer
}

func newInstanceSession(cfg *config.Config, instance string, logger *slog.Logger) (*instanceSession, error) {
	recorder := metrics.New()

	platform, err := cfg.Platform(instance)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driver.ErrConfiguration, err)
	}
	mode, err := driver.ParseDestroyMode(cfg.DestroyMode)
	if err != nil {
		return nil, err
	}

	execRunner := runner.NewExec()
	eng, err := engine.NewCommandEngine(execRunner, logger, engine.CommandOptions{
		Command: cfg.Engine.Command,
		Args:    cfg.Engine.Args,
		Dir:     cfg.KitchenRoot,
		Env:     env.Vars(cfg.Engine.Env),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driver.ErrConfiguration, err)
	}

	store, err := state.NewStore(cfg.StatePath())
	if err != nil {
		return nil, err
	}

	reg, err := openRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	dispatcher := provisioner.NewDefaultDispatcher(provisioner.ActionContext{
		Actor:  cfg.Actor,
		Logger: logger,
	}, execRunner)

	d, err := driver.New(driver.Options{
		Instance:         platform.Name,
		KitchenRoot:      cfg.KitchenRoot,
		Layout:           cfg.Layout,
		Platform:         platform.Script,
		PreCreateCommand: cfg.PreCreateCommand,
		Run: engine.RunOptions{
			NodeName:        cfg.Engine.NodeName,
			Platform:        cfg.PlatformAttribute(),
			PlatformVersion: cfg.PlatformAttribute(),
			RecipeName:      cfg.Engine.RecipeName,
			LocalMode:       *cfg.Engine.LocalMode,
		},
		DestroyMode: mode,
		Engine:      eng,
		Registry:    reg.client,
		Deleter:     dispatcher,
		Hooks: hooks.NewExecutor(execRunner, logger, hooks.Options{
			Dir:    cfg.KitchenRoot,
			DryRun: cfg.DryRun,
		}),
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		_ = reg.close()
		return nil, err
	}

	return &instanceSession{
		instance: platform.Name,
		driver:   d,
		store:    store,
		metrics:  recorder,
		closer:   closerFunc(reg.close),
	}, nil
}
