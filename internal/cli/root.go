// Package cli defines the command-line interface for metalctl.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kitchen-metal/metalctl/internal/config"
	"github.com/kitchen-metal/metalctl/internal/logging"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath  string
	DryRun      bool
	LogLevel    logging.Level
	MetricsFile string
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	defaults, err := loadBaseEnv()
	if err != nil {
		return err
	}

	rootOpts := &Options{
		ConfigPath:  defaults.ConfigPath,
		DryRun:      defaults.DryRun,
		LogLevel:    logging.ParseLevel(defaults.LogLevel),
		MetricsFile: defaults.MetricsFile,
	}

	rootCmd := newRootCommand(rootOpts, defaults, logger)
	rootCmd.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, defaults baseEnv, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "metalctl",
		Short:         "metalctl drives test-environment machines through their lifecycle",
		Long:          "metalctl converges declarative machine scripts once per instance and tears the resulting machines down through their provisioners.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	configPath := defaults.ConfigPath
	if configPath == "" {
		configPath = config.DefaultFileName
	}
	logLevel := defaults.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", configPath, "Path to the metalctl configuration file")
	cmd.PersistentFlags().BoolVar(&opts.DryRun, "dry-run", defaults.DryRun, "Echo the pre-create command instead of running it")
	cmd.PersistentFlags().String("log-level", logLevel, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("vars", defaults.Vars, "Additional template variables in k=v,k2=v2 format")
	cmd.PersistentFlags().String("var-file", defaults.VarFile, "Path to YAML/ENV file with additional template variables")
	cmd.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-file", defaults.MetricsFile, "Write Prometheus textfile metrics for lifecycle verbs to this path")

	cmd.AddCommand(
		newLifecycleCommand(opts, verbCreate),
		newLifecycleCommand(opts, verbConverge),
		newLifecycleCommand(opts, verbSetup),
		newLifecycleCommand(opts, verbVerify),
		newLifecycleCommand(opts, verbDestroy),
		newListCommand(opts),
		newRegistryCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
