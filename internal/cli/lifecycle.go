package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kitchen-metal/metalctl/internal/driver"
	"github.com/kitchen-metal/metalctl/internal/state"
)

// lifecycleVerb describes one driver verb exposed as a subcommand.
type lifecycleVerb struct {
	use   string
	short string
	run   func(ctx context.Context, d *driver.Driver, st *state.State) error
}

var (
	verbCreate = lifecycleVerb{
		use:   "create",
		short: "Run the pre-create hook and converge the instance environment",
		run:   func(ctx context.Context, d *driver.Driver, st *state.State) error {
			return d.Create(ctx, st)
		},
	}
	verbConverge = lifecycleVerb{
		use:   "converge",
		short: "Converge the instance environment if it has not been created",
		run:   func(ctx context.Context, d *driver.Driver, st *state.State) error {
			return d.Converge(ctx, st)
		},
	}
	verbSetup = lifecycleVerb{
		use:   "setup",
		short: "Ensure the instance environment is converged before setup",
		run:   func(ctx context.Context, d *driver.Driver, st *state.State) error {
			return d.Setup(ctx, st)
		},
	}
	verbVerify = lifecycleVerb{
		use:   "verify",
		short: "Ensure the instance environment is converged before verification",
		run:   func(ctx context.Context, d *driver.Driver, st *state.State) error {
			return d.Verify(ctx, st)
		},
	}
	verbDestroy = lifecycleVerb{
		use:   "destroy",
		short: "Delete every tracked machine through its provisioner",
		run:   func(ctx context.Context, d *driver.Driver, st *state.State) error {
			return d.Destroy(ctx, st)
		},
	}
)

// newLifecycleCommand builds the subcommand for verb.
func newLifecycleCommand(opts *Options, verb lifecycleVerb) *cobra.Command {
	return &cobra.Command{
		Use:   verb.use + " [instance]",
		Short: verb.short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var instance string
			if len(args) == 1 {
				instance = args[0]
			}
			return runLifecycle(cmd, opts, verb, instance)
		},
	}
}

func runLifecycle(cmd *cobra.Command, opts *Options, verb lifecycleVerb, instance string) error {
	ctx := cmd.Context()
	logger := LoggerFromContext(ctx)

	cfg, err := loadConfigFromCmd(opts, cmd)
	if err != nil {
		return err
	}

	sess, err := newInstanceSession(cfg, instance, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.closer.Close(); cerr != nil {
			logger.Warn("failed to close registry", "error", cerr)
		}
	}()

	st, err := sess.store.Load(sess.instance)
	if err != nil {
		return err
	}

	logger.Info("running lifecycle verb", "verb", verb.use, "instance", sess.instance)
	runErr := verb.run(ctx, sess.driver, st)

	// State is saved even when the verb fails.
	if saveErr := sess.store.Save(sess.instance, st); saveErr != nil {
		if runErr == nil {
			return fmt.Errorf("save state: %w", saveErr)
		}
		logger.Error("failed to save state", "instance", sess.instance, "error", saveErr)
	}
	if opts.MetricsFile != "" {
		if merr := sess.metrics.WriteTextfile(opts.MetricsFile); merr != nil {
			logger.Warn("failed to write metrics", "path", opts.MetricsFile, "error", merr)
		}
	}
	if runErr != nil {
		return fmt.Errorf("%s %s: %w", verb.use, sess.instance, runErr)
	}

	logger.Info("lifecycle verb completed", "verb", verb.use, "instance", sess.instance)
	return nil
}
