package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kitchen-metal/metalctl/internal/config"
	"github.com/kitchen-metal/metalctl/internal/provisioner"
	"github.com/kitchen-metal/metalctl/internal/registry"
	"github.com/kitchen-metal/metalctl/internal/ui"
)

// newRegistryCommand groups node registry inspection and editing.
func newRegistryCommand(opts *Options) *cobra.Command {
	return newGroupCommand("registry", "Inspect and edit the node registry",
		newRegistryListCommand(opts),
		newRegistryPutCommand(opts),
		newRegistryRemoveCommand(opts),
	)
}

func newRegistryListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registry nodes with their provisioner URLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := LoggerFromContext(ctx)

			cfg, err := loadConfigFromCmd(opts, cmd)
			if err != nil {
				return err
			}
			reg, err := openRegistry(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = reg.close() }()

			nodes, err := reg.client.ListNodes(ctx)
			if err != nil {
				return fmt.Errorf("list registry nodes: %w", err)
			}

			names := make([]string, 0, len(nodes))
			for name := range nodes {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				url, err := nodes[name].ProvisionerURL()
				scheme := ui.Muted("-")
				if err != nil {
					url = ui.ErrorStyle.Render("malformed")
				} else if s, _, perr := provisioner.ParseURL(url); perr == nil {
					scheme = s
				}
				rows = append(rows, []string{name, scheme, url})
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, ui.Muted("registry: "+registrySource(cfg)))
			_, err = fmt.Fprintln(out, ui.Table([]string{"NODE", "SCHEME", "PROVISIONER URL"}, rows))
			return err
		},
	}
}

func newRegistryPutCommand(opts *Options) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "put <name> <provisioner-url>",
		Short: "Record a node in the registry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := make(map[string]string, len(fields))
			for _, f := range fields {
				k, v, ok := strings.Cut(f, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return fmt.Errorf("invalid --set value %q, expected key=value", f)
				}
				extra[strings.TrimSpace(k)] = v
			}
			if _, _, err := provisioner.ParseURL(args[1]); err != nil {
				return err
			}

			store, closeStore, err := openWritableRegistry(opts, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Put(cmd.Context(), registry.NewRecord(args[0], args[1], extra)); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("recorded node %s", args[0]))
			return err
		},
	}
	cmd.Flags().StringArrayVar(&fields, "set", nil, "Extra provisioner output field in key=value form (repeatable)")
	return cmd
}

func newRegistryRemoveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a node from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openWritableRegistry(opts, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("removed node %s", args[0]))
			return err
		},
	}
}

// openWritableRegistry opens the configured registry and fails for read-only backends.
func openWritableRegistry(opts *Options, cmd *cobra.Command) (registryWriter, func(), error) {
	cfg, err := loadConfigFromCmd(opts, cmd)
	if err != nil {
		return nil, nil, err
	}
	reg, err := openRegistry(cfg, LoggerFromContext(cmd.Context()))
	if err != nil {
		return nil, nil, err
	}
	if reg.writer == nil {
		_ = reg.close()
		return nil, nil, fmt.Errorf("registry backend %q is read-only", cfg.Registry.Backend)
	}
	return reg.writer, func() { _ = reg.close() }, nil
}

func registrySource(cfg *config.Config) string {
	switch cfg.Registry.Backend {
	case config.BackendSQLite:
		return displayPath(cfg.KitchenRoot, cfg.RegistryPath())
	case config.BackendEtcd:
		return strings.Join(cfg.Registry.Endpoints, ",") + " " + cfg.Registry.Prefix
	default:
		return cfg.Registry.URL
	}
}
