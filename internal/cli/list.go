package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kitchen-metal/metalctl/internal/state"
	"github.com/kitchen-metal/metalctl/internal/ui"
)

// newListCommand shows every configured instance with its tracked state.
func newListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured instances and their tracked machines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfigFromCmd(opts, cmd)
			if err != nil {
				return err
			}
			store, err := state.NewStore(cfg.StatePath())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(cfg.Platforms))
			for _, p := range cfg.Platforms {
				st, err := store.Load(p.Name)
				if err != nil {
					return err
				}
				machines := ui.Muted("-")
				if len(st.Machines) > 0 {
					machines = strings.Join(st.Machines, ", ")
				}
				rows = append(rows, []string{
					p.Name,
					p.Script,
					ui.Bool(st.EnvironmentCreated),
					strconv.Itoa(len(st.Machines)),
					machines,
				})
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), ui.Table(
				[]string{"INSTANCE", "SCRIPT", "CREATED", "COUNT", "MACHINES"},
				rows,
			))
			return err
		},
	}
}
