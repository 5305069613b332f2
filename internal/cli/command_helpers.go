package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"
)

// newGroupCommand builds a parent command for subcommands. Run without a
// subcommand it prints its help.
func newGroupCommand(use, short string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(subcommands...)
	return cmd
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// displayPath shortens path relative to base for table output.
func displayPath(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil {
		return rel
	}
	return path
}
