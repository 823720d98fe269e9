package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-id-bot/internal/buildinfo"
	"github.com/tphakala/wildlife-id-bot/internal/conf"
)

// Command creates a new cobra.Command to print build information.
func Command(info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", conf.AppName, info)
			return nil
		},
	}
}
