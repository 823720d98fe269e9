package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-id-bot/internal/conf"
)

// Command groups configuration helpers.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as YAML with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := settings.Dump()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	paths := &cobra.Command{
		Use:   "paths",
		Short: "List the directories searched for config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range conf.GetDefaultConfigPaths() {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}

	cmd.AddCommand(dump, paths)
	return cmd
}
