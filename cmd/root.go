package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-id-bot/cmd/config"
	"github.com/tphakala/wildlife-id-bot/cmd/notify"
	"github.com/tphakala/wildlife-id-bot/cmd/quota"
	"github.com/tphakala/wildlife-id-bot/cmd/run"
	"github.com/tphakala/wildlife-id-bot/cmd/version"
	"github.com/tphakala/wildlife-id-bot/internal/buildinfo"
	"github.com/tphakala/wildlife-id-bot/internal/conf"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// RootCommand creates and returns the root command. Subcommands receive a
// settings pointer that is filled in before they run; without a
// subcommand the bot runs.
func RootCommand(info *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var (
		configFile string
		debug      bool
	)

	runCmd := run.Command(settings, info)
	versionCmd := version.Command(info)

	rootCmd := &cobra.Command{
		Use:           conf.AppName,
		Short:         "Telegram bot that identifies wildlife in photos",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCmd.RunE,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search "+fmt.Sprint(conf.GetDefaultConfigPaths())+")")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(
		runCmd,
		config.Command(settings),
		quota.Command(settings),
		notify.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip setup for the version command
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		if cmd.Flags().Changed("debug") {
			settings.Debug = debug
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize installs the global logger once settings are known.
func initialize(settings *conf.Settings) error {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}
