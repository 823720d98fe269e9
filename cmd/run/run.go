package run

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-id-bot/internal/app"
	"github.com/tphakala/wildlife-id-bot/internal/buildinfo"
	"github.com/tphakala/wildlife-id-bot/internal/conf"
)

// Command creates the command that runs the bot until interrupted.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var (
		store  string
		listen string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot",
		Long:  "Poll Telegram for photos and identify the animals in them until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Settings are loaded after flag parsing, so explicit flags are
			// applied on top here.
			if cmd.Flags().Changed("quota-store") {
				settings.Quota.Store = store
			}
			if cmd.Flags().Changed("listen") {
				settings.HTTP.Enabled = true
				settings.HTTP.Listen = listen
			}
			return app.Run(cmd.Context(), settings, info)
		},
	}

	cmd.Flags().StringVar(&store, "quota-store", "", "Quota store: memory, redis or database")
	cmd.Flags().StringVar(&listen, "listen", "", "Serve /metrics, /healthz and /stats on this address")

	return cmd
}
