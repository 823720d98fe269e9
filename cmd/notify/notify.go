package notify

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-id-bot/internal/conf"
	"github.com/tphakala/wildlife-id-bot/internal/events"
)

// Command returns a cobra command that sends a test alert through the
// configured shoutrrr services.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		severity  string
		title     string
		message   string
		component string
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test admin alert",
		Long: `Send a test alert to every service URL under notify.urls.

Examples:
  # Basic alert
  wildlife-id-bot notify --title="Test" --message="Hello"

  # Error alert as sent when the classifier is unavailable
  wildlife-id-bot notify --severity=error --component=classifier --message="retries exhausted"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sev events.Severity
			switch severity {
			case "info":
				sev = events.SeverityInfo
			case "warning":
				sev = events.SeverityWarning
			case "error":
				sev = events.SeverityError
			default:
				return fmt.Errorf("invalid severity: %s", severity)
			}

			if len(settings.Notify.URLs) == 0 {
				return fmt.Errorf("no notification URLs configured (notify.urls)")
			}
			notifier, err := events.NewShoutrrrNotifier(settings.Notify.URLs, settings.Notify.Timeout)
			if err != nil {
				return fmt.Errorf("failed to create notifier: %w", err)
			}

			alert := events.Alert{
				Title:     title,
				Message:   message,
				Severity:  sev,
				Component: component,
				Timestamp: time.Now(),
			}
			if err := notifier.Notify(cmd.Context(), alert); err != nil {
				return fmt.Errorf("failed to send alert: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Alert sent to %d service(s): severity=%s\n", len(settings.Notify.URLs), sev)
			return nil
		},
	}

	cmd.Flags().StringVar(&severity, "severity", "info", "Alert severity: info, warning or error")
	cmd.Flags().StringVar(&title, "title", "Test alert", "Alert title")
	cmd.Flags().StringVar(&message, "message", "This is a test alert from "+conf.AppName, "Alert message")
	cmd.Flags().StringVar(&component, "component", "cli", "Component reported with the alert")

	return cmd
}
