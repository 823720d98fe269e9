package quota

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildlife-id-bot/internal/app"
	"github.com/tphakala/wildlife-id-bot/internal/conf"
	"github.com/tphakala/wildlife-id-bot/internal/datastore"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
)

// Command groups the quota administration subcommands. They operate on the
// configured store, so the memory store only sees this process.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect or reset weekly identification quotas",
		Long: `Inspect or reset a quota key. Keys are group:<chat id> or user:<user id>.

Examples:
  wildlife-id-bot quota show group:-1001234567890
  wildlife-id-bot quota reset user:123456`,
	}

	show := &cobra.Command{
		Use:   "show <key>",
		Short: "Show usage for a quota key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd, settings, args[0], func(t *quota.Tracker, key quota.Key) error {
				st, err := t.CheckLimit(cmd.Context(), key)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), key, st, settings.Quota.Location())
				return nil
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <key>",
		Short: "Clear usage for a quota key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd, settings, args[0], func(t *quota.Tracker, key quota.Key) error {
				if err := t.Reset(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Quota for %s reset\n", key)
				return nil
			})
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}

// withTracker opens the configured store, runs fn and closes everything.
func withTracker(cmd *cobra.Command, settings *conf.Settings, raw string, fn func(*quota.Tracker, quota.Key) error) error {
	key, err := quota.ParseKey(raw)
	if err != nil {
		return err
	}

	var ds datastore.Interface
	if settings.Quota.Store == "database" {
		if ds, err = app.OpenDatastore(settings); err != nil {
			return err
		}
		if ds != nil {
			defer ds.Close()
		}
	}

	store, err := app.OpenQuotaStore(cmd.Context(), settings, ds)
	if err != nil {
		return err
	}
	defer store.Close()

	if settings.Quota.Store == "" || settings.Quota.Store == "memory" {
		fmt.Fprintln(cmd.ErrOrStderr(), "note: quota.store is memory; a running bot keeps its own counts")
	}
	return fn(app.NewTracker(settings, store), key)
}

func printStatus(w io.Writer, key quota.Key, st quota.Status, loc *time.Location) {
	fmt.Fprintf(w, "Key:       %s\n", key)
	fmt.Fprintf(w, "Used:      %d of %d\n", st.Used, st.Limit)
	fmt.Fprintf(w, "Remaining: %d\n", st.Remaining)
	fmt.Fprintf(w, "Resets:    %s\n", st.ResetAt.In(loc).Format(time.RFC1123))
}
