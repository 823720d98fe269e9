// Command dbexport copies wildlife-id-bot history and quota usage from a
// SQLite database into MySQL, for moving a single-node install onto a shared
// database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set via ldflags.
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "dbexport",
		Short: "Export wildlife-id-bot data from SQLite to MySQL",
		Long: `Copy identification history and quota usage from SQLite to MySQL.

Primary keys are preserved and rows that already exist in the target are
skipped, so the export can be re-run after an interrupted attempt.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, &cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.SQLitePath, "sqlite-path", "", "Path to the source SQLite database")
	f.StringVar(&cfg.MySQLDSN, "mysql-dsn", "", "MySQL DSN (user:pass@tcp(host:3306)/dbname)")
	f.StringVar(&cfg.MySQLHost, "mysql-host", "", "MySQL host (alternative to --mysql-dsn)")
	f.IntVar(&cfg.MySQLPort, "mysql-port", 3306, "MySQL port")
	f.StringVar(&cfg.MySQLUser, "mysql-user", "", "MySQL username")
	f.StringVar(&cfg.MySQLPass, "mysql-pass", "", "MySQL password")
	f.StringVar(&cfg.MySQLDatabase, "mysql-database", "", "MySQL database name")
	f.IntVar(&cfg.BatchSize, "batch-size", 1000, "Rows per insert batch")
	f.BoolVar(&cfg.Clean, "clean", false, "Delete target rows before copying")
	f.BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-export verification")
	f.BoolVar(&cfg.Verbose, "verbose", false, "Print per-batch progress")
	f.StringVar(&cfg.ConfigPath, "config", "", "Bot config.yaml used for missing connection settings")

	return cmd
}

func runExport(cmd *cobra.Command, cfg *Config) error {
	out := cmd.OutOrStdout()
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	fmt.Fprintf(out, "Source: %s\n", cfg.SQLitePath)
	fmt.Fprintf(out, "Target: %s\n", cfg.SanitizedMySQLDSN())

	source, target, err := openDatabases(cfg)
	if err != nil {
		return err
	}
	defer closeAll(source, target)

	m := NewMigrator(source.Gorm(), target.Gorm(), cfg, out)
	stats, err := m.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	stats.Print(out)

	if cfg.SkipVerify {
		return nil
	}
	fmt.Fprintln(out, "\n--- Verification ---")
	if err := NewVerifier(source.Gorm(), target.Gorm(), out).Verify(cmd.Context()); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	fmt.Fprintln(out, "Verification passed")
	return nil
}
