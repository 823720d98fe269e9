package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/wildlife-id-bot/internal/datastore"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
)

// Migrator copies rows between two open databases.
type Migrator struct {
	cfg    Config
	source *gorm.DB
	target *gorm.DB
	out    io.Writer
}

// MigrationStats summarizes a run.
type MigrationStats struct {
	StartTime time.Time
	EndTime   time.Time
	Tables    []TableStats
}

// TableStats tracks one table.
type TableStats struct {
	Name     string
	Migrated int64
	Skipped  int64
	Errors   int64
	Duration time.Duration
}

// Print writes the summary table.
func (s *MigrationStats) Print(w io.Writer) {
	rule := strings.Repeat("-", 70)
	fmt.Fprintln(w, "\n=== Export Summary ===")
	fmt.Fprintf(w, "Duration: %s\n\n", s.EndTime.Sub(s.StartTime).Round(time.Millisecond))
	fmt.Fprintf(w, "%-25s %10s %10s %10s %12s\n", "Table", "Migrated", "Skipped", "Errors", "Duration")
	fmt.Fprintln(w, rule)

	var migrated, skipped, errs int64
	for _, t := range s.Tables {
		fmt.Fprintf(w, "%-25s %10d %10d %10d %12s\n",
			t.Name, t.Migrated, t.Skipped, t.Errors, t.Duration.Round(time.Millisecond))
		migrated += t.Migrated
		skipped += t.Skipped
		errs += t.Errors
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-25s %10d %10d %10d\n", "TOTAL", migrated, skipped, errs)
}

// openDatabases opens the source SQLite file and the target MySQL database
// through the bot's own stores, which also migrate both schemas.
func openDatabases(cfg *Config) (source, target datastore.Interface, err error) {
	src := &datastore.SQLiteStore{Path: cfg.SQLitePath}
	if err := src.Open(); err != nil {
		return nil, nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	dst := &datastore.MySQLStore{DSN: cfg.MySQLDSNString()}
	if err := dst.Open(); err != nil {
		_ = src.Close()
		return nil, nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	return src, dst, nil
}

func closeAll(stores ...datastore.Interface) {
	for _, s := range stores {
		_ = s.Close()
	}
}

// NewMigrator returns a migrator from source to target.
func NewMigrator(source, target *gorm.DB, cfg *Config, out io.Writer) *Migrator {
	return &Migrator{cfg: *cfg, source: source, target: target, out: out}
}

// tableSpec describes one exported table.
type tableSpec struct {
	name    string
	migrate func(context.Context) (*TableStats, error)
}

func (m *Migrator) tables() []tableSpec {
	return []tableSpec{
		{"identifications", func(ctx context.Context) (*TableStats, error) {
			return migrateTable[datastore.Identification](ctx, m, "identifications")
		}},
		{"quota_usages", func(ctx context.Context) (*TableStats, error) {
			return migrateTable[quota.QuotaUsage](ctx, m, "quota_usages")
		}},
	}
}

// Run copies every table.
func (m *Migrator) Run(ctx context.Context) (*MigrationStats, error) {
	stats := &MigrationStats{StartTime: time.Now()}

	// The quota table is created lazily by the bot; make sure both sides have it.
	for _, db := range []*gorm.DB{m.source, m.target} {
		if _, err := quota.NewGormStore(db); err != nil {
			return nil, fmt.Errorf("failed to prepare quota table: %w", err)
		}
	}

	if m.cfg.Clean {
		if err := m.cleanTables(ctx); err != nil {
			return nil, err
		}
	}

	for _, t := range m.tables() {
		ts, err := t.migrate(ctx)
		if err != nil {
			return stats, fmt.Errorf("failed to export %s: %w", t.name, err)
		}
		stats.Tables = append(stats.Tables, *ts)
	}
	stats.EndTime = time.Now()
	return stats, nil
}

func (m *Migrator) cleanTables(ctx context.Context) error {
	fmt.Fprintln(m.out, "Cleaning target tables...")
	for _, t := range m.tables() {
		if err := m.target.WithContext(ctx).Exec("DELETE FROM " + t.name).Error; err != nil {
			return fmt.Errorf("failed to clean %s: %w", t.name, err)
		}
		if m.cfg.Verbose {
			fmt.Fprintf(m.out, "  Cleaned: %s\n", t.name)
		}
	}
	return nil
}

// migrateTable copies T in batches. Conflicting primary keys are skipped so
// reruns are safe; a failed batch is counted and the copy continues.
func migrateTable[T any](ctx context.Context, m *Migrator, name string) (*TableStats, error) {
	start := time.Now()
	stats := &TableStats{Name: name}
	fmt.Fprintf(m.out, "Exporting %s...\n", name)

	var total int64
	if err := m.source.WithContext(ctx).Model(new(T)).Count(&total).Error; err != nil {
		return stats, fmt.Errorf("failed to count source rows: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(m.out, "  %s: no rows to export\n", name)
		stats.Duration = time.Since(start)
		return stats, nil
	}

	var processed int64
	batchNum := 0
	err := m.source.WithContext(ctx).Model(new(T)).FindInBatches(new([]T), m.cfg.BatchSize, func(tx *gorm.DB, _ int) error {
		batchNum++
		rows := tx.Statement.Dest.(*[]T)
		n := int64(len(*rows))

		res := m.target.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rows)
		if res.Error != nil {
			stats.Errors += n
			fmt.Fprintf(m.out, "  batch %d error: %v\n", batchNum, res.Error)
			return nil //nolint:nilerr // keep going, the batch is counted as errors
		}
		stats.Migrated += res.RowsAffected
		stats.Skipped += n - res.RowsAffected
		processed += n

		if m.cfg.Verbose {
			fmt.Fprintf(m.out, "  %s: %d/%d (%.1f%%)\n", name, processed, total, float64(processed)/float64(total)*100)
		}
		return nil
	}).Error
	if err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	fmt.Fprintf(m.out, "  %s: %d exported, %d skipped, %d errors in %s\n",
		name, stats.Migrated, stats.Skipped, stats.Errors, stats.Duration.Round(time.Millisecond))
	return stats, nil
}
