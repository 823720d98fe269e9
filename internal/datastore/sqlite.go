package datastore

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// SQLiteStore implements Interface on SQLite.
type SQLiteStore struct {
	DataStore
	Path string
}

// Open opens or creates the database file and migrates the schema.
// A Path starting with "file:" is passed through as a DSN.
func (store *SQLiteStore) Open() error {
	if store.Logger == nil {
		store.Logger = logger.Global().Module("datastore")
	}
	dsn := store.Path
	if !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.New(err).
					Component("datastore").
					Category(errors.CategoryConfiguration).
					Context("path", store.Path).
					Build()
			}
		}
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), store.gormConfig())
	if err != nil {
		return dbError(err, "open_sqlite")
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	store.DB = db
	store.Logger.Info("sqlite database opened", logger.String("path", store.Path))
	return performAutoMigration(db, store.Logger, "sqlite")
}

// Close closes the connection.
func (store *SQLiteStore) Close() error {
	err := closeDB(store.DB)
	store.DB = nil
	return err
}
