package datastore

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// MySQLStore implements Interface on MySQL.
type MySQLStore struct {
	DataStore
	DSN string
}

// MySQLDSN builds a go-sql-driver DSN.
func MySQLDSN(user, password, host string, port int, database string) string {
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		user, password, host, port, database)
}

// Open connects and migrates the schema.
func (store *MySQLStore) Open() error {
	if store.Logger == nil {
		store.Logger = logger.Global().Module("datastore")
	}
	db, err := gorm.Open(mysql.Open(store.DSN), store.gormConfig())
	if err != nil {
		return dbError(err, "open_mysql")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	store.DB = db
	store.Logger.Info("mysql database opened")
	return performAutoMigration(db, store.Logger, "mysql")
}

// Close closes the connection pool.
func (store *MySQLStore) Close() error {
	err := closeDB(store.DB)
	store.DB = nil
	return err
}
