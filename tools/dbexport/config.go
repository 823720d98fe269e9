package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/tphakala/wildlife-id-bot/internal/conf"
	"github.com/tphakala/wildlife-id-bot/internal/datastore"
)

// Config holds the export settings.
type Config struct {
	SQLitePath string

	MySQLDSN      string
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPass     string
	MySQLDatabase string

	BatchSize  int
	Clean      bool
	SkipVerify bool
	Verbose    bool

	ConfigPath string
}

// Load fills missing connection settings from the bot configuration and
// validates the result.
func (c *Config) Load() error {
	if c.SQLitePath == "" || c.mysqlMissing() {
		if err := c.loadFromConfigFile(); err != nil && c.SQLitePath == "" {
			return fmt.Errorf("--sqlite-path is required (or provide config.yaml): %w", err)
		}
	}

	if c.SQLitePath == "" {
		return fmt.Errorf("--sqlite-path is required")
	}
	if _, err := os.Stat(c.SQLitePath); os.IsNotExist(err) {
		return fmt.Errorf("SQLite database not found: %s", c.SQLitePath)
	}
	if c.mysqlMissing() {
		return fmt.Errorf("--mysql-dsn or --mysql-host is required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be at least 1")
	}
	if c.BatchSize > 10000 {
		return fmt.Errorf("batch-size too large (max 10000)")
	}
	return nil
}

func (c *Config) mysqlMissing() bool {
	return c.MySQLDSN == "" && c.MySQLHost == ""
}

func (c *Config) loadFromConfigFile() error {
	settings, err := conf.Load(c.ConfigPath)
	if err != nil {
		return err
	}
	db := settings.Database
	if c.SQLitePath == "" {
		c.SQLitePath = db.SQLite.Path
	}
	if c.mysqlMissing() && db.Type == "mysql" {
		c.MySQLHost = db.MySQL.Host
		if db.MySQL.Port != 0 {
			c.MySQLPort = db.MySQL.Port
		}
		c.MySQLUser = db.MySQL.Username
		c.MySQLPass = db.MySQL.Password
		c.MySQLDatabase = db.MySQL.Database
	}
	return nil
}

// MySQLDSNString returns --mysql-dsn or a DSN built from the parts.
func (c *Config) MySQLDSNString() string {
	if c.MySQLDSN != "" {
		return c.MySQLDSN
	}
	return datastore.MySQLDSN(c.MySQLUser, c.MySQLPass, c.MySQLHost, c.MySQLPort, c.MySQLDatabase)
}

// SanitizedMySQLDSN masks the password for display.
func (c *Config) SanitizedMySQLDSN() string {
	dsn := c.MySQLDSNString()
	colon := strings.Index(dsn, ":")
	at := strings.LastIndex(dsn, "@")
	if colon != -1 && at > colon {
		return dsn[:colon+1] + "****" + dsn[at:]
	}
	return dsn
}
