package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultTable is the audit table name used when none is configured.
const DefaultTable = "dbversion_scripts"

// Config holds the database connection settings of a run.
type Config struct {
	// Driver selects the dialect: "sqlite" or "postgres".
	Driver string

	// DSN is a file path for SQLite or a connection string for Postgres.
	DSN string

	// Table is the audit table name.
	Table string

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration

	// BusyTimeout sets how long SQLite waits for database locks.
	BusyTimeout time.Duration

	// EnableForeignKeys enables SQLite foreign key constraint checking.
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the SQLite synchronous mode (FULL, NORMAL, OFF)
	Synchronous string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a configuration with sensible defaults for driver.
func DefaultConfig(driver, dsn string) Config {
	cfg := Config{
		Driver:          driver,
		DSN:             dsn,
		Table:           DefaultTable,
		ConnectTimeout:  15 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
	if driver == DriverSQLite {
		cfg.BusyTimeout = 30 * time.Second
		cfg.EnableForeignKeys = true
		cfg.JournalMode = "WAL"
		cfg.Synchronous = "NORMAL"
	}
	return cfg
}

// TempFileTestConfig returns a SQLite configuration tuned for tests against
// a temporary database file.
func TempFileTestConfig(path string) Config {
	cfg := DefaultConfig(DriverSQLite, path)
	cfg.BusyTimeout = 5 * time.Second
	cfg.JournalMode = "MEMORY"
	cfg.Synchronous = "OFF"
	cfg.ConnectTimeout = 5 * time.Second
	return cfg
}

// Validate checks the configuration for values Open cannot use.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if _, err := dialectFor(c.Driver); err != nil {
		return err
	}
	if err := ValidateTableName(c.Table); err != nil {
		return err
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout cannot be negative")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("ConnectTimeout cannot be negative")
	}

	validJournalModes := map[string]bool{
		"DELETE":   true,
		"TRUNCATE": true,
		"PERSIST":  true,
		"MEMORY":   true,
		"WAL":      true,
		"OFF":      true,
	}
	if c.JournalMode != "" && !validJournalModes[strings.ToUpper(c.JournalMode)] {
		return fmt.Errorf("invalid journal mode: %s", c.JournalMode)
	}

	validSyncModes := map[string]bool{
		"OFF":    true,
		"NORMAL": true,
		"FULL":   true,
		"EXTRA":  true,
	}
	if c.Synchronous != "" && !validSyncModes[strings.ToUpper(c.Synchronous)] {
		return fmt.Errorf("invalid synchronous mode: %s", c.Synchronous)
	}

	if c.MaxOpenConns < 0 {
		return fmt.Errorf("MaxOpenConns cannot be negative")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("MaxIdleConns cannot be negative")
	}
	if c.ConnMaxLifetime < 0 {
		return fmt.Errorf("ConnMaxLifetime cannot be negative")
	}
	return nil
}

// Open validates cfg, opens the database and verifies it is reachable.
// Failures to reach the database are returned as *migration.ConnectivityError.
func Open(ctx context.Context, cfg Config) (*sql.DB, Dialect, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	dialect, _ := dialectFor(cfg.Driver)

	if cfg.Driver == DriverSQLite && cfg.DSN != ":memory:" && !strings.HasPrefix(cfg.DSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(dialect.DriverName(), dialect.ConnString(cfg))
	if err != nil {
		return nil, nil, connectivity("open", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, connectivity("ping", err)
	}

	if err := dialect.Configure(ctx, db, cfg); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to configure %s database: %w", dialect.Name(), err)
	}
	return db, dialect, nil
}
