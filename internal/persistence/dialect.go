package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/example/dbmigrator/internal/migration"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Query is a SQL statement together with its bound arguments.
type Query struct {
	SQL  string
	Args []any
}

// Dialect isolates the engine-specific SQL used by the Store.
type Dialect interface {
	// Name is the configured driver name.
	Name() string

	// DriverName is the database/sql driver registration name.
	DriverName() string

	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string

	// CreateTable returns the DDL creating the audit table when absent.
	CreateTable(table string) string

	// ChecksumQuery returns a query producing a single text checksum for the
	// category. Objects belonging to the audit table are excluded.
	ChecksumQuery(category migration.SchemaCategory, table string) Query

	// ConnString returns the data source name handed to sql.Open. Settings
	// that must hold on every pooled connection are encoded here.
	ConnString(cfg Config) string

	// Configure applies pool settings after the connection is verified.
	Configure(ctx context.Context, db *sql.DB, cfg Config) error

	// IsConnectivity reports whether err means the database is unreachable.
	IsConnectivity(err error) bool
}

func dialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqliteDialect{}, nil
	case DriverPostgres:
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q (want %q or %q)", driver, DriverSQLite, DriverPostgres)
	}
}

// ValidateTableName rejects audit table names that cannot be used as a bare
// SQL identifier.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid audit table name %q", name)
	}
	return nil
}

func placeholders(d Dialect, n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = d.Placeholder(i + 1)
	}
	return strings.Join(marks, ", ")
}

func isNetworkError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func connectivity(operation string, err error) error {
	return &migration.ConnectivityError{Operation: operation, Err: err}
}
