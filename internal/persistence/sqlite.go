package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/dbmigrator/internal/migration"
)

// sha256Function is registered with the SQLite driver so that checksum
// queries can hash their aggregated signatures in SQL.
const sha256Function = "dbm_sha256"

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(sha256Function, 1, sqliteSHA256); err != nil {
		panic(fmt.Sprintf("register %s: %v", sha256Function, err))
	}
}

func sqliteSHA256(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	var data []byte
	switch v := args[0].(type) {
	case nil:
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data = []byte(fmt.Sprint(v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return DriverSQLite }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) CreateTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	version TEXT NOT NULL,
	feature TEXT NOT NULL,
	script_order INTEGER NOT NULL,
	script TEXT NOT NULL,
	kind TEXT NOT NULL,
	script_checksum TEXT NOT NULL,
	execution_time_ms INTEGER NOT NULL,
	applied_at TEXT NOT NULL,
	tables_views_checksum TEXT NOT NULL,
	functions_checksum TEXT NOT NULL,
	procedures_checksum TEXT NOT NULL,
	triggers_checksum TEXT NOT NULL,
	indexes_checksum TEXT NOT NULL
)`, table)
}

// SQLite has no stored functions or procedures; those categories hash the
// empty signature list.
func (sqliteDialect) ChecksumQuery(category migration.SchemaCategory, table string) Query {
	switch category {
	case migration.CategoryTablesAndViews:
		return Query{SQL: `SELECT dbm_sha256(group_concat(sig, '|' ORDER BY sig)) FROM (
	SELECT 'column:' || m.type || ':' || m.name || ':' || p.cid || ':' || p.name || ':' || p.type || ':' ||
		p."notnull" || ':' || coalesce(p.dflt_value, '') || ':' || p.pk AS sig
	FROM sqlite_master m JOIN pragma_table_info(m.name) p
	WHERE m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite\_%' ESCAPE '\' AND m.name <> ?
	UNION ALL
	SELECT 'view:' || name || ':' || coalesce(sql, '')
	FROM sqlite_master
	WHERE type = 'view'
)`, Args: []any{table}}
	case migration.CategoryTriggers:
		return Query{SQL: `SELECT dbm_sha256(group_concat(sig, '|' ORDER BY sig)) FROM (
	SELECT name || ':' || tbl_name || ':' || coalesce(sql, '') AS sig
	FROM sqlite_master
	WHERE type = 'trigger' AND tbl_name <> ?
)`, Args: []any{table}}
	case migration.CategoryIndexes:
		return Query{SQL: `SELECT dbm_sha256(group_concat(sig, '|' ORDER BY sig)) FROM (
	SELECT 'index:' || m.name || ':' || i.name || ':' || i."unique" || ':' || i.origin || ':' || i.partial || ':' ||
		coalesce(x.sql, '') AS sig
	FROM sqlite_master m
	JOIN pragma_index_list(m.name) i
	LEFT JOIN sqlite_master x ON x.type = 'index' AND x.name = i.name
	WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite\_%' ESCAPE '\' AND m.name <> ?
	UNION ALL
	SELECT 'fk:' || m.name || ':' || f.id || ':' || f.seq || ':' || f."table" || ':' || f."from" || ':' ||
		coalesce(f."to", '') || ':' || f.on_update || ':' || f.on_delete
	FROM sqlite_master m JOIN pragma_foreign_key_list(m.name) f
	WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite\_%' ESCAPE '\' AND m.name <> ?
)`, Args: []any{table, table}}
	default:
		return Query{SQL: `SELECT dbm_sha256(NULL)`}
	}
}

// ConnString appends the session pragmas as _pragma query parameters. The
// driver runs them on every new connection, including those the pool opens
// after ConnMaxLifetime expires.
func (sqliteDialect) ConnString(cfg Config) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	if cfg.JournalMode != "" {
		params.Add("_pragma", fmt.Sprintf("journal_mode(%s)", strings.ToUpper(cfg.JournalMode)))
	}
	if cfg.Synchronous != "" {
		params.Add("_pragma", fmt.Sprintf("synchronous(%s)", strings.ToUpper(cfg.Synchronous)))
	}
	if cfg.EnableForeignKeys {
		params.Add("_pragma", "foreign_keys(1)")
	}

	sep := "?"
	if strings.Contains(cfg.DSN, "?") {
		sep = "&"
	}
	return cfg.DSN + sep + params.Encode()
}

// Configure pins the pool to a single connection so that every statement of
// a run sees the same transaction state.
func (sqliteDialect) Configure(_ context.Context, db *sql.DB, _ Config) error {
	db.SetMaxOpenConns(1)
	return nil
}

func (sqliteDialect) IsConnectivity(err error) bool {
	if isNetworkError(err) {
		return true
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CANTOPEN
	}
	return false
}
