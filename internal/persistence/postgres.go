package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/dbmigrator/internal/migration"
)

const postgresSystemSchemas = `('pg_catalog', 'information_schema')`

type postgresDialect struct{}

func (postgresDialect) Name() string       { return DriverPostgres }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) CreateTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	version TEXT NOT NULL,
	feature TEXT NOT NULL,
	script_order INTEGER NOT NULL,
	script TEXT NOT NULL,
	kind TEXT NOT NULL,
	script_checksum TEXT NOT NULL,
	execution_time_ms BIGINT NOT NULL,
	applied_at TEXT NOT NULL,
	tables_views_checksum TEXT NOT NULL,
	functions_checksum TEXT NOT NULL,
	procedures_checksum TEXT NOT NULL,
	triggers_checksum TEXT NOT NULL,
	indexes_checksum TEXT NOT NULL
)`, table)
}

func (postgresDialect) ChecksumQuery(category migration.SchemaCategory, table string) Query {
	const aggregate = `SELECT md5(coalesce(string_agg(sig, '|' ORDER BY sig), '')) FROM (%s) s`

	switch category {
	case migration.CategoryTablesAndViews:
		return Query{SQL: fmt.Sprintf(aggregate, `
	SELECT c.table_schema || '.' || c.table_name || ':' || c.ordinal_position || ':' || c.column_name || ':' ||
		c.data_type || ':' || coalesce(c.character_maximum_length, 0) || ':' ||
		coalesce(c.numeric_precision, 0) || ':' || coalesce(c.datetime_precision, 0) || ':' ||
		c.is_nullable || ':' || coalesce(c.column_default, '') AS sig
	FROM information_schema.columns c
	WHERE c.table_schema NOT IN `+postgresSystemSchemas+` AND c.table_name <> $1`), Args: []any{table}}
	case migration.CategoryFunctions:
		return Query{SQL: fmt.Sprintf(aggregate, routineSignatures("f"))}
	case migration.CategoryStoredProcedures:
		return Query{SQL: fmt.Sprintf(aggregate, routineSignatures("p"))}
	case migration.CategoryTriggers:
		return Query{SQL: fmt.Sprintf(aggregate, `
	SELECT n.nspname || '.' || c.relname || ':' || t.tgname || ':' || pg_get_triggerdef(t.oid) AS sig
	FROM pg_trigger t
	JOIN pg_class c ON c.oid = t.tgrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE NOT t.tgisinternal AND n.nspname NOT IN `+postgresSystemSchemas+` AND c.relname <> $1`), Args: []any{table}}
	default:
		return Query{SQL: fmt.Sprintf(aggregate, `
	SELECT 'index:' || schemaname || '.' || tablename || ':' || indexname || ':' || indexdef AS sig
	FROM pg_indexes
	WHERE schemaname NOT IN `+postgresSystemSchemas+` AND tablename <> $1
	UNION ALL
	SELECT 'constraint:' || n.nspname || '.' || c.relname || ':' || con.conname || ':' ||
		con.contype::text || ':' || pg_get_constraintdef(con.oid)
	FROM pg_constraint con
	JOIN pg_class c ON c.oid = con.conrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname NOT IN `+postgresSystemSchemas+` AND c.relname <> $1`), Args: []any{table}}
	}
}

func routineSignatures(kind string) string {
	return `
	SELECT n.nspname || '.' || p.proname || '(' || pg_get_function_identity_arguments(p.oid) || '):' ||
		pg_get_functiondef(p.oid) AS sig
	FROM pg_proc p
	JOIN pg_namespace n ON n.oid = p.pronamespace
	WHERE p.prokind = '` + kind + `' AND n.nspname NOT IN ` + postgresSystemSchemas
}

func (postgresDialect) ConnString(cfg Config) string { return cfg.DSN }

func (postgresDialect) Configure(context.Context, *sql.DB, Config) error { return nil }

func (postgresDialect) IsConnectivity(err error) bool {
	if isNetworkError(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
