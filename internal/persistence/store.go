package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/dbmigrator/internal/migration"
)

// appliedAtLayout is fixed width so that the text column sorts chronologically.
const appliedAtLayout = "2006-01-02T15:04:05.000000000Z"

const recordColumns = `id, run_id, version, feature, script_order, script, kind, script_checksum,
	execution_time_ms, applied_at, tables_views_checksum, functions_checksum,
	procedures_checksum, triggers_checksum, indexes_checksum`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store keeps the audit table of applied scripts in the target database and
// computes its schema checksums. It implements migration.StateStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	now     func() time.Time
	logger  *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used to time scripts.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a Store over an open database.
func NewStore(db *sql.DB, dialect Dialect, table string, opts ...StoreOption) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		table:   table,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("service", "store", "dialect", dialect.Name(), "table", table)
	return s, nil
}

// Table returns the audit table name.
func (s *Store) Table() string {
	return s.table
}

// Bootstrap creates the audit table when absent.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.CreateTable(s.table)); err != nil {
		return s.wrap("bootstrap", fmt.Errorf("failed to create audit table %s: %w", s.table, err))
	}
	return nil
}

// Records returns the audit rows in insertion order.
func (s *Store) Records(ctx context.Context) ([]migration.AppliedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY id", recordColumns, s.table))
	if err != nil {
		return nil, s.wrap("read records", fmt.Errorf("failed to query audit table: %w", err))
	}
	defer rows.Close()

	var records []migration.AppliedRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("read records", fmt.Errorf("failed to iterate audit table: %w", err))
	}
	return records, nil
}

// AppliedManifest rebuilds the manifest of applied scripts from the audit
// rows. Versions and features appear in the order they were first applied.
func (s *Store) AppliedManifest(ctx context.Context) (*migration.Manifest, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}

	manifest := migration.NewManifest()
	for _, record := range records {
		feature := manifest.AddAndOrGetVersion(record.Key.Version).AddAndOrGetFeature(record.Key.Feature)
		script, err := feature.AddScript(record.FileName, record.Key.Order, record.Kind)
		if err != nil {
			return nil, fmt.Errorf("audit table %s is inconsistent: %w", s.table, err)
		}
		script.Checksum = record.Checksum
		script.ExecutionTime = record.ExecutionTime
		script.AppliedAt = record.AppliedAt
	}
	return manifest, nil
}

// LatestChecksums returns the schema checksums stored with the most recent
// audit row.
func (s *Store) LatestChecksums(ctx context.Context) (migration.SchemaChecksums, bool, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY id DESC LIMIT 1", recordColumns, s.table))
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return migration.SchemaChecksums{}, false, nil
	}
	if err != nil {
		return migration.SchemaChecksums{}, false, s.wrap("read checksums", err)
	}
	return record.Schema, true, nil
}

// SchemaChecksums computes the live schema checksums.
func (s *Store) SchemaChecksums(ctx context.Context) (migration.SchemaChecksums, error) {
	return s.schemaChecksums(ctx, s.db)
}

func (s *Store) schemaChecksums(ctx context.Context, q queryer) (migration.SchemaChecksums, error) {
	var sums migration.SchemaChecksums
	for _, category := range migration.SchemaCategories {
		query := s.dialect.ChecksumQuery(category, s.table)
		var value sql.NullString
		if err := q.QueryRowContext(ctx, query.SQL, query.Args...).Scan(&value); err != nil {
			return sums, s.wrap("schema checksums", fmt.Errorf("failed to compute %s checksum: %w", category, err))
		}
		sums.Set(category, value.String)
	}
	return sums, nil
}

// WithinTransaction runs fn in a transaction. The transaction is rolled back
// when fn returns an error or panics and committed otherwise.
func (s *Store) WithinTransaction(ctx context.Context, fn func(tx migration.StateTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin", fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&storeTx{store: s, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "error", rbErr)
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("commit", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// wrap turns errors meaning the database is unreachable into
// *migration.ConnectivityError.
func (s *Store) wrap(operation string, err error) error {
	if err == nil || !s.dialect.IsConnectivity(err) {
		return err
	}
	return connectivity(operation, err)
}

type storeTx struct {
	store *Store
	tx    *sql.Tx
}

// Execute sends the whole script content as a single statement batch.
func (t *storeTx) Execute(ctx context.Context, script *migration.Script) (time.Duration, error) {
	started := t.store.now()
	_, err := t.tx.ExecContext(ctx, script.Content)
	elapsed := t.store.now().Sub(started)
	if err != nil {
		return elapsed, &migration.ScriptExecutionError{
			Key:      script.Key(),
			FileName: script.FileName,
			Kind:     script.Kind,
			Err:      t.store.wrap("execute", err),
		}
	}
	return elapsed, nil
}

func (t *storeTx) SchemaChecksums(ctx context.Context) (migration.SchemaChecksums, error) {
	return t.store.schemaChecksums(ctx, t.tx)
}

func (t *storeTx) AppendRecord(ctx context.Context, record migration.AppliedRecord) error {
	d := t.store.dialect
	query := fmt.Sprintf(`INSERT INTO %s (run_id, version, feature, script_order, script, kind, script_checksum,
	execution_time_ms, applied_at, tables_views_checksum, functions_checksum,
	procedures_checksum, triggers_checksum, indexes_checksum) VALUES (%s)`, t.store.table, placeholders(d, 14))

	_, err := t.tx.ExecContext(ctx, query,
		record.RunID,
		record.Key.Version,
		record.Key.Feature,
		record.Key.Order,
		record.FileName,
		record.Kind.String(),
		string(record.Checksum),
		record.ExecutionTime.Milliseconds(),
		record.AppliedAt.UTC().Format(appliedAtLayout),
		record.Schema.TablesAndViews,
		record.Schema.Functions,
		record.Schema.StoredProcedures,
		record.Schema.Triggers,
		record.Schema.Indexes,
	)
	if err != nil {
		return t.store.wrap("append record", fmt.Errorf("failed to record %s: %w", record.Key, err))
	}
	return nil
}

func (t *storeTx) RemoveRecord(ctx context.Context, key migration.Key) error {
	d := t.store.dialect
	query := fmt.Sprintf("DELETE FROM %s WHERE version = %s AND feature = %s AND script_order = %s AND kind = %s",
		t.store.table, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4))

	result, err := t.tx.ExecContext(ctx, query, key.Version, key.Feature, key.Order, migration.KindUpgrade.String())
	if err != nil {
		return t.store.wrap("remove record", fmt.Errorf("failed to remove record %s: %w", key, err))
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no audit record for %s", key)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (migration.AppliedRecord, error) {
	var (
		record    migration.AppliedRecord
		kind      string
		checksum  string
		elapsedMS int64
		appliedAt string
	)
	err := row.Scan(
		&record.ID,
		&record.RunID,
		&record.Key.Version,
		&record.Key.Feature,
		&record.Key.Order,
		&record.FileName,
		&kind,
		&checksum,
		&elapsedMS,
		&appliedAt,
		&record.Schema.TablesAndViews,
		&record.Schema.Functions,
		&record.Schema.StoredProcedures,
		&record.Schema.Triggers,
		&record.Schema.Indexes,
	)
	if err != nil {
		return record, err
	}

	if record.Kind, err = migration.ParseScriptKind(kind); err != nil {
		return record, fmt.Errorf("audit record %d: %w", record.ID, err)
	}
	record.Checksum = migration.Checksum(checksum)
	record.ExecutionTime = time.Duration(elapsedMS) * time.Millisecond
	if record.AppliedAt, err = time.Parse(time.RFC3339Nano, appliedAt); err != nil {
		return record, fmt.Errorf("audit record %d: invalid applied_at %q: %w", record.ID, appliedAt, err)
	}
	return record, nil
}
