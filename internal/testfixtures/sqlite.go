package testfixtures

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/dbmigrator/internal/persistence"
)

// SQLiteHarness provides an audit store backed by a temporary SQLite
// database file for integration-style tests.
type SQLiteHarness struct {
	DB    *sql.DB
	Store *persistence.Store
	Path  string
	Clock *Clock

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// Exec runs statements directly against the database, outside the store.
func (h *SQLiteHarness) Exec(tb testing.TB, statements string) {
	tb.Helper()
	if _, err := h.DB.ExecContext(context.Background(), statements); err != nil {
		tb.Fatalf("failed to execute %q: %v", statements, err)
	}
}

// NewSQLiteHarness opens a temporary database file and wraps it in a Store
// using a ticking clock. Callers may optionally invoke Close, but the helper
// also registers a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB, opts ...persistence.StoreOption) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "target.db")
	db, dialect, err := persistence.Open(context.Background(), persistence.TempFileTestConfig(path))
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}

	clock := NewTickingClock(ReferenceTime(), time.Millisecond)
	opts = append([]persistence.StoreOption{persistence.WithClock(clock.NowFunc())}, opts...)
	store, err := persistence.NewStore(db, dialect, persistence.DefaultTable, opts...)
	if err != nil {
		_ = db.Close()
		tb.Fatalf("failed to create store: %v", err)
	}

	harness := &SQLiteHarness{
		DB:    db,
		Store: store,
		Path:  path,
		Clock: clock,
		cleanup: func() {
			_ = db.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}
