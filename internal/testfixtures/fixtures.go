package testfixtures

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"testing/fstest"
	"time"
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ScriptTree describes a script directory as slash-separated paths relative
// to its root mapped to file contents.
type ScriptTree map[string]string

// With returns a copy of the tree with the given files added or replaced.
func (t ScriptTree) With(files ScriptTree) ScriptTree {
	merged := make(ScriptTree, len(t)+len(files))
	for path, content := range t {
		merged[path] = content
	}
	for path, content := range files {
		merged[path] = content
	}
	return merged
}

// Without returns a copy of the tree with the given paths removed.
func (t ScriptTree) Without(paths ...string) ScriptTree {
	trimmed := t.With(nil)
	for _, path := range paths {
		delete(trimmed, path)
	}
	return trimmed
}

// Paths returns the tree's paths in sorted order.
func (t ScriptTree) Paths() []string {
	paths := make([]string, 0, len(t))
	for path := range t {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// FS materialises the tree as an in-memory file system.
func (t ScriptTree) FS() fstest.MapFS {
	fsys := fstest.MapFS{}
	for path, content := range t {
		fsys[path] = &fstest.MapFile{Data: []byte(content), Mode: 0o644}
	}
	return fsys
}

// Write materialises the tree under a fresh temporary directory and returns
// its path.
func (t ScriptTree) Write(tb testing.TB) string {
	tb.Helper()

	root := tb.TempDir()
	for _, path := range t.Paths() {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			tb.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(full, []byte(t[path]), 0o644); err != nil {
			tb.Fatalf("failed to write %s: %v", path, err)
		}
	}
	return root
}

// BaseScripts returns a small two-version tree: 1.0.0 creates a users table
// in the Core feature and 1.1.0 adds a column to it. Every upgrade has a
// rollback.
func BaseScripts() ScriptTree {
	return ScriptTree{
		"1.0.0/Core/001_create_users.up.sql": `CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	email TEXT NOT NULL
);`,
		"1.0.0/Core/001_create_users.down.sql": "DROP TABLE users;",
		"1.0.0/Core/002_index_email.up.sql":    "CREATE UNIQUE INDEX idx_users_email ON users (email);",
		"1.0.0/Core/002_index_email.down.sql":  "DROP INDEX idx_users_email;",
		"1.1.0/Core/001_add_column.up.sql":     "ALTER TABLE users ADD COLUMN display_name TEXT;",
		"1.1.0/Core/001_add_column.down.sql":   "ALTER TABLE users DROP COLUMN display_name;",
	}
}

// ReportingScripts extends BaseScripts with a 2.0.0 version holding a second
// feature whose trigger script has no rollback.
func ReportingScripts() ScriptTree {
	return BaseScripts().With(ScriptTree{
		"2.0.0/Reporting/001_create_audit.up.sql":   "CREATE TABLE user_audit (user_id INTEGER, changed_at TEXT);",
		"2.0.0/Reporting/001_create_audit.down.sql": "DROP TABLE user_audit;",
		"2.0.0/Reporting/002_audit_trigger.up.sql": `CREATE TRIGGER trg_users_audit AFTER UPDATE ON users
BEGIN
	INSERT INTO user_audit (user_id, changed_at) VALUES (NEW.id, datetime('now'));
END;`,
	})
}
