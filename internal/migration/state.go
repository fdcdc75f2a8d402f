package migration

import (
	"context"
	"time"
)

// SchemaCategory names one of the five schema-object checksum categories.
type SchemaCategory string

const (
	CategoryTablesAndViews   SchemaCategory = "tables_views_columns"
	CategoryFunctions        SchemaCategory = "functions"
	CategoryStoredProcedures SchemaCategory = "stored_procedures"
	CategoryTriggers         SchemaCategory = "triggers"
	CategoryIndexes          SchemaCategory = "indexes_constraints"
)

// SchemaCategories lists the categories in a fixed order.
var SchemaCategories = []SchemaCategory{
	CategoryTablesAndViews,
	CategoryFunctions,
	CategoryStoredProcedures,
	CategoryTriggers,
	CategoryIndexes,
}

// SchemaChecksums holds one engine-computed aggregate per category.
type SchemaChecksums struct {
	TablesAndViews   string
	Functions        string
	StoredProcedures string
	Triggers         string
	Indexes          string
}

// Get returns the checksum for a category.
func (c SchemaChecksums) Get(category SchemaCategory) string {
	switch category {
	case CategoryTablesAndViews:
		return c.TablesAndViews
	case CategoryFunctions:
		return c.Functions
	case CategoryStoredProcedures:
		return c.StoredProcedures
	case CategoryTriggers:
		return c.Triggers
	case CategoryIndexes:
		return c.Indexes
	}
	return ""
}

// Set stores the checksum for a category.
func (c *SchemaChecksums) Set(category SchemaCategory, value string) {
	switch category {
	case CategoryTablesAndViews:
		c.TablesAndViews = value
	case CategoryFunctions:
		c.Functions = value
	case CategoryStoredProcedures:
		c.StoredProcedures = value
	case CategoryTriggers:
		c.Triggers = value
	case CategoryIndexes:
		c.Indexes = value
	}
}

// AppliedRecord is one row of the audit table.
type AppliedRecord struct {
	ID            int64
	RunID         string
	Key           Key
	FileName      string
	Kind          ScriptKind
	Checksum      Checksum
	ExecutionTime time.Duration
	AppliedAt     time.Time
	Schema        SchemaChecksums
}

// Source produces the declared manifest.
type Source interface {
	Load(ctx context.Context) (*Manifest, error)
}

// StateStore persists applied-script records in the target database.
type StateStore interface {
	// Bootstrap creates the audit table when absent.
	Bootstrap(ctx context.Context) error

	// AppliedManifest rebuilds the manifest of applied scripts.
	AppliedManifest(ctx context.Context) (*Manifest, error)

	// Records returns the audit rows in application order.
	Records(ctx context.Context) ([]AppliedRecord, error)

	// LatestChecksums returns the schema checksums recorded with the most
	// recently applied script. ok is false when nothing is applied.
	LatestChecksums(ctx context.Context) (sums SchemaChecksums, ok bool, err error)

	// SchemaChecksums computes the live schema checksums.
	SchemaChecksums(ctx context.Context) (SchemaChecksums, error)

	// WithinTransaction runs fn in a transaction committed when fn returns nil.
	WithinTransaction(ctx context.Context, fn func(tx StateTx) error) error
}

// StateTx is the transactional view of a StateStore used by the migrator.
type StateTx interface {
	// Execute runs a script's content and reports its wall-clock duration.
	Execute(ctx context.Context, script *Script) (time.Duration, error)

	// SchemaChecksums computes the schema checksums as seen by the transaction.
	SchemaChecksums(ctx context.Context) (SchemaChecksums, error)

	// AppendRecord inserts an audit row.
	AppendRecord(ctx context.Context, record AppliedRecord) error

	// RemoveRecord deletes the audit row of the upgrade script at key.
	RemoveRecord(ctx context.Context, key Key) error
}
