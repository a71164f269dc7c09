// Package dbadapter defines the narrow capability contract (spec.md §4.4)
// that the Load Strategy Director and Bulk Load Executor depend on, and
// nothing else in core is permitted to reach the database by any other
// path. Three implementations live in the postgres, mssql, and sqlite
// subpackages, grounded on the retrieved corpus's own pgx/v5-backed
// storage.Repository and its go-mssqldb/SQLite counterparts.
package dbadapter

import (
	"context"
	"io"

	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

// MetadataRow is one row of py_load_uniprot_metadata (spec.md §3.2, §4.6).
type MetadataRow struct {
	ReleaseTag string
	LoadedAt   string // RFC3339; adapters are free to store as native timestamp
	RowCounts  map[string]int64
}

// HistoryRow is one row of load_history (spec.md §3.2, §4.6). Dataset
// names which UniProtKB corpus the run ingested (e.g. "Swiss-Prot",
// "TrEMBL") — spec.md §3.2's load_history.dataset column; it is distinct
// from the release tag, which load_history has no column for at all.
type HistoryRow struct {
	RunID      string
	Mode       string // "full" or "delta"
	Dataset    string
	Status     string // "running", "succeeded", "failed", "cancelled"
	StartedAt  string // RFC3339
	FinishedAt string // RFC3339, empty while running
	ErrMessage string
}

// Adapter is the full set of database operations core is allowed to invoke,
// matching spec.md §4.4 one-for-one. Every method is idempotent where the
// spec says so; callers rely on that idempotency for crash recovery and
// the "run a full load twice" testable property (spec.md §8-5).
type Adapter interface {
	// CreateSchema creates name if absent.
	CreateSchema(ctx context.Context, name string) error

	// ApplyTableDefinitions creates every table in cat (and their FKs)
	// inside schema, skipping tables that already exist.
	ApplyTableDefinitions(ctx context.Context, targetSchema string, cat schema.Catalog) error

	// BulkIngest streams r — an already-decompressed, tab-separated,
	// \N-null-escaped byte stream per spec.md §4.2 — into
	// targetSchema.table using the adapter's native fastest bulk-load
	// path. Row-by-row insertion is forbidden by contract.
	BulkIngest(ctx context.Context, targetSchema, table string, columns []string, r io.Reader) (int64, error)

	// CreateIndexes builds every B-tree/inverted index cat declares.
	CreateIndexes(ctx context.Context, targetSchema string, cat schema.Catalog) error

	// Analyze collects statistics for the query planner.
	Analyze(ctx context.Context, targetSchema string) error

	// RenameSchema performs a single-statement rename. When called inside
	// ExecuteInTransaction alongside another RenameSchema call, the two
	// renames commit together (spec.md §4.7 step 6).
	RenameSchema(ctx context.Context, oldName, newName string) error

	// UpsertFromStaging merges stagingSchema.table into
	// productionSchema.table, keyed by keyColumns, updating
	// updatableColumns on conflict (spec.md §4.8 step 4).
	UpsertFromStaging(ctx context.Context, stagingSchema, productionSchema, table string, keyColumns, updatableColumns []string) error

	// DeleteMissingFromStaging removes productionSchema.table rows whose
	// keyColumns value does not appear in stagingSchema.table. When
	// scopeColumn is non-empty, the delete is additionally restricted to
	// rows whose scopeColumn value appears somewhere in
	// stagingSchema.table — spec.md §4.8 step 4's "set of relations for
	// this protein" merge is scoped to the proteins this run's staging
	// actually touched, not every row production has ever loaded for any
	// other protein. Pass an empty scopeColumn for a global delete-missing
	// sweep (e.g. the deprecated-entry policy over the whole proteins
	// table, spec.md §4.8 step 5), where no such scoping applies.
	DeleteMissingFromStaging(ctx context.Context, stagingSchema, productionSchema, table string, keyColumns []string, scopeColumn string) error

	// ReadMetadata returns the most recent metadata row inside schema, or
	// ok=false if none exists yet.
	ReadMetadata(ctx context.Context, targetSchema string) (row MetadataRow, ok bool, err error)

	// WriteMetadata inserts or updates the metadata row for row.ReleaseTag.
	WriteMetadata(ctx context.Context, targetSchema string, row MetadataRow) error

	// WriteHistory inserts or updates one load_history row, keyed by
	// row.RunID.
	WriteHistory(ctx context.Context, targetSchema string, row HistoryRow) error

	// DropSchema drops name and everything inside it. Used to discard a
	// failed or superseded staging schema.
	DropSchema(ctx context.Context, name string) error

	// ExecuteInTransaction runs ops against a single transactional
	// connection dedicated to the call, per spec.md §5's "one dedicated
	// connection for the cutover transaction (must not be shared)".
	ExecuteInTransaction(ctx context.Context, ops func(ctx context.Context, tx Tx) error) error

	// Close releases pooled connections.
	Close()
}

// Tx is the subset of transactional operations ExecuteInTransaction's
// callback may invoke. It intentionally mirrors only the Adapter methods
// that make sense inside a single transaction (spec.md §4.7 step 6).
type Tx interface {
	RenameSchema(ctx context.Context, oldName, newName string) error
	WriteMetadata(ctx context.Context, targetSchema string, row MetadataRow) error
	WriteHistory(ctx context.Context, targetSchema string, row HistoryRow) error
}
