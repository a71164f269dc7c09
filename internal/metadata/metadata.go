// Package metadata implements the Metadata Registry (MR, spec.md §4.6):
// it reads the current release version for `status` queries and writes
// the py_load_uniprot_metadata and load_history rows that the Load
// Strategy Director needs at the start and end of every run.
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter"
)

// Status is the information reported back to an operator calling the
// facade's Status operation: the release currently live in the production
// schema, if any.
type Status struct {
	Loaded     bool
	ReleaseTag string
	LoadedAt   string
	RowCounts  map[string]int64
}

// Registry wraps a dbadapter.Adapter with the MR's higher-level read/write
// operations, keeping the "which columns, which table" detail out of the
// Load Strategy Director.
type Registry struct {
	adapter dbadapter.Adapter
}

// New constructs a Registry over an already-open adapter.
func New(adapter dbadapter.Adapter) *Registry {
	return &Registry{adapter: adapter}
}

// CurrentRelease reads the most recent release row from targetSchema.
func (r *Registry) CurrentRelease(ctx context.Context, targetSchema string) (Status, error) {
	row, ok, err := r.adapter.ReadMetadata(ctx, targetSchema)
	if err != nil {
		return Status{}, fmt.Errorf("metadata: read: %w", err)
	}
	if !ok {
		return Status{Loaded: false}, nil
	}
	return Status{Loaded: true, ReleaseTag: row.ReleaseTag, LoadedAt: row.LoadedAt, RowCounts: row.RowCounts}, nil
}

// RecordRelease writes or refreshes the current-release row (spec.md §4.6).
// rowCounts is passed through as MetadataRow.RowCounts; the adapters store
// only its "swissprot" and "trembl" entries, in the two entry-count columns.
func (r *Registry) RecordRelease(ctx context.Context, targetSchema, releaseTag string, rowCounts map[string]int64) error {
	err := r.adapter.WriteMetadata(ctx, targetSchema, dbadapter.MetadataRow{
		ReleaseTag: releaseTag,
		LoadedAt:   time.Now().UTC().Format(time.RFC3339),
		RowCounts:  rowCounts,
	})
	if err != nil {
		return fmt.Errorf("metadata: write: %w", err)
	}
	return nil
}

// StartRun inserts a load_history row with status "running" (spec.md
// §4.7 step 1, §4.8 step 1). dataset names the corpus being ingested
// (e.g. "Swiss-Prot", "TrEMBL") — spec.md §3.2's load_history.dataset
// column, independent of the release tag (which load_history has no
// column for).
func (r *Registry) StartRun(ctx context.Context, targetSchema, runID, mode, dataset string) error {
	return r.adapter.WriteHistory(ctx, targetSchema, dbadapter.HistoryRow{
		RunID:     runID,
		Mode:      mode,
		Dataset:   dataset,
		Status:    "running",
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// FinishRun updates the load_history row with a terminal status
// ("succeeded", "failed", or "cancelled") and, on failure, the error
// message (spec.md §7's propagation policy).
func (r *Registry) FinishRun(ctx context.Context, targetSchema, runID, mode, dataset, status, errMessage string) error {
	return r.adapter.WriteHistory(ctx, targetSchema, dbadapter.HistoryRow{
		RunID:      runID,
		Mode:       mode,
		Dataset:    dataset,
		Status:     status,
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
		ErrMessage: errMessage,
	})
}
