// Package loadstrategy implements the Load Strategy Director (LSD,
// spec.md §4.7 full load, §4.8 delta load): the orchestrating sequence
// that drives the Database Adapter, Parallel Transform Coordinator, Bulk
// Load Executor, and Metadata Registry through one complete run. Nothing
// else in core calls these collaborators directly — LSD is the only
// sequencer (spec.md §5: "LSD, BLE, MR, and DA interactions happen on the
// orchestrating thread").
package loadstrategy

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gowthamrao/py-load-unitprot/internal/bulkload"
	"github.com/gowthamrao/py-load-unitprot/internal/coordinator"
	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter"
	"github.com/gowthamrao/py-load-unitprot/internal/metadata"
	"github.com/gowthamrao/py-load-unitprot/internal/pipelineerr"
	"github.com/gowthamrao/py-load-unitprot/internal/rowencode"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

// Deps bundles every collaborator and setting the Director needs. It is
// built once by the Pipeline Facade and passed into FullLoad/DeltaLoad.
type Deps struct {
	Adapter          dbadapter.Adapter
	Catalog          schema.Catalog
	ProductionSchema string
	// Dataset names the UniProtKB corpus this run ingests (e.g.
	// "Swiss-Prot", "TrEMBL"), recorded verbatim into load_history.dataset
	// (spec.md §3.2) — distinct from the release tag, which is discovered
	// only once PTC reads the XML root element.
	Dataset   string
	SpoolDir  string
	Profile   rowencode.Profile
	Workers   int
	QueueSize int
	// DeleteMissing enables the delta load's deprecated-entry removal
	// policy (spec.md §4.8 step 5; default off per spec.md §9).
	DeleteMissing bool
	Logger        *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// stagingSchemaName is run-scoped rather than release-tag-scoped: the
// release tag is only known once the XML Entry Parser reads the root
// element inside PTC (spec.md §4.1), which happens strictly after DA
// creates the staging schema (spec.md §4.7 step 2 precedes step 3). Using
// runID keeps the schema name available before the tag is known while
// still being unique per run, which is all §4.7's naming rule actually
// requires; the release tag itself is still recorded under MR once known.
func stagingSchemaName(production, runID string) string {
	return production + "_staging_" + runID
}

func archiveSchemaName(production string, at time.Time) string {
	return production + "_archive_" + at.UTC().Format("20060102150405")
}

// FullLoad runs the sequence of spec.md §4.7: stage, transform, bulk-load,
// index, then atomically swap staging in as production.
func FullLoad(ctx context.Context, deps Deps, input io.Reader, runID string) (releaseTag string, err error) {
	log := deps.logger()
	reg := metadata.New(deps.Adapter)
	staging := stagingSchemaName(deps.ProductionSchema, runID)

	// Spool files are always removed once the run is over, success or
	// failure, mirroring the original transformer's unconditional
	// finally-block cleanup (spec.md §3.5). PTC already deletes them itself
	// on its own failure path; this covers success and every failure that
	// happens afterward (BLE, indexing, cutover).
	defer func() {
		if rmErr := os.RemoveAll(deps.SpoolDir); rmErr != nil {
			log.Warn("failed to remove spool directory", zap.String("dir", deps.SpoolDir), zap.Error(rmErr))
		}
	}()

	if err := deps.Adapter.CreateSchema(ctx, staging); err != nil {
		return "", fmt.Errorf("loadstrategy: create staging schema: %w", err)
	}
	if err := deps.Adapter.ApplyTableDefinitions(ctx, staging, deps.Catalog); err != nil {
		_ = deps.Adapter.DropSchema(ctx, staging)
		return "", fmt.Errorf("loadstrategy: apply table definitions: %w", err)
	}

	// load_history lives inside the staging schema, not deps.ProductionSchema,
	// until cutover renames staging into production: on the very first full
	// load against a fresh database, deps.ProductionSchema doesn't exist yet,
	// and an insert against it would fail before staging is even populated.
	// Recording against staging means the row survives the rename on success.
	// If the run fails before cutover, fail() writes the "failed" status into
	// staging's load_history and then drops staging, so that row is not kept;
	// a failure to write it is logged at Error level.
	if err := reg.StartRun(ctx, staging, runID, "full", deps.Dataset); err != nil {
		log.Error("failed to record run start", zap.Error(err))
	}

	fail := func(cause error) (string, error) {
		if err := reg.FinishRun(ctx, staging, runID, "full", deps.Dataset, "failed", cause.Error()); err != nil {
			log.Error("failed to record run failure", zap.Error(err))
		}
		_ = deps.Adapter.DropSchema(ctx, staging)
		return "", cause
	}

	ptcReport, err := coordinator.Run(ctx, input, deps.Catalog, deps.Profile, deps.SpoolDir, coordinator.Options{
		Workers:   deps.Workers,
		QueueSize: deps.QueueSize,
	}, log)
	if err != nil {
		return fail(err)
	}
	releaseTag = ptcReport.ReleaseTag
	log.Info("transform complete", zap.String("release", releaseTag), zap.Int64("entries_ok", ptcReport.EntriesOK), zap.Int64("entries_bad", ptcReport.EntriesBad))

	bleReport, err := bulkload.Run(ctx, deps.Adapter, deps.Catalog, staging, deps.SpoolDir, log)
	if err != nil {
		return fail(err)
	}

	if err := deps.Adapter.CreateIndexes(ctx, staging, deps.Catalog); err != nil {
		return fail(fmt.Errorf("loadstrategy: create indexes: %w", err))
	}
	if err := deps.Adapter.Analyze(ctx, staging); err != nil {
		return fail(fmt.Errorf("loadstrategy: analyze: %w", err))
	}
	if err := reg.RecordRelease(ctx, staging, releaseTag, bleReport.RowCounts); err != nil {
		return fail(fmt.Errorf("loadstrategy: record release in staging: %w", err))
	}

	// Whether there is anything to archive is checked before opening the
	// cutover transaction, not inside it: on Postgres a failed ALTER SCHEMA
	// (because production doesn't exist yet, on a first-ever load) would
	// abort the transaction, poisoning every statement after it.
	priorStatus, err := reg.CurrentRelease(ctx, deps.ProductionSchema)
	if err != nil {
		return fail(fmt.Errorf("loadstrategy: check existing production release: %w", err))
	}

	archive := archiveSchemaName(deps.ProductionSchema, time.Now())
	cutoverErr := deps.Adapter.ExecuteInTransaction(ctx, func(ctx context.Context, tx dbadapter.Tx) error {
		if priorStatus.Loaded {
			if err := tx.RenameSchema(ctx, deps.ProductionSchema, archive); err != nil {
				return err
			}
		}
		if err := tx.RenameSchema(ctx, staging, deps.ProductionSchema); err != nil {
			return err
		}
		return tx.WriteMetadata(ctx, deps.ProductionSchema, dbadapter.MetadataRow{ReleaseTag: releaseTag, RowCounts: bleReport.RowCounts})
	})
	if cutoverErr != nil {
		return fail(&pipelineerr.CutoverFailureError{Cause: cutoverErr})
	}

	if err := reg.FinishRun(ctx, deps.ProductionSchema, runID, "full", deps.Dataset, "succeeded", ""); err != nil {
		log.Error("failed to record run success", zap.Error(err))
	}
	return releaseTag, nil
}

// DeltaLoad runs the sequence of spec.md §4.8: stage, transform, bulk-load
// into staging, then merge each table into production in parent-before-
// child order, dropping staging afterward.
func DeltaLoad(ctx context.Context, deps Deps, input io.Reader, runID string) (releaseTag string, err error) {
	log := deps.logger()
	reg := metadata.New(deps.Adapter)
	staging := stagingSchemaName(deps.ProductionSchema, runID)

	defer func() {
		if rmErr := os.RemoveAll(deps.SpoolDir); rmErr != nil {
			log.Warn("failed to remove spool directory", zap.String("dir", deps.SpoolDir), zap.Error(rmErr))
		}
	}()

	// Unlike FullLoad, a delta merges directly into deps.ProductionSchema
	// rather than renaming staging into it, so production tables (including
	// load_history) are created up front here rather than left until after
	// the bulk load — a delta run against a database that has never
	// completed a full load still needs somewhere to write its run-history
	// row, and staging gets dropped (not renamed) before this function
	// returns, so a row recorded only in staging would vanish with it.
	if err := deps.Adapter.ApplyTableDefinitions(ctx, deps.ProductionSchema, deps.Catalog); err != nil {
		return "", fmt.Errorf("loadstrategy: ensure production tables exist: %w", err)
	}

	if err := deps.Adapter.CreateSchema(ctx, staging); err != nil {
		return "", fmt.Errorf("loadstrategy: create staging schema: %w", err)
	}
	if err := deps.Adapter.ApplyTableDefinitions(ctx, staging, deps.Catalog); err != nil {
		_ = deps.Adapter.DropSchema(ctx, staging)
		return "", fmt.Errorf("loadstrategy: apply table definitions: %w", err)
	}

	if err := reg.StartRun(ctx, deps.ProductionSchema, runID, "delta", deps.Dataset); err != nil {
		log.Error("failed to record run start", zap.Error(err))
	}

	fail := func(cause error) (string, error) {
		if err := reg.FinishRun(ctx, deps.ProductionSchema, runID, "delta", deps.Dataset, "failed", cause.Error()); err != nil {
			log.Error("failed to record run failure", zap.Error(err))
		}
		_ = deps.Adapter.DropSchema(ctx, staging)
		return "", cause
	}

	ptcReport, err := coordinator.Run(ctx, input, deps.Catalog, deps.Profile, deps.SpoolDir, coordinator.Options{
		Workers:   deps.Workers,
		QueueSize: deps.QueueSize,
	}, log)
	if err != nil {
		return fail(err)
	}
	releaseTag = ptcReport.ReleaseTag

	bleReport, err := bulkload.Run(ctx, deps.Adapter, deps.Catalog, staging, deps.SpoolDir, log)
	if err != nil {
		return fail(err)
	}

	for _, t := range deps.Catalog.Tables {
		updatable := nonKeyColumns(t.Columns, t.PrimaryKey)
		isRelationSet := len(t.PrimaryKey) > 1 // child "set of relations" tables use a composite key

		if isRelationSet {
			// Scoped to t.PrimaryKey[0] ("protein_accession" on every
			// relation-set table): only proteins this run's staging
			// actually touched lose rows, per spec.md §4.8 step 4.
			if err := deps.Adapter.DeleteMissingFromStaging(ctx, staging, deps.ProductionSchema, t.Name, t.PrimaryKey, t.PrimaryKey[0]); err != nil {
				return fail(err)
			}
		}
		if err := deps.Adapter.UpsertFromStaging(ctx, staging, deps.ProductionSchema, t.Name, t.PrimaryKey, updatable); err != nil {
			return fail(err)
		}
	}

	if deps.DeleteMissing {
		// Unscoped: this is the global deprecated-entry sweep over the whole
		// proteins table (spec.md §4.8 step 5), not the per-protein relation-
		// set merge above, so no scopeColumn applies.
		if err := deps.Adapter.DeleteMissingFromStaging(ctx, staging, deps.ProductionSchema, "proteins", []string{"primary_accession"}, ""); err != nil {
			return fail(err)
		}
	}

	if err := deps.Adapter.DropSchema(ctx, staging); err != nil {
		log.Warn("failed to drop staging schema after delta load", zap.String("schema", staging), zap.Error(err))
	}

	if err := reg.RecordRelease(ctx, deps.ProductionSchema, releaseTag, bleReport.RowCounts); err != nil {
		log.Warn("failed to record release", zap.Error(err))
	}
	if err := reg.FinishRun(ctx, deps.ProductionSchema, runID, "delta", deps.Dataset, "succeeded", ""); err != nil {
		log.Error("failed to record run success", zap.Error(err))
	}
	return releaseTag, nil
}

// nonKeyColumns returns cols minus every column in key, preserving order.
func nonKeyColumns(cols, key []string) []string {
	keySet := make(map[string]bool, len(key))
	for _, k := range key {
		keySet[k] = true
	}
	var out []string
	for _, c := range cols {
		if !keySet[c] {
			out = append(out, c)
		}
	}
	return out
}
