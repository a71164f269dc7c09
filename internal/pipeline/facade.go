// Package pipeline exposes the Pipeline Facade (spec.md §2): the single
// programmatic entry point external callers (the CLI, a scheduler, a test
// harness) use to drive one run. Everything upstream of this package —
// config loading, the CLI surface, logging setup — is an external
// collaborator per spec.md §1's scope note; the facade is where that
// outside world hands off into the core.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter"
	"github.com/gowthamrao/py-load-unitprot/internal/loadstrategy"
	"github.com/gowthamrao/py-load-unitprot/internal/metadata"
	"github.com/gowthamrao/py-load-unitprot/internal/rowencode"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

// Mode selects which load strategy the Director runs.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeDelta Mode = "delta"
)

// Facade is the (mode, dataset, profile) entry point named in spec.md §2.
// dataset is the label recorded in load_history (e.g. "Swiss-Prot",
// "TrEMBL") distinguishing which UniProtKB corpus a run ingested; it is
// not a path — the actual XML bytes are supplied by the caller as input to
// Run, since where they come from (local disk, a downloader's staged
// file) is an external collaborator per spec.md §1.
type Facade struct {
	Adapter          dbadapter.Adapter
	Catalog          schema.Catalog
	ProductionSchema string
	SpoolDir         string
	Workers          int
	QueueSize        int
	DeleteMissing    bool
	Logger           *zap.Logger
}

// Result is what Run reports back to the caller.
type Result struct {
	RunID      string
	ReleaseTag string
	Mode       Mode
	Dataset    string
}

func (f *Facade) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// Run drives one full pass of the Load Strategy Director for mode against
// input, labeling the run with dataset and encoding rows under profile.
// The run_id is generated here (not by the caller) so every invocation —
// CLI, test, future scheduler — gets a uniformly unique identifier.
func (f *Facade) Run(ctx context.Context, mode Mode, dataset string, profile rowencode.Profile, input io.Reader) (Result, error) {
	runID := uuid.NewString()
	log := f.logger().With(zap.String("run_id", runID), zap.String("mode", string(mode)), zap.String("dataset", dataset))
	log.Info("run starting")

	// Every run gets its own subdirectory beneath the configured spool root
	// so that two concurrent runs never share a spool.Set, and so that the
	// Director can remove exactly this run's files when it finishes without
	// touching anything else using the root (internal/config's SpoolDir doc
	// comment: "a per-run subdirectory is created beneath it").
	deps := loadstrategy.Deps{
		Adapter:          f.Adapter,
		Catalog:          f.Catalog,
		ProductionSchema: f.ProductionSchema,
		Dataset:          dataset,
		SpoolDir:         filepath.Join(f.SpoolDir, runID),
		Profile:          profile,
		Workers:          f.Workers,
		QueueSize:        f.QueueSize,
		DeleteMissing:    f.DeleteMissing,
		Logger:           log,
	}

	start := time.Now()
	var release string
	var err error
	switch mode {
	case ModeFull:
		release, err = loadstrategy.FullLoad(ctx, deps, input, runID)
	case ModeDelta:
		release, err = loadstrategy.DeltaLoad(ctx, deps, input, runID)
	default:
		return Result{}, fmt.Errorf("pipeline: unknown mode %q", mode)
	}
	if err != nil {
		log.Error("run failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return Result{RunID: runID, Mode: mode, Dataset: dataset}, err
	}
	log.Info("run succeeded", zap.String("release", release), zap.Duration("elapsed", time.Since(start)))
	return Result{RunID: runID, ReleaseTag: release, Mode: mode, Dataset: dataset}, nil
}

// Status reports the release currently live in the production schema,
// supporting the "status query" external interface named in spec.md §6.
func (f *Facade) Status(ctx context.Context) (metadata.Status, error) {
	return metadata.New(f.Adapter).CurrentRelease(ctx, f.ProductionSchema)
}
