// Package coordinator implements the Parallel Transform Coordinator (PTC,
// spec.md §4.3): one reader running the XML entry parser, a pool of
// transformer workers running the row encoder, and a single writer
// appending rows to per-table spool files. The three stages are connected
// by two bounded channels so memory stays O(workers × largest entry)
// regardless of corpus size.
//
// The topology mirrors the reader/worker-pool/writer shape used by the
// retrieved corpus's xmlparser.ParseStream, generalized per spec.md §9's
// design note: "Producer/consumer with shared queue manager... two bounded
// channels and three roles... not inherited worker classes."
package coordinator

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gowthamrao/py-load-unitprot/internal/model"
	"github.com/gowthamrao/py-load-unitprot/internal/pipelineerr"
	"github.com/gowthamrao/py-load-unitprot/internal/rowencode"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
	"github.com/gowthamrao/py-load-unitprot/internal/spool"
	"github.com/gowthamrao/py-load-unitprot/internal/xmlentry"
)

// Options configures PTC concurrency and buffering (spec.md §4.3, §5).
type Options struct {
	// Workers is the size of the transformer pool; defaults to runtime's
	// CPU count when <= 0.
	Workers int
	// QueueSize bounds both inter-stage channels, in entry-count (not
	// bytes); defaults to 2 * Workers when <= 0.
	QueueSize int
}

// entryBatch carries every encoded row for exactly one Entry, so a single
// indivisible unit reaches the writer — "per-Entry atomicity" (spec.md
// §4.3's ordering guarantee).
type entryBatch struct {
	accession string
	tables    []rowencode.Table
}

// Report summarizes one PTC run.
type Report struct {
	ReleaseTag string
	EntriesOK  int64
	EntriesBad int64
	RowCounts  map[string]int64
	// Checksums is the xxh3-64 digest of each table's spool file, computed
	// incrementally as rows were written. Logged alongside RowCounts as an
	// integrity signal; not verified against anything downstream.
	Checksums map[string]uint64
}

// Run drives one full PTC pass: it reads r — a gzip-compressed UniProtKB
// XML stream, per spec.md §4.1's XP contract — decompresses it, encodes
// every entry under profile, and writes the results into per-table spool
// files inside spoolDir using cat's table list.
//
// On success every spool file is complete and Run returns a Report. On any
// failure other than a per-entry InvalidEntry, Run cancels every goroutine,
// deletes the partial spool directory, and returns a wrapped
// pipelineerr.ErrTransformFailure (spec.md §4.3's failure policy).
func Run(
	ctx context.Context,
	r io.Reader,
	cat schema.Catalog,
	profile rowencode.Profile,
	spoolDir string,
	opts Options,
	log *zap.Logger,
) (Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 2 * workers
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return Report{}, fmt.Errorf("coordinator: ungzip input: %w", err)
	}
	defer gz.Close()
	r = gz

	tableNames := cat.LoadOrder()
	spoolSet, err := spool.Open(spoolDir, tableNames)
	if err != nil {
		return Report{}, fmt.Errorf("coordinator: %w", err)
	}

	entries := make(chan *model.Entry, queueSize)
	batches := make(chan entryBatch, queueSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)

	parser := xmlentry.New(r)

	var report Report
	// badCount and okCount are written from the reader goroutine and from
	// every transformer in the pool, so they need to be atomic rather than
	// plain int64s.
	var badCount atomic.Int64
	var okCount atomic.Int64

	// Reader: XP → entries. Tolerates InvalidEntry per spec.md §4.1/§4.3.
	group.Go(func() error {
		defer close(entries)
		for {
			e, perr := parser.Next()
			if perr == io.EOF {
				report.ReleaseTag = parser.ReleaseTag()
				return nil
			}
			if perr != nil {
				var invalid *pipelineerr.InvalidEntryError
				if asInvalidEntry(perr, &invalid) {
					badCount.Add(1)
					log.Info("skipping invalid entry", zap.String("accession", invalid.Accession), zap.Error(invalid.Cause))
					continue
				}
				return &pipelineerr.TransformFailureError{Cause: perr}
			}
			select {
			case entries <- e:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Transformer pool: RE on each Entry, emitted as one atomic batch.
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for {
				select {
				case e, ok := <-entries:
					if !ok {
						return nil
					}
					tables, encErr := rowencode.EncodeEntry(e, profile)
					if encErr != nil {
						badCount.Add(1)
						log.Info("skipping entry that failed encoding", zap.String("accession", e.PrimaryAccession), zap.Error(encErr))
						continue
					}
					okCount.Add(1)
					select {
					case batches <- entryBatch{accession: e.PrimaryAccession, tables: tables}:
					case <-gctx.Done():
						return gctx.Err()
					}
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	// Writer: the only goroutine touching the spool.Set, per spec.md §5
	// ("Spool directory: single writer, exclusive"). It is also the only
	// place that sees every entry's taxonomy row, so it is where
	// cross-entry taxonomy dedup has to live: many entries share an
	// ncbi_taxid, but the row encoder emits one taxonomy row per entry, and
	// the taxonomy table's primary key is ncbi_taxid alone (spec.md §3.2).
	// Writing every copy would hand BulkIngest a PK collision on the first
	// repeated organism.
	rowCounts := make(map[string]int64, len(tableNames))
	seenTaxID := make(map[string]struct{})
	writerDone := make(chan struct{})
	var writeErr error
	go func() {
		defer close(writerDone)
		for {
			select {
			case b, ok := <-batches:
				if !ok {
					return
				}
				for _, tb := range b.tables {
					for _, row := range tb.Rows {
						if tb.Name == "taxonomy" {
							if _, dup := seenTaxID[row[0]]; dup {
								continue
							}
							seenTaxID[row[0]] = struct{}{}
						}
						if err := spoolSet.WriteRow(tb.Name, row); err != nil {
							writeErr = err
							cancel()
							log.Error("writer failed", zap.String("table", tb.Name), zap.Error(err))
							return
						}
						rowCounts[tb.Name]++
					}
				}
			// ctx, not gctx: group.Wait cancels gctx when it returns, and
			// the writer still has to drain batches already buffered.
			case <-ctx.Done():
				return
			}
		}
	}()

	groupErr := group.Wait()
	close(batches)
	<-writerDone

	// Prefer the writer's own error over the derived context-cancellation
	// error the reader/transformers saw as a side effect of cancel().
	failure := writeErr
	if failure == nil {
		failure = groupErr
	}

	if failure != nil {
		_ = spoolSet.Close()
		_ = spoolSet.Delete()
		var tf *pipelineerr.TransformFailureError
		if asTransformFailure(failure, &tf) {
			return Report{}, fmt.Errorf("coordinator: %w", tf)
		}
		return Report{}, fmt.Errorf("coordinator: %w", &pipelineerr.TransformFailureError{Cause: failure})
	}

	checksums := make(map[string]uint64, len(tableNames))
	for _, t := range tableNames {
		checksums[t] = spoolSet.Checksum(t)
	}

	if closeErr := spoolSet.Close(); closeErr != nil {
		_ = spoolSet.Delete()
		return Report{}, fmt.Errorf("coordinator: %w", &pipelineerr.TransformFailureError{Cause: closeErr})
	}

	report.EntriesOK = okCount.Load()
	report.EntriesBad = badCount.Load()
	report.RowCounts = rowCounts
	report.Checksums = checksums
	for _, t := range tableNames {
		log.Debug("spool table written", zap.String("table", t), zap.Int64("rows", rowCounts[t]), zap.Uint64("checksum", checksums[t]))
	}
	return report, nil
}

func asInvalidEntry(err error, target **pipelineerr.InvalidEntryError) bool {
	if e, ok := err.(*pipelineerr.InvalidEntryError); ok {
		*target = e
		return true
	}
	return false
}

func asTransformFailure(err error, target **pipelineerr.TransformFailureError) bool {
	if e, ok := err.(*pipelineerr.TransformFailureError); ok {
		*target = e
		return true
	}
	return false
}
