// Package pipelineerr is the pipeline's error taxonomy (spec.md §7), kept as
// its own leaf package so every stage — the XML entry parser, the transform
// coordinator, the bulk load executor, each database adapter, and the load
// strategy director — can depend on the sentinel types without any of them
// depending on package pipeline itself, which assembles those stages into
// the Facade. Each kind is a distinct sentinel so callers can branch with
// errors.Is instead of string matching; components wrap these with
// fmt.Errorf("...: %w", ErrX) so the sentinel survives through the call
// stack.
package pipelineerr

import "errors"

var (
	// ErrInvalidEntry marks a single malformed XML entry. Non-fatal: the
	// coordinator counts and skips it.
	ErrInvalidEntry = errors.New("invalid entry")

	// ErrTransformFailure marks an unrecoverable parse/transform error that
	// aborts the transform coordinator and cancels the run.
	ErrTransformFailure = errors.New("transform failure")

	// ErrBulkIngestFailure marks a failure reported by the database adapter
	// while loading a spool file, including constraint violations (FK/PK),
	// which spec.md §7 folds into this kind rather than giving them a
	// separate code path.
	ErrBulkIngestFailure = errors.New("bulk ingest failure")

	// ErrCutoverFailure marks a failed atomic rename transaction. Production
	// is guaranteed untouched; staging is dropped by the caller.
	ErrCutoverFailure = errors.New("cutover failure")

	// ErrAdapterUnavailable marks a failure to connect to the target
	// database before any state mutation has happened.
	ErrAdapterUnavailable = errors.New("adapter unavailable")
)

// ConstraintViolation wraps ErrBulkIngestFailure with the underlying
// database error, so callers that need the detail can unwrap it while
// errors.Is(err, ErrBulkIngestFailure) still succeeds.
type ConstraintViolation struct {
	Table string
	Cause error
}

func (e *ConstraintViolation) Error() string {
	return "constraint violation on " + e.Table + ": " + e.Cause.Error()
}

func (e *ConstraintViolation) Unwrap() error { return ErrBulkIngestFailure }

// InvalidEntryError carries the accession (if any) and underlying cause for
// one skipped entry.
type InvalidEntryError struct {
	Accession string
	Cause     error
}

func (e *InvalidEntryError) Error() string {
	if e.Accession == "" {
		return "invalid entry: " + e.Cause.Error()
	}
	return "invalid entry " + e.Accession + ": " + e.Cause.Error()
}

func (e *InvalidEntryError) Unwrap() error { return ErrInvalidEntry }

// TransformFailureError carries the originating error from a worker that
// failed with something other than ErrInvalidEntry.
type TransformFailureError struct {
	Cause error
}

func (e *TransformFailureError) Error() string {
	return "transform failure: " + e.Cause.Error()
}

func (e *TransformFailureError) Unwrap() error { return ErrTransformFailure }

// BulkIngestFailureError names the offending table and the underlying cause.
type BulkIngestFailureError struct {
	Table string
	Cause error
}

func (e *BulkIngestFailureError) Error() string {
	return "bulk ingest failure for table " + e.Table + ": " + e.Cause.Error()
}

func (e *BulkIngestFailureError) Unwrap() error { return ErrBulkIngestFailure }

// CutoverFailureError carries the cause of a failed rename transaction.
type CutoverFailureError struct {
	Cause error
}

func (e *CutoverFailureError) Error() string {
	return "cutover failure: " + e.Cause.Error()
}

func (e *CutoverFailureError) Unwrap() error { return ErrCutoverFailure }

// AdapterUnavailableError carries the cause of a failed connection attempt,
// raised before any state mutation has happened.
type AdapterUnavailableError struct {
	Cause error
}

func (e *AdapterUnavailableError) Error() string {
	return "adapter unavailable: " + e.Cause.Error()
}

func (e *AdapterUnavailableError) Unwrap() error { return ErrAdapterUnavailable }
