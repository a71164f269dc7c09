// Package spool manages the run-scoped working directory of per-table
// spool files that sit between the Parallel Transform Coordinator and the
// Bulk Load Executor (spec.md §3.5, §6). Each file is
// "<table>.tsv.gz": tab-separated, no header, UTF-8, gzip-compressed.
package spool

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"
)

// FileName returns the spool file name for a table, per spec.md §6.
func FileName(table string) string {
	return table + ".tsv.gz"
}

// Set owns one open, gzip-compressed file per table inside dir, opened once
// at the start of a run, as called for by PTC's "per-table spool files
// opened once at the start" (spec.md §4.3).
type Set struct {
	dir     string
	files   map[string]*os.File
	gzws    map[string]*gzip.Writer
	bufws   map[string]*bufio.Writer
	hashers map[string]*xxh3.Hasher
	order   []string
}

// Open creates dir (if absent) and opens one spool file per table name.
func Open(dir string, tables []string) (*Set, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: mkdir %s: %w", dir, err)
	}
	s := &Set{
		dir:     dir,
		files:   make(map[string]*os.File, len(tables)),
		gzws:    make(map[string]*gzip.Writer, len(tables)),
		bufws:   make(map[string]*bufio.Writer, len(tables)),
		hashers: make(map[string]*xxh3.Hasher, len(tables)),
	}
	for _, t := range tables {
		path := filepath.Join(dir, FileName(t))
		f, err := os.Create(path)
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("spool: create %s: %w", path, err)
		}
		gz := gzip.NewWriter(f)
		s.files[t] = f
		s.gzws[t] = gz
		s.bufws[t] = bufio.NewWriterSize(gz, 64<<10)
		s.hashers[t] = xxh3.New()
		s.order = append(s.order, t)
	}
	return s, nil
}

// WriteRow appends one already-escaped row (spec.md §4.2 encoding) to the
// named table's spool file. Fields are joined with TAB and terminated with
// a single newline. The pre-compression bytes also feed a running xxh3
// checksum (see Checksum), so a caller can sanity-check a spool file's
// content without re-reading it after the fact.
func (s *Set) WriteRow(table string, fields []string) error {
	w, ok := s.bufws[table]
	if !ok {
		return fmt.Errorf("spool: unknown table %q", table)
	}
	line := strings.Join(fields, "\t") + "\n"
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	s.hashers[table].WriteString(line)
	return nil
}

// Checksum returns the running xxh3-64 digest of every row written to
// table's spool file so far, as a sanity check PTC logs alongside the row
// count it reports for that table (coordinator.Report.Checksums).
func (s *Set) Checksum(table string) uint64 {
	h, ok := s.hashers[table]
	if !ok {
		return 0
	}
	return h.Sum64()
}

// Path returns the on-disk path of a table's spool file.
func (s *Set) Path(table string) string {
	return filepath.Join(s.dir, FileName(table))
}

// Dir returns the run-scoped working directory.
func (s *Set) Dir() string { return s.dir }

// Close flushes and closes every spool file. It reports the first error
// encountered but still attempts to close every file.
func (s *Set) Close() error {
	var firstErr error
	for _, t := range s.order {
		if w, ok := s.bufws[t]; ok {
			if err := w.Flush(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("spool: flush %s: %w", t, err)
			}
		}
		if gz, ok := s.gzws[t]; ok {
			if err := gz.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("spool: gzip close %s: %w", t, err)
			}
		}
		if f, ok := s.files[t]; ok {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("spool: close %s: %w", t, err)
			}
		}
	}
	return firstErr
}

// Delete removes the entire run-scoped working directory and its contents,
// per spec.md §3.5 ("Spool files... deleted after successful ingest") and
// the failure-path cleanup required by §4.3/§4.7/§4.8.
func (s *Set) Delete() error {
	return os.RemoveAll(s.dir)
}

func (s *Set) closeAll() {
	for _, f := range s.files {
		_ = f.Close()
	}
}

// OpenReader opens a table's spool file for streaming read, decompressing
// it on the fly. The caller must call the returned close function.
func OpenReader(path string) (*bufio.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	closeFn := func() error {
		gzErr := gz.Close()
		fErr := f.Close()
		if gzErr != nil {
			return gzErr
		}
		return fErr
	}
	return bufio.NewReaderSize(gz, 64<<10), closeFn, nil
}
