// Package postgres is the reference Database Adapter implementation
// (spec.md §4.4, §6: "A reference adapter targets PostgreSQL using the
// native bulk-copy protocol"). It is grounded on the retrieved corpus's
// own pgx/v5-backed storage.Repository: pgxpool for connection pooling,
// pgx.Identifier for safe quoting, and pgx.CopyFrom for the native COPY
// path (row-by-row INSERT is never used here, per contract).
package postgres

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter"
	"github.com/gowthamrao/py-load-unitprot/internal/pipelineerr"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

// Adapter implements dbadapter.Adapter against PostgreSQL.
type Adapter struct {
	pool *pgxpool.Pool
}

// Open connects a pooled Adapter to dsn. Per spec.md §7, a connect failure
// here is AdapterUnavailable — fatal before any state mutation.
func Open(ctx context.Context, dsn string) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &pipelineerr.AdapterUnavailableError{Cause: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &pipelineerr.AdapterUnavailableError{Cause: err}
	}
	return &Adapter{pool: pool}, nil
}

func (a *Adapter) Close() { a.pool.Close() }

func (a *Adapter) CreateSchema(ctx context.Context, name string) error {
	_, err := a.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", ident(name)))
	return err
}

func (a *Adapter) DropSchema(ctx context.Context, name string) error {
	_, err := a.pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", ident(name)))
	return err
}

// ApplyTableDefinitions creates every declared table plus its foreign keys.
// Table bodies are generated from schema.Catalog so a single source of
// truth drives both the spool encoding and the DDL.
func (a *Adapter) ApplyTableDefinitions(ctx context.Context, targetSchema string, cat schema.Catalog) error {
	tables := append(append([]schema.Table{}, cat.Tables...), schema.MetadataTables()...)
	for _, t := range tables {
		if _, err := a.pool.Exec(ctx, createTableSQL(targetSchema, t)); err != nil {
			return fmt.Errorf("postgres: create table %s.%s: %w", targetSchema, t.Name, err)
		}
	}
	return nil
}

func createTableSQL(targetSchema string, t schema.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s.%s (\n", ident(targetSchema), ident(t.Name))
	cols := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	for _, c := range t.Columns {
		cols = append(cols, fmt.Sprintf("  %s %s", ident(c), columnType(t.Name, c)))
	}
	if len(t.PrimaryKey) > 0 {
		cols = append(cols, fmt.Sprintf("  PRIMARY KEY (%s)", joinIdent(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		onDelete := fk.OnDelete
		if onDelete == "" {
			onDelete = "RESTRICT"
		}
		cols = append(cols, fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s.%s(%s) ON DELETE %s",
			joinIdent(fk.Columns), ident(targetSchema), ident(fk.RefTable), joinIdent(fk.RefColumns), onDelete))
	}
	b.WriteString(strings.Join(cols, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

// columnType picks a Postgres column type from the table/column name.
// Every column in this schema is either an identifier, a count, a flag, a
// timestamp, free text, or a JSON payload; spec.md §3.2 names the shape
// for each, so a small lookup suffices without per-table metadata.
func columnType(table, col string) string {
	switch {
	case strings.HasSuffix(col, "_data"):
		return "JSONB"
	case col == "ncbi_taxid" || col == "sequence_length" || col == "molecular_weight" || col == "swissprot_entry_count" || col == "trembl_entry_count":
		return "BIGINT"
	case col == "is_primary":
		return "BOOLEAN"
	case col == "release_date":
		// Holds the release tag verbatim (e.g. "2024_03"), not a parsed
		// calendar date: UniProt release tags have no day component, so
		// this is text, not TIMESTAMPTZ, despite the "_date" suffix.
		return "TEXT"
	case strings.HasSuffix(col, "_date") || strings.HasSuffix(col, "_time") || col == "load_timestamp" || col == "start_time" || col == "end_time":
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (a *Adapter) CreateIndexes(ctx context.Context, targetSchema string, cat schema.Catalog) error {
	for _, t := range cat.Tables {
		for _, idx := range t.Indexes {
			method := "btree"
			if idx.Kind == schema.IndexInverted {
				method = "gin"
			}
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s.%s USING %s (%s)",
				ident(idx.Name), ident(targetSchema), ident(t.Name), method, joinIdent(idx.Columns))
			if _, err := a.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("postgres: create index %s: %w", idx.Name, err)
			}
		}
	}
	return nil
}

func (a *Adapter) Analyze(ctx context.Context, targetSchema string) error {
	_, err := a.pool.Exec(ctx, fmt.Sprintf("ANALYZE %s", ident(targetSchema)))
	return err
}

// BulkIngest streams r into targetSchema.table via pgx's CopyFrom, the
// Postgres native bulk-copy protocol. r is read once, line by line; no
// full-file materialization happens, matching the corpus's LoadBatches
// streaming discipline.
func (a *Adapter) BulkIngest(ctx context.Context, targetSchema, table string, columns []string, r io.Reader) (int64, error) {
	src := &tsvCopySource{sc: bufio.NewScanner(r), table: table, columns: columns}
	src.sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	n, err := a.pool.CopyFrom(ctx, pgx.Identifier{targetSchema, table}, columns, src)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23503" || pgErr.Code == "23505") {
			return n, &pipelineerr.ConstraintViolation{Table: table, Cause: err}
		}
		return n, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	return n, nil
}

// tsvCopySource adapts the spool format (spec.md §4.2) to pgx.CopyFromSource
// without buffering the whole file in memory. table/columns let Values()
// coerce each field to the Go type its destination column's binary COPY
// codec expects — pgx v5 plans CopyFrom encoders per OID and will not
// accept an untyped string for a BIGINT/BOOLEAN/TIMESTAMPTZ column.
type tsvCopySource struct {
	sc      *bufio.Scanner
	table   string
	columns []string
	err     error
}

func (s *tsvCopySource) Next() bool {
	if s.err != nil {
		return false
	}
	return s.sc.Scan()
}

func (s *tsvCopySource) Values() ([]any, error) {
	fields := strings.Split(s.sc.Text(), "\t")
	row := make([]any, len(s.columns))
	for i, col := range s.columns {
		raw := `\N`
		if i < len(fields) {
			raw = fields[i]
		}
		v, err := coerceField(s.table, col, raw)
		if err != nil {
			s.err = err
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func (s *tsvCopySource) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.sc.Err()
}

// coerceField unescapes raw (internal/rowencode's spool encoding) and then
// converts it to the Go type columnType(table, col) calls for, so the
// binary COPY protocol's per-OID encoder gets a type it actually has a
// plan for instead of a bare string. Grounded on the teacher's own
// etl/internal/etl/etl.go, which coerces bools to 0/1 and numeric strings
// to int64 before any bulk insert for the same reason.
func coerceField(table, col, raw string) (any, error) {
	v := unescapeField(raw)
	if v == nil {
		return nil, nil
	}
	s := v.(string)
	switch columnType(table, col) {
	case "BIGINT":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse %s.%s %q as bigint: %w", table, col, s, err)
		}
		return n, nil
	case "BOOLEAN":
		return s == "t", nil
	case "TIMESTAMPTZ":
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("postgres: parse %s.%s %q as timestamptz: %w", table, col, s, err)
		}
		return t, nil
	default:
		return s, nil
	}
}

// unescapeField reverses the spool encoding's escaping (internal/rowencode)
// and resolves the \N null sentinel to a real nil so pgx binds SQL NULL.
func unescapeField(f string) any {
	if f == `\N` {
		return nil
	}
	var b strings.Builder
	for i := 0; i < len(f); i++ {
		if f[i] == '\\' && i+1 < len(f) {
			switch f[i+1] {
			case 't':
				b.WriteByte('\t')
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(f[i])
	}
	return b.String()
}

func (a *Adapter) RenameSchema(ctx context.Context, oldName, newName string) error {
	_, err := a.pool.Exec(ctx, fmt.Sprintf("ALTER SCHEMA %s RENAME TO %s", ident(oldName), ident(newName)))
	if err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	return nil
}

// UpsertFromStaging performs an INSERT ... ON CONFLICT DO UPDATE from
// stagingSchema.table into productionSchema.table, the "idempotent merge"
// of spec.md §4.8 step 4.
func (a *Adapter) UpsertFromStaging(ctx context.Context, stagingSchema, productionSchema, table string, keyColumns, updatableColumns []string) error {
	allCols := append(append([]string{}, keyColumns...), updatableColumns...)
	var sets []string
	for _, c := range updatableColumns {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident(c), ident(c)))
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s.%s (%s) SELECT %s FROM %s.%s",
		ident(productionSchema), ident(table), joinIdent(allCols), joinIdent(allCols), ident(stagingSchema), ident(table),
	)
	if len(keyColumns) > 0 {
		stmt += fmt.Sprintf(" ON CONFLICT (%s)", joinIdent(keyColumns))
		if len(sets) > 0 {
			stmt += " DO UPDATE SET " + strings.Join(sets, ", ")
		} else {
			stmt += " DO NOTHING"
		}
	}
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	return nil
}

// DeleteMissingFromStaging implements the "set of relations" merge semantics
// of spec.md §4.8 step 4: delete every production row whose key does not
// appear in staging, scoped to the proteins staging actually touched when
// scopeColumn is given.
func (a *Adapter) DeleteMissingFromStaging(ctx context.Context, stagingSchema, productionSchema, table string, keyColumns []string, scopeColumn string) error {
	var cond []string
	for _, c := range keyColumns {
		cond = append(cond, fmt.Sprintf("p.%s = s.%s", ident(c), ident(c)))
	}
	stmt := fmt.Sprintf(
		"DELETE FROM %s.%s p WHERE NOT EXISTS (SELECT 1 FROM %s.%s s WHERE %s)",
		ident(productionSchema), ident(table), ident(stagingSchema), ident(table), strings.Join(cond, " AND "),
	)
	if scopeColumn != "" {
		stmt += fmt.Sprintf(" AND p.%s IN (SELECT DISTINCT %s FROM %s.%s)",
			ident(scopeColumn), ident(scopeColumn), ident(stagingSchema), ident(table))
	}
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	return nil
}

func (a *Adapter) ReadMetadata(ctx context.Context, targetSchema string) (dbadapter.MetadataRow, bool, error) {
	row := a.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT version, load_timestamp FROM %s.py_load_uniprot_metadata ORDER BY load_timestamp DESC LIMIT 1",
		ident(targetSchema),
	))
	var version string
	var loadedAt time.Time
	if err := row.Scan(&version, &loadedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dbadapter.MetadataRow{}, false, nil
		}
		// undefined_table: targetSchema doesn't exist yet, e.g. before the
		// first-ever full load's cutover. Not loaded, not an error.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return dbadapter.MetadataRow{}, false, nil
		}
		return dbadapter.MetadataRow{}, false, err
	}
	return dbadapter.MetadataRow{ReleaseTag: version, LoadedAt: loadedAt.Format(time.RFC3339)}, true, nil
}

func (a *Adapter) WriteMetadata(ctx context.Context, targetSchema string, row dbadapter.MetadataRow) error {
	return writeMetadata(ctx, a.pool, targetSchema, row)
}

func writeMetadata(ctx context.Context, e execer, targetSchema string, row dbadapter.MetadataRow) error {
	_, err := e.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s.py_load_uniprot_metadata (version, release_date, load_timestamp, swissprot_entry_count, trembl_entry_count)
		 VALUES ($1, $1, now(), $2, $3)
		 ON CONFLICT (version) DO UPDATE SET load_timestamp = now()`,
		ident(targetSchema)),
		row.ReleaseTag, row.RowCounts["swissprot"], row.RowCounts["trembl"],
	)
	return err
}

func (a *Adapter) WriteHistory(ctx context.Context, targetSchema string, row dbadapter.HistoryRow) error {
	return writeHistory(ctx, a.pool, targetSchema, row)
}

func writeHistory(ctx context.Context, e execer, targetSchema string, row dbadapter.HistoryRow) error {
	_, err := e.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s.load_history (id, run_id, status, mode, dataset, start_time, end_time, error_message)
		 VALUES ($1, $1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, end_time = EXCLUDED.end_time, error_message = EXCLUDED.error_message`,
		ident(targetSchema)),
		row.RunID, row.Status, row.Mode, row.Dataset, row.StartedAt, row.FinishedAt, row.ErrMessage,
	)
	return err
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// writeMetadata/writeHistory serve both the direct and transactional paths.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (a *Adapter) ExecuteInTransaction(ctx context.Context, ops func(ctx context.Context, tx dbadapter.Tx) error) error {
	pgtx, err := a.pool.Begin(ctx)
	if err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = pgtx.Rollback(ctx)
		}
	}()

	if err := ops(ctx, &txAdapter{tx: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	committed = true
	return nil
}

// txAdapter implements dbadapter.Tx against a single pgx.Tx, used inside
// ExecuteInTransaction for the atomic cutover (spec.md §4.7 step 6).
type txAdapter struct {
	tx pgx.Tx
}

func (t *txAdapter) RenameSchema(ctx context.Context, oldName, newName string) error {
	_, err := t.tx.Exec(ctx, fmt.Sprintf("ALTER SCHEMA %s RENAME TO %s", ident(oldName), ident(newName)))
	if err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	return nil
}

func (t *txAdapter) WriteMetadata(ctx context.Context, targetSchema string, row dbadapter.MetadataRow) error {
	return writeMetadata(ctx, t.tx, targetSchema, row)
}

func (t *txAdapter) WriteHistory(ctx context.Context, targetSchema string, row dbadapter.HistoryRow) error {
	return writeHistory(ctx, t.tx, targetSchema, row)
}

func ident(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func joinIdent(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return strings.Join(out, ", ")
}
