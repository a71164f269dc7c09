// Package sqlite is a third Database Adapter implementation, used for the
// module's own fast unit and integration tests in place of a real
// PostgreSQL server (spec.md §4.4: "DA implementations beyond the
// reference adapter are permitted"). It is grounded on the retrieved
// corpus's own modernc.org/sqlite-backed storage.Repository, which performs
// batched INSERTs inside a transaction since SQLite has no COPY-equivalent.
//
// SQLite has no notion of multiple schemas inside one database file, so
// "schema" here is emulated as a table-name prefix ("<schema>__<table>").
// Renaming a schema renames every one of its tables via ALTER TABLE ...
// RENAME TO, which SQLite supports natively and atomically inside a
// transaction.
package sqlite

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter"
	"github.com/gowthamrao/py-load-unitprot/internal/pipelineerr"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

// Adapter implements dbadapter.Adapter against a SQLite database file (or
// in-memory database, for tests).
type Adapter struct {
	db *sql.DB
}

// Open connects a pooled Adapter to dsn, e.g. "file:test.db?cache=shared"
// or ":memory:".
func Open(ctx context.Context, dsn string) (*Adapter, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &pipelineerr.AdapterUnavailableError{Cause: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &pipelineerr.AdapterUnavailableError{Cause: err}
	}
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	db.SetMaxOpenConns(1) // one writer at a time, per SQLite's locking model
	return &Adapter{db: db}, nil
}

func (a *Adapter) Close() { _ = a.db.Close() }

func prefixed(targetSchema, table string) string { return targetSchema + "__" + table }

// CreateSchema is a no-op: SQLite schemas are emulated by table-name
// prefixing, so there is nothing to create ahead of ApplyTableDefinitions.
func (a *Adapter) CreateSchema(ctx context.Context, name string) error { return nil }

func (a *Adapter) DropSchema(ctx context.Context, name string) error {
	tables, err := queryTables(ctx, dbExec{a.db}, name)
	if err != nil {
		return err
	}
	// Newest first, so child tables go before the parents they reference:
	// with foreign_keys on, dropping a parent that still has referencing
	// rows fails.
	for i := len(tables) - 1; i >= 0; i-- {
		t := tables[i]
		if _, err := a.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", ident(t))); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) ApplyTableDefinitions(ctx context.Context, targetSchema string, cat schema.Catalog) error {
	tables := append(append([]schema.Table{}, cat.Tables...), schema.MetadataTables()...)
	for _, t := range tables {
		if _, err := a.db.ExecContext(ctx, createTableSQL(targetSchema, t)); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", prefixed(targetSchema, t.Name), err)
		}
	}
	return nil
}

func createTableSQL(targetSchema string, t schema.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", ident(prefixed(targetSchema, t.Name)))
	var cols []string
	for _, c := range t.Columns {
		cols = append(cols, fmt.Sprintf("  %s %s", ident(c), columnType(c)))
	}
	if len(t.PrimaryKey) > 0 {
		cols = append(cols, fmt.Sprintf("  PRIMARY KEY (%s)", joinIdent(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		cols = append(cols, fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s(%s)",
			joinIdent(fk.Columns), ident(prefixed(targetSchema, fk.RefTable)), joinIdent(fk.RefColumns)))
	}
	b.WriteString(strings.Join(cols, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

func columnType(col string) string {
	switch {
	case strings.HasSuffix(col, "_data"):
		return "TEXT" // JSON stored as TEXT; SQLite's JSON1 functions operate on TEXT columns
	case col == "ncbi_taxid" || col == "sequence_length" || col == "molecular_weight" || col == "swissprot_entry_count" || col == "trembl_entry_count":
		return "INTEGER"
	case col == "is_primary":
		return "INTEGER" // 0/1
	default:
		return "TEXT"
	}
}

func (a *Adapter) CreateIndexes(ctx context.Context, targetSchema string, cat schema.Catalog) error {
	for _, t := range cat.Tables {
		for _, idx := range t.Indexes {
			if idx.Kind == schema.IndexInverted {
				continue // SQLite has no GIN equivalent for JSON-as-TEXT columns
			}
			name := prefixed(targetSchema, idx.Name)
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				ident(name), ident(prefixed(targetSchema, t.Name)), joinIdent(idx.Columns))
			if _, err := a.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("sqlite: create index %s: %w", name, err)
			}
		}
	}
	return nil
}

func (a *Adapter) Analyze(ctx context.Context, targetSchema string) error {
	_, err := a.db.ExecContext(ctx, "ANALYZE")
	return err
}

// BulkIngest performs batched INSERTs inside a single transaction, the way
// the corpus's sqlite.Repository.CopyFrom does — SQLite has no native
// bulk-copy protocol.
func (a *Adapter) BulkIngest(ctx context.Context, targetSchema, table string, columns []string, r io.Reader) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	rollback := func() { _ = tx.Rollback() }

	placeholders := strings.Repeat("?,", len(columns))
	placeholders = strings.TrimSuffix(placeholders, ",")
	stmtSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident(prefixed(targetSchema, table)), joinIdent(columns), placeholders)
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		rollback()
		return 0, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	defer stmt.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var n int64
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		row := make([]any, len(columns))
		for i := range columns {
			if i >= len(fields) {
				row[i] = nil
				continue
			}
			row[i] = unescapeField(fields[i])
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			rollback()
			return n, &pipelineerr.ConstraintViolation{Table: table, Cause: err}
		}
		n++
	}
	if err := sc.Err(); err != nil {
		rollback()
		return n, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return n, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	return n, nil
}

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

// RenameSchema renames every "<oldName>__*" table to "<newName>__*".
func (a *Adapter) RenameSchema(ctx context.Context, oldName, newName string) error {
	return renameSchema(ctx, dbExec{a.db}, oldName, newName)
}

func renameSchema(ctx context.Context, e execQueryer, oldName, newName string) error {
	rows, err := queryTables(ctx, e, oldName)
	if err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	for _, t := range rows {
		suffix := strings.TrimPrefix(t, oldName+"__")
		stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", ident(t), ident(prefixed(newName, suffix)))
		if _, err := e.Exec(ctx, stmt); err != nil {
			return &pipelineerr.CutoverFailureError{Cause: err}
		}
	}
	return nil
}

// CountRows reports how many rows schemaName.table currently holds. It has
// no counterpart on the Adapter interface or the other two adapters — it
// exists only so tests can assert on production state directly instead of
// through the narrow Adapter contract.
func (a *Adapter) CountRows(ctx context.Context, schemaName, table string) (int, error) {
	row := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", ident(prefixed(schemaName, table))))
	var n int
	return n, row.Scan(&n)
}

func queryTables(ctx context.Context, q queryer, schemaName string) ([]string, error) {
	rows, err := q.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ORDER BY rowid", schemaName+"__%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		// LIKE treats "_" as a single-character wildcard, so "uniprot__%"
		// also matches "uniprot_staging_..." tables; keep exact prefixes only.
		if !strings.HasPrefix(name, schemaName+"__") {
			continue
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (a *Adapter) UpsertFromStaging(ctx context.Context, stagingSchema, productionSchema, table string, keyColumns, updatableColumns []string) error {
	allCols := append(append([]string{}, keyColumns...), updatableColumns...)
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s",
		ident(prefixed(productionSchema, table)), joinIdent(allCols), joinIdent(allCols), ident(prefixed(stagingSchema, table)),
	)
	if len(keyColumns) > 0 {
		stmt = fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) SELECT %s FROM %s",
			ident(prefixed(productionSchema, table)), joinIdent(allCols), joinIdent(allCols), ident(prefixed(stagingSchema, table)))
	}
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	return nil
}

func (a *Adapter) DeleteMissingFromStaging(ctx context.Context, stagingSchema, productionSchema, table string, keyColumns []string, scopeColumn string) error {
	// The production side is qualified by table name: an unqualified column
	// inside the subquery would resolve to the staging alias instead.
	prodTable := ident(prefixed(productionSchema, table))
	var cond []string
	for _, c := range keyColumns {
		cond = append(cond, fmt.Sprintf("%s.%s = s.%s", prodTable, ident(c), ident(c)))
	}
	stmt := fmt.Sprintf(
		"DELETE FROM %s WHERE NOT EXISTS (SELECT 1 FROM %s s WHERE %s)",
		ident(prefixed(productionSchema, table)), ident(prefixed(stagingSchema, table)), strings.Join(cond, " AND "),
	)
	if scopeColumn != "" {
		stmt += fmt.Sprintf(" AND %s IN (SELECT DISTINCT %s FROM %s)",
			ident(scopeColumn), ident(scopeColumn), ident(prefixed(stagingSchema, table)))
	}
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	return nil
}

func (a *Adapter) ReadMetadata(ctx context.Context, targetSchema string) (dbadapter.MetadataRow, bool, error) {
	row := a.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT version, load_timestamp FROM %s ORDER BY load_timestamp DESC LIMIT 1", ident(prefixed(targetSchema, "py_load_uniprot_metadata"))))
	var version, loadedAt string
	if err := row.Scan(&version, &loadedAt); err != nil {
		if err == sql.ErrNoRows || strings.Contains(err.Error(), "no such table") {
			// targetSchema doesn't exist yet, e.g. before the first-ever
			// full load's cutover. Not loaded, not an error.
			return dbadapter.MetadataRow{}, false, nil
		}
		return dbadapter.MetadataRow{}, false, err
	}
	return dbadapter.MetadataRow{ReleaseTag: version, LoadedAt: loadedAt}, true, nil
}

func (a *Adapter) WriteMetadata(ctx context.Context, targetSchema string, row dbadapter.MetadataRow) error {
	return writeMetadata(ctx, dbExec{a.db}, targetSchema, row)
}

func writeMetadata(ctx context.Context, e execer, targetSchema string, row dbadapter.MetadataRow) error {
	_, err := e.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (version, release_date, load_timestamp, swissprot_entry_count, trembl_entry_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(version) DO UPDATE SET load_timestamp = excluded.load_timestamp`,
		ident(prefixed(targetSchema, "py_load_uniprot_metadata"))),
		row.ReleaseTag, row.ReleaseTag, nowRFC3339(), row.RowCounts["swissprot"], row.RowCounts["trembl"],
	)
	return err
}

func (a *Adapter) WriteHistory(ctx context.Context, targetSchema string, row dbadapter.HistoryRow) error {
	return writeHistory(ctx, dbExec{a.db}, targetSchema, row)
}

func writeHistory(ctx context.Context, e execer, targetSchema string, row dbadapter.HistoryRow) error {
	_, err := e.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, run_id, status, mode, dataset, start_time, end_time, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, end_time = excluded.end_time, error_message = excluded.error_message`,
		ident(prefixed(targetSchema, "load_history"))),
		row.RunID, row.RunID, row.Status, row.Mode, row.Dataset, row.StartedAt, nullIfEmpty(row.FinishedAt), nullIfEmpty(row.ErrMessage),
	)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

func (a *Adapter) ExecuteInTransaction(ctx context.Context, ops func(ctx context.Context, tx dbadapter.Tx) error) error {
	sqltx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqltx.Rollback()
		}
	}()
	if err := ops(ctx, &txAdapter{tx: sqltx}); err != nil {
		return err
	}
	if err := sqltx.Commit(); err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	committed = true
	return nil
}

type txAdapter struct {
	tx *sql.Tx
}

func (t *txAdapter) RenameSchema(ctx context.Context, oldName, newName string) error {
	return renameSchema(ctx, txExec{t.tx}, oldName, newName)
}

func (t *txAdapter) WriteMetadata(ctx context.Context, targetSchema string, row dbadapter.MetadataRow) error {
	return writeMetadata(ctx, txExec{t.tx}, targetSchema, row)
}

func (t *txAdapter) WriteHistory(ctx context.Context, targetSchema string, row dbadapter.HistoryRow) error {
	return writeHistory(ctx, txExec{t.tx}, targetSchema, row)
}

// execer and queryer abstract over *sql.DB and *sql.Tx, whose ExecContext
// and QueryContext signatures already take a context as first argument;
// dbExec and txExec just rename the call so both satisfy execQueryer.
type execer interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type execQueryer interface {
	execer
	queryer
}

type dbExec struct{ db *sql.DB }

func (d dbExec) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

func (d dbExec) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

type txExec struct{ tx *sql.Tx }

func (t txExec) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t txExec) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func ident(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func joinIdent(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return strings.Join(out, ", ")
}
