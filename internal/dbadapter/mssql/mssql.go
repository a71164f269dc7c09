// Package mssql is a second Database Adapter implementation, demonstrating
// the adapter's pluggability (spec.md §6: "alternative adapters plug in
// without core changes"). It is grounded on the retrieved corpus's own
// go-mssqldb-backed storage.Repository, using mssql.CopyIn as the native
// bulk path (SQL Server calls this the "bulk copy" API, not COPY).
package mssql

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter"
	"github.com/gowthamrao/py-load-unitprot/internal/pipelineerr"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

// Adapter implements dbadapter.Adapter against Microsoft SQL Server.
type Adapter struct {
	db *sql.DB
}

// Open connects a pooled Adapter to dsn, validating it up front the way the
// corpus's mssql.Repository does.
func Open(ctx context.Context, dsn string) (*Adapter, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, &pipelineerr.AdapterUnavailableError{Cause: err}
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, &pipelineerr.AdapterUnavailableError{Cause: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &pipelineerr.AdapterUnavailableError{Cause: err}
	}
	return &Adapter{db: db}, nil
}

func (a *Adapter) Close() { _ = a.db.Close() }

// SQL Server has no native CREATE SCHEMA IF NOT EXISTS; guard with a
// catalog-view check instead.
func (a *Adapter) CreateSchema(ctx context.Context, name string) error {
	stmt := fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.schemas WHERE name = '%s') EXEC('CREATE SCHEMA %s')",
		strings.ReplaceAll(name, "'", "''"), ident(name),
	)
	_, err := a.db.ExecContext(ctx, stmt)
	return err
}

func (a *Adapter) DropSchema(ctx context.Context, name string) error {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT t.name FROM sys.tables t JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE s.name = '%s'",
		strings.ReplaceAll(name, "'", "''"),
	))
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, t)
	}
	rows.Close()
	for _, t := range tables {
		if _, err := a.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s.%s", ident(name), ident(t))); err != nil {
			return err
		}
	}
	_, err = a.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s", ident(name)))
	return err
}

func (a *Adapter) ApplyTableDefinitions(ctx context.Context, targetSchema string, cat schema.Catalog) error {
	tables := append(append([]schema.Table{}, cat.Tables...), schema.MetadataTables()...)
	for _, t := range tables {
		exists, err := a.tableExists(ctx, targetSchema, t.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := a.db.ExecContext(ctx, createTableSQL(targetSchema, t)); err != nil {
			return fmt.Errorf("mssql: create table %s.%s: %w", targetSchema, t.Name, err)
		}
	}
	return nil
}

func (a *Adapter) tableExists(ctx context.Context, targetSchema, table string) (bool, error) {
	row := a.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sys.tables t JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE s.name = @p1 AND t.name = @p2",
		targetSchema, table,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func createTableSQL(targetSchema string, t schema.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s.%s (\n", ident(targetSchema), ident(t.Name))
	var cols []string
	for _, c := range t.Columns {
		cols = append(cols, fmt.Sprintf("  %s %s", ident(c), columnType(c)))
	}
	if len(t.PrimaryKey) > 0 {
		cols = append(cols, fmt.Sprintf("  PRIMARY KEY (%s)", joinIdent(t.PrimaryKey)))
	}
	for _, fk := range t.ForeignKeys {
		onDelete := fk.OnDelete
		if onDelete == "" {
			onDelete = "NO ACTION"
		}
		if onDelete == "RESTRICT" {
			onDelete = "NO ACTION" // SQL Server has no RESTRICT keyword
		}
		cols = append(cols, fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s.%s(%s) ON DELETE %s",
			joinIdent(fk.Columns), ident(targetSchema), ident(fk.RefTable), joinIdent(fk.RefColumns), onDelete))
	}
	b.WriteString(strings.Join(cols, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

func columnType(col string) string {
	switch {
	case strings.HasSuffix(col, "_data"):
		return "NVARCHAR(MAX)"
	case col == "ncbi_taxid" || col == "sequence_length" || col == "molecular_weight" || col == "swissprot_entry_count" || col == "trembl_entry_count":
		return "BIGINT"
	case col == "is_primary":
		return "BIT"
	case col == "release_date":
		// Holds the release tag verbatim (e.g. "2024_03"), not a parsed
		// calendar date: UniProt release tags have no day component, so
		// this is text, not DATETIME2, despite the "_date" suffix.
		return "NVARCHAR(4000)"
	case strings.HasSuffix(col, "_date") || strings.HasSuffix(col, "_time"):
		return "DATETIME2"
	default:
		return "NVARCHAR(4000)"
	}
}

func (a *Adapter) CreateIndexes(ctx context.Context, targetSchema string, cat schema.Catalog) error {
	for _, t := range cat.Tables {
		for _, idx := range t.Indexes {
			// SQL Server has no GIN index, and the NVARCHAR(MAX) columns
			// these entries name cannot be index key columns, so inverted
			// indexes are skipped entirely; JSON-path full-text search is
			// out of scope for this adapter.
			if idx.Kind == schema.IndexInverted {
				continue
			}
			stmt := fmt.Sprintf("CREATE INDEX %s ON %s.%s (%s)",
				ident(idx.Name), ident(targetSchema), ident(t.Name), joinIdent(idx.Columns))
			if _, err := a.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("mssql: create index %s: %w", idx.Name, err)
			}
		}
	}
	return nil
}

func (a *Adapter) Analyze(ctx context.Context, targetSchema string) error {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT t.name FROM sys.tables t JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE s.name = '%s'",
		strings.ReplaceAll(targetSchema, "'", "''"),
	))
	if err != nil {
		return err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		tables = append(tables, t)
	}
	for _, t := range tables {
		if _, err := a.db.ExecContext(ctx, fmt.Sprintf("UPDATE STATISTICS %s.%s", ident(targetSchema), ident(t))); err != nil {
			return err
		}
	}
	return nil
}

// BulkIngest uses mssql.CopyIn, go-mssqldb's native bulk-copy statement,
// streaming row by row from r rather than buffering the whole spool file.
func (a *Adapter) BulkIngest(ctx context.Context, targetSchema, table string, columns []string, r io.Reader) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	rollback := func() { _ = tx.Rollback() }

	fqTable := targetSchema + "." + table
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(fqTable, mssql.BulkOptions{}, columns...))
	if err != nil {
		rollback()
		return 0, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var n int64
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		row := make([]any, len(columns))
		for i, col := range columns {
			raw := `\N`
			if i < len(fields) {
				raw = fields[i]
			}
			v, err := coerceField(col, raw)
			if err != nil {
				_ = stmt.Close()
				rollback()
				return n, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
			}
			row[i] = v
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			rollback()
			return n, wrapIngestError(table, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		_ = stmt.Close()
		rollback()
		return n, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		rollback()
		return n, wrapIngestError(table, err)
	}
	if err := stmt.Close(); err != nil {
		rollback()
		return n, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return n, &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	return n, nil
}

// wrapIngestError distinguishes a constraint violation (FK or PK/unique,
// error numbers 547 and 2627) from any other bulk-copy failure, the same
// split the Postgres adapter makes on pgconn.PgError codes 23503/23505.
func wrapIngestError(table string, err error) error {
	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) && (mssqlErr.Number == 547 || mssqlErr.Number == 2627) {
		return &pipelineerr.ConstraintViolation{Table: table, Cause: err}
	}
	return &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
}

// coerceField unescapes raw and converts it to the Go type go-mssqldb's
// bulk-copy statement expects for columnType(col) — BIGINT wants int64,
// BIT wants bool, DATETIME2 wants time.Time — mirroring the Postgres
// adapter's same-purpose coerceField and, ultimately, the teacher's own
// pre-bulk-insert type coercion in etl/internal/etl/etl.go.
func coerceField(col, raw string) (any, error) {
	v := unescapeField(raw)
	if v == nil {
		return nil, nil
	}
	s := v.(string)
	switch columnType(col) {
	case "BIGINT":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("mssql: parse %s %q as bigint: %w", col, s, err)
		}
		return n, nil
	case "BIT":
		return s == "t", nil
	case "DATETIME2":
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("mssql: parse %s %q as datetime2: %w", col, s, err)
		}
		return t, nil
	default:
		return s, nil
	}
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

func (a *Adapter) RenameSchema(ctx context.Context, oldName, newName string) error {
	// SQL Server has no schema rename; emulate it by moving every object
	// from old into a freshly created new schema, then dropping old.
	if err := a.CreateSchema(ctx, newName); err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT t.name FROM sys.tables t JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE s.name = '%s'",
		strings.ReplaceAll(oldName, "'", "''"),
	))
	if err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return &pipelineerr.CutoverFailureError{Cause: err}
		}
		tables = append(tables, t)
	}
	rows.Close()
	for _, t := range tables {
		stmt := fmt.Sprintf("ALTER SCHEMA %s TRANSFER %s.%s", ident(newName), ident(oldName), ident(t))
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return &pipelineerr.CutoverFailureError{Cause: err}
		}
	}
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s", ident(oldName))); err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	return nil
}

func (a *Adapter) UpsertFromStaging(ctx context.Context, stagingSchema, productionSchema, table string, keyColumns, updatableColumns []string) error {
	allCols := append(append([]string{}, keyColumns...), updatableColumns...)
	var onCond, sets []string
	for _, c := range keyColumns {
		onCond = append(onCond, fmt.Sprintf("tgt.%s = src.%s", ident(c), ident(c)))
	}
	for _, c := range updatableColumns {
		sets = append(sets, fmt.Sprintf("tgt.%s = src.%s", ident(c), ident(c)))
	}
	stmt := fmt.Sprintf(
		`MERGE %s.%s AS tgt
		 USING %s.%s AS src ON %s
		 WHEN MATCHED THEN UPDATE SET %s
		 WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);`,
		ident(productionSchema), ident(table),
		ident(stagingSchema), ident(table), strings.Join(onCond, " AND "),
		strings.Join(sets, ", "), joinIdent(allCols), joinSrc(allCols),
	)
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	return nil
}

func joinSrc(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = "src." + ident(c)
	}
	return strings.Join(out, ", ")
}

func (a *Adapter) DeleteMissingFromStaging(ctx context.Context, stagingSchema, productionSchema, table string, keyColumns []string, scopeColumn string) error {
	var cond []string
	for _, c := range keyColumns {
		cond = append(cond, fmt.Sprintf("p.%s = s.%s", ident(c), ident(c)))
	}
	stmt := fmt.Sprintf(
		"DELETE p FROM %s.%s p WHERE NOT EXISTS (SELECT 1 FROM %s.%s s WHERE %s)",
		ident(productionSchema), ident(table), ident(stagingSchema), ident(table), strings.Join(cond, " AND "),
	)
	if scopeColumn != "" {
		stmt += fmt.Sprintf(" AND p.%s IN (SELECT DISTINCT %s FROM %s.%s)",
			ident(scopeColumn), ident(scopeColumn), ident(stagingSchema), ident(table))
	}
	if _, err := a.db.ExecContext(ctx, stmt); err != nil {
		return &pipelineerr.BulkIngestFailureError{Table: table, Cause: err}
	}
	return nil
}

func (a *Adapter) ReadMetadata(ctx context.Context, targetSchema string) (dbadapter.MetadataRow, bool, error) {
	row := a.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT TOP 1 version, load_timestamp FROM %s.py_load_uniprot_metadata ORDER BY load_timestamp DESC", ident(targetSchema)))
	var version, loadedAt string
	if err := row.Scan(&version, &loadedAt); err != nil {
		if err == sql.ErrNoRows {
			return dbadapter.MetadataRow{}, false, nil
		}
		// 208 = "Invalid object name": targetSchema doesn't exist yet, e.g.
		// before the first-ever full load's cutover. Not loaded, not an error.
		var mssqlErr mssql.Error
		if errors.As(err, &mssqlErr) && mssqlErr.Number == 208 {
			return dbadapter.MetadataRow{}, false, nil
		}
		return dbadapter.MetadataRow{}, false, err
	}
	return dbadapter.MetadataRow{ReleaseTag: version, LoadedAt: loadedAt}, true, nil
}

func (a *Adapter) WriteMetadata(ctx context.Context, targetSchema string, row dbadapter.MetadataRow) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf(
		`MERGE %s.py_load_uniprot_metadata AS tgt
		 USING (SELECT @p1 AS version) AS src ON tgt.version = src.version
		 WHEN MATCHED THEN UPDATE SET load_timestamp = SYSUTCDATETIME()
		 WHEN NOT MATCHED THEN INSERT (version, release_date, load_timestamp, swissprot_entry_count, trembl_entry_count)
		   VALUES (@p1, @p1, SYSUTCDATETIME(), @p2, @p3);`,
		ident(targetSchema)),
		row.ReleaseTag, row.RowCounts["swissprot"], row.RowCounts["trembl"],
	)
	return err
}

func (a *Adapter) WriteHistory(ctx context.Context, targetSchema string, row dbadapter.HistoryRow) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf(
		`MERGE %s.load_history AS tgt
		 USING (SELECT @p1 AS id) AS src ON tgt.id = src.id
		 WHEN MATCHED THEN UPDATE SET status = @p2, end_time = @p5, error_message = @p6
		 WHEN NOT MATCHED THEN INSERT (id, run_id, status, mode, dataset, start_time, end_time, error_message)
		   VALUES (@p1, @p1, @p2, @p3, @p4, SYSUTCDATETIME(), @p5, @p6);`,
		ident(targetSchema)),
		row.RunID, row.Status, row.Mode, row.Dataset, nullIfEmpty(row.FinishedAt), nullIfEmpty(row.ErrMessage),
	)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

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

// txAdapter satisfies dbadapter.Tx. SQL Server's lack of a single-statement
// schema rename means the "rename" here is actually the multi-statement
// TRANSFER performed against the same *sql.Tx, so it still commits
// atomically with the metadata/history writes alongside it.
type txAdapter struct {
	tx *sql.Tx
}

func (t *txAdapter) RenameSchema(ctx context.Context, oldName, newName string) error {
	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.schemas WHERE name = '%s') EXEC('CREATE SCHEMA %s')",
		strings.ReplaceAll(newName, "'", "''"), ident(newName),
	)); err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf(
		"SELECT t.name FROM sys.tables t JOIN sys.schemas s ON t.schema_id = s.schema_id WHERE s.name = '%s'",
		strings.ReplaceAll(oldName, "'", "''"),
	))
	if err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return &pipelineerr.CutoverFailureError{Cause: err}
		}
		tables = append(tables, name)
	}
	rows.Close()
	for _, tbl := range tables {
		if _, err := t.tx.ExecContext(ctx, fmt.Sprintf("ALTER SCHEMA %s TRANSFER %s.%s", ident(newName), ident(oldName), ident(tbl))); err != nil {
			return &pipelineerr.CutoverFailureError{Cause: err}
		}
	}
	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s", ident(oldName))); err != nil {
		return &pipelineerr.CutoverFailureError{Cause: err}
	}
	return nil
}

func (t *txAdapter) WriteMetadata(ctx context.Context, targetSchema string, row dbadapter.MetadataRow) error {
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(
		`MERGE %s.py_load_uniprot_metadata AS tgt
		 USING (SELECT @p1 AS version) AS src ON tgt.version = src.version
		 WHEN MATCHED THEN UPDATE SET load_timestamp = SYSUTCDATETIME()
		 WHEN NOT MATCHED THEN INSERT (version, release_date, load_timestamp, swissprot_entry_count, trembl_entry_count)
		   VALUES (@p1, @p1, SYSUTCDATETIME(), @p2, @p3);`,
		ident(targetSchema)),
		row.ReleaseTag, row.RowCounts["swissprot"], row.RowCounts["trembl"],
	)
	return err
}

func (t *txAdapter) WriteHistory(ctx context.Context, targetSchema string, row dbadapter.HistoryRow) error {
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(
		`MERGE %s.load_history AS tgt
		 USING (SELECT @p1 AS id) AS src ON tgt.id = src.id
		 WHEN MATCHED THEN UPDATE SET status = @p2, end_time = @p5, error_message = @p6
		 WHEN NOT MATCHED THEN INSERT (id, run_id, status, mode, dataset, start_time, end_time, error_message)
		   VALUES (@p1, @p1, @p2, @p3, @p4, SYSUTCDATETIME(), @p5, @p6);`,
		ident(targetSchema)),
		row.RunID, row.Status, row.Mode, row.Dataset, nullIfEmpty(row.FinishedAt), nullIfEmpty(row.ErrMessage),
	)
	return err
}

func ident(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

func joinIdent(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return strings.Join(out, ", ")
}
