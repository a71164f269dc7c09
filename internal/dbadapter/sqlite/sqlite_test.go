package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestFullLoadLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	cat := schema.Default()

	require.NoError(t, a.CreateSchema(ctx, "staging"))
	require.NoError(t, a.ApplyTableDefinitions(ctx, "staging", cat))

	taxRows := strings.NewReader("9606\tHomo sapiens\tEukaryota\n")
	n, err := a.BulkIngest(ctx, "staging", "taxonomy", []string{"ncbi_taxid", "scientific_name", "lineage"}, taxRows)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	proteinRow := strings.Join([]string{
		"P11111", "TEST_HUMAN", "9606", "4", "500",
		"2020-01-01", "2021-02-02", `\N`, `\N`, `\N`, `\N`,
	}, "\t") + "\n"
	n, err = a.BulkIngest(ctx, "staging", "proteins", cat.Tables[1].Columns, strings.NewReader(proteinRow))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoError(t, a.CreateIndexes(ctx, "staging", cat))
	require.NoError(t, a.Analyze(ctx, "staging"))

	require.NoError(t, a.WriteMetadata(ctx, "staging", dbadapter.MetadataRow{ReleaseTag: "2024_03"}))
	row, ok, err := a.ReadMetadata(ctx, "staging")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2024_03", row.ReleaseTag)

	require.NoError(t, a.ExecuteInTransaction(ctx, func(ctx context.Context, tx dbadapter.Tx) error {
		return tx.RenameSchema(ctx, "staging", "production")
	}))

	row, ok, err = a.ReadMetadata(ctx, "production")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2024_03", row.ReleaseTag)

	_, ok, _ = a.ReadMetadata(ctx, "staging")
	require.False(t, ok)
}

func TestDeleteMissingFromStagingRemovesObsoleteRows(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	cat := schema.Default()

	for _, s := range []string{"prod", "stg"} {
		require.NoError(t, a.ApplyTableDefinitions(ctx, s, cat))
	}

	_, err := a.BulkIngest(ctx, "prod", "proteins", []string{"primary_accession"}, strings.NewReader("P11111\nP22222\n"))
	require.NoError(t, err)
	_, err = a.BulkIngest(ctx, "stg", "proteins", []string{"primary_accession"}, strings.NewReader("P11111\n"))
	require.NoError(t, err)
	_, err = a.BulkIngest(ctx, "prod", "protein_to_go", []string{"protein_accession", "go_term_id"},
		strings.NewReader("P11111\tGO:0001\nP11111\tGO:0002\nP22222\tGO:0003\n"))
	require.NoError(t, err)
	_, err = a.BulkIngest(ctx, "stg", "protein_to_go", []string{"protein_accession", "go_term_id"},
		strings.NewReader("P11111\tGO:0001\n"))
	require.NoError(t, err)

	require.NoError(t, a.DeleteMissingFromStaging(ctx, "stg", "prod", "protein_to_go", []string{"protein_accession", "go_term_id"}, "protein_accession"))

	rows, err := queryTables(ctx, dbExec{a.db}, "prod")
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	remaining, err := a.CountRows(ctx, "prod", "protein_to_go")
	require.NoError(t, err)
	require.Equal(t, 2, remaining) // P11111/GO:0002 dropped; P22222/GO:0003 untouched since P22222 never appeared in staging
}

func TestWriteHistoryUpsertsByRunID(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t)
	require.NoError(t, a.ApplyTableDefinitions(ctx, "prod", schema.Default()))

	require.NoError(t, a.WriteHistory(ctx, "prod", dbadapter.HistoryRow{RunID: "run-1", Status: "running", Mode: "full", Dataset: "Swiss-Prot"}))
	require.NoError(t, a.WriteHistory(ctx, "prod", dbadapter.HistoryRow{RunID: "run-1", Status: "succeeded", Mode: "full", Dataset: "Swiss-Prot"}))

	var status, dataset string
	require.NoError(t, a.db.QueryRowContext(ctx, `SELECT status, dataset FROM "prod__load_history" WHERE run_id = 'run-1'`).Scan(&status, &dataset))
	require.Equal(t, "succeeded", status)
	require.Equal(t, "Swiss-Prot", dataset)
}
