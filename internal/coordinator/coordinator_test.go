package coordinator

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowthamrao/py-load-unitprot/internal/rowencode"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

const coordinatorSampleXML = `<?xml version="1.0"?>
<uniprot release="2024_03">
  <entry created="2020-01-01" modified="2021-02-02">
    <accession>P11111</accession>
    <accession>P11112</accession>
    <name>TEST_HUMAN</name>
    <organism>
      <name type="scientific">Homo sapiens</name>
      <dbReference type="NCBI Taxonomy" id="9606"/>
      <lineage><taxon>Eukaryota</taxon></lineage>
    </organism>
    <gene><name type="primary">GENEA</name></gene>
    <keyword id="KW-0001">Kinase</keyword>
    <dbReference type="GO" id="GO:0005515"/>
    <sequence length="4" mass="500">MKTA</sequence>
  </entry>
  <entry created="2020-01-01" modified="2021-02-02">
    <name>BAD_ENTRY</name>
  </entry>
  <entry created="2020-05-05" modified="2020-06-06">
    <accession>P22222</accession>
    <name>OTHER_HUMAN</name>
    <organism>
      <name type="scientific">Homo sapiens</name>
      <dbReference type="NCBI Taxonomy" id="9606"/>
    </organism>
    <gene><name type="primary">GENEB</name></gene>
    <keyword id="KW-0002">Ligase</keyword>
    <dbReference type="GO" id="GO:0003824"/>
    <sequence length="3" mass="300">ABC</sequence>
  </entry>
</uniprot>`

func gzipString(s string) *bytes.Buffer {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte(s))
	_ = w.Close()
	return &buf
}

func TestCoordinatorRunProducesSpoolFilesAndCounts(t *testing.T) {
	dir := t.TempDir()
	spoolDir := filepath.Join(dir, "spool")

	report, err := Run(
		context.Background(),
		gzipString(coordinatorSampleXML),
		schema.Default(),
		rowencode.ProfileStandard,
		spoolDir,
		Options{Workers: 2},
		nil,
	)
	require.NoError(t, err)
	require.Equal(t, "2024_03", report.ReleaseTag)
	require.EqualValues(t, 2, report.EntriesOK)
	require.EqualValues(t, 1, report.EntriesBad)
	require.EqualValues(t, 2, report.RowCounts["proteins"])
	require.EqualValues(t, 1, report.RowCounts["accessions"])
	require.EqualValues(t, 2, report.RowCounts["genes"])
	require.NotZero(t, report.Checksums["proteins"])

	f, err := openGzipLines(filepath.Join(spoolDir, "proteins.tsv.gz"))
	require.NoError(t, err)
	require.Len(t, f, 2)
	require.True(t, strings.HasPrefix(f[0], "P11111\t") || strings.HasPrefix(f[1], "P11111\t"))
}

// TestCoordinatorRunDedupsTaxonomyAcrossEntries covers the common case
// coordinatorSampleXML already exercises implicitly (both of its valid
// entries share taxid 9606): many proteins share an organism, but taxonomy's
// primary key is ncbi_taxid alone, so the spool file must carry exactly one
// row per distinct taxid regardless of how many entries referenced it.
func TestCoordinatorRunDedupsTaxonomyAcrossEntries(t *testing.T) {
	dir := t.TempDir()
	spoolDir := filepath.Join(dir, "spool")

	report, err := Run(
		context.Background(),
		gzipString(coordinatorSampleXML),
		schema.Default(),
		rowencode.ProfileStandard,
		spoolDir,
		Options{Workers: 4},
		nil,
	)
	require.NoError(t, err)
	require.EqualValues(t, 1, report.RowCounts["taxonomy"], "both surviving entries share taxid 9606")

	lines, err := openGzipLines(filepath.Join(spoolDir, "taxonomy.tsv.gz"))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, strings.HasPrefix(lines[0], "9606\tHomo sapiens\t"), "got %q", lines[0])
}

func openGzipLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
