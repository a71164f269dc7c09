package loadstrategy

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter/sqlite"
	"github.com/gowthamrao/py-load-unitprot/internal/rowencode"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

const sampleXML = `<?xml version="1.0"?>
<uniprot release="2024_03">
  <entry dataset="Swiss-Prot">
    <accession>P11111</accession>
    <name>TEST_HUMAN</name>
    <sequence length="4" mass="100">MKLV</sequence>
    <organism>
      <dbReference type="NCBI Taxonomy" id="9606"/>
    </organism>
    <gene><name type="primary">GENEA</name></gene>
    <keyword id="KW-0001">Kinase</keyword>
    <dbReference type="GO" id="GO:0005515"/>
  </entry>
  <entry dataset="Swiss-Prot">
    <accession>P22222</accession>
    <name>OTHER_HUMAN</name>
    <sequence length="4" mass="100">MKLV</sequence>
    <organism>
      <dbReference type="NCBI Taxonomy" id="9606"/>
    </organism>
    <gene><name type="primary">GENEB</name></gene>
    <keyword id="KW-0002">Ligase</keyword>
    <dbReference type="GO" id="GO:0003824"/>
  </entry>
</uniprot>`

const partialDeltaXML = `<?xml version="1.0"?>
<uniprot release="2024_04">
  <entry dataset="Swiss-Prot">
    <accession>P11111</accession>
    <name>TEST_HUMAN_RENAMED</name>
    <sequence length="4" mass="100">MKLV</sequence>
    <organism>
      <dbReference type="NCBI Taxonomy" id="9606"/>
    </organism>
    <gene><name type="primary">GENEA2</name></gene>
    <keyword id="KW-0003">Hydrolase</keyword>
    <dbReference type="GO" id="GO:0016787"/>
  </entry>
</uniprot>`

func gzipOf(s string) *bytes.Buffer {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte(s))
	_ = w.Close()
	return &buf
}

func newDeps(t *testing.T, dir string) (Deps, *sqlite.Adapter, func()) {
	ctx := context.Background()
	adapter, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	return Deps{
		Adapter:          adapter,
		Catalog:          schema.Default(),
		ProductionSchema: "uniprot",
		Dataset:          "Swiss-Prot",
		SpoolDir:         dir,
		Profile:          rowencode.ProfileStandard,
		Workers:          2,
	}, adapter, adapter.Close
}

func TestFullLoadCreatesProductionSchema(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	deps, _, closeFn := newDeps(t, dir)
	defer closeFn()

	release, err := FullLoad(ctx, deps, gzipOf(sampleXML), "run-full-1")
	require.NoError(t, err)
	require.Equal(t, "2024_03", release)

	status, _, err := deps.Adapter.ReadMetadata(ctx, "uniprot")
	_ = status
	require.NoError(t, err)
}

func TestFullLoadTwiceArchivesPreviousProduction(t *testing.T) {
	ctx := context.Background()
	dir1, dir2 := t.TempDir(), t.TempDir()
	deps, _, closeFn := newDeps(t, dir1)
	defer closeFn()

	_, err := FullLoad(ctx, deps, gzipOf(sampleXML), "run-full-1")
	require.NoError(t, err)

	deps.SpoolDir = dir2
	release, err := FullLoad(ctx, deps, gzipOf(sampleXML), "run-full-2")
	require.NoError(t, err)
	require.Equal(t, "2024_03", release)
}

func TestDeltaLoadMergesIntoExistingProduction(t *testing.T) {
	ctx := context.Background()
	dir1, dir2 := t.TempDir(), t.TempDir()
	deps, _, closeFn := newDeps(t, dir1)
	defer closeFn()

	_, err := FullLoad(ctx, deps, gzipOf(sampleXML), "run-full-1")
	require.NoError(t, err)

	updated := strings.Replace(sampleXML, "OTHER_HUMAN", "RENAMED_HUMAN", 1)
	deps.SpoolDir = dir2
	release, err := DeltaLoad(ctx, deps, gzipOf(updated), "run-delta-1")
	require.NoError(t, err)
	require.Equal(t, "2024_03", release)
}

// TestDeltaLoadWithPartialInputLeavesOtherProteinsIntact exercises the case
// a delta run's whole point is: the input covers only a subset of
// production's proteins. P22222 never appears in run-delta-1's input, so
// its genes/keywords/protein_to_go rows must survive untouched — only
// P11111's relation rows should be replaced (spec.md §4.8 step 4).
func TestDeltaLoadWithPartialInputLeavesOtherProteinsIntact(t *testing.T) {
	ctx := context.Background()
	dir1, dir2 := t.TempDir(), t.TempDir()
	deps, adapter, closeFn := newDeps(t, dir1)
	defer closeFn()

	_, err := FullLoad(ctx, deps, gzipOf(sampleXML), "run-full-1")
	require.NoError(t, err)

	before, err := adapter.CountRows(ctx, "uniprot", "genes")
	require.NoError(t, err)
	require.Equal(t, 2, before)

	deps.SpoolDir = dir2
	_, err = DeltaLoad(ctx, deps, gzipOf(partialDeltaXML), "run-delta-1")
	require.NoError(t, err)

	genes, err := adapter.CountRows(ctx, "uniprot", "genes")
	require.NoError(t, err)
	require.Equal(t, 2, genes) // GENEB (P22222) untouched, GENEA replaced by GENEA2

	keywords, err := adapter.CountRows(ctx, "uniprot", "keywords")
	require.NoError(t, err)
	require.Equal(t, 2, keywords)

	goTerms, err := adapter.CountRows(ctx, "uniprot", "protein_to_go")
	require.NoError(t, err)
	require.Equal(t, 2, goTerms)
}
