package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowthamrao/py-load-unitprot/internal/dbadapter/sqlite"
	"github.com/gowthamrao/py-load-unitprot/internal/rowencode"
	"github.com/gowthamrao/py-load-unitprot/internal/schema"
)

const facadeSampleXML = `<?xml version="1.0"?>
<uniprot release="2024_01">
  <entry dataset="Swiss-Prot">
    <accession>P99999</accession>
    <name>FACADE_HUMAN</name>
    <sequence length="4" mass="100">MKLV</sequence>
    <organism>
      <dbReference type="NCBI Taxonomy" id="9606"/>
    </organism>
  </entry>
</uniprot>`

func gzipBytes(s string) *bytes.Buffer {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte(s))
	_ = w.Close()
	return &buf
}

func TestFacadeRunFullLoadUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	adapter, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer adapter.Close()

	f := &Facade{
		Adapter:          adapter,
		Catalog:          schema.Default(),
		ProductionSchema: "uniprot",
		SpoolDir:         t.TempDir(),
		Workers:          1,
	}

	status, err := f.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.Loaded)

	result, err := f.Run(ctx, ModeFull, "Swiss-Prot", rowencode.ProfileStandard, gzipBytes(facadeSampleXML))
	require.NoError(t, err)
	require.Equal(t, "2024_01", result.ReleaseTag)
	require.NotEmpty(t, result.RunID)

	status, err = f.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Loaded)
	require.Equal(t, "2024_01", status.ReleaseTag)
}

func TestFacadeRunRejectsUnknownMode(t *testing.T) {
	ctx := context.Background()
	adapter, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer adapter.Close()

	f := &Facade{Adapter: adapter, Catalog: schema.Default(), ProductionSchema: "uniprot", SpoolDir: t.TempDir()}
	_, err = f.Run(ctx, Mode("bogus"), "Swiss-Prot", rowencode.ProfileStandard, gzipBytes(facadeSampleXML))
	require.Error(t, err)
}
