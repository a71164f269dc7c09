package xmlentry

import (
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gowthamrao/py-load-unitprot/internal/pipelineerr"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0"?>
<uniprot release="2024_03">
  <entry created="2020-01-01" modified="2021-02-02">
    <accession>P11111</accession>
    <accession>P11112</accession>
    <name>TEST_HUMAN</name>
    <organism>
      <name type="scientific">Homo sapiens</name>
      <name type="common">Human</name>
      <dbReference type="NCBI Taxonomy" id="9606"/>
      <lineage>
        <taxon>Eukaryota</taxon>
        <taxon>Metazoa</taxon>
        <taxon>Chordata</taxon>
      </lineage>
    </organism>
    <gene>
      <name type="primary">GENEA</name>
      <name type="synonym">GENEA2</name>
    </gene>
    <comment type="function"><text>Binds calcium.</text></comment>
    <keyword id="KW-0001">Kinase</keyword>
    <dbReference type="GO" id="GO:0005515"/>
    <dbReference type="PDB" id="1ABC"/>
    <feature type="chain" description="whole"/>
    <evidence key="1" type="ECO:0000255"/>
    <sequence length="4" mass="500" checksum="X">
      MKTA
    </sequence>
  </entry>
  <entry created="2020-01-01" modified="2021-02-02">
    <name>BAD_ENTRY</name>
  </entry>
  <entry created="2020-05-05" modified="2020-06-06">
    <accession>P22222</accession>
    <name>OTHER_HUMAN</name>
    <sequence length="3" mass="300">ABC</sequence>
  </entry>
</uniprot>`

func TestParserReleaseTagAndEntries(t *testing.T) {
	p := New(strings.NewReader(sampleXML))

	e1, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, "2024_03", p.ReleaseTag())
	require.Equal(t, "P11111", e1.PrimaryAccession)
	require.Equal(t, []string{"P11112"}, e1.SecondaryAccessions)
	require.Equal(t, "TEST_HUMAN", e1.UniProtID)
	require.Equal(t, 9606, e1.NCBITaxID)
	require.Equal(t, "Homo sapiens", e1.OrganismSciName)
	require.Equal(t, "Eukaryota; Metazoa; Chordata", e1.OrganismLineage)
	require.Equal(t, 4, e1.SequenceLength)
	require.Equal(t, 500, e1.MolecularWeight)
	require.Equal(t, "MKTA", e1.Sequence)
	require.Len(t, e1.Genes, 2)
	require.True(t, e1.Genes[0].IsPrimary)
	require.False(t, e1.Genes[1].IsPrimary)
	require.Equal(t, []string{"GO:0005515"}, e1.GOTerms)
	require.Len(t, e1.DBReferences, 1, "GO and NCBI Taxonomy dbReferences are excluded")
	require.Len(t, e1.Comments, 1)
	require.Len(t, e1.Features, 1)
	require.Len(t, e1.Evidence, 1)
	require.Equal(t, 2020, e1.CreatedDate.Year())

	_, err = p.Next()
	var invalid *pipelineerr.InvalidEntryError
	require.True(t, errors.As(err, &invalid), "expected InvalidEntryError, got %v", err)
	require.True(t, errors.Is(err, pipelineerr.ErrInvalidEntry))

	e3, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, "P22222", e3.PrimaryAccession)

	_, err = p.Next()
	require.ErrorIs(t, err, io.EOF)
}

// TestParserSanitizesInvalidUTF8InCharData covers XP's defensive
// runes.ReplaceIllFormed pass over the raw byte stream before the XML decoder ever sees it: a name
// field containing a raw invalid byte sequence must not make encoding/xml
// fail the whole stream, and must not propagate as-is into the Entry.
func TestParserSanitizesInvalidUTF8InCharData(t *testing.T) {
	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0"?>` + "\n")
	doc.WriteString(`<uniprot release="2024_03"><entry><accession>P33333</accession><name>BAD` + "\xff\xfe" + `NAME</name></entry></uniprot>`)

	p := New(strings.NewReader(doc.String()))
	e, err := p.Next()
	require.NoError(t, err)
	require.True(t, utf8.ValidString(e.UniProtID), "sanitized name must be valid UTF-8, got %q", e.UniProtID)
}
