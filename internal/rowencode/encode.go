// Package rowencode turns an in-memory model.Entry into one delimited-text
// row per target table (spec.md §4.2). Encoding is pure: it has no side
// effects and performs no I/O, so it is trivially unit-testable and safe to
// call concurrently from many transform workers.
package rowencode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/gowthamrao/py-load-unitprot/internal/model"
)

// Profile gates how much semi-structured JSON is retained (spec.md §3.3).
type Profile string

const (
	ProfileStandard Profile = "standard"
	ProfileFull     Profile = "full"
)

// retainedStandardComments lists the comment "type" attribute values kept
// under ProfileStandard; every other comment kind is dropped.
var retainedStandardComments = map[string]bool{
	"function":             true,
	"disease":              true,
	"subcellular location": true,
}

// Null is the two-character sequence the spool format uses to represent a
// SQL NULL (spec.md §4.2).
const Null = `\N`

// Table holds the encoded rows for one target table. Each row is an ordered
// slice of already-escaped string fields, aligned with the schema.Table's
// Columns order.
type Table struct {
	Name string
	Rows [][]string
}

// EncodeEntry produces one Table per target table for a single Entry,
// applying profile masking to the four JSON columns on proteins. Row order
// within each table is deterministic (spec.md §4.2 "Row order for a given
// Entry is deterministic").
func EncodeEntry(e *model.Entry, profile Profile) ([]Table, error) {
	if e.PrimaryAccession == "" {
		return nil, fmt.Errorf("encode entry: primary accession is required")
	}

	commentsJSON, err := maskedComments(e.Comments, profile)
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: comments: %w", e.PrimaryAccession, err)
	}
	featuresJSON, err := maskedJSON(e.Features, profile)
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: features: %w", e.PrimaryAccession, err)
	}
	dbRefJSON, err := maskedJSON(e.DBReferences, profile)
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: db_references: %w", e.PrimaryAccession, err)
	}
	evidenceJSON, err := maskedJSON(e.Evidence, profile)
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: evidence: %w", e.PrimaryAccession, err)
	}

	proteinsRow := []string{
		field(e.PrimaryAccession),
		field(e.UniProtID),
		intField(e.NCBITaxID),
		intField(e.SequenceLength),
		intField(e.MolecularWeight),
		dateField(e.CreatedDate),
		dateField(e.ModifiedDate),
		commentsJSON,
		featuresJSON,
		dbRefJSON,
		evidenceJSON,
	}

	tables := []Table{
		{Name: "proteins", Rows: [][]string{proteinsRow}},
		{Name: "sequences", Rows: [][]string{{field(e.PrimaryAccession), field(e.Sequence)}}},
		{Name: "taxonomy", Rows: [][]string{{intField(e.NCBITaxID), field(e.OrganismSciName), field(e.OrganismLineage)}}},
	}

	var accRows [][]string
	for _, sec := range e.SecondaryAccessions {
		if sec == e.PrimaryAccession {
			// invariant 4, spec.md §3.4: secondary never equals primary.
			continue
		}
		accRows = append(accRows, []string{field(e.PrimaryAccession), field(sec)})
	}
	tables = append(tables, Table{Name: "accessions", Rows: accRows})

	var geneRows [][]string
	for _, g := range e.Genes {
		geneRows = append(geneRows, []string{field(e.PrimaryAccession), field(g.Name), boolField(g.IsPrimary)})
	}
	tables = append(tables, Table{Name: "genes", Rows: geneRows})

	var kwRows [][]string
	for _, k := range e.Keywords {
		kwRows = append(kwRows, []string{field(e.PrimaryAccession), field(k.ID), field(k.Label)})
	}
	tables = append(tables, Table{Name: "keywords", Rows: kwRows})

	var goRows [][]string
	for _, g := range e.GOTerms {
		goRows = append(goRows, []string{field(e.PrimaryAccession), field(g)})
	}
	tables = append(tables, Table{Name: "protein_to_go", Rows: goRows})

	tables = append(tables, Table{
		Name: "protein_to_taxonomy",
		Rows: [][]string{{field(e.PrimaryAccession), intField(e.NCBITaxID)}},
	})

	return tables, nil
}

// maskedComments applies the standard-profile comment-kind filter, then
// delegates to marshalOrNull for the null/marshal behavior.
func maskedComments(comments []map[string]any, profile Profile) (string, error) {
	if profile == ProfileFull {
		return marshalOrNull(comments)
	}
	var kept []map[string]any
	for _, c := range comments {
		kind, _ := c["@type"].(string)
		if retainedStandardComments[strings.ToLower(kind)] {
			kept = append(kept, c)
		}
	}
	return marshalOrNull(kept)
}

// maskedJSON implements the standard-profile masking for features,
// db_references, and evidence: always null outside ProfileFull (spec.md
// §3.3).
func maskedJSON(v []map[string]any, profile Profile) (string, error) {
	if profile != ProfileFull {
		return Null, nil
	}
	return marshalOrNull(v)
}

func marshalOrNull(v []map[string]any) (string, error) {
	if len(v) == 0 {
		return Null, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return field(string(b)), nil
}

// field escapes a string field per spec.md §4.2: literal TAB, NEWLINE, and
// BACKSLASH are replaced with \t, \n, \\ so the line stays one TSV record,
// and an empty value is treated as NULL. Text is first normalized to NFC so
// that organism names and labels sharing the same visible characters (but
// arriving as different combining-sequence forms across UniProt releases)
// compare and index identically downstream.
func field(s string) string {
	if s == "" {
		return Null
	}
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func intField(n int) string {
	if n == 0 {
		return Null
	}
	return strconv.Itoa(n)
}

func boolField(b bool) string {
	if b {
		return "t"
	}
	return "f"
}

func dateField(t time.Time) string {
	if t.IsZero() {
		return Null
	}
	return t.Format("2006-01-02")
}
