package rowencode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gowthamrao/py-load-unitprot/internal/model"
)

// DecodeEntry reconstructs a model.Entry from the per-table rows produced by
// EncodeEntry for a single accession, under ProfileFull. It exists primarily
// to exercise the round-trip property in spec.md §8-4; it is not used on the
// hot load path (the bulk load executor streams rows straight into the
// database without ever decoding them back into Go structs).
func DecodeEntry(tables map[string][][]string) (*model.Entry, error) {
	proteinRows := tables["proteins"]
	if len(proteinRows) != 1 {
		return nil, fmt.Errorf("decode entry: expected exactly 1 proteins row, got %d", len(proteinRows))
	}
	p := proteinRows[0]
	if len(p) != 11 {
		return nil, fmt.Errorf("decode entry: proteins row has %d fields, want 11", len(p))
	}

	e := &model.Entry{
		PrimaryAccession: unfield(p[0]),
		UniProtID:        unfield(p[1]),
	}
	var err error
	if e.NCBITaxID, err = unintField(p[2]); err != nil {
		return nil, err
	}
	if e.SequenceLength, err = unintField(p[3]); err != nil {
		return nil, err
	}
	if e.MolecularWeight, err = unintField(p[4]); err != nil {
		return nil, err
	}
	if e.CreatedDate, err = undateField(p[5]); err != nil {
		return nil, err
	}
	if e.ModifiedDate, err = undateField(p[6]); err != nil {
		return nil, err
	}
	if e.Comments, err = unjson(p[7]); err != nil {
		return nil, err
	}
	if e.Features, err = unjson(p[8]); err != nil {
		return nil, err
	}
	if e.DBReferences, err = unjson(p[9]); err != nil {
		return nil, err
	}
	if e.Evidence, err = unjson(p[10]); err != nil {
		return nil, err
	}

	if seqRows := tables["sequences"]; len(seqRows) == 1 {
		e.Sequence = unfield(seqRows[0][1])
	}
	if taxRows := tables["taxonomy"]; len(taxRows) == 1 {
		e.OrganismSciName = unfield(taxRows[0][1])
		e.OrganismLineage = unfield(taxRows[0][2])
	}
	for _, r := range tables["accessions"] {
		e.SecondaryAccessions = append(e.SecondaryAccessions, unfield(r[1]))
	}
	for _, r := range tables["genes"] {
		e.Genes = append(e.Genes, model.Gene{Name: unfield(r[1]), IsPrimary: r[2] == "t"})
	}
	for _, r := range tables["keywords"] {
		e.Keywords = append(e.Keywords, model.Keyword{ID: unfield(r[1]), Label: unfield(r[2])})
	}
	for _, r := range tables["protein_to_go"] {
		e.GOTerms = append(e.GOTerms, unfield(r[1]))
	}

	return e, nil
}

func unfield(s string) string {
	if s == Null {
		return ""
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				out = append(out, '\\')
				i++
				continue
			case 't':
				out = append(out, '\t')
				i++
				continue
			case 'n':
				out = append(out, '\n')
				i++
				continue
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}

func unintField(s string) (int, error) {
	if s == Null {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func undateField(s string) (time.Time, error) {
	if s == Null {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func unjson(s string) ([]map[string]any, error) {
	if s == Null {
		return nil, nil
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(unfield(s)), &out); err != nil {
		return nil, err
	}
	return out, nil
}
