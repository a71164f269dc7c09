// Package model defines the in-memory record produced by the XML entry
// parser and consumed by the row encoder (spec §3.1).
package model

import "time"

// Gene is a single gene name associated with an Entry.
type Gene struct {
	Name      string
	IsPrimary bool
}

// Keyword is a UniProt controlled-vocabulary keyword attached to an Entry.
type Keyword struct {
	ID    string
	Label string
}

// Entry is an immutable record for one <entry> element of the UniProtKB XML.
// Fields mirror spec.md §3.1 exactly; JSON-shaped fields are represented as
// []map[string]any (already rendered via xmlelem.ToMapList) so the row
// encoder only has to marshal them, not walk XML again.
type Entry struct {
	PrimaryAccession     string
	SecondaryAccessions  []string
	UniProtID            string
	NCBITaxID            int
	OrganismSciName      string
	OrganismLineage      string
	SequenceLength       int
	MolecularWeight      int
	Sequence             string
	CreatedDate          time.Time
	ModifiedDate         time.Time
	Genes                []Gene
	Keywords             []Keyword
	GOTerms              []string
	Comments             []map[string]any
	Features             []map[string]any
	DBReferences         []map[string]any
	Evidence             []map[string]any
}

// PrimaryGeneCount returns how many genes are flagged primary, so callers
// can check invariant 3 in spec.md §3.4 (exactly one, when any are present).
// It does not mutate or enforce anything by itself.
func (e *Entry) PrimaryGeneCount() int {
	n := 0
	for _, g := range e.Genes {
		if g.IsPrimary {
			n++
		}
	}
	return n
}
