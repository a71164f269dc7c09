package xmlentry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gowthamrao/py-load-unitprot/internal/model"
	"github.com/gowthamrao/py-load-unitprot/internal/xmlelem"
)

// extractEntry walks one fully-materialized <entry> subtree and produces a
// model.Entry, per spec.md §3.1's field mapping. It is a pure function:
// given the same Element it always produces the same Entry.
func extractEntry(el *xmlelem.Element) (*model.Entry, error) {
	accessions := el.ChildrenByTag("accession")
	if len(accessions) == 0 {
		return nil, fmt.Errorf("entry has no <accession>")
	}

	e := &model.Entry{
		PrimaryAccession: accessions[0].Text,
	}
	for _, a := range accessions[1:] {
		e.SecondaryAccessions = append(e.SecondaryAccessions, a.Text)
	}

	if nameEl := el.FirstChild("name"); nameEl != nil {
		e.UniProtID = nameEl.Text
	}

	if created, ok := el.Attr("created"); ok {
		if t, err := parseDate(created); err == nil {
			e.CreatedDate = t
		}
	}
	if modified, ok := el.Attr("modified"); ok {
		if t, err := parseDate(modified); err == nil {
			e.ModifiedDate = t
		}
	}

	if org := el.FirstChild("organism"); org != nil {
		extractOrganism(org, e)
	}

	if seq := el.FirstChild("sequence"); seq != nil {
		if l, ok := seq.Attr("length"); ok {
			e.SequenceLength, _ = strconv.Atoi(l)
		}
		if m, ok := seq.Attr("mass"); ok {
			e.MolecularWeight, _ = strconv.Atoi(m)
		}
		e.Sequence = stripWhitespace(seq.Text)
	}

	for _, g := range el.ChildrenByTag("gene") {
		for _, n := range g.ChildrenByTag("name") {
			typ, _ := n.Attr("type")
			e.Genes = append(e.Genes, model.Gene{
				Name:      n.Text,
				IsPrimary: typ == "primary",
			})
		}
	}

	for _, kw := range el.ChildrenByTag("keyword") {
		id, _ := kw.Attr("id")
		e.Keywords = append(e.Keywords, model.Keyword{ID: id, Label: kw.Text})
	}

	var dbRefs []*xmlelem.Element
	for _, ref := range el.ChildrenByTag("dbReference") {
		typ, _ := ref.Attr("type")
		switch typ {
		case "GO":
			if id, ok := ref.Attr("id"); ok {
				e.GOTerms = append(e.GOTerms, id)
			}
		case "NCBI Taxonomy":
			// already consumed via the <organism> subtree; entry-level
			// dbReferences of this type (rare, but present in some records)
			// are excluded from db_references_data per spec.md §3.1.
		default:
			dbRefs = append(dbRefs, ref)
		}
	}
	e.DBReferences = xmlelem.ToMapList(dbRefs)
	e.Comments = xmlelem.ToMapList(el.ChildrenByTag("comment"))
	e.Features = xmlelem.ToMapList(el.ChildrenByTag("feature"))
	e.Evidence = xmlelem.ToMapList(el.ChildrenByTag("evidence"))

	return e, nil
}

// extractOrganism fills NCBITaxID, OrganismSciName, and OrganismLineage from
// an <organism> element.
func extractOrganism(org *xmlelem.Element, e *model.Entry) {
	for _, n := range org.ChildrenByTag("name") {
		if typ, _ := n.Attr("type"); typ == "scientific" {
			e.OrganismSciName = n.Text
			break
		}
	}
	for _, ref := range org.ChildrenByTag("dbReference") {
		if typ, _ := ref.Attr("type"); typ == "NCBI Taxonomy" {
			if id, ok := ref.Attr("id"); ok {
				e.NCBITaxID, _ = strconv.Atoi(id)
			}
			break
		}
	}
	if lineage := org.FirstChild("lineage"); lineage != nil {
		var taxa []string
		for _, t := range lineage.ChildrenByTag("taxon") {
			taxa = append(taxa, t.Text)
		}
		e.OrganismLineage = strings.Join(taxa, "; ")
	}
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
