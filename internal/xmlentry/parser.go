// Package xmlentry implements the streaming XML entry parser (XP, spec.md
// §4.1). It decomposes a UniProtKB XML document into a lazy, in-order
// sequence of model.Entry values without ever materializing more than one
// <entry> subtree at a time: unlike the source Python implementation, which
// must call lxml's elem.clear() and prune preceding siblings by hand to
// avoid a growing left spine, encoding/xml's token stream never builds a
// parent document tree at all, so there is no left spine to prune — the
// previous entry's *xmlelem.Element simply becomes unreachable once Next
// returns the next one.
package xmlentry

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/gowthamrao/py-load-unitprot/internal/model"
	"github.com/gowthamrao/py-load-unitprot/internal/pipelineerr"
	"github.com/gowthamrao/py-load-unitprot/internal/xmlelem"
)

// Parser streams model.Entry values from decompressed UniProt XML, in
// document order, single-pass, not restartable (spec.md §4.1 contract).
type Parser struct {
	dec            *xml.Decoder
	releaseTag     string
	releaseTagRead bool
}

// New wraps r (already gzip-decompressed) in a streaming entry parser.
//
// r is passed through runes.ReplaceIllFormed first: UniProt XML declares
// encoding="UTF-8" in its prolog, but XP doesn't trust that declaration
// blindly. encoding/xml rejects a document outright the instant it finds
// one invalid byte sequence anywhere in character data — "invalid UTF-8",
// fatal to the whole stream, not just the one bad entry — so any upstream
// mojibake has to be sanitized before the decoder ever sees it, not after.
// ReplaceIllFormed passes well-formed runs through unchanged and substitutes
// utf8.RuneError for anything that isn't, the same substitution behavior
// Go's own unicode/utf8 package uses for invalid input.
func New(r io.Reader) *Parser {
	dec := xml.NewDecoder(transform.NewReader(r, runes.ReplaceIllFormed()))
	dec.Strict = false
	return &Parser{dec: dec}
}

// ReleaseTag returns the release attribute read from the document root.
// It is only meaningful after at least one call to Next has returned
// without error, per spec.md §4.1 ("read from the root element attribute
// once and surfaced to PTC before the first entry").
func (p *Parser) ReleaseTag() string { return p.releaseTag }

// Next returns the next Entry in document order. It returns io.EOF when the
// stream is exhausted.
//
// Malformed entries (missing primary accession) are reported as
// *pipelineerr.InvalidEntryError wrapping pipelineerr.ErrInvalidEntry, per
// spec.md §4.1's edge-case policy; any other decoding error is returned
// unwrapped and is fatal to the stream.
func (p *Parser) Next() (*model.Entry, error) {
	for {
		tok, err := p.dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("xmlentry: token: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if !p.releaseTagRead && se.Name.Local == "uniprot" {
			p.releaseTagRead = true
			for _, a := range se.Attr {
				if a.Name.Local == "release" {
					p.releaseTag = a.Value
				}
			}
			continue
		}

		if se.Name.Local != "entry" {
			continue
		}

		el, err := p.readElement(se)
		if err != nil {
			return nil, fmt.Errorf("xmlentry: reading <entry>: %w", err)
		}

		entry, convErr := extractEntry(el)
		if convErr != nil {
			return nil, &pipelineerr.InvalidEntryError{Accession: firstAccession(el), Cause: convErr}
		}
		return entry, nil
	}
}

// readElement materializes the subtree rooted at an already-consumed
// StartElement. Only one such subtree exists on the heap at a time per
// Next() call; this is what bounds XP's memory ceiling to O(single largest
// entry) regardless of total corpus size (spec.md §4.1, §8-3).
func (p *Parser) readElement(start xml.StartElement) (*xmlelem.Element, error) {
	el := xmlelem.NewElement(start.Name.Local)
	for _, a := range start.Attr {
		el.SetAttr(a.Name.Local, a.Value)
	}

	var text strings.Builder
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := p.readElement(t)
			if err != nil {
				return nil, err
			}
			el.AddChild(child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			el.Text = strings.TrimSpace(text.String())
			return el, nil
		}
	}
}

// firstAccession best-efforts an accession string out of a malformed entry
// element, purely for error messages; it does not validate anything.
func firstAccession(el *xmlelem.Element) string {
	if acc := el.FirstChild("accession"); acc != nil {
		return acc.Text
	}
	return ""
}
