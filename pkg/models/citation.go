package models

import "fmt"

// Citation points at the location in a source document that supports a
// statement in a step result or hypothesis.
type Citation struct {
	DocumentID    string     `json:"document_id"`
	Title         string     `json:"title"`
	Confidence    Confidence `json:"confidence"`
	Page          *int       `json:"page,omitempty"`
	Section       string     `json:"section,omitempty"`
	Excerpt       string     `json:"excerpt,omitempty"`
	ExcerptStart  *int       `json:"excerpt_start,omitempty"`
	ExcerptEnd    *int       `json:"excerpt_end,omitempty"`
	ContextBefore string     `json:"context_before,omitempty"`
	ContextAfter  string     `json:"context_after,omitempty"`
}

// CitationFromDocument builds a citation for a retrieved document, with
// an excerpt of at most excerptChars characters. Single-page documents
// get an explicit page number.
func CitationFromDocument(doc *Document, excerptChars int) Citation {
	c := Citation{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Confidence: doc.Score.Confidence(),
		Excerpt:    doc.Excerpt(excerptChars),
	}
	if doc.PageCount == 1 {
		page := 1
		c.Page = &page
	}
	return c
}

// Ref renders the short human-readable reference, e.g. "Bauordnung BW
// (Page 12)" or just the title when no page is known.
func (c Citation) Ref() string {
	if c.Page != nil {
		return fmt.Sprintf("%s (Page %d)", c.Title, *c.Page)
	}
	return c.Title
}
