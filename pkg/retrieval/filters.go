package retrieval

import (
	"strings"
	"time"

	"github.com/openlotse/lotse/pkg/models"
)

// SearchFilters restricts a fused result set. The zero value applies
// no restriction.
type SearchFilters struct {
	// MaxResults caps the final document count. Zero means no cap
	// beyond the search's top_k.
	MaxResults int `json:"max_results,omitempty"`

	// MinRelevance drops documents with a fused score below it.
	MinRelevance float64 `json:"min_relevance,omitempty"`

	// SourceTypes keeps only documents from the listed sources.
	SourceTypes []models.SourceType `json:"source_types,omitempty"`

	// Tags keeps only documents carrying at least one listed tag.
	Tags []string `json:"tags,omitempty"`

	// Language keeps only documents in the given language.
	Language string `json:"language,omitempty"`

	// DateFrom and DateTo keep only documents whose timestamp falls in
	// the inclusive window. A nil bound is open.
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
}

// Empty reports whether the filters place no restriction at all.
func (f SearchFilters) Empty() bool {
	return f.MaxResults == 0 && f.MinRelevance == 0 &&
		len(f.SourceTypes) == 0 && len(f.Tags) == 0 && f.Language == "" &&
		f.DateFrom == nil && f.DateTo == nil
}

// Apply returns the documents passing every predicate, preserving
// order, truncated to MaxResults when set.
func (f SearchFilters) Apply(docs []models.Document) []models.Document {
	out := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		if !f.matches(doc) {
			continue
		}
		out = append(out, doc)
		if f.MaxResults > 0 && len(out) == f.MaxResults {
			break
		}
	}
	return out
}

func (f SearchFilters) matches(doc models.Document) bool {
	if doc.Score.Fused < f.MinRelevance {
		return false
	}
	if len(f.SourceTypes) > 0 && !containsSource(f.SourceTypes, doc.SourceType) {
		return false
	}
	if f.Language != "" && !strings.EqualFold(doc.Language, f.Language) {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(doc.Tags, f.Tags) {
		return false
	}
	if f.DateFrom != nil || f.DateTo != nil {
		ts := docTimestamp(doc)
		if ts == nil {
			return false
		}
		if f.DateFrom != nil && ts.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && ts.After(*f.DateTo) {
			return false
		}
	}
	return true
}

// docTimestamp is the document's most recent timestamp: modified when
// known, otherwise created.
func docTimestamp(doc models.Document) *time.Time {
	if doc.ModifiedAt != nil {
		return doc.ModifiedAt
	}
	return doc.CreatedAt
}

func containsSource(list []models.SourceType, v models.SourceType) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func hasAnyTag(docTags, wanted []string) bool {
	for _, dt := range docTags {
		for _, w := range wanted {
			if strings.EqualFold(dt, w) {
				return true
			}
		}
	}
	return false
}
