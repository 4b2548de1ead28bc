package models

import "time"

// SourceType identifies where a document originates from.
type SourceType string

// Document source types.
const (
	SourceFile     SourceType = "file"
	SourceURL      SourceType = "url"
	SourceDatabase SourceType = "database"
	SourceAPI      SourceType = "api"
	SourceEmail    SourceType = "email"
	SourceUnknown  SourceType = "unknown"
)

// ParseSourceType maps a raw string to a SourceType, defaulting to SourceUnknown.
func ParseSourceType(s string) SourceType {
	switch SourceType(s) {
	case SourceFile, SourceURL, SourceDatabase, SourceAPI, SourceEmail:
		return SourceType(s)
	default:
		return SourceUnknown
	}
}

// Document is a retrievable unit of content returned by the search backends.
// Retrieved documents are owned by the step result they were fetched for.
type Document struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	SourceType SourceType     `json:"source_type"`
	FilePath   string         `json:"file_path,omitempty"`
	Author     string         `json:"author,omitempty"`
	CreatedAt  *time.Time     `json:"created_at,omitempty"`
	ModifiedAt *time.Time     `json:"modified_at,omitempty"`
	PageCount  int            `json:"page_count,omitempty"`
	SizeBytes  int64          `json:"size_bytes,omitempty"`
	MimeType   string         `json:"mime_type,omitempty"`
	Language   string         `json:"language,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// Score carries the per-method component scores and the fused score
	// computed by the retrieval engine's ranking strategy.
	Score RelevanceScore `json:"relevance_score"`
}

// Excerpt returns the first maxChars characters of the document content,
// cut at a rune boundary. Used for citation excerpts and re-rank prompts.
func (d *Document) Excerpt(maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(d.Content)
	if len(runes) <= maxChars {
		return d.Content
	}
	return string(runes[:maxChars])
}
