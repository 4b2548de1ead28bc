// Package analysis defines the structured query analysis consumed by the
// plan builder, and a default keyword/regex analyzer for the German
// administrative domain. The Analyzer interface is the boundary: any
// external NLU component that produces an Analysis can replace the
// built-in one.
package analysis

import "context"

// Intent classifies what the user wants from the query.
type Intent string

// The closed set of query intents.
const (
	IntentFact        Intent = "fact"
	IntentProcedure   Intent = "procedure"
	IntentComparison  Intent = "comparison"
	IntentTimeline    Intent = "timeline"
	IntentCalculation Intent = "calculation"
	IntentDefinition  Intent = "definition"
	IntentLocation    Intent = "location"
	IntentContact     Intent = "contact"
	IntentUnknown     Intent = "unknown"
)

// ParseIntent maps a raw string to an Intent, defaulting to IntentUnknown.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentFact, IntentProcedure, IntentComparison, IntentTimeline,
		IntentCalculation, IntentDefinition, IntentLocation, IntentContact:
		return Intent(s)
	default:
		return IntentUnknown
	}
}

// Well-known parameter keys projected into plan steps.
const (
	ParamLocation      = "location"
	ParamOrganization  = "organization"
	ParamDocumentType  = "document_type"
	ParamProcedureType = "procedure_type"
	ParamDate          = "date"
	ParamAmount        = "amount"
)

// EntityKind tags the type of an extracted entity.
type EntityKind string

// Entity kinds recognised by the analyzer.
const (
	EntityLocation     EntityKind = "location"
	EntityOrganization EntityKind = "organization"
	EntityDocument     EntityKind = "document"
	EntityProcedure    EntityKind = "procedure"
	EntityTerm         EntityKind = "term"
)

// Entity is a tagged span extracted from the query text.
type Entity struct {
	Text  string     `json:"text"`
	Kind  EntityKind `json:"kind"`
	Start int        `json:"start"`
	End   int        `json:"end"`
}

// Analysis is the immutable result of analysing a natural-language query.
type Analysis struct {
	Query        string         `json:"query"`
	Intent       Intent         `json:"intent"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Entities     []Entity       `json:"entities,omitempty"`
	QuestionType string         `json:"question_type,omitempty"`
}

// Param returns the string value of a parameter, or "" if absent or not a string.
func (a *Analysis) Param(key string) string {
	if a.Parameters == nil {
		return ""
	}
	if v, ok := a.Parameters[key].(string); ok {
		return v
	}
	return ""
}

// EntitiesOfKind returns the entities matching the given kind, in query order.
func (a *Analysis) EntitiesOfKind(kind EntityKind) []Entity {
	var out []Entity
	for _, e := range a.Entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Analyzer turns a raw query into a structured Analysis.
type Analyzer interface {
	Analyze(ctx context.Context, query string) (*Analysis, error)
}
