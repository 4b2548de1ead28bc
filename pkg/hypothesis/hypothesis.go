// Package hypothesis forms an early structured guess about a query
// before retrieval finishes, so the final answer can be checked against
// the gaps and assumptions identified up front.
package hypothesis

import (
	"encoding/json"
	"fmt"

	"github.com/openlotse/lotse/pkg/models"
)

// QuestionType classifies what kind of answer the query demands.
type QuestionType string

// Question types.
const (
	QuestionFact         QuestionType = "fact"
	QuestionComparison   QuestionType = "comparison"
	QuestionProcedural   QuestionType = "procedural"
	QuestionCalculation  QuestionType = "calculation"
	QuestionOpinion      QuestionType = "opinion"
	QuestionTimeline     QuestionType = "timeline"
	QuestionCausal       QuestionType = "causal"
	QuestionHypothetical QuestionType = "hypothetical"
)

// ParseQuestionType maps a raw string to a QuestionType, defaulting to
// QuestionFact.
func ParseQuestionType(s string) QuestionType {
	switch QuestionType(s) {
	case QuestionFact, QuestionComparison, QuestionProcedural, QuestionCalculation,
		QuestionOpinion, QuestionTimeline, QuestionCausal, QuestionHypothetical:
		return QuestionType(s)
	default:
		return QuestionFact
	}
}

// Severity grades how much an information gap endangers the answer.
type Severity string

// Gap severities.
const (
	SeverityCritical  Severity = "critical"
	SeverityImportant Severity = "important"
	SeverityOptional  Severity = "optional"
)

// ParseSeverity maps a raw string to a Severity, defaulting to
// SeverityOptional.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityImportant:
		return Severity(s)
	default:
		return SeverityOptional
	}
}

// Gap is one piece of information the hypothesis knows it is missing.
// SuggestedQuery is a retrieval query that could close the gap;
// Examples illustrate what the missing information looks like.
type Gap struct {
	Topic          string   `json:"topic"`
	Description    string   `json:"description,omitempty"`
	Severity       Severity `json:"severity"`
	SuggestedQuery string   `json:"suggested_query,omitempty"`
	Examples       []string `json:"examples,omitempty"`
}

// Hypothesis is the structured guess for a query.
type Hypothesis struct {
	Statement            string            `json:"statement"`
	QuestionType         QuestionType      `json:"question_type"`
	PrimaryIntent        string            `json:"primary_intent"`
	Confidence           models.Confidence `json:"confidence"`
	RequiredInformation  []string          `json:"required_information,omitempty"`
	Assumptions          []string          `json:"assumptions,omitempty"`
	Gaps                 []Gap             `json:"information_gaps,omitempty"`
	SubQuestions         []string          `json:"sub_questions,omitempty"`
	ExpectedResponseType string            `json:"expected_response_type,omitempty"`
	Metadata             map[string]any    `json:"metadata,omitempty"`
	Fallback             bool              `json:"fallback,omitempty"`
}

// HasCriticalGaps reports whether any gap is critical.
func (h *Hypothesis) HasCriticalGaps() bool {
	for _, g := range h.Gaps {
		if g.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ToMap serialises the hypothesis for embedding into aggregated
// results and event payloads.
func (h *Hypothesis) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal hypothesis: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal hypothesis: %w", err)
	}
	return out, nil
}

// FromMap is the inverse of ToMap.
func FromMap(m map[string]any) (*Hypothesis, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal hypothesis map: %w", err)
	}
	var h Hypothesis
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("unmarshal hypothesis map: %w", err)
	}
	return &h, nil
}
