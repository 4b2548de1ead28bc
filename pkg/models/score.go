package models

import "fmt"

// Confidence buckets a fused relevance score into a coarse tier for
// display and filtering.
type Confidence string

// Confidence tiers.
const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// Tier thresholds on the fused score.
const (
	HighConfidenceThreshold   = 0.8
	MediumConfidenceThreshold = 0.5
	LowConfidenceThreshold    = 0.3
)

// ConfidenceFromScore maps a fused score to its tier.
func ConfidenceFromScore(score float64) Confidence {
	switch {
	case score >= HighConfidenceThreshold:
		return ConfidenceHigh
	case score >= MediumConfidenceThreshold:
		return ConfidenceMedium
	case score >= LowConfidenceThreshold:
		return ConfidenceLow
	default:
		return ConfidenceUnknown
	}
}

// ParseConfidence maps a raw string to a Confidence, defaulting to
// ConfidenceUnknown.
func ParseConfidence(s string) Confidence {
	switch Confidence(s) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return Confidence(s)
	default:
		return ConfidenceUnknown
	}
}

// RelevanceScore holds the per-method component scores and the fused
// score for a retrieved document. The Has* flags record which retrieval
// methods actually scored the document; a zero component with its flag
// unset means "not scored by this method", not "scored zero".
type RelevanceScore struct {
	Semantic float64 `json:"semantic_score"`
	Keyword  float64 `json:"keyword_score"`
	Graph    float64 `json:"graph_score"`
	Fused    float64 `json:"fused_score"`

	HasSemantic bool `json:"-"`
	HasKeyword  bool `json:"-"`
	HasGraph    bool `json:"-"`
}

// NewRelevanceScore validates that every component lies in [0, 1].
func NewRelevanceScore(semantic, keyword, graph float64) (RelevanceScore, error) {
	for _, v := range []float64{semantic, keyword, graph} {
		if v < 0 || v > 1 {
			return RelevanceScore{}, fmt.Errorf("%w: score %v outside [0, 1]", ErrInvalidInput, v)
		}
	}
	return RelevanceScore{
		Semantic:    semantic,
		Keyword:     keyword,
		Graph:       graph,
		HasSemantic: true,
		HasKeyword:  true,
		HasGraph:    true,
	}, nil
}

// Clamp forces every component into [0, 1] in place. Fusion strategies
// that can overshoot (sums of weighted components) call this before
// publishing a score.
func (r *RelevanceScore) Clamp() {
	r.Semantic = clamp01(r.Semantic)
	r.Keyword = clamp01(r.Keyword)
	r.Graph = clamp01(r.Graph)
	r.Fused = clamp01(r.Fused)
}

// Confidence returns the tier of the fused score.
func (r RelevanceScore) Confidence() Confidence {
	return ConfidenceFromScore(r.Fused)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
