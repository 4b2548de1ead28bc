package retrieval

import (
	"sort"

	"github.com/openlotse/lotse/pkg/models"
)

// Strategy selects how per-method scores are fused.
type Strategy string

// Ranking strategies.
const (
	StrategyWeightedLinear Strategy = "weighted_linear"
	StrategyRRF            Strategy = "reciprocal_rank_fusion"
	StrategyMax            Strategy = "max"
)

// RRFK is the rank-smoothing constant for reciprocal rank fusion.
const RRFK = 60

// Weights are the per-method weights for the weighted-linear strategy.
type Weights struct {
	Semantic float64 `json:"semantic"`
	Keyword  float64 `json:"keyword"`
	Graph    float64 `json:"graph"`
}

// DefaultWeights favours semantic similarity with keyword support.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.5, Keyword: 0.3, Graph: 0.2}
}

// rankedList is one backend's ordered contribution.
type rankedList struct {
	method Method
	docs   []models.Document
}

// fuse coalesces the per-backend lists by document id, computes the
// fused score per the strategy, and returns documents ordered by fused
// score descending with document-id ascending as the tie-break.
func fuse(lists []rankedList, strategy Strategy, weights Weights) []models.Document {
	merged := make(map[string]*models.Document)
	ranks := make(map[string]map[Method]int)
	var order []string

	for _, list := range lists {
		for i, doc := range list.docs {
			if existing, ok := merged[doc.ID]; ok {
				carryScore(existing, doc, list.method)
			} else {
				d := doc
				merged[doc.ID] = &d
				ranks[doc.ID] = map[Method]int{}
				order = append(order, doc.ID)
			}
			ranks[doc.ID][list.method] = i + 1
		}
	}

	out := make([]models.Document, 0, len(order))
	for _, id := range order {
		doc := merged[id]
		doc.Score.Fused = fusedScore(doc.Score, ranks[id], strategy, weights)
		doc.Score.Clamp()
		out = append(out, *doc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score.Fused != out[j].Score.Fused {
			return out[i].Score.Fused > out[j].Score.Fused
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// carryScore copies the incoming backend's component score onto the
// already-merged document. Other components are left untouched.
func carryScore(dst *models.Document, src models.Document, method Method) {
	switch method {
	case MethodSemantic:
		dst.Score.Semantic = src.Score.Semantic
		dst.Score.HasSemantic = true
	case MethodKeyword:
		dst.Score.Keyword = src.Score.Keyword
		dst.Score.HasKeyword = true
	case MethodGraph:
		dst.Score.Graph = src.Score.Graph
		dst.Score.HasGraph = true
	}
}

func fusedScore(s models.RelevanceScore, rank map[Method]int, strategy Strategy, w Weights) float64 {
	switch strategy {
	case StrategyRRF:
		var sum float64
		for _, r := range rank {
			sum += 1.0 / float64(RRFK+r)
		}
		return sum
	case StrategyMax:
		var best float64
		if s.HasSemantic && s.Semantic > best {
			best = s.Semantic
		}
		if s.HasKeyword && s.Keyword > best {
			best = s.Keyword
		}
		if s.HasGraph && s.Graph > best {
			best = s.Graph
		}
		return best
	default: // weighted linear, skipping absent components
		var sum, weightSum float64
		if s.HasSemantic {
			sum += w.Semantic * s.Semantic
			weightSum += w.Semantic
		}
		if s.HasKeyword {
			sum += w.Keyword * s.Keyword
			weightSum += w.Keyword
		}
		if s.HasGraph {
			sum += w.Graph * s.Graph
			weightSum += w.Graph
		}
		if weightSum == 0 {
			return 0
		}
		return sum / weightSum
	}
}
