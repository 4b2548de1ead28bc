// Package rerank re-scores retrieved documents with an LLM judge. Any
// failure degrades to the incoming order; re-ranking never makes a
// search fail.
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openlotse/lotse/pkg/llm"
	"github.com/openlotse/lotse/pkg/models"
)

// Mode selects what the LLM judge scores.
type Mode string

// Scoring modes.
const (
	ModeRelevance Mode = "relevance"
	ModeQuality   Mode = "quality"
	ModeCombined  Mode = "combined"
)

// Config parameterises the service.
type Config struct {
	Mode      Mode
	BatchSize int

	// RelevanceWeight and QualityWeight mix the two judge scores in
	// combined mode. They need not sum to one; the mix is normalised.
	RelevanceWeight float64
	QualityWeight   float64

	// CombineWeight is the share of the LLM score in the final score:
	// final = (1-w)*fused + w*llm.
	CombineWeight float64

	Temperature  float64
	MaxTokens    int
	ExcerptChars int
}

// DefaultConfig scores combined relevance and quality in batches of five.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeCombined,
		BatchSize:       5,
		RelevanceWeight: 0.7,
		QualityWeight:   0.3,
		CombineWeight:   0.6,
		Temperature:     0.0,
		MaxTokens:       512,
		ExcerptChars:    400,
	}
}

// Result is the re-ranking outcome for one document.
type Result struct {
	Document      models.Document   `json:"document"`
	RerankedScore float64           `json:"reranked_score"`
	ScoreDelta    float64           `json:"score_delta"`
	Confidence    models.Confidence `json:"confidence"`
}

// Service batches documents through the LLM judge.
type Service struct {
	client llm.Client
	cfg    Config
	logger *slog.Logger
}

// NewService creates a re-ranking service. A zero-value field in cfg
// falls back to its default.
func NewService(client llm.Client, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RelevanceWeight <= 0 && cfg.QualityWeight <= 0 {
		cfg.RelevanceWeight = def.RelevanceWeight
		cfg.QualityWeight = def.QualityWeight
	}
	if cfg.CombineWeight <= 0 || cfg.CombineWeight > 1 {
		cfg.CombineWeight = def.CombineWeight
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = def.ExcerptChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, cfg: cfg, logger: logger}
}

// judgeScore is the per-document shape expected from the LLM.
type judgeScore struct {
	ID        string  `json:"id"`
	Relevance float64 `json:"relevance"`
	Quality   float64 `json:"quality"`
}

// Rerank scores the documents in fixed-size batches and returns them
// ordered by the new score, tie-broken by document id ascending, cut
// to topK. A failed batch keeps its documents' fused scores; a total
// failure returns the incoming order unchanged.
func (s *Service) Rerank(ctx context.Context, query string, docs []models.Document, topK int) []Result {
	results := make([]Result, 0, len(docs))

	for start := 0; start < len(docs); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		scores, err := s.scoreBatch(ctx, query, batch)
		if err != nil {
			s.logger.Warn("re-rank batch failed, keeping fused scores",
				"query", query, "batch_size", len(batch), "error", err)
			for _, doc := range batch {
				results = append(results, Result{
					Document:      doc,
					RerankedScore: doc.Score.Fused,
					Confidence:    doc.Score.Confidence(),
				})
			}
			continue
		}

		for _, doc := range batch {
			llmScore, ok := scores[doc.ID]
			if !ok {
				results = append(results, Result{
					Document:      doc,
					RerankedScore: doc.Score.Fused,
					Confidence:    doc.Score.Confidence(),
				})
				continue
			}
			final := (1-s.cfg.CombineWeight)*doc.Score.Fused + s.cfg.CombineWeight*llmScore
			final = clamp01(final)
			results = append(results, Result{
				Document:      doc,
				RerankedScore: final,
				ScoreDelta:    final - doc.Score.Fused,
				Confidence:    models.ConfidenceFromScore(final),
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RerankedScore != results[j].RerankedScore {
			return results[i].RerankedScore > results[j].RerankedScore
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Apply adapts Rerank to the retrieval engine's contract, returning
// re-ordered documents with their reranked score written into the
// fused slot.
func (s *Service) Apply(ctx context.Context, query string, docs []models.Document, topN int) ([]models.Document, error) {
	results := s.Rerank(ctx, query, docs, topN)
	out := make([]models.Document, len(results))
	for i, r := range results {
		doc := r.Document
		doc.Score.Fused = r.RerankedScore
		out[i] = doc
	}
	return out, nil
}

// scoreBatch issues one LLM call for the batch and maps document id to
// the mode-appropriate score in [0,1].
func (s *Service) scoreBatch(ctx context.Context, query string, batch []models.Document) (map[string]float64, error) {
	resp, err := s.client.Invoke(ctx, llm.Request{
		Prompt:      s.buildPrompt(query, batch),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrLLM, err)
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON in judge response", llm.ErrLLM)
	}
	var scores []judgeScore
	if err := json.Unmarshal([]byte(raw), &scores); err != nil {
		return nil, fmt.Errorf("parse judge response: %w", err)
	}

	out := make(map[string]float64, len(scores))
	for _, sc := range scores {
		out[sc.ID] = clamp01(s.modeScore(sc))
	}
	return out, nil
}

func (s *Service) modeScore(sc judgeScore) float64 {
	switch s.cfg.Mode {
	case ModeRelevance:
		return sc.Relevance
	case ModeQuality:
		return sc.Quality
	default:
		total := s.cfg.RelevanceWeight + s.cfg.QualityWeight
		if total == 0 {
			return sc.Relevance
		}
		return (s.cfg.RelevanceWeight*sc.Relevance + s.cfg.QualityWeight*sc.Quality) / total
	}
}

func (s *Service) buildPrompt(query string, batch []models.Document) string {
	var b strings.Builder
	b.WriteString("Rate each document for the query below. Return only a JSON array of ")
	b.WriteString(`{"id", "relevance", "quality"} objects with scores in [0,1].`)
	b.WriteString("\n\nQuery: ")
	b.WriteString(query)
	b.WriteString("\n\nDocuments:\n")
	for _, doc := range batch {
		fmt.Fprintf(&b, "- id: %s\n  title: %s\n  excerpt: %s\n",
			doc.ID, doc.Title, doc.Excerpt(s.cfg.ExcerptChars))
	}
	return b.String()
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
