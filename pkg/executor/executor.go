// Package executor runs a single plan step end-to-end: reformulate the
// retrieval query, fetch documents, assemble the step output and its
// citations, and settle the step's result slot.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openlotse/lotse/pkg/models"
	"github.com/openlotse/lotse/pkg/plan"
	"github.com/openlotse/lotse/pkg/retrieval"
)

// Searcher is the retrieval surface the executor needs. May be nil;
// steps then run with an empty document set.
type Searcher interface {
	HybridSearch(ctx context.Context, query string, opts retrieval.SearchOptions) (*retrieval.SearchResult, error)
}

// ProgressFunc receives intra-step progress. localProgress is in
// [0, 100] within the step.
type ProgressFunc func(localProgress float64, message string, data map[string]any)

// Options toggle per-execution behaviour.
type Options struct {
	// UseAgents marks reasoning-kind step outputs for downstream agent
	// synthesis.
	UseAgents bool

	// EnableReranking re-scores the retrieval head through the engine's
	// re-ranker.
	EnableReranking bool
}

// DefaultOptions turns agent synthesis and re-ranking on.
func DefaultOptions() Options {
	return Options{UseAgents: true, EnableReranking: true}
}

// Config parameterises step execution.
type Config struct {
	TopK         int
	MinRelevance float64

	// RerankTopN re-scores the first N retrieved documents when
	// re-ranking is enabled for the execution.
	RerankTopN int

	// ContextTokenBudget bounds the assembled LLM context using the
	// chars/4 token heuristic.
	ContextTokenBudget int

	// ExcerptChars bounds each document's contribution and citation
	// excerpt.
	ExcerptChars int
}

// DefaultConfig retrieves five documents, re-ranks all of them and
// budgets 2000 tokens of context.
func DefaultConfig() Config {
	return Config{
		TopK:               5,
		MinRelevance:       0.3,
		RerankTopN:         5,
		ContextTokenBudget: 2000,
		ExcerptChars:       400,
	}
}

// Executor executes steps against a searcher.
type Executor struct {
	searcher Searcher
	cfg      Config
	logger   *slog.Logger
}

// New creates an executor. searcher may be nil.
func New(searcher Searcher, cfg Config, logger *slog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.RerankTopN <= 0 {
		cfg.RerankTopN = def.RerankTopN
	}
	if cfg.ContextTokenBudget <= 0 {
		cfg.ContextTokenBudget = def.ContextTokenBudget
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = def.ExcerptChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{searcher: searcher, cfg: cfg, logger: logger}
}

// Execute runs the step and settles its result slot. A cancelled
// context before the step starts yields a skipped result; any other
// failure yields a failed result. onProgress may be nil.
func (e *Executor) Execute(ctx context.Context, step *plan.Step, opts Options, onProgress ProgressFunc) models.StepResult {
	if onProgress == nil {
		onProgress = func(float64, string, map[string]any) {}
	}

	if ctx.Err() != nil {
		if err := step.Skip("cancelled"); err != nil {
			e.logger.Warn("could not skip step", "step_id", step.ID, "error", err)
		}
		if step.Result != nil {
			return *step.Result
		}
		return models.StepResult{Success: false, Error: "cancelled"}
	}

	if err := step.Start(); err != nil {
		return e.fail(step, 0, fmt.Sprintf("step not startable: %v", err))
	}
	start := time.Now()

	query := reformulateQuery(step)
	docs, err := e.search(ctx, query, opts)
	if err != nil {
		return e.fail(step, time.Since(start).Seconds(), fmt.Sprintf("retrieval failed: %v", err))
	}

	onProgress(50, fmt.Sprintf("retrieved %d documents", len(docs)), map[string]any{
		"document_count": len(docs),
		"query":          query,
	})

	result := models.StepResult{
		Success:       true,
		Data:          e.buildOutput(step, query, docs, opts.UseAgents),
		ExecutionTime: time.Since(start).Seconds(),
		Citations:     e.extractCitations(docs),
		Metadata: map[string]any{
			"step_kind": string(step.Kind),
			"query":     query,
		},
	}
	if err := step.Complete(result); err != nil {
		e.logger.Warn("could not settle step result", "step_id", step.ID, "error", err)
	}
	return result
}

func (e *Executor) fail(step *plan.Step, elapsed float64, msg string) models.StepResult {
	result := models.StepResult{Success: false, Error: msg, ExecutionTime: elapsed}
	if err := step.Complete(result); err != nil {
		e.logger.Warn("could not settle failed step", "step_id", step.ID, "error", err)
	}
	return result
}

func (e *Executor) search(ctx context.Context, query string, execOpts Options) ([]models.Document, error) {
	if e.searcher == nil {
		return nil, nil
	}
	opts := retrieval.DefaultSearchOptions()
	opts.TopK = e.cfg.TopK
	opts.Filters.MinRelevance = e.cfg.MinRelevance
	if execOpts.EnableReranking {
		opts.RerankTopN = e.cfg.RerankTopN
	}
	res, err := e.searcher.HybridSearch(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

// kindHints prefix the reformulated query per step kind.
var kindHints = map[plan.Kind]string{
	plan.KindSearch:         "Information about",
	plan.KindRetrieval:      "Data and facts about",
	plan.KindAnalysis:       "Analysis and evaluation of",
	plan.KindComparison:     "Analysis and evaluation of",
	plan.KindValidation:     "Legal requirements and regulations for",
	plan.KindSynthesis:      "Documentation and guides for",
	plan.KindTransformation: "Documentation and guides for",
	plan.KindCalculation:    "Data and facts about",
	plan.KindAggregation:    "Data and facts about",
}

// reformulateQuery builds the retrieval query from the step identity
// and its parameters.
func reformulateQuery(step *plan.Step) string {
	base := step.Description
	if base == "" {
		base = step.Name
	}
	if hint, ok := kindHints[step.Kind]; ok {
		base = hint + " " + base
	}

	var extras []string
	for _, key := range []string{"location", "organization", "document_type", "procedure_type", "focus", "subject"} {
		if v, ok := step.Parameters[key].(string); ok && v != "" {
			extras = append(extras, v)
		}
	}
	if len(extras) > 0 {
		base += " (" + strings.Join(extras, ", ") + ")"
	}
	return base
}

// buildOutput shapes the step data per kind. Search-like kinds carry
// document titles, scores and a bounded context excerpt; with agents
// enabled, reasoning kinds additionally mark their output as pending
// synthesis.
func (e *Executor) buildOutput(step *plan.Step, query string, docs []models.Document, useAgents bool) map[string]any {
	titles := make([]string, 0, len(docs))
	scores := make([]float64, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		titles = append(titles, doc.Title)
		scores = append(scores, doc.Score.Fused)
		ids = append(ids, doc.ID)
	}

	data := map[string]any{
		"query":            query,
		"document_ids":     ids,
		"document_titles":  titles,
		"relevance_scores": scores,
		"context":          e.assembleContext(docs),
	}

	if useAgents {
		switch step.Kind {
		case plan.KindAnalysis, plan.KindComparison, plan.KindSynthesis, plan.KindCalculation:
			data["output_kind"] = string(step.Kind)
			data["requires_reasoning"] = true
			if subjects, ok := step.Parameters["subjects"]; ok {
				data["subjects"] = subjects
			}
		}
	}
	return data
}

// assembleContext concatenates bounded per-document excerpts while the
// chars/4 token estimate stays within budget.
func (e *Executor) assembleContext(docs []models.Document) string {
	var b strings.Builder
	for _, doc := range docs {
		excerpt := doc.Excerpt(e.cfg.ExcerptChars)
		if excerpt == "" {
			continue
		}
		chunk := fmt.Sprintf("[%s]\n%s\n\n", doc.Title, excerpt)
		if (b.Len()+len(chunk))/4 > e.cfg.ContextTokenBudget {
			break
		}
		b.WriteString(chunk)
	}
	return strings.TrimSpace(b.String())
}

func (e *Executor) extractCitations(docs []models.Document) []models.Citation {
	citations := make([]models.Citation, 0, len(docs))
	for _, doc := range docs {
		citations = append(citations, models.CitationFromDocument(&doc, e.cfg.ExcerptChars))
	}
	return citations
}
