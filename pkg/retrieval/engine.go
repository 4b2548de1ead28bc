package retrieval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openlotse/lotse/pkg/models"
)

// overFetchFactor widens the per-backend top_k so post-fusion
// truncation still has enough candidates.
const overFetchFactor = 2

// Reranker re-orders the head of a fused result list. pkg/rerank
// provides the production implementation.
type Reranker interface {
	Apply(ctx context.Context, query string, docs []models.Document, topN int) ([]models.Document, error)
}

// SearchOptions parameterise one hybrid search.
type SearchOptions struct {
	TopK     int
	Strategy Strategy
	Weights  Weights
	Filters  SearchFilters

	// RerankTopN re-scores the first N fused documents when the engine
	// has a reranker. Zero disables re-ranking for this search.
	RerankTopN int
}

// DefaultSearchOptions returns a weighted-linear search over ten
// documents with no filters.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		TopK:     10,
		Strategy: StrategyWeightedLinear,
		Weights:  DefaultWeights(),
	}
}

// SearchResult is the outcome of one hybrid search.
type SearchResult struct {
	Query             string           `json:"query"`
	Documents         []models.Document `json:"documents"`
	MethodsUsed       []Method         `json:"methods_used"`
	TotalBeforeFilter int              `json:"total_before_filter"`
	Took              time.Duration    `json:"took"`
	Reranked          bool             `json:"reranked"`
	FiltersApplied    bool             `json:"filters_applied"`
}

// Engine coordinates the backends. Any subset of backends may be nil;
// a search with zero available backends returns an empty result.
type Engine struct {
	backends []Backend
	reranker Reranker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewEngine creates an engine over the given backends. Nil backends
// are ignored. perBackendTimeout of zero or less defaults to 5s.
func NewEngine(backends []Backend, reranker Reranker, perBackendTimeout time.Duration, logger *slog.Logger) *Engine {
	if perBackendTimeout <= 0 {
		perBackendTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			kept = append(kept, b)
		}
	}
	return &Engine{backends: kept, reranker: reranker, timeout: perBackendTimeout, logger: logger}
}

// HybridSearch fans the query out to every backend concurrently, fuses
// the contributions, filters, and optionally re-ranks. Backend
// failures are logged and treated as empty contributions; only a total
// absence of results yields an empty SearchResult, never an error.
func (e *Engine) HybridSearch(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	start := time.Now()
	if opts.TopK <= 0 {
		opts.TopK = DefaultSearchOptions().TopK
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyWeightedLinear
	}

	fetchK := opts.TopK * overFetchFactor

	var mu sync.Mutex
	var lists []rankedList
	var methods []Method

	g, gctx := errgroup.WithContext(ctx)
	for _, backend := range e.backends {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			docs, err := backend.Search(callCtx, query, fetchK)
			if err != nil {
				e.logger.Warn("retrieval backend failed",
					"method", backend.Method(),
					"query", query,
					"error", err)
				return nil
			}
			mu.Lock()
			lists = append(lists, rankedList{method: backend.Method(), docs: docs})
			methods = append(methods, backend.Method())
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(lists, opts.Strategy, opts.Weights)
	total := len(fused)

	filtered := fused
	filtersApplied := !opts.Filters.Empty()
	if filtersApplied {
		filtered = opts.Filters.Apply(fused)
	}
	if len(filtered) > opts.TopK {
		filtered = filtered[:opts.TopK]
	}

	reranked := false
	if e.reranker != nil && opts.RerankTopN > 0 && len(filtered) > 0 {
		n := opts.RerankTopN
		if n > len(filtered) {
			n = len(filtered)
		}
		head, err := e.reranker.Apply(ctx, query, filtered[:n], n)
		if err != nil {
			e.logger.Warn("re-ranking failed, keeping fused order", "query", query, "error", err)
		} else {
			filtered = append(head, filtered[n:]...)
			reranked = true
		}
	}

	return &SearchResult{
		Query:             query,
		Documents:         filtered,
		MethodsUsed:       methods,
		TotalBeforeFilter: total,
		Took:              time.Since(start),
		Reranked:          reranked,
		FiltersApplied:    filtersApplied,
	}, nil
}

// BatchSearch runs a full hybrid search per query concurrently.
// Results are positional: result i answers queries[i].
func (e *Engine) BatchSearch(ctx context.Context, queries []string, opts SearchOptions) ([]*SearchResult, error) {
	results := make([]*SearchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		g.Go(func() error {
			res, err := e.HybridSearch(gctx, query, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
