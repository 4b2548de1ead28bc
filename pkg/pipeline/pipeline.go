// Package pipeline wires the query flow end-to-end: analyse the query,
// build the plan, execute it on the scheduler. The HTTP surface and
// the CLI both run queries through it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openlotse/lotse/pkg/analysis"
	"github.com/openlotse/lotse/pkg/plan"
	"github.com/openlotse/lotse/pkg/progress"
	"github.com/openlotse/lotse/pkg/scheduler"
)

// Pipeline runs queries. Safe for concurrent use; each Run gets its
// own plan and bus.
type Pipeline struct {
	analyzer analysis.Analyzer
	builder  *plan.Builder
	sched    *scheduler.Scheduler
	logger   *slog.Logger
}

// New creates a pipeline.
func New(analyzer analysis.Analyzer, builder *plan.Builder, sched *scheduler.Scheduler, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{analyzer: analyzer, builder: builder, sched: sched, logger: logger}
}

// Run analyses the query, builds a plan and executes it. Progress is
// published on bus; pass a bus with your subscribers already attached.
func (p *Pipeline) Run(ctx context.Context, query string, bus *progress.Bus) (*scheduler.Result, error) {
	a, err := p.analyzer.Analyze(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("analyse query: %w", err)
	}
	p.logger.Info("query analysed", "query", query, "intent", a.Intent, "entities", len(a.Entities))

	pl, err := p.builder.Build(a)
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}
	p.logger.Info("plan built", "plan_id", pl.ID, "steps", pl.Len())

	result, err := p.sched.Execute(ctx, pl, bus)
	if err != nil {
		return nil, fmt.Errorf("execute plan: %w", err)
	}
	result.Metadata["intent"] = string(a.Intent)
	return result, nil
}
