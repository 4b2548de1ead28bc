// Package scheduler orchestrates a plan: levels run in order, steps
// within a level run concurrently on a bounded worker pool, and every
// lifecycle transition is published on the progress bus.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openlotse/lotse/pkg/executor"
	"github.com/openlotse/lotse/pkg/hypothesis"
	"github.com/openlotse/lotse/pkg/models"
	"github.com/openlotse/lotse/pkg/plan"
	"github.com/openlotse/lotse/pkg/progress"
)

// DefaultMaxWorkers bounds per-level concurrency.
const DefaultMaxWorkers = 4

// StepExecutor runs a single step. pkg/executor provides the
// production implementation.
type StepExecutor interface {
	Execute(ctx context.Context, step *plan.Step, opts executor.Options, onProgress executor.ProgressFunc) models.StepResult
}

// HypothesisGenerator forms the optional pre-execution hypothesis.
type HypothesisGenerator interface {
	Generate(ctx context.Context, query, ragContext string) *hypothesis.Hypothesis
}

// Options parameterise one scheduler instance.
type Options struct {
	// MaxWorkers bounds concurrent steps within a level. Zero or less
	// uses DefaultMaxWorkers.
	MaxWorkers int

	// RetryFailed re-runs a failed step once before it counts as
	// failed. Off by default.
	RetryFailed bool

	// EnableHypothesis generates a hypothesis before execution when a
	// generator is configured.
	EnableHypothesis bool

	// UseAgents marks reasoning-kind step outputs for downstream agent
	// synthesis.
	UseAgents bool

	// EnableReranking re-scores each step's retrieval head through the
	// engine's re-ranker.
	EnableReranking bool
}

// Result is the aggregated outcome of one plan execution.
type Result struct {
	Query       string                       `json:"query"`
	Success     bool                         `json:"success"`
	Cancelled   bool                         `json:"cancelled"`
	StepResults map[string]models.StepResult `json:"step_results"`

	// FinalResults holds the leaf steps' results keyed by step name.
	FinalResults map[string]models.StepResult `json:"final_results"`
	Hypothesis   map[string]any               `json:"hypothesis,omitempty"`
	TotalTime    float64                      `json:"total_time"`
	Metadata     map[string]any               `json:"metadata"`
}

// Scheduler executes plans. Each Execute call runs one plan to
// completion; a scheduler may be reused across plans.
type Scheduler struct {
	exec   StepExecutor
	hypo   HypothesisGenerator
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a scheduler.
func New(exec StepExecutor, hypo HypothesisGenerator, opts Options, logger *slog.Logger) *Scheduler {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		exec:    exec,
		hypo:    hypo,
		opts:    opts,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Cancel aborts a running execution by plan id. No new levels start;
// the current level drains; remaining steps are skipped.
func (s *Scheduler) Cancel(planID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[planID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Scheduler) register(planID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[planID] = cancel
	s.mu.Unlock()
}

func (s *Scheduler) unregister(planID string) {
	s.mu.Lock()
	delete(s.cancels, planID)
	s.mu.Unlock()
}

// Execute runs the plan and emits progress on the bus. The returned
// error is reserved for unexecutable plans (cycles); step failures are
// reported through the Result.
func (s *Scheduler) Execute(ctx context.Context, p *plan.Plan, bus *progress.Bus) (*Result, error) {
	levels, err := p.ExecutionOrder()
	if err != nil {
		return nil, fmt.Errorf("plan not executable: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.register(p.ID, cancel)
	defer s.unregister(p.ID)

	start := time.Now()
	total := p.Len()
	logger := s.logger.With("plan_id", p.ID, "total_steps", total)
	logger.Info("plan execution started", "levels", len(levels))

	result := &Result{
		Query:        p.Query,
		StepResults:  make(map[string]models.StepResult, total),
		FinalResults: make(map[string]models.StepResult),
		Metadata: map[string]any{
			"plan_id":     p.ID,
			"level_count": len(levels),
			"total_steps": total,
		},
	}

	if s.opts.EnableHypothesis && s.hypo != nil {
		h := s.hypo.Generate(runCtx, p.Query, "")
		if m, err := h.ToMap(); err == nil {
			result.Hypothesis = m
		} else {
			logger.Warn("hypothesis not serialisable", "error", err)
		}
	}

	planStarted := progress.NewEvent(progress.KindPlanStarted, progress.StatusStarting)
	planStarted.TotalSteps = total
	planStarted.Message = fmt.Sprintf("executing plan with %d steps", total)
	bus.Emit(planStarted)

	run := &planRun{
		scheduler: s,
		plan:      p,
		bus:       bus,
		logger:    logger,
		total:     total,
		results:   result.StepResults,
	}

	cancelled := run.executeLevels(runCtx, levels)

	failed := 0
	for _, step := range p.Steps() {
		if step.Status != plan.StatusCompleted {
			failed++
		}
	}
	result.Success = failed == 0
	result.Cancelled = cancelled
	result.TotalTime = time.Since(start).Seconds()
	result.Metadata["completed_steps"] = total - failed
	result.Metadata["failed_steps"] = failed

	for _, leaf := range p.Leaves() {
		if r, ok := result.StepResults[leaf.ID]; ok {
			result.FinalResults[leaf.Name] = r
		}
	}

	final := progress.NewEvent(progress.KindPlanCompleted, progress.StatusCompleted)
	final.Percentage = 100
	final.TotalSteps = total
	final.CurrentStep = total
	final.ExecutionTime = result.TotalTime
	final.Message = "plan completed"
	switch {
	case cancelled:
		final.Kind = progress.KindPlanFailed
		final.Status = progress.StatusCancelled
		final.Percentage = completedPercentage(total-failed, total)
		final.Message = "plan cancelled"
		final = final.WithError("cancelled")
	case !result.Success:
		final.Kind = progress.KindPlanFailed
		final.Status = progress.StatusFailed
		final.Percentage = completedPercentage(total-failed, total)
		final.Message = fmt.Sprintf("plan failed: %d of %d steps did not complete", failed, total)
		final = final.WithError(final.Message)
	}
	bus.Emit(final)

	logger.Info("plan execution finished",
		"success", result.Success,
		"cancelled", cancelled,
		"duration_seconds", result.TotalTime)
	return result, nil
}

// completedPercentage reports overall progress from completed steps.
// Only a plan-completed event carries 100.
func completedPercentage(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// planRun carries the per-execution state shared by the level loop.
type planRun struct {
	scheduler *Scheduler
	plan      *plan.Plan
	bus       *progress.Bus
	logger    *slog.Logger
	total     int
	results   map[string]models.StepResult

	// nextIndex is the 1-based global index handed out as steps start.
	nextIndex int
}

// executeLevels runs each level in order. Returns true when execution
// was cancelled.
func (r *planRun) executeLevels(ctx context.Context, levels [][]string) bool {
	for i, level := range levels {
		if ctx.Err() != nil {
			r.skipRemaining(levels[i:], "cancelled")
			return true
		}

		runnable, skipped := r.partitionLevel(level)
		for _, step := range skipped {
			r.skipStep(step, "predecessor failed")
		}

		r.dispatchLevel(ctx, runnable)
	}
	return ctx.Err() != nil
}

// partitionLevel splits a level into steps whose entire predecessor
// set completed and steps that must be skipped.
func (r *planRun) partitionLevel(level []string) (runnable, skipped []*plan.Step) {
	for _, id := range level {
		step := r.plan.Step(id)
		ok := true
		for _, dep := range step.DependsOn {
			if r.plan.Step(dep).Status != plan.StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			runnable = append(runnable, step)
		} else {
			skipped = append(skipped, step)
		}
	}
	return runnable, skipped
}

// dispatchLevel emits step-started serially, then runs the level's
// steps on the bounded pool and waits for the level to drain.
func (r *planRun) dispatchLevel(ctx context.Context, steps []*plan.Step) {
	type dispatch struct {
		step  *plan.Step
		index int
	}
	dispatches := make([]dispatch, 0, len(steps))

	for _, step := range steps {
		r.nextIndex++
		index := r.nextIndex

		started := progress.NewEvent(progress.KindStepStarted, progress.StatusStarting).
			WithStep(step.ID, step.Name)
		started.CurrentStep = index
		started.TotalSteps = r.total
		started.Percentage = float64(index-1) / float64(r.total) * 100
		started.Message = fmt.Sprintf("starting step %d of %d: %s", index, r.total, step.Name)
		r.bus.Emit(started)

		dispatches = append(dispatches, dispatch{step: step, index: index})
	}

	sem := make(chan struct{}, r.scheduler.opts.MaxWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, d := range dispatches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := r.runStep(ctx, d.step, d.index)
			mu.Lock()
			r.results[d.step.ID] = result
			mu.Unlock()
		}()
	}
	wg.Wait()
}

// runStep executes one step, retrying once when configured, and emits
// its terminal event.
func (r *planRun) runStep(ctx context.Context, step *plan.Step, index int) models.StepResult {
	base := float64(index-1) / float64(r.total) * 100

	onProgress := func(local float64, message string, data map[string]any) {
		e := progress.NewEvent(progress.KindStepProgress, progress.StatusProgress).
			WithStep(step.ID, step.Name)
		e.CurrentStep = index
		e.TotalSteps = r.total
		e.Percentage = base + local/100/float64(r.total)*100
		e.ClampPercentage()
		e.Message = message
		e.Data = data
		r.bus.Emit(e)
	}

	execOpts := executor.Options{
		UseAgents:       r.scheduler.opts.UseAgents,
		EnableReranking: r.scheduler.opts.EnableReranking,
	}

	result := r.scheduler.exec.Execute(ctx, step, execOpts, onProgress)
	if !result.Success && step.Status == plan.StatusFailed && r.scheduler.opts.RetryFailed && ctx.Err() == nil {
		r.logger.Info("retrying failed step", "step_id", step.ID, "error", result.Error)
		if err := step.Reset(); err == nil {
			result = r.scheduler.exec.Execute(ctx, step, execOpts, onProgress)
		}
	}

	terminal := progress.NewEvent(progress.KindStepCompleted, progress.StatusCompleted).
		WithStep(step.ID, step.Name)
	terminal.CurrentStep = index
	terminal.TotalSteps = r.total
	terminal.Percentage = float64(index) / float64(r.total) * 100
	terminal.ExecutionTime = result.ExecutionTime
	terminal.Message = fmt.Sprintf("step %s completed", step.Name)
	if !result.Success {
		terminal.Kind = progress.KindStepFailed
		terminal.Status = progress.StatusFailed
		// A failed step earns no progress; its slice stays unclaimed so
		// the plan can never read 100 without completing.
		terminal.Percentage = base
		if step.Status == plan.StatusSkipped {
			terminal.Status = progress.StatusSkipped
		}
		terminal.Message = fmt.Sprintf("step %s failed", step.Name)
		terminal = terminal.WithError(result.Error)
	}
	r.bus.Emit(terminal)
	return result
}

// skipStep settles a step that can no longer run and emits its event.
func (r *planRun) skipStep(step *plan.Step, reason string) {
	r.nextIndex++
	index := r.nextIndex

	if err := step.Skip(reason); err != nil {
		r.logger.Warn("could not skip step", "step_id", step.ID, "error", err)
	}
	if step.Result != nil {
		r.results[step.ID] = *step.Result
	}

	e := progress.NewEvent(progress.KindStepFailed, progress.StatusSkipped).
		WithStep(step.ID, step.Name)
	e.CurrentStep = index
	e.TotalSteps = r.total
	e.Percentage = float64(index-1) / float64(r.total) * 100
	e.Message = fmt.Sprintf("step %s skipped", step.Name)
	e = e.WithError(reason)
	r.bus.Emit(e)
}

// skipRemaining settles every not-yet-terminal step in the given
// levels after cancellation.
func (r *planRun) skipRemaining(levels [][]string, reason string) {
	for _, level := range levels {
		for _, id := range level {
			step := r.plan.Step(id)
			if !step.Status.Terminal() {
				r.skipStep(step, reason)
			}
		}
	}
}
