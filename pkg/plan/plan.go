// Package plan models the dependency-ordered execution plan built from a
// query analysis: typed steps, the acyclic dependency graph between them,
// and the level-grouped execution order the scheduler runs.
package plan

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/openlotse/lotse/pkg/analysis"
)

// Plan is a DAG of steps keyed by step id. Both adjacency directions are
// maintained at construction: reverse (predecessors) for readiness
// computation, forward (dependents) for failure propagation.
type Plan struct {
	ID       string             `json:"id"`
	Query    string             `json:"query"`
	Analysis *analysis.Analysis `json:"analysis,omitempty"`
	Metadata map[string]any     `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	steps    map[string]*Step
	order    []string            // insertion order, for deterministic iteration
	forward  map[string][]string // step id → ids of steps that depend on it
	levels   [][]string          // cached execution order
	nextStep int                 // monotonic id counter for step_<n>
}

// New creates an empty plan for a query.
func New(query string, a *analysis.Analysis) *Plan {
	return &Plan{
		ID:        uuid.New().String(),
		Query:     query,
		Analysis:  a,
		Metadata:  map[string]any{},
		CreatedAt: time.Now(),
		steps:     make(map[string]*Step),
		forward:   make(map[string][]string),
	}
}

// NextStepID returns the next monotonic step id within this plan
// ("step_1", "step_2", ...). Uniqueness within the plan is the only
// contract; ids are not stable across runs.
func (p *Plan) NextStepID() string {
	p.nextStep++
	return fmt.Sprintf("step_%d", p.nextStep)
}

// AddStep inserts a step, validating id uniqueness and that every
// predecessor already exists in the plan.
func (p *Plan) AddStep(s *Step) error {
	if s.ID == "" {
		return fmt.Errorf("step id must not be empty")
	}
	if _, exists := p.steps[s.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, s.ID)
	}
	for _, dep := range s.DependsOn {
		if _, ok := p.steps[dep]; !ok {
			return fmt.Errorf("%w: step %s depends on %s", ErrUnknownDependency, s.ID, dep)
		}
	}
	p.steps[s.ID] = s
	p.order = append(p.order, s.ID)
	for _, dep := range s.DependsOn {
		p.forward[dep] = append(p.forward[dep], s.ID)
	}
	p.levels = nil // invalidate cached order
	return nil
}

// AddDependency adds an edge from an existing step to an existing
// predecessor after insertion. Both steps must already be in the plan;
// cycle detection is deferred to the resolver.
func (p *Plan) AddDependency(stepID, dependsOn string) error {
	s, ok := p.steps[stepID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDependency, stepID)
	}
	if _, ok := p.steps[dependsOn]; !ok {
		return fmt.Errorf("%w: step %s depends on %s", ErrUnknownDependency, stepID, dependsOn)
	}
	for _, dep := range s.DependsOn {
		if dep == dependsOn {
			return nil
		}
	}
	s.DependsOn = append(s.DependsOn, dependsOn)
	p.forward[dependsOn] = append(p.forward[dependsOn], stepID)
	p.levels = nil
	return nil
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(id string) *Step {
	return p.steps[id]
}

// Steps returns all steps in insertion order.
func (p *Plan) Steps() []*Step {
	out := make([]*Step, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.steps[id])
	}
	return out
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	return len(p.steps)
}

// Dependents returns the ids of steps that depend on the given step.
func (p *Plan) Dependents(id string) []string {
	return p.forward[id]
}

// Leaves returns the steps not referenced by any other step's
// dependencies, in insertion order. Their results form the plan's
// final_results map.
func (p *Plan) Leaves() []*Step {
	var out []*Step
	for _, id := range p.order {
		if len(p.forward[id]) == 0 {
			out = append(out, p.steps[id])
		}
	}
	return out
}

// Per-kind duration heuristics used for the plan's estimated duration.
var kindDurations = map[Kind]time.Duration{
	KindSearch:         2 * time.Second,
	KindRetrieval:      1500 * time.Millisecond,
	KindAnalysis:       3 * time.Second,
	KindSynthesis:      4 * time.Second,
	KindValidation:     time.Second,
	KindTransformation: time.Second,
	KindCalculation:    2 * time.Second,
	KindComparison:     3 * time.Second,
	KindAggregation:    2 * time.Second,
	KindOther:          2 * time.Second,
}

// EstimatedDuration sums, across levels, the maximum per-kind heuristic
// within each level. Levels run in parallel internally, so the slowest
// step bounds a level.
func (p *Plan) EstimatedDuration() (time.Duration, error) {
	levels, err := p.ExecutionOrder()
	if err != nil {
		return 0, err
	}
	var total time.Duration
	for _, level := range levels {
		var max time.Duration
		for _, id := range level {
			if d := kindDurations[p.steps[id].Kind]; d > max {
				max = d
			}
		}
		total += max
	}
	return total, nil
}

// sortedIDs returns a sorted copy of ids. Intra-level ordering is
// unspecified for callers; sorting keeps it deterministic internally.
func sortedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
