package plan

import (
	"fmt"
	"time"

	"github.com/openlotse/lotse/pkg/models"
)

// Kind classifies the work a step performs.
type Kind string

// The closed set of step kinds.
const (
	KindSearch         Kind = "search"
	KindRetrieval      Kind = "retrieval"
	KindAnalysis       Kind = "analysis"
	KindSynthesis      Kind = "synthesis"
	KindValidation     Kind = "validation"
	KindTransformation Kind = "transformation"
	KindCalculation    Kind = "calculation"
	KindComparison     Kind = "comparison"
	KindAggregation    Kind = "aggregation"
	KindOther          Kind = "other"
)

// Status is a step's lifecycle state. Transitions are monotonic except
// pending ↔ ready.
type Status string

// Step lifecycle states.
const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is one a step never leaves.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Step is one unit of work in a plan. The scheduler is the sole writer of
// Status and Result; readers must only inspect a step after its terminal
// progress event has been observed.
type Step struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Kind        Kind           `json:"kind"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`

	Status Status             `json:"status"`
	Result *models.StepResult `json:"result,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewStep creates a pending step with the given descriptor.
func NewStep(id, name, description string, kind Kind) *Step {
	return &Step{
		ID:          id,
		Name:        name,
		Description: description,
		Kind:        kind,
		Parameters:  map[string]any{},
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
}

// validTransitions lists the allowed next states per current state.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusReady, StatusRunning, StatusSkipped},
	StatusReady:   {StatusPending, StatusRunning, StatusSkipped},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// SetStatus transitions the step, rejecting anything outside the
// lifecycle. Terminal states never transition again.
func (s *Step) SetStatus(to Status) error {
	for _, allowed := range validTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s (step %s)", ErrInvalidTransition, s.Status, to, s.ID)
}

// Start transitions the step to running and stamps started-at.
func (s *Step) Start() error {
	if err := s.SetStatus(StatusRunning); err != nil {
		return err
	}
	now := time.Now()
	s.StartedAt = &now
	return nil
}

// Complete sets the result slot exactly once and transitions the step to
// completed or failed based on the result's success flag.
func (s *Step) Complete(result models.StepResult) error {
	if s.Result != nil {
		return fmt.Errorf("%w: step %s", ErrResultAlreadySet, s.ID)
	}
	target := StatusCompleted
	if !result.Success {
		target = StatusFailed
	}
	if err := s.SetStatus(target); err != nil {
		return err
	}
	s.Result = &result
	now := time.Now()
	s.CompletedAt = &now
	return nil
}

// Reset returns a failed step to pending and clears its result and
// timestamps so the scheduler can retry it. The only exit from a
// terminal state; completed and skipped steps stay terminal.
func (s *Step) Reset() error {
	if s.Status != StatusFailed {
		return fmt.Errorf("%w: %s → %s (step %s)", ErrInvalidTransition, s.Status, StatusPending, s.ID)
	}
	s.Status = StatusPending
	s.Result = nil
	s.StartedAt = nil
	s.CompletedAt = nil
	return nil
}

// Skip marks a step skipped (predecessor failed or execution cancelled)
// and records the reason as a failed result.
func (s *Step) Skip(reason string) error {
	if s.Result != nil {
		return fmt.Errorf("%w: step %s", ErrResultAlreadySet, s.ID)
	}
	if err := s.SetStatus(StatusSkipped); err != nil {
		return err
	}
	s.Result = &models.StepResult{Success: false, Error: reason}
	now := time.Now()
	s.CompletedAt = &now
	return nil
}
