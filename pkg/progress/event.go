// Package progress carries execution progress from the scheduler to any
// number of subscribers. The bus is in-process only; an external
// transport (SSE, WebSocket) subscribes like anyone else and owns its
// own delivery semantics.
package progress

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates event payloads on the wire.
type Kind string

// Event kinds.
const (
	KindPlanStarted   Kind = "plan_started"
	KindStepStarted   Kind = "step_started"
	KindStepProgress  Kind = "step_progress"
	KindStepCompleted Kind = "step_completed"
	KindStepFailed    Kind = "step_failed"
	KindPlanCompleted Kind = "plan_completed"
	KindPlanFailed    Kind = "plan_failed"
	KindError         Kind = "error"
)

// Status is the coarse execution state an event reports.
type Status string

// Event statuses.
const (
	StatusPending   Status = "pending"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusProgress  Status = "progress"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Event is the wire format consumed by every transport. StepID is a
// pointer so plan-level events serialise it as null rather than "".
type Event struct {
	Kind          Kind           `json:"event_kind"`
	Status        Status         `json:"status"`
	StepID        *string        `json:"step_id"`
	StepName      string         `json:"step_name"`
	CurrentStep   int            `json:"current_step"`
	TotalSteps    int            `json:"total_steps"`
	Percentage    float64        `json:"percentage"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	Error         *string        `json:"error"`
	Timestamp     time.Time      `json:"timestamp"`
	EventID       string         `json:"event_id"`
	ExecutionTime float64        `json:"execution_time"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEvent stamps a fresh event with id and UTC timestamp. Callers fill
// the step and percentage fields before emitting.
func NewEvent(kind Kind, status Status) Event {
	return Event{
		Kind:      kind,
		Status:    status,
		Timestamp: time.Now().UTC(),
		EventID:   uuid.NewString(),
	}
}

// WithStep sets the step identity fields.
func (e Event) WithStep(id, name string) Event {
	e.StepID = &id
	e.StepName = name
	return e
}

// WithError sets the error string.
func (e Event) WithError(msg string) Event {
	e.Error = &msg
	return e
}

// ClampPercentage forces the percentage into [0, 100].
func (e *Event) ClampPercentage() {
	if e.Percentage < 0 {
		e.Percentage = 0
	}
	if e.Percentage > 100 {
		e.Percentage = 100
	}
}

// Terminal reports whether the event ends a plan execution.
func (e Event) Terminal() bool {
	return e.Kind == KindPlanCompleted || e.Kind == KindPlanFailed
}
