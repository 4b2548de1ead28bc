package progress

import "sync"

// Tracker is a bus subscriber that aggregates step counts and keeps an
// ordered event history for later inspection.
type Tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	current   int
	history   []Event
}

// NewTracker creates an empty tracker. Attach it with
// bus.Subscribe(tracker.Handle).
func NewTracker() *Tracker {
	return &Tracker{}
}

// Handle consumes one event. Safe for concurrent use.
func (t *Tracker) Handle(event Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, event)

	switch event.Kind {
	case KindPlanStarted:
		t.total = event.TotalSteps
	case KindStepStarted:
		if event.CurrentStep > t.current {
			t.current = event.CurrentStep
		}
	case KindStepCompleted:
		t.completed++
	case KindStepFailed:
		t.failed++
	}
}

// Snapshot is a point-in-time view of the tracked counts.
type Snapshot struct {
	Total     int
	Completed int
	Failed    int
	Current   int
}

// Snapshot returns the current counts.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Total:     t.total,
		Completed: t.completed,
		Failed:    t.failed,
		Current:   t.current,
	}
}

// History returns a copy of all events seen so far, in arrival order.
func (t *Tracker) History() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.history))
	copy(out, t.history)
	return out
}
