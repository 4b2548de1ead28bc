package progress

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWireFormat(t *testing.T) {
	e := NewEvent(KindStepStarted, StatusStarting).WithStep("step_1", "Search documents")
	e.CurrentStep = 1
	e.TotalSteps = 3
	e.Message = "starting step"

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Equal(t, "step_started", m["event_kind"])
	assert.Equal(t, "starting", m["status"])
	assert.Equal(t, "step_1", m["step_id"])
	assert.Equal(t, float64(1), m["current_step"])
	assert.Equal(t, float64(3), m["total_steps"])
	assert.Nil(t, m["error"])
	assert.NotEmpty(t, m["event_id"])

	// Plan-level events carry an explicit null step_id.
	plan := NewEvent(KindPlanStarted, StatusStarting)
	raw, err = json.Marshal(plan)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &m))
	_, present := m["step_id"]
	assert.True(t, present)
	assert.Nil(t, m["step_id"])
}

func TestEventClampPercentage(t *testing.T) {
	e := Event{Percentage: 104.2}
	e.ClampPercentage()
	assert.Equal(t, 100.0, e.Percentage)

	e.Percentage = -3
	e.ClampPercentage()
	assert.Equal(t, 0.0, e.Percentage)
}

func TestBusDeliversInEmitOrder(t *testing.T) {
	bus := NewBus(16, slog.Default())
	defer bus.Close()

	var mu sync.Mutex
	var got []Kind
	sub := bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Kind)
		mu.Unlock()
	})

	bus.Emit(NewEvent(KindPlanStarted, StatusStarting))
	bus.Emit(NewEvent(KindStepStarted, StatusStarting))
	bus.Emit(NewEvent(KindStepCompleted, StatusCompleted))
	bus.Emit(NewEvent(KindPlanCompleted, StatusCompleted))
	sub.Close()

	assert.Equal(t, []Kind{KindPlanStarted, KindStepStarted, KindStepCompleted, KindPlanCompleted}, got)
}

func TestBusKindFilter(t *testing.T) {
	bus := NewBus(16, slog.Default())
	defer bus.Close()

	var mu sync.Mutex
	var got []Kind
	sub := bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Kind)
		mu.Unlock()
	}, KindStepFailed, KindPlanFailed)

	bus.Emit(NewEvent(KindPlanStarted, StatusStarting))
	bus.Emit(NewEvent(KindStepFailed, StatusFailed))
	bus.Emit(NewEvent(KindStepCompleted, StatusCompleted))
	bus.Emit(NewEvent(KindPlanFailed, StatusFailed))
	sub.Close()

	assert.Equal(t, []Kind{KindStepFailed, KindPlanFailed}, got)
}

func TestBusOverflowDropsNewest(t *testing.T) {
	bus := NewBus(2, slog.Default())

	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	sub := bus.Subscribe(func(e Event) {
		<-release
		mu.Lock()
		got = append(got, e.Message)
		mu.Unlock()
	})

	// First event occupies the handler, two fill the queue, the rest drop.
	for i, msg := range []string{"a", "b", "c", "d", "e"} {
		e := NewEvent(KindStepProgress, StatusProgress)
		e.Message = msg
		bus.Emit(e)
		if i == 0 {
			// Give the dispatcher time to pick up the first event so the
			// queue capacity check is deterministic.
			waitUntil(t, func() bool { return len(sub.queue) == 0 })
		}
	}

	close(release)
	sub.Close()

	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 2, bus.Dropped())
}

func TestBusHandlerPanicIsolated(t *testing.T) {
	bus := NewBus(16, slog.Default())
	defer bus.Close()

	var mu sync.Mutex
	var healthy int
	panicking := bus.Subscribe(func(Event) { panic("handler bug") })
	ok := bus.Subscribe(func(Event) {
		mu.Lock()
		healthy++
		mu.Unlock()
	})

	bus.Emit(NewEvent(KindStepStarted, StatusStarting))
	bus.Emit(NewEvent(KindStepCompleted, StatusCompleted))

	panicking.Close()
	ok.Close()
	assert.Equal(t, 2, healthy)
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	bus := NewBus(16, slog.Default())
	sub := bus.Subscribe(func(Event) {})
	sub.Close()
	sub.Close()
	bus.Emit(NewEvent(KindStepStarted, StatusStarting))
}

func TestTrackerAggregation(t *testing.T) {
	tr := NewTracker()
	bus := NewBus(64, slog.Default())
	sub := bus.Subscribe(tr.Handle)

	start := NewEvent(KindPlanStarted, StatusStarting)
	start.TotalSteps = 3
	bus.Emit(start)

	for i := 1; i <= 3; i++ {
		s := NewEvent(KindStepStarted, StatusStarting)
		s.CurrentStep = i
		bus.Emit(s)
		kind := KindStepCompleted
		if i == 2 {
			kind = KindStepFailed
		}
		bus.Emit(NewEvent(kind, StatusCompleted))
	}
	done := NewEvent(KindPlanCompleted, StatusCompleted)
	done.Percentage = 100
	bus.Emit(done)
	sub.Close()

	snap := tr.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.Completed)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 3, snap.Current)

	history := tr.History()
	require.Len(t, history, 8)
	assert.Equal(t, KindPlanStarted, history[0].Kind)
	assert.True(t, history[len(history)-1].Terminal())
}

func TestEmitConcurrentWithCloseDoesNotPanic(t *testing.T) {
	// An emitter that snapshotted the subscriber list can race a
	// concurrent unsubscribe; the send must never hit a closed queue.
	bus := NewBus(2, slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub := bus.Subscribe(func(Event) {})

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				bus.Emit(NewEvent(KindStepProgress, StatusProgress))
			}
		}()
		sub.Close()
	}
	wg.Wait()
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
