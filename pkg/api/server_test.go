package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlotse/lotse/pkg/progress"
	"github.com/openlotse/lotse/pkg/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeRunner emits a fixed event sequence on the bus, then returns a
// canned result or error.
type fakeRunner struct {
	result *scheduler.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, query string, bus *progress.Bus) (*scheduler.Result, error) {
	if f.err != nil {
		return nil, f.err
	}

	started := progress.NewEvent(progress.KindPlanStarted, progress.StatusStarting)
	started.TotalSteps = 1
	bus.Emit(started)

	completed := progress.NewEvent(progress.KindPlanCompleted, progress.StatusCompleted)
	completed.Percentage = 100
	bus.Emit(completed)

	f.result.Query = query
	return f.result, nil
}

func TestHandleQueryStreamsSSE(t *testing.T) {
	runner := &fakeRunner{result: &scheduler.Result{Success: true, Metadata: map[string]any{}}}
	server := NewServer(runner, nil, slog.Default())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"Was kostet ein Bauantrag?"}`))
	req.Header.Set("Content-Type", "application/json")
	server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, `"event_kind":"plan_started"`)
	assert.Contains(t, body, `"event_kind":"plan_completed"`)

	// The result event comes last and carries the aggregated outcome.
	resultIdx := strings.LastIndex(body, "event: result")
	require.Greater(t, resultIdx, strings.LastIndex(body, "event: progress"))
	assert.Contains(t, body[resultIdx:], `"success":true`)
	assert.Contains(t, body[resultIdx:], "Was kostet ein Bauantrag?")
}

func TestHandleQueryValidation(t *testing.T) {
	server := NewServer(&fakeRunner{}, nil, slog.Default())
	router := server.Router()

	for _, body := range []string{``, `{}`, `{"query":"   "}`, `not json`} {
		t.Run("body="+body, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleQueryRunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("plan not executable: cycle")}
	server := NewServer(runner, nil, slog.Default())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"zyklisch"}`))
	req.Header.Set("Content-Type", "application/json")
	server.Router().ServeHTTP(w, req)

	// The stream is already open, so errors arrive as an SSE event.
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "plan not executable")
	assert.NotContains(t, body, "event: result")
}

func TestHandleHealthWithoutDatabase(t *testing.T) {
	server := NewServer(&fakeRunner{}, nil, slog.Default())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}
