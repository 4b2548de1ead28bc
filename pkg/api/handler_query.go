package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openlotse/lotse/pkg/progress"
	"github.com/openlotse/lotse/pkg/scheduler"
)

const shutdownTimeout = 10 * time.Second

// queryRequest is the POST /query body.
type queryRequest struct {
	Query string `json:"query" binding:"required"`
}

// handleQuery streams the execution as SSE: one "progress" event per
// bus event, then a single "result" event with the aggregated result.
func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// The SSE writer is a bus subscriber like any other transport;
	// events arrive on the subscription's dispatch goroutine and are
	// handed to the response through a channel owned by this handler.
	events := make(chan progress.Event, progress.DefaultQueueSize)
	bus := progress.NewBus(progress.DefaultQueueSize, s.logger)
	sub := bus.Subscribe(func(e progress.Event) {
		events <- e
	})

	type outcome struct {
		result *scheduler.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.runner.Run(c.Request.Context(), req.Query, bus)
		sub.Close()
		close(events)
		done <- outcome{result: result, err: err}
	}()

	for e := range events {
		s.writeSSE(c, "progress", e)
	}

	out := <-done
	if out.err != nil {
		s.logger.Error("query failed", "query", req.Query, "error", out.err)
		s.writeSSE(c, "error", gin.H{"error": out.err.Error()})
		return
	}
	s.writeSSE(c, "result", out.result)
}

// writeSSE writes one named SSE event with a JSON payload.
func (s *Server) writeSSE(c *gin.Context, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal sse payload", "event", event, "error", err)
		return
	}
	if _, err := c.Writer.WriteString("event: " + event + "\ndata: " + string(raw) + "\n\n"); err != nil {
		s.logger.Warn("client disconnected during stream", "error", err)
		return
	}
	c.Writer.Flush()
}
