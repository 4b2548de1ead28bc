// Package api exposes the query pipeline over HTTP: queries stream
// their progress events as Server-Sent Events, followed by the
// aggregated result.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlotse/lotse/pkg/progress"
	"github.com/openlotse/lotse/pkg/scheduler"
)

// QueryRunner executes one query, publishing progress on the bus.
// pkg/pipeline provides the production implementation.
type QueryRunner interface {
	Run(ctx context.Context, query string, bus *progress.Bus) (*scheduler.Result, error)
}

// Server is the HTTP surface.
type Server struct {
	runner QueryRunner
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewServer creates a server. pool may be nil when the document store
// is not configured; the health endpoint then skips the database check.
func NewServer(runner QueryRunner, pool *pgxpool.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{runner: runner, pool: pool, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.POST("/query", s.handleQuery)
	return router
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
