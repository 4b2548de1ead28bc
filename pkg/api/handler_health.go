package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openlotse/lotse/pkg/database"
	"github.com/openlotse/lotse/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// handleHealth handles GET /healthz. Only the server's own
// dependencies are checked; the LLM service is excluded so an external
// outage does not make an orchestrator restart this process.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	httpStatus := http.StatusOK
	checks := gin.H{}

	if s.pool != nil {
		dbHealth, err := database.Health(ctx, s.pool)
		checks["database"] = dbHealth
		if err != nil {
			status = healthStatusUnhealthy
			httpStatus = http.StatusServiceUnavailable
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":  status,
		"version": version.Full(),
		"checks":  checks,
	})
}
