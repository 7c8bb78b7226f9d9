package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"estatedesk.io/dashboard/internal/pkg/worker"
)

const readinessTimeout = 3 * time.Second

// Health is the body of the health endpoints.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string           `json:"checks,omitempty"`
	Pools  map[string]worker.PoolStats `json:"pools,omitempty"`
}

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, Health{Status: "ok"})
}

// GetReadiness handles GET /health/ready.
func (s *Server) GetReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.readiness))
	allHealthy := true
	for _, rc := range s.readiness {
		if err := rc.Check(ctx); err != nil {
			checks[rc.Name] = "error"
			allHealthy = false
			continue
		}
		checks[rc.Name] = "ok"
	}

	status, httpStatus := "ok", http.StatusOK
	if !allHealthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	body := Health{Status: status, Checks: checks}
	if s.pools != nil {
		body.Pools = s.pools.Metrics()
	}
	c.JSON(httpStatus, body)
}
