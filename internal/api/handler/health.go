package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// DriverCounter reports how many jobs are currently being processed.
type DriverCounter interface {
	ActiveDrivers() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	jobs    DriverCounter
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(jobs DriverCounter) *HealthHandler {
	return &HealthHandler{jobs: jobs, started: time.Now()}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.jobs != nil {
		body["activeJobs"] = h.jobs.ActiveDrivers()
	}
	c.JSON(http.StatusOK, body)
}
