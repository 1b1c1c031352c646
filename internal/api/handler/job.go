package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kaxterzz/job-runner/internal/api/middleware"
	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
	"github.com/kaxterzz/job-runner/internal/repository"
	"github.com/kaxterzz/job-runner/internal/service"
)

// JobHandler handles job submission and lookup endpoints.
type JobHandler struct {
	jobService *service.JobService
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobService: job service instance.
//
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

// RunJobResponse is the body of a successful submission.
type RunJobResponse struct {
	Success bool             `json:"success"`
	JobID   string           `json:"jobId"`
	Status  domain.JobStatus `json:"status"`
}

// RunJob handles POST /api/jobs/run.
// The job is registered before the response is written; processing continues
// in the background.
func (h *JobHandler) RunJob(c *gin.Context) {
	log := middleware.GetLogger(c)

	var sub domain.JobSubmission
	if err := c.ShouldBindJSON(&sub); err != nil && !errors.Is(err, io.EOF) {
		log.WithError(err).Warn("Rejected job submission")
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	job, err := h.jobService.Submit(c.Request.Context(), sub)
	if err != nil {
		log.WithError(err).Error("Failed to submit job")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to start job",
		})
		return
	}

	c.JSON(http.StatusOK, RunJobResponse{
		Success: true,
		JobID:   job.ID,
		Status:  job.Status,
	})
}

// GetJob handles GET /api/jobs/:jobId.
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobService.Get(c.Param("jobId"))
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetLogs handles GET /api/jobs/:jobId/logs.
func (h *JobHandler) GetLogs(c *gin.Context) {
	logs, err := h.jobService.Logs(c.Param("jobId"))
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// CancelJob handles POST /api/jobs/:jobId/cancel.
func (h *JobHandler) CancelJob(c *gin.Context) {
	id := c.Param("jobId")
	job, err := h.jobService.Get(id)
	if err != nil {
		h.writeLookupError(c, err)
		return
	}

	if job.Status.IsTerminal() || !h.jobService.Cancel(id) {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "Job is not running",
		})
		return
	}

	logger.CtxInfo(logger.SetJobID(c.Request.Context(), id), "Job cancellation requested")
	c.JSON(http.StatusOK, gin.H{"success": true, "jobId": id})
}

// MethodNotAllowed answers requests whose path exists but whose method does not.
func MethodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{
		"success": false,
		"error":   "Method not allowed",
	})
}

// NotFound answers requests for unknown routes.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"error":   "Not found",
	})
}

func (h *JobHandler) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	middleware.GetLogger(c).WithError(err).Error("Job lookup failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "Internal server error",
	})
}
