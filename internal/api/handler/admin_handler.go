package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
	"github.com/kaxterzz/job-runner/internal/repository"
	"github.com/kaxterzz/job-runner/internal/service"
)

// AdminHandler handles operator endpoints over the job store.
type AdminHandler struct {
	jobService *service.JobService
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - jobService: job service instance.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(jobService *service.JobService) *AdminHandler {
	return &AdminHandler{jobService: jobService}
}

// JobSummary is a job record without its logs and results.
type JobSummary struct {
	ID          string           `json:"id"`
	Status      domain.JobStatus `json:"status"`
	Progress    int              `json:"progress"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	LogCount    int              `json:"logCount"`
	Parameters  int              `json:"parameters"`
	Files       int              `json:"files"`
}

// JobStatsResponse summarises the store.
type JobStatsResponse struct {
	Total         int                      `json:"total"`
	ByStatus      map[domain.JobStatus]int `json:"byStatus"`
	ActiveDrivers int                      `json:"activeDrivers"`
}

func summarize(job *domain.Job) JobSummary {
	return JobSummary{
		ID:          job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
		LogCount:    len(job.Logs),
		Parameters:  len(job.Data.InputFields),
		Files:       len(job.Data.UploadedFiles),
	}
}

// ListJobs handles GET /api/admin/jobs.
// Query: status filters by state, limit caps the result (default 50, max 500).
func (h *AdminHandler) ListJobs(c *gin.Context) {
	status := domain.JobStatus(c.Query("status"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "limit must be between 1 and 500",
		})
		return
	}

	jobs := h.jobService.List()
	out := make([]JobSummary, 0, min(limit, len(jobs)))
	for _, job := range jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, summarize(job))
		if len(out) == limit {
			break
		}
	}

	logger.CtxDebug(c.Request.Context(), "Jobs listed: status=%s, returned=%d", status, len(out))
	c.JSON(http.StatusOK, gin.H{"jobs": out, "count": len(out)})
}

// GetStats handles GET /api/admin/stats.
func (h *AdminHandler) GetStats(c *gin.Context) {
	jobs := h.jobService.List()
	resp := JobStatsResponse{
		Total:         len(jobs),
		ByStatus:      make(map[domain.JobStatus]int),
		ActiveDrivers: h.jobService.ActiveDrivers(),
	}
	for _, job := range jobs {
		resp.ByStatus[job.Status]++
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteJob handles DELETE /api/admin/jobs/:jobId. Only finished jobs can be removed.
func (h *AdminHandler) DeleteJob(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("jobId")

	err := h.jobService.Delete(id)
	switch {
	case err == nil:
		logger.CtxInfo(ctx, "Job record deleted: job_id=%s, client_ip=%s", id, c.ClientIP())
		c.JSON(http.StatusOK, gin.H{"success": true, "jobId": id})
	case errors.Is(err, repository.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, service.ErrJobActive):
		logger.CtxWarn(ctx, "Delete rejected for active job: job_id=%s", id)
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "Job is still running",
		})
	default:
		logger.CtxError(ctx, "Failed to delete job: job_id=%s, err=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Internal server error",
		})
	}
}
