package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kaxterzz/job-runner/internal/api/handler"
	"github.com/kaxterzz/job-runner/internal/api/middleware"
	"github.com/kaxterzz/job-runner/internal/logger"
	"github.com/kaxterzz/job-runner/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the settings SetupRouter needs.
type RouterConfig struct {
	Mode string
	CORS middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	jobService *service.JobService,
	channel http.Handler,
	cfg RouterConfig,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.NoMethod(handler.MethodNotAllowed)
	r.NoRoute(handler.NotFound)

	// Add middleware
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(jobService)
	jobHandler := handler.NewJobHandler(jobService)
	adminHandler := handler.NewAdminHandler(jobService)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if channel != nil {
		r.GET("/ws", gin.WrapH(channel))
	}

	jobs := r.Group("/api/jobs")
	{
		jobs.POST("/run", jobHandler.RunJob)
		// "run" would otherwise be captured by the :jobId routes below.
		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete} {
			jobs.Handle(method, "/run", handler.MethodNotAllowed)
		}

		jobs.GET("/:jobId", jobHandler.GetJob)
		jobs.GET("/:jobId/logs", jobHandler.GetLogs)
		jobs.POST("/:jobId/cancel", jobHandler.CancelJob)
	}

	admin := r.Group("/api/admin")
	{
		admin.GET("/jobs", adminHandler.ListJobs)
		admin.DELETE("/jobs/:jobId", adminHandler.DeleteJob)
		admin.GET("/stats", adminHandler.GetStats)
	}

	return r
}
