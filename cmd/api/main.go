package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaxterzz/job-runner/internal/api"
	"github.com/kaxterzz/job-runner/internal/api/middleware"
	"github.com/kaxterzz/job-runner/internal/config"
	"github.com/kaxterzz/job-runner/internal/logger"
	"github.com/kaxterzz/job-runner/internal/realtime"
	"github.com/kaxterzz/job-runner/internal/repository"
	"github.com/kaxterzz/job-runner/internal/service"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "job-runner-api",
		Environment: cfg.AppEnv,
		File:        cfg.Log.File,
		FileOnly:    cfg.Log.FileOnly,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	cors := middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}

	store := repository.NewJobStore(cfg.Jobs.TTL)
	hub := realtime.NewHub(realtime.Config{
		WriteWait:  cfg.Channel.WriteWait,
		PongWait:   cfg.Channel.PongWait,
		SendBuffer: cfg.Channel.SendBuffer,
		CheckOrigin: func(origin string) bool {
			return middleware.IsOriginAllowed(origin, cors)
		},
	}, appLogger)
	jobService := service.NewJobService(store, hub, appLogger, &service.DriverConfig{
		QueuedLogDelay:  cfg.Jobs.QueuedLogDelay,
		StartDelay:      cfg.Jobs.StartDelay,
		TickMin:         cfg.Jobs.TickMin,
		TickMax:         cfg.Jobs.TickMax,
		RunningProgress: cfg.Jobs.RunningProgress,
	})

	router := api.SetupRouter(jobService, hub, api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: cors,
	}, appLogger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
			"env":  cfg.AppEnv,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return store.Janitor(gctx, cfg.Jobs.SweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hub.Close()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		}
		if err := jobService.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		appLogger.WithError(err).Error("Server exited with error")
		logger.Sync()
		os.Exit(1)
	}
	appLogger.Info("Server exited")
}
