package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
	"github.com/kaxterzz/job-runner/internal/metrics"
	"github.com/kaxterzz/job-runner/internal/repository"
	"github.com/kaxterzz/job-runner/internal/timeline"
)

// Publisher delivers job events to channel subscribers.
type Publisher interface {
	Publish(evt domain.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(domain.Event) {}

// DriverConfig holds the timer schedule of a simulated job.
type DriverConfig struct {
	QueuedLogDelay  time.Duration
	StartDelay      time.Duration
	TickMin         time.Duration
	TickMax         time.Duration
	RunningProgress int
}

// DefaultDriverConfig returns the reference schedule.
func DefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		QueuedLogDelay:  time.Second,
		StartDelay:      2 * time.Second,
		TickMin:         500 * time.Millisecond,
		TickMax:         1500 * time.Millisecond,
		RunningProgress: 5,
	}
}

const maxIDAttempts = 5

var (
	// ErrJobActive is returned when removing a job whose driver is still running.
	ErrJobActive = errors.New("job is still active")
	// ErrShuttingDown is returned by Submit once Shutdown has been called.
	ErrShuttingDown = errors.New("job service is shutting down")
)

// JobService registers jobs and runs one lifecycle driver per job.
type JobService struct {
	store     *repository.JobStore
	publisher Publisher
	logger    *logger.Logger
	cfg       DriverConfig

	// generate is swapped in tests to exercise the failure boundary.
	generate func(domain.JobSubmission) []domain.LogEntry
	newID    func() string

	baseCtx context.Context
	stopAll context.CancelFunc

	mu      sync.Mutex
	closed  bool
	drivers map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobService creates a new job service.
// Parameters:
//   - store: record store shared with read handlers.
//   - publisher: event sink; nil discards events.
//   - log: logger instance.
//   - cfg: driver schedule; nil uses DefaultDriverConfig.
//
// Returns:
//   - *JobService: initialized service.
func NewJobService(store *repository.JobStore, publisher Publisher, log *logger.Logger, cfg *DriverConfig) *JobService {
	if cfg == nil {
		cfg = DefaultDriverConfig()
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobService{
		store:     store,
		publisher: publisher,
		logger:    log,
		cfg:       *cfg,
		generate:  timeline.Generate,
		newID:     NewJobID,
		baseCtx:   ctx,
		stopAll:   cancel,
		drivers:   make(map[string]context.CancelFunc),
	}
}

// NewJobID returns an id of the form job_<unix millis>_<9 alphanumerics>.
func NewJobID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("job_%d_%s", time.Now().UnixMilli(), suffix)
}

// Submit registers a queued job and starts its driver.
// The record is stored before Submit returns, so an immediate Get sees it.
// Parameters:
//   - ctx: request context; only its logger fields are carried into the driver.
//   - sub: the submission payload.
//
// Returns:
//   - *domain.Job: snapshot of the freshly queued record.
//   - error: non-nil if no unique id could be allocated or the service is shut down.
func (s *JobService) Submit(ctx context.Context, sub domain.JobSubmission) (*domain.Job, error) {
	// Reserve the driver slot before Shutdown can start waiting.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	job := &domain.Job{
		Status:    domain.JobStatusQueued,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
		Data:      sub.Clone(),
		Logs:      []domain.LogEntry{},
	}

	var err error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		job.ID = s.newID()
		if err = s.store.Create(job); !errors.Is(err, repository.ErrJobExists) {
			break
		}
	}
	if err != nil {
		s.wg.Done()
		return nil, fmt.Errorf("failed to register job: %w", err)
	}

	metrics.JobsSubmittedTotal.Inc()
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"parameters":      len(sub.InputFields),
		"files":           len(sub.UploadedFiles),
	}).Info("Job queued")

	s.start(ctx, job.ID, job.Data)
	return job.Clone(), nil
}

// Get returns a snapshot of the job.
func (s *JobService) Get(id string) (*domain.Job, error) {
	return s.store.Get(id)
}

// Logs returns the job's log entries so far.
func (s *JobService) Logs(id string) ([]domain.LogEntry, error) {
	return s.store.Logs(id)
}

// List returns snapshots of every stored job, newest first.
func (s *JobService) List() []*domain.Job {
	return s.store.List()
}

// Delete removes a finished job record.
func (s *JobService) Delete(id string) error {
	job, err := s.store.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	_, running := s.drivers[id]
	s.mu.Unlock()
	if running || job.Status.IsActive() {
		return ErrJobActive
	}
	s.store.Delete(id)
	return nil
}

// Cancel stops the driver of an active job. The job ends in the failed state.
// Returns false if no driver is running for id.
func (s *JobService) Cancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.drivers[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveDrivers returns the number of running drivers.
func (s *JobService) ActiveDrivers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drivers)
}

// Shutdown cancels every driver and waits for them to exit or for ctx to expire.
func (s *JobService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for job drivers: %w", ctx.Err())
	}
}

func (s *JobService) start(reqCtx context.Context, id string, sub domain.JobSubmission) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	log := logger.FromContext(reqCtx).WithFields(logger.Fields{
		logger.FieldJobID:     id,
		logger.FieldComponent: "driver",
	})
	ctx = log.WithContext(ctx)

	s.mu.Lock()
	s.drivers[id] = cancel
	s.mu.Unlock()
	metrics.ActiveDrivers.Inc()

	d := &driver{
		svc:   s,
		ctx:   ctx,
		jobID: id,
		sub:   sub,
	}

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.drivers, id)
			s.mu.Unlock()
			cancel()
			metrics.ActiveDrivers.Dec()
			s.wg.Done()
		}()
		d.run()
	}()
}
