package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
	"github.com/kaxterzz/job-runner/internal/metrics"
)

var (
	// ErrJobNotFound is returned when no record exists for an id.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned by Create when the id is already taken.
	ErrJobExists = errors.New("job already exists")
)

// JobStore holds job records in process memory.
// Records are never persisted; finished records are evicted after a TTL.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	ttl  time.Duration
}

// NewJobStore creates an empty store.
// Parameters:
//   - ttl: how long finished jobs are kept after completion; zero keeps them forever.
//
// Returns:
//   - *JobStore: store ready for use.
func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*domain.Job),
		ttl:  ttl,
	}
}

// Create registers a new job record.
// Parameters:
//   - job: record to store; the store keeps its own copy.
//
// Returns:
//   - error: ErrJobExists if the id is already registered.
func (s *JobStore) Create(job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrJobExists
	}
	s.jobs[job.ID] = job.Clone()
	metrics.StoredJobs.Set(float64(len(s.jobs)))
	return nil
}

// Get returns a snapshot of the job.
// Parameters:
//   - id: job identifier.
//
// Returns:
//   - *domain.Job: deep copy of the record.
//   - error: ErrJobNotFound if absent.
func (s *JobStore) Get(id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Logs returns a copy of the job's log entries.
func (s *JobStore) Logs(id string) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	logs := make([]domain.LogEntry, len(job.Logs))
	copy(logs, job.Logs)
	return logs, nil
}

// Update applies fn to the stored record under the write lock and returns a
// snapshot of the result. fn must not retain the pointer.
func (s *JobStore) Update(id string, fn func(job *domain.Job)) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	fn(job)
	return job.Clone(), nil
}

// List returns snapshots of every job, newest first.
func (s *JobStore) List() []*domain.Job {
	s.mu.RLock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Delete removes a record. Deleting an unknown id is a no-op.
func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	metrics.StoredJobs.Set(float64(len(s.jobs)))
	s.mu.Unlock()
}

// Len returns the number of stored records.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// EvictExpired removes finished jobs whose completion is older than the TTL.
// Active jobs are never evicted.
// Returns:
//   - int: number of records removed.
func (s *JobStore) EvictExpired(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) >= s.ttl {
			delete(s.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.JobsEvictedTotal.Add(float64(removed))
		metrics.StoredJobs.Set(float64(len(s.jobs)))
	}
	return removed
}

// Janitor runs EvictExpired every interval until ctx is cancelled.
func (s *JobStore) Janitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || s.ttl <= 0 {
		<-ctx.Done()
		return nil
	}

	ctx = logger.SetComponent(ctx, "job-store")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := s.EvictExpired(now); n > 0 {
				logger.With(logger.Fields{
					logger.FieldCount: n,
				}).Info(ctx, "Evicted expired jobs: remaining=%d", s.Len())
			}
		}
	}
}
