package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
	"github.com/kaxterzz/job-runner/internal/metrics"
	"github.com/kaxterzz/job-runner/internal/repository"
	"github.com/kaxterzz/job-runner/internal/timeline"
)

// driver advances one job through queued -> running -> completed.
// All three timers are served from a single goroutine, so the steps for one
// job never overlap and the record has a single writer.
type driver struct {
	svc   *JobService
	ctx   context.Context
	jobID string
	sub   domain.JobSubmission

	entries []domain.LogEntry
	next    int
}

var (
	// errGone marks a record that disappeared while the driver was running.
	errGone = errors.New("job record removed")
	// errCancelled is the failure cause of a driver stopped through its context.
	errCancelled = errors.New("job cancelled")
)

func (d *driver) run() {
	start := time.Now()
	cfg := d.svc.cfg

	if err := d.step(func() error {
		d.entries = d.svc.generate(d.sub)
		return nil
	}); err != nil {
		d.fail(err)
		return
	}

	queued := time.NewTimer(cfg.QueuedLogDelay)
	started := time.NewTimer(cfg.StartDelay)
	tick := time.NewTimer(d.tickDelay())
	defer queued.Stop()
	defer started.Stop()
	defer tick.Stop()

	queuedC, startedC := queued.C, started.C

	for {
		select {
		case <-d.ctx.Done():
			d.fail(errCancelled)
			return

		case <-queuedC:
			queuedC = nil
			if err := d.step(d.emitQueued); err != nil {
				d.fail(err)
				return
			}

		case <-startedC:
			startedC = nil
			if err := d.step(d.markRunning); err != nil {
				d.fail(err)
				return
			}

		case <-tick.C:
			var finished bool
			if err := d.step(func() error {
				var err error
				finished, err = d.advance()
				return err
			}); err != nil {
				d.fail(err)
				return
			}
			if finished {
				logger.With(logger.Fields{
					logger.FieldDurationMs: time.Since(start).Milliseconds(),
					logger.FieldCount:      len(d.entries),
				}).Info(d.ctx, "Job completed")
				return
			}
			tick.Reset(d.tickDelay())
		}
	}
}

// step runs fn inside an error boundary that turns panics into errors.
func (d *driver) step(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("driver panic: %v", r)
		}
	}()
	return fn()
}

func (d *driver) tickDelay() time.Duration {
	lo, hi := d.svc.cfg.TickMin, d.svc.cfg.TickMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func (d *driver) update(fn func(job *domain.Job)) (*domain.Job, error) {
	job, err := d.svc.store.Update(d.jobID, fn)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, errGone
	}
	return job, err
}

func (d *driver) publish(evt domain.Event) {
	d.svc.publisher.Publish(evt)
}

// emitQueued appends the synthetic "queued" line. It carries the job's current
// progress, which is 0 unless a tick already ran.
func (d *driver) emitQueued() error {
	entry := timeline.QueuedEntry(time.Now())
	var skipped bool
	job, err := d.update(func(job *domain.Job) {
		if job.Status.IsTerminal() {
			skipped = true
			return
		}
		job.Logs = append(job.Logs, entry)
	})
	if err != nil || skipped {
		return err
	}
	d.publish(domain.NewLogEvent(d.jobID, entry, job.Progress))
	return nil
}

func (d *driver) markRunning() error {
	var skipped bool
	job, err := d.update(func(job *domain.Job) {
		if job.Status != domain.JobStatusQueued {
			skipped = true
			return
		}
		job.Status = domain.JobStatusRunning
		job.Progress = max(job.Progress, d.svc.cfg.RunningProgress)
	})
	if err != nil || skipped {
		return err
	}
	logger.CtxInfo(d.ctx, "Job running: progress=%d", job.Progress)
	d.publish(domain.NewStatusUpdateEvent(d.jobID, job.Status, job.Progress, nil))
	return nil
}

// advance emits the next timeline entry or, once the timeline is exhausted,
// completes the job. It reports whether the job finished.
func (d *driver) advance() (bool, error) {
	if d.next >= len(d.entries) {
		return true, d.complete()
	}

	entry := d.entries[d.next]
	progress := timeline.Progress(d.next, len(d.entries))
	d.next++

	job, err := d.update(func(job *domain.Job) {
		job.Logs = append(job.Logs, entry)
		job.Progress = max(job.Progress, progress)
	})
	if err != nil {
		return false, err
	}

	d.publish(domain.NewLogEvent(d.jobID, entry, job.Progress))
	d.publish(domain.NewProgressEvent(d.jobID, job.Progress, job.Status))
	return false, nil
}

func (d *driver) complete() error {
	results := timeline.Results(d.sub)
	job, err := d.update(func(job *domain.Job) {
		now := time.Now().UTC()
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
		job.CompletedAt = &now
		job.Results = results
	})
	if err != nil {
		return err
	}

	metrics.RecordJobFinished(string(domain.JobStatusCompleted))
	d.publish(domain.NewStatusUpdateEvent(d.jobID, job.Status, job.Progress, job.Results))
	d.publish(domain.NewCompletedEvent(d.jobID, job.Results))
	return nil
}

// fail moves the job to the failed state and emits the terminal events.
// A job that already finished or was removed is left alone.
func (d *driver) fail(cause error) {
	if errors.Is(cause, errGone) {
		logger.CtxWarn(d.ctx, "Job record removed while driver was running")
		return
	}

	msg := "❌ Job failed: " + cause.Error()
	if errors.Is(cause, errCancelled) {
		msg = "❌ Job cancelled"
	}
	entry := domain.NewLogEntry(time.Now(), domain.LogTypeError, msg)
	var skipped bool
	job, err := d.svc.store.Update(d.jobID, func(job *domain.Job) {
		if job.Status.IsTerminal() {
			skipped = true
			return
		}
		now := time.Now().UTC()
		job.Status = domain.JobStatusFailed
		job.CompletedAt = &now
		job.Results = nil
		job.Logs = append(job.Logs, entry)
	})
	if err != nil || skipped {
		return
	}

	if errors.Is(cause, errCancelled) {
		logger.CtxInfo(d.ctx, "Job cancelled: progress=%d", job.Progress)
	} else {
		logger.FromContext(d.ctx).WithError(cause).Error("Job failed")
	}

	metrics.RecordJobFinished(string(domain.JobStatusFailed))
	d.publish(domain.NewLogEvent(d.jobID, entry, job.Progress))
	d.publish(domain.NewStatusUpdateEvent(d.jobID, job.Status, job.Progress, nil))
	d.publish(domain.NewFailedEvent(d.jobID, cause.Error()))
}
