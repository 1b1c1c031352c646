package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
	"github.com/kaxterzz/job-runner/internal/repository"
	"github.com/kaxterzz/job-runner/internal/timeline"
)

type recorder struct {
	mu       sync.Mutex
	events   []domain.Event
	terminal chan struct{}
	once     sync.Once
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan struct{})}
}

func (r *recorder) Publish(evt domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	if evt.Name == domain.EventCompleted || evt.Name == domain.EventFailed {
		r.once.Do(func() { close(r.terminal) })
	}
}

func (r *recorder) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a terminal event")
	}
}

func quietLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Output: io.Discard})
}

func fastConfig() *DriverConfig {
	return &DriverConfig{
		QueuedLogDelay:  3 * time.Millisecond,
		StartDelay:      6 * time.Millisecond,
		TickMin:         time.Millisecond,
		TickMax:         2 * time.Millisecond,
		RunningProgress: 5,
	}
}

func slowConfig() *DriverConfig {
	return &DriverConfig{
		QueuedLogDelay:  time.Hour,
		StartDelay:      time.Hour,
		TickMin:         time.Hour,
		TickMax:         time.Hour,
		RunningProgress: 5,
	}
}

func newTestService(t *testing.T, pub Publisher, cfg *DriverConfig) *JobService {
	t.Helper()
	svc := NewJobService(repository.NewJobStore(0), pub, quietLogger(), cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

var scenario = domain.JobSubmission{
	InputFields:   []domain.InputField{{Field: "threshold", Value: "10"}},
	UploadedFiles: []domain.UploadedFile{{ID: "f1", Name: "data.csv", Size: 2048, Extension: "csv"}},
}

func progressOf(evt domain.Event) (int, bool) {
	switch p := evt.Data.(type) {
	case domain.StatusUpdatePayload:
		return p.Progress, true
	case domain.LogPayload:
		return p.Progress, true
	case domain.ProgressPayload:
		return p.Progress, true
	}
	return 0, false
}

func TestSubmitRegistersQueuedJob(t *testing.T) {
	svc := newTestService(t, nil, slowConfig())

	job, err := svc.Submit(context.Background(), scenario)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.HasPrefix(job.ID, "job_") {
		t.Errorf("id = %q, want job_ prefix", job.ID)
	}

	got, err := svc.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobStatusQueued || got.Progress != 0 || len(got.Logs) != 0 {
		t.Errorf("fresh job = status %s progress %d logs %d", got.Status, got.Progress, len(got.Logs))
	}
	if got.Results != nil {
		t.Error("queued job must not carry results")
	}
	if svc.ActiveDrivers() != 1 {
		t.Errorf("ActiveDrivers = %d, want 1", svc.ActiveDrivers())
	}
}

func TestJobLifecycleCompletes(t *testing.T) {
	rec := newRecorder()
	svc := newTestService(t, rec, fastConfig())

	job, err := svc.Submit(context.Background(), scenario)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec.wait(t)
	events := rec.snapshot()

	last := events[len(events)-1]
	if last.Name != domain.EventCompleted {
		t.Fatalf("last event = %s, want %s", last.Name, domain.EventCompleted)
	}
	if last.JobID != job.ID {
		t.Errorf("event job id = %s, want %s", last.JobID, job.ID)
	}
	prev := events[len(events)-2].Data.(domain.StatusUpdatePayload)
	if prev.Status != domain.JobStatusCompleted || prev.Results == nil || prev.Progress != 100 {
		t.Errorf("terminal status update = %+v", prev)
	}

	lastProgress, hundreds, completions := 0, 0, 0
	for _, evt := range events {
		if evt.Name == domain.EventCompleted {
			completions++
		}
		p, ok := progressOf(evt)
		if !ok {
			continue
		}
		if p < lastProgress {
			t.Errorf("progress decreased: %d after %d (%s)", p, lastProgress, evt.Name)
		}
		if p == 100 {
			hundreds++
		}
		lastProgress = p
	}
	if hundreds != 1 || completions != 1 {
		t.Errorf("progress 100 seen %d times, completions %d; want 1 and 1", hundreds, completions)
	}

	got, err := svc.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || got.Progress != 100 || got.CompletedAt == nil {
		t.Errorf("final job = %s/%d completedAt=%v", got.Status, got.Progress, got.CompletedAt)
	}
	if got.Results == nil {
		t.Fatal("completed job has no results")
	}
	if m := got.Results.Metrics; m.FilesProcessed != 1 || m.ParametersUsed != 1 {
		t.Errorf("metrics = %+v", m)
	}

	// timeline entries plus the synthetic queued line
	want := timeline.ExpectedLength(scenario) + 1
	if len(got.Logs) != want {
		t.Errorf("logs = %d, want %d", len(got.Logs), want)
	}
	var sawParam, sawFile bool
	for _, e := range got.Logs {
		if e.Type == domain.LogTypeParam && strings.Contains(e.Message, "threshold: 10") {
			sawParam = true
		}
		if e.Type == domain.LogTypeFile && strings.Contains(e.Message, "data.csv (2.00 KB)") {
			sawFile = true
		}
	}
	if !sawParam || !sawFile {
		t.Errorf("param seen %v, file seen %v", sawParam, sawFile)
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(rec.snapshot()); n != len(events) {
		t.Errorf("%d events published after completion", n-len(events))
	}
}

func TestLogEventsFollowTimelineOrder(t *testing.T) {
	rec := newRecorder()
	svc := newTestService(t, rec, fastConfig())

	if _, err := svc.Submit(context.Background(), domain.JobSubmission{}); err != nil {
		t.Fatal(err)
	}
	rec.wait(t)

	var messages []string
	for _, evt := range rec.snapshot() {
		if p, ok := evt.Data.(domain.LogPayload); ok && p.Log.Message != timeline.MsgQueued {
			messages = append(messages, p.Log.Message)
		}
	}
	expected := timeline.Generate(domain.JobSubmission{})
	if len(messages) != len(expected) {
		t.Fatalf("got %d timeline log events, want %d", len(messages), len(expected))
	}
	for i, e := range expected {
		if messages[i] != e.Message {
			t.Errorf("log %d = %q, want %q", i, messages[i], e.Message)
		}
	}
}

func TestDistinctIDs(t *testing.T) {
	svc := newTestService(t, nil, slowConfig())

	a, err := svc.Submit(context.Background(), domain.JobSubmission{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Submit(context.Background(), domain.JobSubmission{})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Errorf("back-to-back submissions share id %s", a.ID)
	}
}

func TestSubmitGivesUpOnIDCollisions(t *testing.T) {
	svc := newTestService(t, nil, slowConfig())
	svc.newID = func() string { return "job_fixed" }

	if _, err := svc.Submit(context.Background(), domain.JobSubmission{}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Submit(context.Background(), domain.JobSubmission{})
	if !errors.Is(err, repository.ErrJobExists) {
		t.Errorf("err = %v, want ErrJobExists", err)
	}
}

func TestPanicInDriverFailsJob(t *testing.T) {
	rec := newRecorder()
	svc := newTestService(t, rec, fastConfig())
	svc.generate = func(domain.JobSubmission) []domain.LogEntry {
		panic("generator exploded")
	}

	job, err := svc.Submit(context.Background(), scenario)
	if err != nil {
		t.Fatal(err)
	}
	rec.wait(t)

	events := rec.snapshot()
	last := events[len(events)-1]
	if last.Name != domain.EventFailed {
		t.Fatalf("last event = %s, want %s", last.Name, domain.EventFailed)
	}
	if reason := last.Data.(domain.FailedPayload).Error; !strings.Contains(reason, "generator exploded") {
		t.Errorf("failure reason = %q", reason)
	}

	got, _ := svc.Get(job.ID)
	if got.Status != domain.JobStatusFailed || got.Results != nil || got.CompletedAt == nil {
		t.Errorf("job after panic = %+v", got)
	}
	if n := len(got.Logs); n == 0 || got.Logs[n-1].Type != domain.LogTypeError {
		t.Errorf("expected a trailing error log entry, got %+v", got.Logs)
	}
}

func TestCancelStopsDriver(t *testing.T) {
	rec := newRecorder()
	svc := newTestService(t, rec, slowConfig())

	job, err := svc.Submit(context.Background(), domain.JobSubmission{})
	if err != nil {
		t.Fatal(err)
	}
	if !svc.Cancel(job.ID) {
		t.Fatal("Cancel returned false for an active job")
	}
	rec.wait(t)

	got, _ := svc.Get(job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}

	deadline := time.Now().Add(time.Second)
	for svc.ActiveDrivers() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if svc.ActiveDrivers() != 0 {
		t.Error("driver still registered after cancel")
	}
	if svc.Cancel(job.ID) {
		t.Error("Cancel on a finished job returned true")
	}
}

func TestShutdownRejectsNewJobs(t *testing.T) {
	svc := NewJobService(repository.NewJobStore(0), nil, quietLogger(), slowConfig())
	if _, err := svc.Submit(context.Background(), domain.JobSubmission{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if svc.ActiveDrivers() != 0 {
		t.Errorf("ActiveDrivers = %d after shutdown", svc.ActiveDrivers())
	}
	if _, err := svc.Submit(context.Background(), domain.JobSubmission{}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Submit after Shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestSubmitRacingShutdown(t *testing.T) {
	svc := NewJobService(repository.NewJobStore(0), nil, quietLogger(), slowConfig())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted []string
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := svc.Submit(context.Background(), domain.JobSubmission{})
			if err != nil {
				if !errors.Is(err, ErrShuttingDown) {
					t.Errorf("Submit = %v", err)
				}
				return
			}
			mu.Lock()
			accepted = append(accepted, job.ID)
			mu.Unlock()
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	wg.Wait()

	// Drivers admitted after Shutdown started see a cancelled context and exit at once.
	deadline := time.Now().Add(2 * time.Second)
	for svc.ActiveDrivers() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := svc.ActiveDrivers(); n != 0 {
		t.Fatalf("ActiveDrivers = %d after shutdown", n)
	}
	for _, id := range accepted {
		job, err := svc.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != domain.JobStatusFailed {
			t.Errorf("job %s = %s, want failed", id, job.Status)
		}
	}
}

func TestNewJobIDFormat(t *testing.T) {
	id := NewJobID()
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "job" || len(parts[2]) != 9 {
		t.Errorf("unexpected id %q", id)
	}
}

func TestDeleteOnlyFinishedJobs(t *testing.T) {
	rec := newRecorder()
	svc := newTestService(t, rec, slowConfig())

	job, err := svc.Submit(context.Background(), domain.JobSubmission{})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(job.ID); !errors.Is(err, ErrJobActive) {
		t.Fatalf("Delete(active) = %v, want ErrJobActive", err)
	}

	svc.Cancel(job.ID)
	rec.wait(t)
	deadline := time.Now().Add(time.Second)
	for svc.ActiveDrivers() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if len(svc.List()) != 1 {
		t.Fatalf("List() = %d jobs, want 1", len(svc.List()))
	}
	if err := svc.Delete(job.ID); err != nil {
		t.Fatalf("Delete(finished) = %v", err)
	}
	if _, err := svc.Get(job.ID); !errors.Is(err, repository.ErrJobNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
	if err := svc.Delete(job.ID); !errors.Is(err, repository.ErrJobNotFound) {
		t.Errorf("second Delete = %v", err)
	}
}
