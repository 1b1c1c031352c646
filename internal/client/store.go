package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
)

var (
	// errServerUnavailable is reported by ExecuteJob while the channel is down.
	errServerUnavailable = errors.New("Job server is not available. Please start the backend server.")
	// errSubmissionCancelled is reported by ExecuteJob when CancelJob or ResetJob
	// ran while the submission was in flight.
	errSubmissionCancelled = errors.New("cancelled")
)

// State is a snapshot of the client's view of the current job.
type State struct {
	Status   domain.JobStatus   `json:"status"`
	Progress int                `json:"progress"`
	Logs     []domain.LogEntry  `json:"logs"`
	Results  *domain.JobResults `json:"results,omitempty"`
	JobID    string             `json:"jobId,omitempty"`

	IsConnected bool `json:"isConnected"`

	InputFields              []domain.InputField   `json:"inputFields"`
	UploadedFiles            []domain.UploadedFile `json:"uploadedFiles"`
	IsInputsValid            bool                  `json:"isInputsValid"`
	IsFilesValid             bool                  `json:"isFilesValid"`
	AllRequiredFilesUploaded bool                  `json:"allRequiredFilesUploaded"`

	// Derived from the fields above on every mutation.
	IsRunning    bool `json:"isRunning"`
	IsReadyToRun bool `json:"isReadyToRun"`
}

func (s State) clone() State {
	out := s
	out.Logs = append([]domain.LogEntry{}, s.Logs...)
	out.InputFields = append([]domain.InputField{}, s.InputFields...)
	out.UploadedFiles = append([]domain.UploadedFile{}, s.UploadedFiles...)
	if s.Results != nil {
		out.Results = s.Results.Clone()
	}
	return out
}

// Result is the outcome of ExecuteJob. Failures are reported here, never raised.
type Result struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StoreConfig configures a Store.
type StoreConfig struct {
	ServerURL      string
	RequestTimeout time.Duration
	// ConnectDelay postpones the first dial after Start.
	ConnectDelay time.Duration
	Channel      ChannelConfig
}

// Store holds the client's job state and reconciles channel events into it.
// Create one per process and share it.
type Store struct {
	api      *API
	channel  *Channel
	notifier Notifier
	log      *logger.Logger
	cfg      StoreConfig

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
	// generation changes on every submission, cancel and reset.
	generation uint64

	runMu   sync.Mutex
	stopRun context.CancelFunc
	runDone chan struct{}
}

// NewStore creates an idle store. Call Start to open the event channel.
// Parameters:
//   - cfg: server location and connection tuning.
//   - notifier: receives user-facing messages; nil logs them.
//   - log: logger instance; nil uses the default logger.
//
// Returns:
//   - *Store: initialized store.
//   - error: non-nil if the server URL cannot be used.
func NewStore(cfg StoreConfig, notifier Notifier, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	log = log.WithField(logger.FieldComponent, "job-store")
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}

	s := &Store{
		api:       NewAPI(cfg.ServerURL, cfg.RequestTimeout),
		notifier:  notifier,
		log:       log,
		cfg:       cfg,
		listeners: make(map[int]func(State)),
		state: State{
			Status:        domain.JobStatusIdle,
			Logs:          []domain.LogEntry{},
			InputFields:   []domain.InputField{},
			UploadedFiles: []domain.UploadedFile{},
		},
	}

	ch, err := NewChannel(cfg.ServerURL, cfg.Channel, ChannelCallbacks{
		OnConnect:         s.handleConnect,
		OnDisconnect:      s.handleDisconnect,
		OnReconnectFailed: s.handleReconnectFailed,
		OnEvent:           s.handleEvent,
	}, log)
	if err != nil {
		return nil, err
	}
	s.channel = ch
	return s, nil
}

// API returns the HTTP client used by the store.
func (s *Store) API() *API {
	return s.api
}

// Start opens the event channel after ConnectDelay. It returns immediately.
func (s *Store) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runDone != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.stopRun = cancel
	s.runDone = make(chan struct{})

	go func() {
		defer close(s.runDone)
		if !sleepCtx(ctx, s.cfg.ConnectDelay) {
			return
		}
		s.channel.Run(ctx)
	}()
}

// Close disconnects the channel and waits for it to stop.
func (s *Store) Close() {
	s.runMu.Lock()
	stop, done := s.stopRun, s.runDone
	s.runMu.Unlock()

	s.channel.Close()
	if stop != nil {
		stop()
		<-done
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// OnChange registers fn to be called with a snapshot after every change.
// Calls are made outside the store lock. The returned func removes fn.
func (s *Store) OnChange(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// update mutates the state, refreshes derived fields and notifies listeners.
func (s *Store) update(fn func(st *State)) State {
	s.mu.Lock()
	fn(&s.state)
	s.state.IsRunning = s.state.Status.IsActive()
	s.state.IsReadyToRun = s.state.IsInputsValid && s.state.IsFilesValid &&
		s.state.AllRequiredFilesUploaded && !s.state.IsRunning
	snap := s.state.clone()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return snap
}

// SetInputFields replaces the parameter list.
func (s *Store) SetInputFields(fields []domain.InputField) {
	s.update(func(st *State) { st.InputFields = append([]domain.InputField{}, fields...) })
}

// SetUploadedFiles replaces the file list.
func (s *Store) SetUploadedFiles(files []domain.UploadedFile) {
	s.update(func(st *State) { st.UploadedFiles = append([]domain.UploadedFile{}, files...) })
}

// SetInputsValid records whether the parameter form validates.
func (s *Store) SetInputsValid(valid bool) {
	s.update(func(st *State) { st.IsInputsValid = valid })
}

// SetFilesValid records whether the file form validates.
func (s *Store) SetFilesValid(valid bool) {
	s.update(func(st *State) { st.IsFilesValid = valid })
}

// SetAllRequiredFilesUploaded records whether every required file is present.
func (s *Store) SetAllRequiredFilesUploaded(uploaded bool) {
	s.update(func(st *State) { st.AllRequiredFilesUploaded = uploaded })
}

// Submission builds a JobSubmission from the configured fields and files.
func (s *Store) Submission() domain.JobSubmission {
	snap := s.Snapshot()
	return domain.JobSubmission{InputFields: snap.InputFields, UploadedFiles: snap.UploadedFiles}
}

// ExecuteJob submits sub and subscribes to its events.
// It never returns an error; failures set the status to failed, raise a
// notification and come back in the Result.
func (s *Store) ExecuteJob(ctx context.Context, sub domain.JobSubmission) Result {
	if !s.channel.Connected() {
		return s.submissionFailed(errServerUnavailable)
	}

	prev := s.Snapshot().JobID
	if prev != "" {
		_ = s.channel.Unsubscribe(prev)
	}
	var gen uint64
	s.update(func(st *State) {
		s.generation++
		gen = s.generation
		st.Status = domain.JobStatusQueued
		st.Progress = 0
		st.Logs = []domain.LogEntry{}
		st.Results = nil
		st.JobID = ""
	})

	resp, err := s.api.RunJob(ctx, sub)
	if err != nil {
		if !s.isCurrent(gen) {
			return s.submissionSuperseded("")
		}
		return s.submissionFailed(err)
	}

	var stale bool
	s.update(func(st *State) {
		if s.generation != gen {
			stale = true
			return
		}
		st.JobID = resp.JobID
	})
	if stale {
		return s.submissionSuperseded(resp.JobID)
	}
	if err := s.channel.Subscribe(resp.JobID); err != nil {
		// The subscription is replayed once the channel reconnects.
		s.log.WithError(err).WithField(logger.FieldJobID, resp.JobID).Warn("Subscribe deferred")
	}
	if !s.isCurrent(gen) {
		// CancelJob ran between adopting the id and subscribing.
		_ = s.channel.Unsubscribe(resp.JobID)
		return s.submissionSuperseded(resp.JobID)
	}

	s.log.WithField(logger.FieldJobID, resp.JobID).Info("Job submitted")
	s.notifier.Notify(LevelInfo, "Job queued for execution", "")
	return Result{Success: true, JobID: resp.JobID}
}

func (s *Store) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

// submissionSuperseded reports a submission that was cancelled while in flight.
// The store state already belongs to whoever cancelled it.
func (s *Store) submissionSuperseded(jobID string) Result {
	s.log.WithField(logger.FieldJobID, jobID).Info("Submission cancelled before it was adopted")
	return Result{Success: false, JobID: jobID, Error: errSubmissionCancelled.Error()}
}

func (s *Store) submissionFailed(err error) Result {
	s.log.WithError(err).Error("Job execution error")
	s.update(func(st *State) {
		st.Status = domain.JobStatusFailed
		st.Results = nil
	})
	msg := err.Error()
	s.notifier.Notify(LevelError, "Failed to start job: "+msg, "")
	return Result{Success: false, Error: msg}
}

// CancelJob detaches from the current job and returns to idle. The server
// keeps processing the job; later events for it are ignored.
func (s *Store) CancelJob() {
	s.detach()
	s.update(func(st *State) {
		s.generation++
		st.Status = domain.JobStatusIdle
		st.Progress = 0
		st.Results = nil
		st.JobID = ""
	})
	s.notifier.Notify(LevelInfo, "Job cancelled", "")
}

// ResetJob detaches from the current job and clears all job and form state.
func (s *Store) ResetJob() {
	s.detach()
	s.update(func(st *State) {
		s.generation++
		st.Status = domain.JobStatusIdle
		st.Progress = 0
		st.Logs = []domain.LogEntry{}
		st.Results = nil
		st.JobID = ""
		st.InputFields = []domain.InputField{}
		st.UploadedFiles = []domain.UploadedFile{}
		st.IsInputsValid = false
		st.IsFilesValid = false
		st.AllRequiredFilesUploaded = false
	})
}

// ClearLogs empties the local log list only.
func (s *Store) ClearLogs() {
	s.update(func(st *State) { st.Logs = []domain.LogEntry{} })
}

// FetchJob loads the current job from the server and adopts its state,
// filling in events that were missed before the subscription took effect.
func (s *Store) FetchJob(ctx context.Context) (*domain.Job, error) {
	jobID := s.Snapshot().JobID
	if jobID == "" {
		return nil, errors.New("no job submitted")
	}

	job, err := s.api.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job details: %w", err)
	}

	s.update(func(st *State) {
		if st.JobID != job.ID {
			return
		}
		st.Status = job.Status
		st.Progress = max(st.Progress, job.Progress)
		if len(job.Logs) >= len(st.Logs) {
			st.Logs = append([]domain.LogEntry{}, job.Logs...)
		}
		st.Results = nil
		if job.Status == domain.JobStatusCompleted {
			st.Results = job.Results
		}
	})
	return job, nil
}

func (s *Store) detach() {
	if jobID := s.Snapshot().JobID; jobID != "" {
		_ = s.channel.Unsubscribe(jobID)
	}
}

func (s *Store) handleConnect() {
	s.update(func(st *State) { st.IsConnected = true })
	s.notifier.Notify(LevelSuccess, "Connected to job server", "")
}

func (s *Store) handleDisconnect(reason DisconnectReason, _ error) {
	s.update(func(st *State) { st.IsConnected = false })
	switch reason {
	case ServerClosed:
		s.notifier.Notify(LevelError, "Server disconnected", "")
	case ConnectionLost:
		s.notifier.Notify(LevelWarning, "Connection lost, trying to reconnect...", "")
	}
}

func (s *Store) handleReconnectFailed(err error) {
	s.update(func(st *State) { st.IsConnected = false })
	desc := ""
	if err != nil {
		desc = err.Error()
	}
	s.notifier.Notify(LevelWarning, "Job server unavailable - live updates disabled", desc)
}

// handleEvent applies one channel event. Events for any job other than the
// current one are dropped.
func (s *Store) handleEvent(name string, data json.RawMessage) {
	var probe struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		s.log.WithError(err).WithField(logger.FieldEvent, name).Debug("Ignoring malformed event")
		return
	}
	if probe.JobID == "" || probe.JobID != s.Snapshot().JobID {
		return
	}

	switch name {
	case domain.EventStatusUpdate:
		var p domain.StatusUpdatePayload
		if json.Unmarshal(data, &p) == nil {
			s.applyStatus(p)
		}
	case domain.EventLog:
		var p domain.LogPayload
		if json.Unmarshal(data, &p) == nil {
			s.applyCurrent(p.JobID, func(st *State) {
				st.Logs = append(st.Logs, p.Log)
				st.Progress = max(st.Progress, p.Progress)
			})
		}
	case domain.EventProgress:
		var p domain.ProgressPayload
		if json.Unmarshal(data, &p) == nil {
			s.applyCurrent(p.JobID, func(st *State) { st.Progress = max(st.Progress, p.Progress) })
			if p.Progress%25 == 0 && p.Progress > 0 && p.Progress < 100 {
				s.notifier.Notify(LevelInfo, fmt.Sprintf("Job Progress: %d%%", p.Progress), "Job execution in progress...")
			}
		}
	case domain.EventCompleted:
		var p domain.CompletedPayload
		if json.Unmarshal(data, &p) == nil {
			s.applyCurrent(p.JobID, func(st *State) {
				st.Status = domain.JobStatusCompleted
				st.Progress = 100
				st.Results = p.Results
			})
		}
	case domain.EventFailed:
		var p domain.FailedPayload
		if json.Unmarshal(data, &p) == nil {
			s.applyCurrent(p.JobID, func(st *State) {
				st.Status = domain.JobStatusFailed
				st.Results = nil
			})
			s.log.WithField(logger.FieldJobID, p.JobID).Warnf("Job failed: %s", p.Error)
		}
	default:
		s.log.WithField(logger.FieldEvent, name).Debug("Ignoring unknown event")
	}
}

// applyCurrent runs fn only if jobID is still the current job, checked under
// the same lock as the mutation.
func (s *Store) applyCurrent(jobID string, fn func(st *State)) bool {
	applied := false
	s.update(func(st *State) {
		if st.JobID != jobID {
			return
		}
		fn(st)
		applied = true
	})
	return applied
}

func (s *Store) applyStatus(p domain.StatusUpdatePayload) {
	applied := s.applyCurrent(p.JobID, func(st *State) {
		st.Status = p.Status
		st.Progress = max(st.Progress, p.Progress)
		switch {
		case p.Status != domain.JobStatusCompleted:
			st.Results = nil
		case p.Results != nil:
			st.Results = p.Results
		}
	})
	if !applied {
		return
	}

	switch p.Status {
	case domain.JobStatusQueued:
		s.notifier.Notify(LevelInfo, "Job queued for execution", "")
	case domain.JobStatusRunning:
		s.notifier.Notify(LevelSuccess, "Job started running", "")
	case domain.JobStatusCompleted:
		s.notifier.Notify(LevelSuccess, "Job completed successfully!", "Check the results below")
	case domain.JobStatusFailed:
		s.notifier.Notify(LevelError, "Job execution failed", "")
	}
}
