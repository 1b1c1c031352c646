package domain

import "time"

// LogType classifies a LogEntry for display.
type LogType string

const (
	LogTypeInfo    LogType = "info"
	LogTypeSuccess LogType = "success"
	LogTypeError   LogType = "error"
	LogTypeWarning LogType = "warning"
	LogTypeParam   LogType = "param"
	LogTypeFile    LogType = "file"
)

// LogEntry is one line of a job's output. Entries are immutable once created.
type LogEntry struct {
	Timestamp string  `json:"timestamp"`
	Message   string  `json:"message"`
	Type      LogType `json:"type"`
}

// TimestampLayout is the ISO-8601 layout used for LogEntry timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NewLogEntry stamps a log entry with the given time in UTC.
func NewLogEntry(at time.Time, typ LogType, message string) LogEntry {
	return LogEntry{
		Timestamp: at.UTC().Format(TimestampLayout),
		Message:   message,
		Type:      typ,
	}
}

// Event names pushed over the job channel.
const (
	EventStatusUpdate = "job-status-update"
	EventLog          = "job-log"
	EventProgress     = "job-progress"
	EventCompleted    = "job-completed"
	EventFailed       = "job-failed"

	EventSubscribe   = "subscribe-to-job"
	EventUnsubscribe = "unsubscribe-from-job"
)

// Event is a single message published to a job topic.
// Data holds one of the *Payload types below.
type Event struct {
	Name  string      `json:"event"`
	JobID string      `json:"-"`
	Data  interface{} `json:"data"`
}

// StatusUpdatePayload is the body of job-status-update.
type StatusUpdatePayload struct {
	JobID    string      `json:"jobId"`
	Status   JobStatus   `json:"status"`
	Progress int         `json:"progress"`
	Results  *JobResults `json:"results,omitempty"`
}

// LogPayload is the body of job-log.
type LogPayload struct {
	JobID    string   `json:"jobId"`
	Log      LogEntry `json:"log"`
	Progress int      `json:"progress"`
}

// ProgressPayload is the body of job-progress.
type ProgressPayload struct {
	JobID    string    `json:"jobId"`
	Progress int       `json:"progress"`
	Status   JobStatus `json:"status"`
}

// CompletedPayload is the body of job-completed.
type CompletedPayload struct {
	JobID   string      `json:"jobId"`
	Results *JobResults `json:"results"`
}

// FailedPayload is the body of job-failed.
type FailedPayload struct {
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

// NewStatusUpdateEvent builds a job-status-update event.
func NewStatusUpdateEvent(jobID string, status JobStatus, progress int, results *JobResults) Event {
	return Event{Name: EventStatusUpdate, JobID: jobID, Data: StatusUpdatePayload{
		JobID: jobID, Status: status, Progress: progress, Results: results,
	}}
}

// NewLogEvent builds a job-log event.
func NewLogEvent(jobID string, entry LogEntry, progress int) Event {
	return Event{Name: EventLog, JobID: jobID, Data: LogPayload{JobID: jobID, Log: entry, Progress: progress}}
}

// NewProgressEvent builds a job-progress event.
func NewProgressEvent(jobID string, progress int, status JobStatus) Event {
	return Event{Name: EventProgress, JobID: jobID, Data: ProgressPayload{JobID: jobID, Progress: progress, Status: status}}
}

// NewCompletedEvent builds a job-completed event.
func NewCompletedEvent(jobID string, results *JobResults) Event {
	return Event{Name: EventCompleted, JobID: jobID, Data: CompletedPayload{JobID: jobID, Results: results}}
}

// NewFailedEvent builds a job-failed event.
func NewFailedEvent(jobID string, reason string) Event {
	return Event{Name: EventFailed, JobID: jobID, Data: FailedPayload{JobID: jobID, Error: reason}}
}
