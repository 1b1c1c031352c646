package domain

import "time"

// JobStatus represents the lifecycle state of an analysis job.
// Values include JobStatusQueued, JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
// JobStatusIdle is only ever held by clients that have not submitted anything yet.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the job is queued or running.
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Job is the authoritative server-side record of one simulated analysis run.
type Job struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	Progress    int           `json:"progress"`
	CreatedAt   time.Time     `json:"createdAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Data        JobSubmission `json:"data"`
	Logs        []LogEntry    `json:"logs"`
	Results     *JobResults   `json:"results,omitempty"`
}

// Clone returns a deep copy so callers can read it without holding store locks.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Logs = append([]LogEntry(nil), j.Logs...)
	if out.Logs == nil {
		out.Logs = []LogEntry{}
	}
	out.Data = j.Data.Clone()
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Results != nil {
		out.Results = j.Results.Clone()
	}
	return &out
}

// JobResults is the canned outcome attached to a completed job.
type JobResults struct {
	Summary string        `json:"summary"`
	Reports []Report      `json:"reports"`
	Metrics ResultMetrics `json:"metrics"`
}

// Report describes one downloadable artifact of a completed job.
type Report struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Size        string `json:"size"`
	DownloadURL string `json:"downloadUrl"`
}

// ResultMetrics summarises what a job consumed.
type ResultMetrics struct {
	FilesProcessed int    `json:"filesProcessed"`
	ParametersUsed int    `json:"parametersUsed"`
	ProcessingTime string `json:"processingTime"`
	RiskScore      string `json:"riskScore"`
}

// Clone returns a deep copy of the results.
func (r *JobResults) Clone() *JobResults {
	if r == nil {
		return nil
	}
	out := *r
	out.Reports = append([]Report(nil), r.Reports...)
	return &out
}
