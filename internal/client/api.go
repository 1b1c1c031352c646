package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kaxterzz/job-runner/internal/domain"
)

// ErrJobNotFound is returned when the server has no record for a job id.
var ErrJobNotFound = errors.New("job not found")

// APIError is a non-success response from the job server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("Server responded with %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("Server responded with %d: %s", e.StatusCode, e.Message)
}

// RunResponse is the body of POST /api/jobs/run.
type RunResponse struct {
	Success bool             `json:"success"`
	JobID   string           `json:"jobId"`
	Status  domain.JobStatus `json:"status"`
	Error   string           `json:"error,omitempty"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type logsBody struct {
	Logs []domain.LogEntry `json:"logs"`
}

// API calls the job server's HTTP endpoints.
type API struct {
	client  *resty.Client
	baseURL string
}

// NewAPI creates an HTTP client for the server at baseURL.
func NewAPI(baseURL string, timeout time.Duration) *API {
	baseURL = strings.TrimRight(baseURL, "/")

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	return &API{client: client, baseURL: baseURL}
}

// BaseURL returns the server URL the client talks to.
func (a *API) BaseURL() string {
	return a.baseURL
}

// RunJob submits a job and returns the server's acknowledgement.
func (a *API) RunJob(ctx context.Context, sub domain.JobSubmission) (*RunResponse, error) {
	var result RunResponse
	var failure errorBody
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(sub.Clone()).
		SetResult(&result).
		SetError(&failure).
		Post("/api/jobs/run")
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: failure.Error}
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "Failed to start job execution"
		}
		return nil, errors.New(msg)
	}
	return &result, nil
}

// GetJob fetches the full job record.
func (a *API) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := a.get(ctx, "/api/jobs/{jobId}", jobID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetLogs fetches the log entries recorded so far.
func (a *API) GetLogs(ctx context.Context, jobID string) ([]domain.LogEntry, error) {
	var body logsBody
	if err := a.get(ctx, "/api/jobs/{jobId}/logs", jobID, &body); err != nil {
		return nil, err
	}
	return body.Logs, nil
}

// CancelJob asks the server to stop the job's driver.
func (a *API) CancelJob(ctx context.Context, jobID string) error {
	var failure errorBody
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("jobId", jobID).
		SetError(&failure).
		Post("/api/jobs/{jobId}/cancel")
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	return a.checkLookup(resp, failure)
}

func (a *API) get(ctx context.Context, path, jobID string, out interface{}) error {
	var failure errorBody
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("jobId", jobID).
		SetResult(out).
		SetError(&failure).
		Get(path)
	if err != nil {
		return fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	return a.checkLookup(resp, failure)
}

func (a *API) checkLookup(resp *resty.Response, failure errorBody) error {
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return ErrJobNotFound
	case resp.IsError():
		return &APIError{StatusCode: resp.StatusCode(), Message: failure.Error}
	}
	return nil
}
