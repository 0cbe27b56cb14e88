package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// Remote job states reported by serverless execution endpoints.
const (
	jobPending   = "pending"
	jobRunning   = "running"
	jobCompleted = "completed"
	jobFailed    = "failed"
	jobTimeout   = "timeout"
)

type submitJobRequest struct {
	ExecutionID string            `json:"execution_id"`
	Language    string            `json:"language"`
	Code        string            `json:"code"`
	Stdin       string            `json:"stdin,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	TimeoutMS   int64             `json:"timeout_ms"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

type jobStatusResponse struct {
	Status   string `json:"status"`
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error"`
}

// RemoteAdapter runs executions through a serverless provider's job
// endpoint: submit, poll until terminal, cancel on deadline. All remote
// providers speak the same protocol behind their bridge endpoints, so one
// adapter covers aws_lambda, gcp_cloud_run and azure_container.
type RemoteAdapter struct {
	name         Provider
	endpoint     string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	logger       *logrus.Logger
}

// NewRemoteAdapter builds an adapter for one remote provider endpoint.
func NewRemoteAdapter(name Provider, endpoint, apiKey string, logger *logrus.Logger) *RemoteAdapter {
	return &RemoteAdapter{
		name:         name,
		endpoint:     endpoint,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: 250 * time.Millisecond,
		logger:       logger,
	}
}

func (a *RemoteAdapter) Name() Provider {
	return a.name
}

// Ping probes the provider's health endpoint.
func (a *RemoteAdapter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/healthz", nil)
	if err != nil {
		return err
	}
	a.authorize(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", a.name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s health check returned %d", a.name, resp.StatusCode)
	}
	return nil
}

// Execute submits the job and polls it to a terminal state. The per-job
// deadline lives on ctx; when it expires the job is cancelled remotely
// and a timeout Result is returned.
func (a *RemoteAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	jobID, err := a.submit(ctx, req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return a.timeoutResult(req, start), nil
		}
		return Result{}, &ProviderError{Provider: a.name, Err: err}
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.cancel(jobID)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return a.timeoutResult(req, start), nil
			}
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		status, err := a.poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return Result{}, &ProviderError{Provider: a.name, Err: err}
		}

		switch status.Status {
		case jobPending, jobRunning:
			continue
		case jobCompleted:
			res := Result{
				Success:  status.ExitCode == 0,
				Output:   status.Output,
				Duration: time.Since(start),
				Provider: a.name,
			}
			if status.ExitCode != 0 {
				res.Error = fmt.Sprintf("exit status %d", status.ExitCode)
			}
			return res, nil
		case jobTimeout:
			return Result{
				TimedOut: true,
				Output:   status.Output,
				Error:    fmt.Sprintf("execution timed out after %s", req.Timeout),
				Duration: time.Since(start),
				Provider: a.name,
			}, nil
		case jobFailed:
			return Result{}, &ProviderError{
				Provider: a.name,
				Err:      fmt.Errorf("job %s failed: %s", jobID, status.Error),
			}
		default:
			return Result{}, &ProviderError{
				Provider: a.name,
				Err:      fmt.Errorf("job %s returned unknown status %q", jobID, status.Status),
			}
		}
	}
}

func (a *RemoteAdapter) submit(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(submitJobRequest{
		ExecutionID: req.ID,
		Language:    req.Language,
		Code:        req.Code,
		Stdin:       req.Stdin,
		Environment: req.Environment,
		TimeoutMS:   req.Timeout.Milliseconds(),
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.authorize(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("job submission returned %d: %s", resp.StatusCode, payload)
	}

	var out submitJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode job submission response: %w", err)
	}
	if out.JobID == "" {
		return "", errors.New("job submission response missing job_id")
	}
	return out.JobID, nil
}

func (a *RemoteAdapter) poll(ctx context.Context, jobID string) (jobStatusResponse, error) {
	var status jobStatusResponse
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/jobs/"+jobID, nil)
	if err != nil {
		return status, err
	}
	a.authorize(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return status, fmt.Errorf("failed to poll job %s: %w", jobID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return status, fmt.Errorf("job poll returned %d: %s", resp.StatusCode, payload)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("failed to decode job status: %w", err)
	}
	return status, nil
}

// cancel tells the provider to stop a job whose deadline passed. Best
// effort with its own deadline; the caller's ctx is already done.
func (a *RemoteAdapter) cancel(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.endpoint+"/jobs/"+jobID, nil)
	if err != nil {
		return
	}
	a.authorize(httpReq)
	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"provider": a.name,
			"job":      jobID,
			"error":    err,
		}).Warn("Failed to cancel remote job")
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (a *RemoteAdapter) authorize(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

func (a *RemoteAdapter) timeoutResult(req Request, start time.Time) Result {
	return Result{
		TimedOut: true,
		Error:    fmt.Sprintf("execution timed out after %s", req.Timeout),
		Duration: time.Since(start),
		Provider: a.name,
	}
}
