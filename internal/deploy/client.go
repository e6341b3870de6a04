// Package deploy talks to the cloud-manager status endpoint and adapts remote
// deployment jobs into operation handles.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	foremanerrors "foreman/internal/errors"
	"foreman/internal/logging"
	"foreman/internal/monitor"
)

const maxResponseBytes = 1 << 20 // 1 MiB

// Client polls deployment job status from the cloud manager.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *foremanerrors.CircuitBreaker
	logger  logging.Logger
}

// NewClient creates a status client with a circuit breaker in front of the
// cloud manager.
func NewClient(baseURL string, timeout time.Duration, logger logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger = logging.OrNop(logger)
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: foremanerrors.NewCircuitBreaker("cloud-manager", foremanerrors.DefaultCircuitBreakerConfig(), logger),
		logger:  logger,
	}
}

// JobStatus fetches the {state, status, message} triple for a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (monitor.StatusReport, error) {
	if err := c.breaker.Allow(); err != nil {
		return monitor.StatusReport{}, err
	}
	report, err := c.fetchStatus(ctx, jobID)
	c.breaker.Mark(err)
	return report, err
}

func (c *Client) fetchStatus(ctx context.Context, jobID string) (monitor.StatusReport, error) {
	endpoint := fmt.Sprintf("%s/api/jobs/%s/status", c.baseURL, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return monitor.StatusReport{}, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return monitor.StatusReport{}, fmt.Errorf("status request for job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	body, err := readAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return monitor.StatusReport{}, fmt.Errorf("read status response for job %s: %w", jobID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return monitor.StatusReport{}, fmt.Errorf("status request for job %s: http %d", jobID, resp.StatusCode)
	}

	var report monitor.StatusReport
	if err := json.Unmarshal(body, &report); err != nil {
		return monitor.StatusReport{}, fmt.Errorf("decode status response for job %s: %w", jobID, err)
	}
	return report, nil
}

// readAllWithLimit reads the body up to limit bytes, erroring beyond it.
func readAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeded limit of %d bytes", limit)
	}
	return data, nil
}

// JobHandle adapts a remote deployment job to monitor.Handle.
//
// Remote jobs never self-report exit through Wait and cannot be cancelled:
// Terminate and Kill are no-ops, and a timed-out monitor simply stops
// watching the job.
type JobHandle struct {
	client *Client
	jobID  string
}

// NewJobHandle wraps a remote job id.
func NewJobHandle(client *Client, jobID string) *JobHandle {
	return &JobHandle{client: client, jobID: jobID}
}

// Wait sleeps out the poll interval; remote jobs only finish via status polls.
func (h *JobHandle) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Poll fetches the job's current status report.
func (h *JobHandle) Poll(ctx context.Context) (monitor.StatusReport, bool, error) {
	report, err := h.client.JobStatus(ctx, h.jobID)
	if err != nil {
		return monitor.StatusReport{}, true, err
	}
	return report, true, nil
}

// Terminate is a no-op; the cloud manager offers no cancellation call.
func (h *JobHandle) Terminate() error { return nil }

// Kill is a no-op for remote jobs.
func (h *JobHandle) Kill() error { return nil }

// Describe identifies the job for logging.
func (h *JobHandle) Describe() string {
	return fmt.Sprintf("deployment job %s", h.jobID)
}
