package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"runforge/internal/model"
)

const (
	// maxAttempts bounds retries per call: one initial attempt plus two
	// retries keeps worst-case latency under a few seconds.
	maxAttempts = 3

	// backoffBase is the first retry delay; it doubles per attempt.
	backoffBase = 200 * time.Millisecond

	defaultCallTimeout = 10 * time.Second

	maxErrorBodySize = 4 << 10
)

// Compile-time interface satisfaction check.
var _ Client = (*HTTPClient)(nil)

// HTTPClient talks to the provider's job API over HTTP. Safe for
// concurrent use.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	callTimeout time.Duration
	logger      *slog.Logger

	// sleep is swappable in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithCallTimeout sets the per-call timeout for submit/status/cancel.
func WithCallTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.callTimeout = d }
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates a client for the provider API at baseURL,
// authenticating every request with apiKey.
func NewHTTPClient(baseURL, apiKey string, logger *slog.Logger, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		callTimeout: defaultCallTimeout,
		logger:      logger,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// submitResponse is the provider's JSON acknowledgment of a submission.
type submitResponse struct {
	JobID  string               `json:"job_id"`
	Status model.ProviderStatus `json:"status"`
}

// statusResponse is the provider's JSON report of a job's state.
type statusResponse struct {
	Status          model.ProviderStatus `json:"status"`
	Output          json.RawMessage      `json:"output,omitempty"`
	Error           string               `json:"error,omitempty"`
	ExecutionTimeMS *int                 `json:"execution_time_ms,omitempty"`
}

// Submit enqueues a job on the given endpoint.
func (c *HTTPClient) Submit(ctx context.Context, endpointID string, input map[string]any) (SubmitResult, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return SubmitResult{}, &RequestError{Err: fmt.Errorf("marshal input: %w", err)}
	}

	url := fmt.Sprintf("%s/v1/endpoints/%s/jobs", c.baseURL, endpointID)
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, url, body, &resp); err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{JobID: resp.JobID, Status: resp.Status}, nil
}

// Status fetches the current state of a submitted job.
func (c *HTTPClient) Status(ctx context.Context, endpointID, jobID string) (StatusResult, error) {
	url := fmt.Sprintf("%s/v1/endpoints/%s/jobs/%s", c.baseURL, endpointID, jobID)
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		Status:          resp.Status,
		Output:          resp.Output,
		Error:           resp.Error,
		ExecutionTimeMS: resp.ExecutionTimeMS,
	}, nil
}

// Cancel requests cancellation of a job. The provider answers 404/409/410
// for jobs that already finished; those are swallowed here so that cancel
// stays idempotent for the engine.
func (c *HTTPClient) Cancel(ctx context.Context, endpointID, jobID string) error {
	url := fmt.Sprintf("%s/v1/endpoints/%s/jobs/%s/cancel", c.baseURL, endpointID, jobID)
	err := c.doJSON(ctx, http.MethodPost, url, nil, nil)

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode {
		case http.StatusNotFound, http.StatusConflict, http.StatusGone:
			c.logger.Debug("provider cancel no-op", "job_id", jobID, "status", reqErr.StatusCode)
			return nil
		}
	}
	return err
}

// doJSON performs one logical provider call with bounded retries. Retries
// apply only to 429, 5xx, and transport failures; 4xx responses and
// context deadlines fail immediately.
func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffBase << (attempt - 1)
			c.logger.Debug("retrying provider call", "url", url, "attempt", attempt, "delay", delay)
			c.sleep(delay)
		}

		retryable, err := c.doOnce(ctx, method, url, body, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", ErrTimeout, method, url)
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

// doOnce performs a single HTTP attempt. The bool result reports whether
// the failure is retryable.
func (c *HTTPClient) doOnce(ctx context.Context, method, url string, body []byte, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false, &RequestError{Err: err}
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Deadline and cancellation are final; retrying against a dead
		// context only burns backoff time.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return false, err
		}
		return true, &RequestError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, &RequestError{Err: fmt.Errorf("decode response: %w", err)}
		}
		return false, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return true, fmt.Errorf("%w: %s %s", ErrRateLimited, method, url)

	case resp.StatusCode >= 500:
		return true, &RequestError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}

	default:
		return false, &RequestError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
