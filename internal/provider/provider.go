// Package provider wraps the remote GPU compute provider's job API behind
// a small client interface, isolating transport concerns (timeouts, retry,
// error classification) from the job engine.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"runforge/internal/model"
)

// Stable transport error codes exposed to callers and recorded on failed
// executions.
const (
	CodeTimeout       = "timeout"
	CodeRateLimited   = "rate-limited"
	CodeRequestFailed = "request-failed"
)

// ErrTimeout is returned when the provider does not respond within the
// client's per-call timeout.
var ErrTimeout = errors.New("compute provider timed out")

// ErrRateLimited is returned when the provider keeps responding 429 after
// the client's retry budget is exhausted. Retryable by the caller with
// its own backoff.
var ErrRateLimited = errors.New("compute provider rate limited")

// RequestError is any other failed provider request: a non-2xx response
// or a transport-level failure.
type RequestError struct {
	StatusCode int // 0 for transport failures
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider request failed: %v", e.Err)
	}
	return fmt.Sprintf("provider request failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ErrorCode maps a client error to its stable transport code. Unrecognized
// errors classify as request-failed.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeRequestFailed
	}
}

// SubmitResult is the provider's acknowledgment of a submitted job.
type SubmitResult struct {
	JobID  string
	Status model.ProviderStatus
}

// StatusResult is the provider's report of a job's current state. Output
// is only present for completed jobs; the provider may legitimately return
// success with no output while the job is still in flight.
type StatusResult struct {
	Status          model.ProviderStatus
	Output          json.RawMessage
	Error           string
	ExecutionTimeMS *int
}

// Client is the interface the job engine uses to talk to the compute
// provider.
type Client interface {
	// Submit enqueues a job on the given endpoint.
	Submit(ctx context.Context, endpointID string, input map[string]any) (SubmitResult, error)

	// Status fetches the current state of a previously submitted job.
	Status(ctx context.Context, endpointID, jobID string) (StatusResult, error)

	// Cancel requests cancellation of a job. Cancelling a job the provider
	// already finished is a no-op, not an error.
	Cancel(ctx context.Context, endpointID, jobID string) error
}
