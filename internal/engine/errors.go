package engine

import "errors"

// Validation and state errors raised by the engine. Each maps to a stable
// code so callers can branch without string matching.
var (
	// ErrModelNotFound: no model is registered under the requested slug.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelNotPublished: the model exists but is not publicly released.
	ErrModelNotPublished = errors.New("model not published")

	// ErrEndpointNotActive: the model's provider endpoint is deactivated.
	ErrEndpointNotActive = errors.New("model endpoint not active")

	// ErrExecutionNotFound covers both a missing execution and one owned
	// by a different consumer, so existence is never leaked.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionNotCancellable: the execution already reached a terminal
	// status.
	ErrExecutionNotCancellable = errors.New("execution already finished")
)

// Code returns the stable error code for an engine error, or "" for
// errors the engine does not own (e.g. provider transport errors).
func Code(err error) string {
	switch {
	case errors.Is(err, ErrModelNotFound):
		return "model-not-found"
	case errors.Is(err, ErrModelNotPublished):
		return "model-not-published"
	case errors.Is(err, ErrEndpointNotActive):
		return "endpoint-not-active"
	case errors.Is(err, ErrExecutionNotFound):
		return "execution-not-found"
	case errors.Is(err, ErrExecutionNotCancellable):
		return "execution-not-cancellable"
	default:
		return ""
	}
}
