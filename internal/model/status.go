package model

// Status is the engine's execution status vocabulary.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// ProviderStatus is the status vocabulary of the remote compute provider.
type ProviderStatus string

const (
	ProviderInQueue    ProviderStatus = "IN_QUEUE"
	ProviderInProgress ProviderStatus = "IN_PROGRESS"
	ProviderCompleted  ProviderStatus = "COMPLETED"
	ProviderFailed     ProviderStatus = "FAILED"
	ProviderCancelled  ProviderStatus = "CANCELLED"
	ProviderTimedOut   ProviderStatus = "TIMED_OUT"
)

// Terminal reports whether s is a terminal status. A terminal execution
// never transitions again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// TranslateStatus maps a provider status to the engine vocabulary.
// Unrecognized provider statuses map to PENDING so that an unknown value
// is treated as "not yet known" and re-resolved on a later poll, never as
// a terminal state.
func TranslateStatus(ps ProviderStatus) Status {
	switch ps {
	case ProviderInQueue:
		return StatusQueued
	case ProviderInProgress:
		return StatusRunning
	case ProviderCompleted:
		return StatusCompleted
	case ProviderFailed:
		return StatusFailed
	case ProviderCancelled:
		return StatusCancelled
	case ProviderTimedOut:
		return StatusTimedOut
	default:
		return StatusPending
	}
}
