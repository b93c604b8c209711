package model

import (
	"encoding/json"
	"time"
)

// Execution is the persisted record of one submitted unit of work and its
// lifecycle. It is written exclusively by the job engine and never deleted
// by it.
type Execution struct {
	ID            string          `json:"id"`
	ConsumerID    string          `json:"consumer_id"`
	ModelSlug     string          `json:"model_slug"`
	EndpointID    string          `json:"endpoint_id"`
	ProviderJobID string          `json:"provider_job_id,omitempty"`
	Status        Status          `json:"status"`
	Input         json.RawMessage `json:"input,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	DurationMS    *int            `json:"duration_ms,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// JobHandle is returned to the caller after a successful submission.
type JobHandle struct {
	ExecutionID   string    `json:"execution_id"`
	ProviderJobID string    `json:"provider_job_id"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// JobResult is the caller-facing view of an execution's current state.
type JobResult struct {
	ExecutionID string          `json:"execution_id"`
	Status      Status          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	DurationMS  *int            `json:"duration_ms,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
