package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"runforge/internal/model"
)

// ErrNotFound is returned when an execution or model does not exist, or is
// not visible to the requesting identity.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyTerminal is returned by FinishExecution when the execution
// already reached a terminal status. Terminal rows are immutable.
var ErrAlreadyTerminal = errors.New("execution already terminal")

// ErrSlugTaken is returned when creating a model with a slug that is
// already registered.
var ErrSlugTaken = errors.New("model slug already taken")

// FinishUpdate carries everything written atomically when an execution
// goes terminal.
type FinishUpdate struct {
	Status      model.Status
	Output      json.RawMessage
	Error       string
	ErrorCode   string
	DurationMS  *int
	CompletedAt time.Time
}

// ExecutionStats holds aggregate execution statistics.
type ExecutionStats struct {
	Total         int                  `json:"total"`
	CountByStatus map[model.Status]int `json:"count_by_status"`
	CountByModel  map[string]int       `json:"count_by_model"`
	AvgDurationMS float64              `json:"avg_duration_ms"`
}

// Store defines the persistence operations for executions and model
// definitions.
type Store interface {
	CreateExecution(ctx context.Context, ex *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	// GetExecutionForConsumer returns ErrNotFound both for missing rows and
	// rows owned by a different consumer, so existence is never leaked.
	GetExecutionForConsumer(ctx context.Context, id, consumerID string) (*model.Execution, error)
	ListExecutions(ctx context.Context, consumerID string, limit, offset int) ([]*model.Execution, int, error)

	// MarkSubmitted records the provider job id and initial provider-reported
	// status once remote submission succeeds.
	MarkSubmitted(ctx context.Context, id, providerJobID string, status model.Status) error

	// UpdateExecutionStatus records a non-terminal progress transition. A
	// write against a row that already went terminal is silently ignored;
	// terminal state is immutable and stale reads must not win.
	UpdateExecutionStatus(ctx context.Context, id string, status model.Status) error

	// FinishExecution atomically moves an execution to a terminal status.
	// Returns ErrAlreadyTerminal if the row went terminal concurrently.
	FinishExecution(ctx context.Context, id string, fin FinishUpdate) error

	GetExecutionStats(ctx context.Context) (*ExecutionStats, error)

	CreateModel(ctx context.Context, md *model.ModelDefinition) error
	GetModelBySlug(ctx context.Context, slug string) (*model.ModelDefinition, error)
	ListModels(ctx context.Context, publishedOnly bool) ([]*model.ModelDefinition, error)
	UpdateModel(ctx context.Context, md *model.ModelDefinition) error

	Close() error
}
