package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"runforge/internal/inputs"
	"runforge/internal/model"
	"runforge/internal/provider"
	"runforge/internal/store"
)

// Error codes recorded on executions that fail on the provider side, as
// opposed to transport codes from the provider package.
const (
	codeExecutionFailed = "execution-failed"
	codeExecutionTimed  = "execution-timed-out"
)

// ModelRegistry resolves model definitions by slug. Satisfied by the
// store; kept as its own interface so tests can fake the registry
// independently of execution persistence.
type ModelRegistry interface {
	GetModelBySlug(ctx context.Context, slug string) (*model.ModelDefinition, error)
}

// Engine orchestrates the job lifecycle: submit, poll, cancel. It is
// invoked per-request and keeps no in-memory execution state; the store
// is the sole arbiter of concurrent mutation.
type Engine struct {
	store    store.Store
	registry ModelRegistry
	compute  provider.Client
	logger   *slog.Logger
	broker   *EventBroker
}

// NewEngine creates a new job engine.
func NewEngine(s store.Store, reg ModelRegistry, compute provider.Client, logger *slog.Logger) *Engine {
	return &Engine{
		store:    s,
		registry: reg,
		compute:  compute,
		logger:   logger,
		broker:   NewEventBroker(),
	}
}

// Broker returns the engine's status event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// SubmitJob validates the target model, normalizes the user input against
// the model's overrides, persists a PENDING execution, and submits the job
// to the compute provider.
//
// Each call creates exactly one execution and performs at most one remote
// submission. Caller-side request retries arrive here as fresh executions;
// the engine does not deduplicate by payload. If the provider call fails,
// the execution is marked FAILED with the transport error and the error is
// returned unchanged.
func (e *Engine) SubmitJob(ctx context.Context, consumerID, modelSlug string, userInput map[string]any) (*model.JobHandle, error) {
	md, err := e.registry.GetModelBySlug(ctx, modelSlug)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}
	if !md.Published {
		return nil, ErrModelNotPublished
	}
	if !md.EndpointActive {
		return nil, ErrEndpointNotActive
	}

	payload := inputs.Normalize(userInput, md.Overrides)
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	// Persisting before the remote call keeps failed submissions auditable.
	ex := &model.Execution{
		ID:         model.NewID(),
		ConsumerID: consumerID,
		ModelSlug:  md.Slug,
		EndpointID: md.EndpointID,
		Status:     model.StatusPending,
		Input:      encoded,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, ex); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	jobsSubmittedTotal.Inc()

	sub, err := e.compute.Submit(ctx, md.EndpointID, payload)
	if err != nil {
		e.failSubmission(ex, err)
		return nil, err
	}

	status := model.TranslateStatus(sub.Status)
	if err := e.store.MarkSubmitted(ctx, ex.ID, sub.JobID, status); err != nil {
		e.logger.Error("failed to record submission", "execution_id", ex.ID, "error", err)
	}
	e.broker.Publish(ex.ID, status)

	e.logger.Info("job submitted",
		"execution_id", ex.ID,
		"model", md.Slug,
		"provider_job_id", sub.JobID,
		"status", status,
	)

	return &model.JobHandle{
		ExecutionID:   ex.ID,
		ProviderJobID: sub.JobID,
		Status:        status,
		CreatedAt:     ex.CreatedAt,
	}, nil
}

// failSubmission marks an execution FAILED after a provider submit error.
// Uses a background context so the record is written even if the caller's
// request context is already dead.
func (e *Engine) failSubmission(ex *model.Execution, cause error) {
	now := time.Now().UTC()
	durationMS := int(now.Sub(ex.CreatedAt).Milliseconds())

	fin := store.FinishUpdate{
		Status:      model.StatusFailed,
		Error:       cause.Error(),
		ErrorCode:   provider.ErrorCode(cause),
		DurationMS:  &durationMS,
		CompletedAt: now,
	}
	if err := e.store.FinishExecution(context.Background(), ex.ID, fin); err != nil {
		e.logger.Error("failed to record submission failure", "execution_id", ex.ID, "error", err)
	}
	jobsFinishedTotal.WithLabelValues(string(model.StatusFailed)).Inc()
	e.broker.Publish(ex.ID, model.StatusFailed)
	e.broker.Close(ex.ID)
}

// GetJobStatus returns the current state of an execution, refreshing it
// from the provider when the stored state is not yet terminal. Terminal
// rows are returned as stored, with no remote call.
//
// A transport failure during the provider poll leaves the stored row
// untouched and is surfaced as-is: a failed poll is not evidence the job
// failed, only that its status is currently unknown.
func (e *Engine) GetJobStatus(ctx context.Context, executionID, consumerID string) (*model.JobResult, error) {
	ex, err := e.store.GetExecutionForConsumer(ctx, executionID, consumerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}

	if ex.Status.Terminal() {
		return resultOf(ex), nil
	}

	// No provider job id means the submission never completed (the process
	// died between create and submit); there is nothing to poll yet.
	if ex.ProviderJobID == "" {
		return resultOf(ex), nil
	}

	st, err := e.compute.Status(ctx, ex.EndpointID, ex.ProviderJobID)
	if err != nil {
		return nil, err
	}

	status := model.TranslateStatus(st.Status)
	if !status.Terminal() {
		// PENDING means the provider reported something we don't recognize;
		// keep the stored status and let a later poll resolve it.
		if status != ex.Status && status != model.StatusPending {
			if err := e.store.UpdateExecutionStatus(ctx, ex.ID, status); err != nil {
				e.logger.Error("failed to record progress", "execution_id", ex.ID, "error", err)
			}
			e.broker.Publish(ex.ID, status)
			ex.Status = status
		}
		return resultOf(ex), nil
	}

	now := time.Now().UTC()
	durationMS := executionDuration(ex, st.ExecutionTimeMS, now)
	fin := store.FinishUpdate{
		Status:      status,
		Output:      st.Output,
		Error:       st.Error,
		ErrorCode:   providerErrorCode(status),
		DurationMS:  &durationMS,
		CompletedAt: now,
	}

	err = e.store.FinishExecution(ctx, ex.ID, fin)
	if errors.Is(err, store.ErrAlreadyTerminal) {
		// Lost the race against a concurrent poll or cancel; the stored
		// terminal row wins.
		stored, rerr := e.store.GetExecutionForConsumer(ctx, ex.ID, consumerID)
		if rerr != nil {
			return nil, fmt.Errorf("reload execution: %w", rerr)
		}
		return resultOf(stored), nil
	}
	if err != nil {
		return nil, fmt.Errorf("finish execution: %w", err)
	}

	jobsFinishedTotal.WithLabelValues(string(status)).Inc()
	e.broker.Publish(ex.ID, status)
	e.broker.Close(ex.ID)

	e.logger.Info("job finished",
		"execution_id", ex.ID,
		"status", status,
		"duration_ms", durationMS,
	)

	ex.Status = status
	ex.Output = st.Output
	ex.Error = st.Error
	ex.ErrorCode = fin.ErrorCode
	ex.DurationMS = &durationMS
	ex.CompletedAt = &now
	return resultOf(ex), nil
}

// CancelJob requests cancellation of an in-flight execution. Cancellation
// is cooperative: the provider may still finish the job moments later, in
// which case the terminal-write guard keeps the first terminal status.
func (e *Engine) CancelJob(ctx context.Context, executionID, consumerID string) error {
	ex, err := e.store.GetExecutionForConsumer(ctx, executionID, consumerID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrExecutionNotFound
	}
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}

	if ex.Status.Terminal() {
		return ErrExecutionNotCancellable
	}

	if ex.ProviderJobID != "" {
		// Idempotent at the client layer: an "already finished" provider
		// response comes back as a no-op.
		if err := e.compute.Cancel(ctx, ex.EndpointID, ex.ProviderJobID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	durationMS := executionDuration(ex, nil, now)
	fin := store.FinishUpdate{
		Status:      model.StatusCancelled,
		DurationMS:  &durationMS,
		CompletedAt: now,
	}

	err = e.store.FinishExecution(ctx, ex.ID, fin)
	if errors.Is(err, store.ErrAlreadyTerminal) {
		return ErrExecutionNotCancellable
	}
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}

	jobsFinishedTotal.WithLabelValues(string(model.StatusCancelled)).Inc()
	e.broker.Publish(ex.ID, model.StatusCancelled)
	e.broker.Close(ex.ID)

	e.logger.Info("job cancelled", "execution_id", ex.ID)
	return nil
}

// executionDuration prefers the provider-reported execution time, falling
// back to wall clock since the job started (or was created).
func executionDuration(ex *model.Execution, providerMS *int, now time.Time) int {
	if providerMS != nil && *providerMS > 0 {
		return *providerMS
	}
	since := ex.CreatedAt
	if ex.StartedAt != nil {
		since = *ex.StartedAt
	}
	return int(now.Sub(since).Milliseconds())
}

// providerErrorCode classifies a provider-side terminal failure, as
// opposed to the transport codes in the provider package.
func providerErrorCode(status model.Status) string {
	switch status {
	case model.StatusFailed:
		return codeExecutionFailed
	case model.StatusTimedOut:
		return codeExecutionTimed
	default:
		return ""
	}
}

func resultOf(ex *model.Execution) *model.JobResult {
	return &model.JobResult{
		ExecutionID: ex.ID,
		Status:      ex.Status,
		Output:      ex.Output,
		Error:       ex.Error,
		ErrorCode:   ex.ErrorCode,
		DurationMS:  ex.DurationMS,
		CompletedAt: ex.CompletedAt,
	}
}
