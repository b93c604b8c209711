package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"runforge/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestExecution(consumerID string) *model.Execution {
	return &model.Execution{
		ID:         model.NewID(),
		ConsumerID: consumerID,
		ModelSlug:  "flux-schnell",
		EndpointID: "ep-flux",
		Status:     model.StatusPending,
		Input:      json.RawMessage(`{"prompt":"a cat"}`),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func makeTestModel(slug string) *model.ModelDefinition {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.ModelDefinition{
		ID:             model.NewID(),
		Slug:           slug,
		Name:           "Flux Schnell",
		OwnerID:        "dev-1",
		EndpointID:     "ep-flux",
		EndpointActive: true,
		Published:      true,
		Overrides: model.ConfigOverrides{
			DefaultInputs: map[string]any{"steps": float64(4)},
			LockedInputs:  map[string]any{"width": float64(1024)},
			HiddenFields:  []string{"api_key"},
			PromptPrefix:  "photo of ",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ex := makeTestExecution("consumer-1")

	if err := s.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	got, err := s.GetExecution(ctx, ex.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}

	if got.ID != ex.ID {
		t.Errorf("ID = %q, want %q", got.ID, ex.ID)
	}
	if got.ConsumerID != ex.ConsumerID {
		t.Errorf("ConsumerID = %q, want %q", got.ConsumerID, ex.ConsumerID)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want PENDING", got.Status)
	}
	if string(got.Input) != `{"prompt":"a cat"}` {
		t.Errorf("Input = %s", got.Input)
	}
	if got.ProviderJobID != "" {
		t.Errorf("ProviderJobID = %q, want empty before submission", got.ProviderJobID)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetExecution(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExecution error = %v, want ErrNotFound", err)
	}
}

func TestGetExecutionForConsumerOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ex := makeTestExecution("consumer-1")
	if err := s.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	if _, err := s.GetExecutionForConsumer(ctx, ex.ID, "consumer-1"); err != nil {
		t.Errorf("owner read: %v", err)
	}

	// Another consumer's read must be indistinguishable from a missing row.
	_, err := s.GetExecutionForConsumer(ctx, ex.ID, "consumer-2")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign read error = %v, want ErrNotFound", err)
	}
	_, err = s.GetExecutionForConsumer(ctx, "missing", "consumer-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing read error = %v, want ErrNotFound", err)
	}
}

func TestListExecutionsScopedAndPaginated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ex := makeTestExecution("consumer-1")
		ex.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second).Truncate(time.Second)
		if err := s.CreateExecution(ctx, ex); err != nil {
			t.Fatalf("CreateExecution[%d]: %v", i, err)
		}
	}
	other := makeTestExecution("consumer-2")
	if err := s.CreateExecution(ctx, other); err != nil {
		t.Fatalf("CreateExecution other: %v", err)
	}

	executions, total, err := s.ListExecutions(ctx, "consumer-1", 2, 0)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(executions) != 2 {
		t.Errorf("len = %d, want 2", len(executions))
	}
	for _, ex := range executions {
		if ex.ConsumerID != "consumer-1" {
			t.Errorf("leaked execution for %q", ex.ConsumerID)
		}
	}

	rest, _, err := s.ListExecutions(ctx, "consumer-1", 10, 2)
	if err != nil {
		t.Fatalf("ListExecutions offset: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("len after offset = %d, want 3", len(rest))
	}
}

func TestMarkSubmitted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ex := makeTestExecution("consumer-1")
	if err := s.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	if err := s.MarkSubmitted(ctx, ex.ID, "pj-7", model.StatusQueued); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}

	got, _ := s.GetExecution(ctx, ex.ID)
	if got.ProviderJobID != "pj-7" {
		t.Errorf("ProviderJobID = %q, want pj-7", got.ProviderJobID)
	}
	if got.Status != model.StatusQueued {
		t.Errorf("Status = %q, want QUEUED", got.Status)
	}
	if got.StartedAt != nil {
		t.Errorf("StartedAt = %v, want nil before RUNNING", got.StartedAt)
	}
}

func TestUpdateExecutionStatusSetsStartedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ex := makeTestExecution("consumer-1")
	if err := s.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	if err := s.UpdateExecutionStatus(ctx, ex.ID, model.StatusRunning); err != nil {
		t.Fatalf("UpdateExecutionStatus: %v", err)
	}

	got, _ := s.GetExecution(ctx, ex.ID)
	if got.Status != model.StatusRunning {
		t.Errorf("Status = %q, want RUNNING", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatal("StartedAt not set on first RUNNING transition")
	}

	// A later RUNNING write must not move started_at.
	first := *got.StartedAt
	time.Sleep(5 * time.Millisecond)
	if err := s.UpdateExecutionStatus(ctx, ex.ID, model.StatusRunning); err != nil {
		t.Fatalf("second UpdateExecutionStatus: %v", err)
	}
	got, _ = s.GetExecution(ctx, ex.ID)
	if !got.StartedAt.Equal(first) {
		t.Errorf("StartedAt moved: %v -> %v", first, got.StartedAt)
	}
}

func TestUpdateExecutionStatusMissing(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateExecutionStatus(context.Background(), "missing", model.StatusRunning)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateExecutionStatusIgnoredAfterTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ex := makeTestExecution("consumer-1")
	if err := s.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	dur := 120
	fin := FinishUpdate{
		Status:      model.StatusCompleted,
		Output:      json.RawMessage(`{"image":"x"}`),
		DurationMS:  &dur,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.FinishExecution(ctx, ex.ID, fin); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	// Stale non-terminal write loses silently.
	if err := s.UpdateExecutionStatus(ctx, ex.ID, model.StatusRunning); err != nil {
		t.Fatalf("stale update returned error: %v", err)
	}

	got, _ := s.GetExecution(ctx, ex.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, terminal state was overwritten", got.Status)
	}
}

func TestFinishExecutionAlreadyTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ex := makeTestExecution("consumer-1")
	if err := s.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	fin := FinishUpdate{
		Status:      model.StatusCompleted,
		Output:      json.RawMessage(`{"image":"x"}`),
		CompletedAt: time.Now().UTC(),
	}
	if err := s.FinishExecution(ctx, ex.ID, fin); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	// A racing cancel must not overwrite the completed row.
	cancel := FinishUpdate{Status: model.StatusCancelled, CompletedAt: time.Now().UTC()}
	err := s.FinishExecution(ctx, ex.ID, cancel)
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("error = %v, want ErrAlreadyTerminal", err)
	}

	got, _ := s.GetExecution(ctx, ex.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want COMPLETED", got.Status)
	}
	if string(got.Output) != `{"image":"x"}` {
		t.Errorf("Output = %s", got.Output)
	}
}

func TestFinishExecutionRecordsFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ex := makeTestExecution("consumer-1")
	if err := s.CreateExecution(ctx, ex); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	dur := 50
	fin := FinishUpdate{
		Status:      model.StatusFailed,
		Error:       "provider request failed: status 502",
		ErrorCode:   "request-failed",
		DurationMS:  &dur,
		CompletedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.FinishExecution(ctx, ex.ID, fin); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	got, _ := s.GetExecution(ctx, ex.ID)
	if got.Status != model.StatusFailed {
		t.Errorf("Status = %q, want FAILED", got.Status)
	}
	if got.ErrorCode != "request-failed" {
		t.Errorf("ErrorCode = %q", got.ErrorCode)
	}
	if got.DurationMS == nil || *got.DurationMS != 50 {
		t.Errorf("DurationMS = %v, want 50", got.DurationMS)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestExecutionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ex := makeTestExecution("consumer-1")
		if err := s.CreateExecution(ctx, ex); err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}
		if i == 0 {
			dur := 100
			fin := FinishUpdate{Status: model.StatusCompleted, DurationMS: &dur, CompletedAt: time.Now().UTC()}
			if err := s.FinishExecution(ctx, ex.ID, fin); err != nil {
				t.Fatalf("FinishExecution: %v", err)
			}
		}
	}

	stats, err := s.GetExecutionStats(ctx)
	if err != nil {
		t.Fatalf("GetExecutionStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 1 {
		t.Errorf("completed count = %d, want 1", stats.CountByStatus[model.StatusCompleted])
	}
	if stats.CountByStatus[model.StatusPending] != 2 {
		t.Errorf("pending count = %d, want 2", stats.CountByStatus[model.StatusPending])
	}
	if stats.CountByModel["flux-schnell"] != 3 {
		t.Errorf("model count = %d, want 3", stats.CountByModel["flux-schnell"])
	}
	if stats.AvgDurationMS != 100 {
		t.Errorf("AvgDurationMS = %v, want 100", stats.AvgDurationMS)
	}
}

func TestCreateAndGetModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	md := makeTestModel("flux-schnell")

	if err := s.CreateModel(ctx, md); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}

	got, err := s.GetModelBySlug(ctx, "flux-schnell")
	if err != nil {
		t.Fatalf("GetModelBySlug: %v", err)
	}
	if got.ID != md.ID {
		t.Errorf("ID = %q, want %q", got.ID, md.ID)
	}
	if !got.Published || !got.EndpointActive {
		t.Errorf("Published = %v, EndpointActive = %v, want both true", got.Published, got.EndpointActive)
	}
	if got.Overrides.LockedInputs["width"] != float64(1024) {
		t.Errorf("Overrides.LockedInputs = %v", got.Overrides.LockedInputs)
	}
	if got.Overrides.PromptPrefix != "photo of " {
		t.Errorf("PromptPrefix = %q", got.Overrides.PromptPrefix)
	}
}

func TestCreateModelSlugTaken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateModel(ctx, makeTestModel("flux-schnell")); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	err := s.CreateModel(ctx, makeTestModel("flux-schnell"))
	if !errors.Is(err, ErrSlugTaken) {
		t.Errorf("error = %v, want ErrSlugTaken", err)
	}
}

func TestListModelsPublishedOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	published := makeTestModel("a-published")
	if err := s.CreateModel(ctx, published); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	draft := makeTestModel("b-draft")
	draft.Published = false
	if err := s.CreateModel(ctx, draft); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}

	all, err := s.ListModels(ctx, false)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}

	pub, err := s.ListModels(ctx, true)
	if err != nil {
		t.Fatalf("ListModels published: %v", err)
	}
	if len(pub) != 1 || pub[0].Slug != "a-published" {
		t.Errorf("published list = %v", pub)
	}
}

func TestUpdateModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	md := makeTestModel("flux-schnell")
	if err := s.CreateModel(ctx, md); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}

	md.Published = false
	md.EndpointActive = false
	md.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if err := s.UpdateModel(ctx, md); err != nil {
		t.Fatalf("UpdateModel: %v", err)
	}

	got, _ := s.GetModelBySlug(ctx, "flux-schnell")
	if got.Published || got.EndpointActive {
		t.Errorf("Published = %v, EndpointActive = %v, want both false", got.Published, got.EndpointActive)
	}
}

func TestUpdateModelNotFound(t *testing.T) {
	s := newTestStore(t)
	md := makeTestModel("ghost")

	err := s.UpdateModel(context.Background(), md)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
