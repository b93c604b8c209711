package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"runforge/internal/model"

	_ "modernc.org/sqlite"
)

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id              TEXT PRIMARY KEY,
    consumer_id     TEXT NOT NULL,
    model_slug      TEXT NOT NULL,
    endpoint_id     TEXT NOT NULL,
    provider_job_id TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    input           BLOB,
    output          BLOB,
    error           TEXT NOT NULL DEFAULT '',
    error_code      TEXT NOT NULL DEFAULT '',
    duration_ms     INTEGER,
    created_at      DATETIME NOT NULL,
    started_at      DATETIME,
    completed_at    DATETIME
)`

const createExecutionsConsumerIndex = `
CREATE INDEX IF NOT EXISTS idx_executions_consumer
    ON executions (consumer_id, created_at DESC)`

const createModelsTable = `
CREATE TABLE IF NOT EXISTS models (
    id              TEXT PRIMARY KEY,
    slug            TEXT NOT NULL UNIQUE,
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    owner_id        TEXT NOT NULL,
    endpoint_id     TEXT NOT NULL,
    endpoint_active INTEGER NOT NULL DEFAULT 1,
    published       INTEGER NOT NULL DEFAULT 0,
    overrides       BLOB,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
)`

// terminalSet is inlined into guarded UPDATE statements so that stale
// writes against finished executions never take effect.
const terminalSet = `('COMPLETED', 'FAILED', 'CANCELLED', 'TIMED_OUT')`

const executionColumns = `id, consumer_id, model_slug, endpoint_id, provider_job_id,
	status, input, output, error, error_code, duration_ms,
	created_at, started_at, completed_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		createExecutionsTable,
		createExecutionsConsumerIndex,
		createModelsTable,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, ex *model.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (
			id, consumer_id, model_slug, endpoint_id, provider_job_id,
			status, input, output, error, error_code, duration_ms,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.ConsumerID, ex.ModelSlug, ex.EndpointID, ex.ProviderJobID,
		ex.Status, []byte(ex.Input), []byte(ex.Output), ex.Error, ex.ErrorCode, ex.DurationMS,
		ex.CreatedAt, ex.StartedAt, ex.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func scanExecution(row interface{ Scan(...any) error }) (*model.Execution, error) {
	ex := &model.Execution{}
	var input, output []byte
	err := row.Scan(
		&ex.ID, &ex.ConsumerID, &ex.ModelSlug, &ex.EndpointID, &ex.ProviderJobID,
		&ex.Status, &input, &output, &ex.Error, &ex.ErrorCode, &ex.DurationMS,
		&ex.CreatedAt, &ex.StartedAt, &ex.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	ex.Input = json.RawMessage(input)
	ex.Output = json.RawMessage(output)
	return ex, nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	ex, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return ex, nil
}

// GetExecutionForConsumer retrieves an execution scoped to its owner.
// A row owned by someone else is indistinguishable from a missing row.
func (s *SQLiteStore) GetExecutionForConsumer(ctx context.Context, id, consumerID string) (*model.Execution, error) {
	ex, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ? AND consumer_id = ?`,
		id, consumerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution for consumer: %w", err)
	}
	return ex, nil
}

// ListExecutions returns a paginated execution history for one consumer,
// newest first, along with the consumer's total count.
func (s *SQLiteStore) ListExecutions(ctx context.Context, consumerID string, limit, offset int) ([]*model.Execution, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM executions WHERE consumer_id = ?", consumerID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		WHERE consumer_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		consumerID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		ex, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}

	return executions, total, nil
}

// MarkSubmitted records the provider job id and the provider's initial
// status. Guarded against terminal rows so a racing cancel cannot be
// overwritten.
func (s *SQLiteStore) MarkSubmitted(ctx context.Context, id, providerJobID string, status model.Status) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE executions
		SET provider_job_id = ?, status = ?,
		    started_at = CASE WHEN ? = 'RUNNING' AND started_at IS NULL THEN ? ELSE started_at END
		WHERE id = ? AND status NOT IN `+terminalSet,
		providerJobID, status, status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	return s.checkGuardedUpdate(ctx, result, id)
}

// UpdateExecutionStatus records a non-terminal progress transition. Writes
// against rows that already went terminal are dropped without error: the
// poll that raced to a terminal write wins, stale reads do not.
func (s *SQLiteStore) UpdateExecutionStatus(ctx context.Context, id string, status model.Status) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE executions
		SET status = ?,
		    started_at = CASE WHEN ? = 'RUNNING' AND started_at IS NULL THEN ? ELSE started_at END
		WHERE id = ? AND status NOT IN `+terminalSet,
		status, status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	return s.checkGuardedUpdate(ctx, result, id)
}

// checkGuardedUpdate distinguishes "row missing" from "row already
// terminal" after a guarded UPDATE affected zero rows. The latter is not
// an error for progress writes.
func (s *SQLiteStore) checkGuardedUpdate(ctx context.Context, result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	if _, err := s.GetExecution(ctx, id); err != nil {
		return err
	}
	return nil
}

// FinishExecution moves an execution to a terminal status. The current
// status is re-read inside the same transaction that performs the write,
// so a CANCELLED write can never overwrite a COMPLETED or FAILED row.
func (s *SQLiteStore) FinishExecution(ctx context.Context, id string, fin FinishUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current model.Status
	err = tx.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if current.Terminal() {
		return ErrAlreadyTerminal
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE executions
		SET status = ?, output = ?, error = ?, error_code = ?,
		    duration_ms = ?, completed_at = ?
		WHERE id = ?`,
		fin.Status, []byte(fin.Output), fin.Error, fin.ErrorCode,
		fin.DurationMS, fin.CompletedAt, id,
	)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetExecutionStats returns aggregate statistics across all executions.
func (s *SQLiteStore) GetExecutionStats(ctx context.Context) (*ExecutionStats, error) {
	stats := &ExecutionStats{
		CountByStatus: make(map[model.Status]int),
		CountByModel:  make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM executions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status model.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	modelRows, err := s.db.QueryContext(ctx, "SELECT model_slug, COUNT(*) FROM executions GROUP BY model_slug")
	if err != nil {
		return nil, fmt.Errorf("count by model: %w", err)
	}
	defer modelRows.Close()
	for modelRows.Next() {
		var slug string
		var count int
		if err := modelRows.Scan(&slug, &count); err != nil {
			return nil, fmt.Errorf("scan model count: %w", err)
		}
		stats.CountByModel[slug] = count
	}
	if err := modelRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM executions WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// CreateModel inserts a new model definition.
func (s *SQLiteStore) CreateModel(ctx context.Context, md *model.ModelDefinition) error {
	overrides, err := json.Marshal(md.Overrides)
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO models (
			id, slug, name, description, owner_id, endpoint_id,
			endpoint_active, published, overrides, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		md.ID, md.Slug, md.Name, md.Description, md.OwnerID, md.EndpointID,
		md.EndpointActive, md.Published, overrides, md.CreatedAt, md.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrSlugTaken
		}
		return fmt.Errorf("insert model: %w", err)
	}
	return nil
}

const modelColumns = `id, slug, name, description, owner_id, endpoint_id,
	endpoint_active, published, overrides, created_at, updated_at`

func scanModel(row interface{ Scan(...any) error }) (*model.ModelDefinition, error) {
	md := &model.ModelDefinition{}
	var overrides []byte
	err := row.Scan(
		&md.ID, &md.Slug, &md.Name, &md.Description, &md.OwnerID, &md.EndpointID,
		&md.EndpointActive, &md.Published, &overrides, &md.CreatedAt, &md.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &md.Overrides); err != nil {
			return nil, fmt.Errorf("unmarshal overrides: %w", err)
		}
	}
	return md, nil
}

// GetModelBySlug retrieves a model definition by its slug.
func (s *SQLiteStore) GetModelBySlug(ctx context.Context, slug string) (*model.ModelDefinition, error) {
	md, err := scanModel(s.db.QueryRowContext(ctx,
		`SELECT `+modelColumns+` FROM models WHERE slug = ?`, slug,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return md, nil
}

// ListModels returns model definitions ordered by slug. With publishedOnly
// set, unpublished models are excluded.
func (s *SQLiteStore) ListModels(ctx context.Context, publishedOnly bool) ([]*model.ModelDefinition, error) {
	query := `SELECT ` + modelColumns + ` FROM models ORDER BY slug`
	if publishedOnly {
		query = `SELECT ` + modelColumns + ` FROM models WHERE published = 1 ORDER BY slug`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []*model.ModelDefinition
	for rows.Next() {
		md, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}

	return models, nil
}

// UpdateModel rewrites a model definition row.
func (s *SQLiteStore) UpdateModel(ctx context.Context, md *model.ModelDefinition) error {
	overrides, err := json.Marshal(md.Overrides)
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE models
		SET name = ?, description = ?, endpoint_id = ?, endpoint_active = ?,
		    published = ?, overrides = ?, updated_at = ?
		WHERE id = ?`,
		md.Name, md.Description, md.EndpointID, md.EndpointActive,
		md.Published, overrides, md.UpdatedAt, md.ID,
	)
	if err != nil {
		return fmt.Errorf("update model: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
