package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/platform/logger"
	"github.com/phrazzld/render-api/internal/store"
	"github.com/phrazzld/render-api/internal/task"
)

const taskColumns = `id, type, status, progress, user_id, input_data, output_data,
	error_message, attempts, created_at, started_at, completed_at`

// TaskStore implements task.Store on PostgreSQL. Claiming relies on
// FOR UPDATE SKIP LOCKED, so concurrent claimers never receive the same row.
type TaskStore struct {
	db  store.DBTX
	now func() time.Time
}

var _ task.Store = (*TaskStore)(nil)

// TaskStoreOption configures a TaskStore.
type TaskStoreOption func(*TaskStore)

// WithClock replaces time.Now as the source of task timestamps.
func WithClock(now func() time.Time) TaskStoreOption {
	return func(s *TaskStore) {
		s.now = now
	}
}

// NewTaskStore creates a new TaskStore
func NewTaskStore(db store.DBTX, opts ...TaskStoreOption) *TaskStore {
	s := &TaskStore{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TaskStore) timestamp() time.Time {
	return s.now().UTC()
}

// Enqueue implements task.Store.
func (s *TaskStore) Enqueue(ctx context.Context, typ task.Type, input task.Input, userID *uuid.UUID) (uuid.UUID, error) {
	if !typ.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", task.ErrUnknownType, typ)
	}
	if input == nil || input.Type() != typ {
		return uuid.Nil, fmt.Errorf("%w: input does not match task type %s", task.ErrInvalidInput, typ)
	}
	data, err := task.EncodeInput(input)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, status, progress, user_id, input_data, attempts, created_at)
		VALUES ($1, $2, $3, 0, $4, $5, 0, $6)
	`, id, string(typ), string(task.StatusPending), nullableUUID(userID), data, s.timestamp())
	if err != nil {
		logger.FromContext(ctx).Error("failed to enqueue task",
			"task_id", id,
			"task_type", typ,
			"error", err)
		return uuid.Nil, fmt.Errorf("failed to enqueue task: %w", MapError(err))
	}
	return id, nil
}

// ClaimPending implements task.Store.
func (s *TaskStore) ClaimPending(ctx context.Context, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH claimable AS (
			SELECT id FROM tasks
			WHERE status = 'pending'
			ORDER BY created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tasks AS t
		SET status = 'processing', started_at = $2, attempts = t.attempts + 1
		FROM claimable
		WHERE t.id = claimable.id
		RETURNING t.id, t.type, t.status, t.progress, t.user_id, t.input_data, t.output_data,
			t.error_message, t.attempts, t.created_at, t.started_at, t.completed_at
	`, limit, s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending tasks: %w", MapError(err))
	}

	claimed, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending tasks: %w", err)
	}

	// RETURNING does not preserve the CTE order.
	slices.SortStableFunc(claimed, func(a, b *task.Task) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return claimed, nil
}

// UpdateProgress implements task.Store.
func (s *TaskStore) UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET progress = $2
		WHERE id = $1 AND status = 'processing' AND progress < $2
	`, id, task.ClampProgress(percent))
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Nothing changed: either the task is gone or the update is a no-op.
	if _, _, err := s.typeAndStatus(ctx, id); err != nil {
		return err
	}
	return nil
}

// Complete implements task.Store.
func (s *TaskStore) Complete(ctx context.Context, id uuid.UUID, output task.Output) error {
	if output == nil {
		return fmt.Errorf("%w: output is required", task.ErrInvalidInput)
	}
	data, err := task.EncodeOutput(output)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'completed', progress = $3, output_data = $4,
			error_message = NULL, completed_at = $5
		WHERE id = $1 AND status = 'processing' AND type = $2
	`, id, string(output.Type()), task.MaxProgress, data, s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.explainNoTransition(ctx, id, "complete", output.Type())
	}
	return nil
}

// Fail implements task.Store.
func (s *TaskStore) Fail(ctx context.Context, id uuid.UUID, message string) error {
	if message == "" {
		message = task.UnknownErrorMessage
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed', output_data = NULL, error_message = $2, completed_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, message, s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", MapError(err))
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return s.explainNoTransition(ctx, id, "fail", "")
	}
	return nil
}

// ResetStuck implements task.Store.
func (s *TaskStore) ResetStuck(ctx context.Context, maxAge time.Duration, running ...uuid.UUID) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at < $1
			AND NOT (id::text = ANY($2::text[]))
	`, s.timestamp().Add(-maxAge), idStrings(running))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck tasks: %w", MapError(err))
	}
	return rowsAffected(result)
}

// FailExhausted implements task.Store.
func (s *TaskStore) FailExhausted(
	ctx context.Context,
	maxAge time.Duration,
	maxAttempts int,
	running ...uuid.UUID,
) (int, error) {
	if maxAttempts <= 0 {
		return 0, nil
	}

	now := s.timestamp()
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed',
			error_message = format('task abandoned after %s attempts', attempts),
			completed_at = $1
		WHERE status = 'processing' AND started_at < $2 AND attempts >= $3
			AND NOT (id::text = ANY($4::text[]))
	`, now, now.Add(-maxAge), maxAttempts, idStrings(running))
	if err != nil {
		return 0, fmt.Errorf("failed to fail exhausted tasks: %w", MapError(err))
	}
	return rowsAffected(result)
}

// ListActive implements task.Store.
func (s *TaskStore) ListActive(ctx context.Context, userID *uuid.UUID) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status IN ('pending', 'processing') AND user_id IS NOT DISTINCT FROM $1::uuid
		ORDER BY created_at ASC, id ASC
	`, nullableUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", MapError(err))
	}
	return scanTasks(rows)
}

// ListRecent implements task.Store.
func (s *TaskStore) ListRecent(ctx context.Context, userID *uuid.UUID, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE user_id IS NOT DISTINCT FROM $1::uuid
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, nullableUUID(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tasks: %w", MapError(err))
	}
	return scanTasks(rows)
}

// Get implements task.Store.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return t, nil
}

// RetentionSweep implements task.Store.
func (s *TaskStore) RetentionSweep(ctx context.Context, maxAgeDays int) ([]*task.Task, error) {
	cutoff := s.timestamp().AddDate(0, 0, -maxAgeDays)
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed') AND created_at < $1
		RETURNING `+taskColumns,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep old tasks: %w", MapError(err))
	}
	removed, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep old tasks: %w", err)
	}
	slices.SortStableFunc(removed, func(a, b *task.Task) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return removed, nil
}

func (s *TaskStore) typeAndStatus(ctx context.Context, id uuid.UUID) (task.Type, task.Status, error) {
	var typ, status string
	err := s.db.QueryRowContext(ctx, `SELECT type, status FROM tasks WHERE id = $1`, id).Scan(&typ, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
		}
		return "", "", fmt.Errorf("failed to load task status: %w", MapError(err))
	}
	return task.Type(typ), task.Status(status), nil
}

// explainNoTransition turns an update that matched no rows into the error the
// Store contract promises.
func (s *TaskStore) explainNoTransition(ctx context.Context, id uuid.UUID, op string, outputType task.Type) error {
	typ, status, err := s.typeAndStatus(ctx, id)
	if err != nil {
		return err
	}
	if outputType != "" && outputType != typ {
		return fmt.Errorf("%w: output does not match task type %s", task.ErrInvalidInput, typ)
	}
	return fmt.Errorf("%w: cannot %s task in %s status", task.ErrInvalidTransition, op, status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t           task.Task
		typ, status string
		userID      uuid.NullUUID
		input       []byte
		output      []byte
		errMessage  sql.NullString
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &typ, &status, &t.Progress, &userID, &input, &output,
		&errMessage, &t.Attempts, &t.CreatedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	t.Type = task.Type(typ)
	t.Status = task.Status(status)
	t.ErrorMessage = errMessage.String
	t.CreatedAt = t.CreatedAt.UTC()
	if userID.Valid {
		id := userID.UUID
		t.UserID = &id
	}
	if startedAt.Valid {
		ts := startedAt.Time.UTC()
		t.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time.UTC()
		t.CompletedAt = &ts
	}

	var err error
	if t.Input, err = task.DecodeInput(t.Type, input); err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}
	if t.Output, err = task.DecodeOutput(t.Type, output); err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

// idStrings renders ids for a text[] parameter. The result is never nil, so
// an empty list binds as '{}' rather than NULL.
func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
