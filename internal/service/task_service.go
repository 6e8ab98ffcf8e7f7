package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/task"
)

const (
	// DefaultRecentLimit is used when ListRecent is called with a
	// non-positive limit.
	DefaultRecentLimit = 20
	// MaxRecentLimit caps the number of tasks returned by ListRecent.
	MaxRecentLimit = 100
)

// TaskService provides the caller-scoped task operations behind the API.
//
// A nil owner identifies an anonymous caller, who can only see tasks that
// were submitted without an owner.
type TaskService interface {
	// Submit decodes and validates raw input for typ and enqueues a pending
	// task. Invalid payloads return an error matching task.ErrInvalidInput
	// or task.ErrUnknownType.
	Submit(ctx context.Context, typ task.Type, raw json.RawMessage, owner *uuid.UUID) (uuid.UUID, error)

	// ListActive returns the caller's pending and processing tasks, oldest first.
	ListActive(ctx context.Context, owner *uuid.UUID) ([]*task.Task, error)

	// ListRecent returns up to limit of the caller's tasks, newest first.
	ListRecent(ctx context.Context, owner *uuid.UUID, limit int) ([]*task.Task, error)

	// Get returns one task. It returns task.ErrTaskNotFound when the task
	// does not exist and ErrNotOwned when it belongs to someone else.
	Get(ctx context.Context, owner *uuid.UUID, id uuid.UUID) (*task.Task, error)
}

type taskServiceImpl struct {
	store  task.Store
	logger *slog.Logger
}

var _ TaskService = (*taskServiceImpl)(nil)

// NewTaskService creates a new TaskService.
// It returns an error if the store is nil.
func NewTaskService(store task.Store, logger *slog.Logger) (TaskService, error) {
	if store == nil {
		return nil, NewServiceError("task", "create_service", errors.New("store cannot be nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &taskServiceImpl{
		store:  store,
		logger: logger.With("component", "task_service"),
	}, nil
}

// Submit implements TaskService.
func (s *taskServiceImpl) Submit(
	ctx context.Context,
	typ task.Type,
	raw json.RawMessage,
	owner *uuid.UUID,
) (uuid.UUID, error) {
	if !typ.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", task.ErrUnknownType, typ)
	}
	if len(raw) == 0 {
		return uuid.Nil, fmt.Errorf("%w: inputData is required", task.ErrInvalidInput)
	}

	input, err := task.DecodeInput(typ, raw)
	if err != nil {
		return uuid.Nil, err
	}
	if err := input.Validate(); err != nil {
		s.logger.Debug("rejected task input", "type", typ, "error", err)
		return uuid.Nil, err
	}

	id, err := s.store.Enqueue(ctx, typ, input, owner)
	if err != nil {
		if isClientError(err) {
			return uuid.Nil, err
		}
		s.logger.Error("failed to enqueue task", "type", typ, "error", err)
		return uuid.Nil, NewServiceError("task", "submit", err)
	}

	s.logger.Info("task submitted", "task_id", id, "type", typ, "anonymous", owner == nil)
	return id, nil
}

// ListActive implements TaskService.
func (s *taskServiceImpl) ListActive(ctx context.Context, owner *uuid.UUID) ([]*task.Task, error) {
	tasks, err := s.store.ListActive(ctx, owner)
	if err != nil {
		s.logger.Error("failed to list active tasks", "error", err)
		return nil, NewServiceError("task", "list_active", err)
	}
	return tasks, nil
}

// ListRecent implements TaskService.
func (s *taskServiceImpl) ListRecent(ctx context.Context, owner *uuid.UUID, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	tasks, err := s.store.ListRecent(ctx, owner, limit)
	if err != nil {
		s.logger.Error("failed to list recent tasks", "error", err, "limit", limit)
		return nil, NewServiceError("task", "list_recent", err)
	}
	return tasks, nil
}

// Get implements TaskService.
func (s *taskServiceImpl) Get(ctx context.Context, owner *uuid.UUID, id uuid.UUID) (*task.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			return nil, task.ErrTaskNotFound
		}
		s.logger.Error("failed to get task", "task_id", id, "error", err)
		return nil, NewServiceError("task", "get", err)
	}
	if !ownedBy(t, owner) {
		s.logger.Warn("task access denied", "task_id", id)
		return nil, ErrNotOwned
	}
	return t, nil
}

func ownedBy(t *task.Task, owner *uuid.UUID) bool {
	if t.UserID == nil || owner == nil {
		return t.UserID == nil && owner == nil
	}
	return *t.UserID == *owner
}

func isClientError(err error) bool {
	return errors.Is(err, task.ErrInvalidInput) || errors.Is(err, task.ErrUnknownType)
}
