package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory. It backs the service when
// no database is configured and is the reference implementation in tests.
// Tasks do not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	// order holds task IDs in insertion order, which is creation order.
	order []uuid.UUID
	now   func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithClock replaces time.Now, letting tests move time forward without sleeping.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		tasks: make(map[uuid.UUID]*Task),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) timestamp() time.Time {
	return s.now().UTC()
}

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(ctx context.Context, typ Type, input Input, userID *uuid.UUID) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if !typ.Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if input == nil || input.Type() != typ {
		return uuid.Nil, fmt.Errorf("%w: input does not match task type %s", ErrInvalidInput, typ)
	}

	t := &Task{
		ID:        uuid.New(),
		Type:      typ,
		Status:    StatusPending,
		UserID:    cloneUUID(userID),
		Input:     input,
		CreatedAt: s.timestamp(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return t.ID, nil
}

// ClaimPending implements Store.
func (s *MemoryStore) ClaimPending(ctx context.Context, limit int) ([]*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	var claimed []*Task
	for _, id := range s.order {
		if len(claimed) == limit {
			break
		}
		t := s.tasks[id]
		if t.Status != StatusPending {
			continue
		}
		started := now
		t.Status = StatusProcessing
		t.StartedAt = &started
		t.Attempts++
		claimed = append(claimed, t.Clone())
	}
	return claimed, nil
}

// UpdateProgress implements Store.
func (s *MemoryStore) UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != StatusProcessing {
		return nil
	}
	if p := ClampProgress(percent); p > t.Progress {
		t.Progress = p
	}
	return nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID, output Output) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if output == nil || output.Type() != t.Type {
		return fmt.Errorf("%w: output does not match task type %s", ErrInvalidInput, t.Type)
	}
	if t.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot complete task in %s status", ErrInvalidTransition, t.Status)
	}

	now := s.timestamp()
	t.Status = StatusCompleted
	t.Progress = MaxProgress
	t.Output = output
	t.ErrorMessage = ""
	t.CompletedAt = &now
	return nil
}

// Fail implements Store.
func (s *MemoryStore) Fail(ctx context.Context, id uuid.UUID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if message == "" {
		message = UnknownErrorMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot fail task in %s status", ErrInvalidTransition, t.Status)
	}

	now := s.timestamp()
	t.Status = StatusFailed
	t.Output = nil
	t.ErrorMessage = message
	t.CompletedAt = &now
	return nil
}

// ResetStuck implements Store.
func (s *MemoryStore) ResetStuck(ctx context.Context, maxAge time.Duration, running ...uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.timestamp().Add(-maxAge)
	skip := idSet(running)
	count := 0
	for _, t := range s.tasks {
		if _, ok := skip[t.ID]; ok {
			continue
		}
		if t.Status == StatusProcessing && t.StartedAt != nil && t.StartedAt.Before(cutoff) {
			t.Status = StatusPending
			t.StartedAt = nil
			count++
		}
	}
	return count, nil
}

// FailExhausted implements Store.
func (s *MemoryStore) FailExhausted(
	ctx context.Context,
	maxAge time.Duration,
	maxAttempts int,
	running ...uuid.UUID,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if maxAttempts <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	cutoff := now.Add(-maxAge)
	skip := idSet(running)
	count := 0
	for _, t := range s.tasks {
		if t.Status != StatusProcessing || t.StartedAt == nil || !t.StartedAt.Before(cutoff) {
			continue
		}
		if _, ok := skip[t.ID]; ok {
			continue
		}
		if t.Attempts < maxAttempts {
			continue
		}
		completedAt := now
		t.Status = StatusFailed
		t.ErrorMessage = AbandonedMessage(t.Attempts)
		t.CompletedAt = &completedAt
		count++
	}
	return count, nil
}

// ListActive implements Store.
func (s *MemoryStore) ListActive(ctx context.Context, userID *uuid.UUID) ([]*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Task
	for _, id := range s.order {
		t := s.tasks[id]
		if !t.Status.IsTerminal() && sameOwner(t.UserID, userID) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// ListRecent implements Store.
func (s *MemoryStore) ListRecent(ctx context.Context, userID *uuid.UUID, limit int) ([]*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Task
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		t := s.tasks[s.order[i]]
		if sameOwner(t.UserID, userID) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// RetentionSweep implements Store.
func (s *MemoryStore) RetentionSweep(ctx context.Context, maxAgeDays int) ([]*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.timestamp().AddDate(0, 0, -maxAgeDays)
	var removed []*Task
	kept := s.order[:0]
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status.IsTerminal() && t.CreatedAt.Before(cutoff) {
			removed = append(removed, t)
			delete(s.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	return removed, nil
}

func sameOwner(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func idSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
