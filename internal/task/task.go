package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task
type Status string

// Possible task status values
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type identifies the kind of work a task performs
type Type string

// Task type values
const (
	// TypeGenerate produces one image and its thumbnail
	TypeGenerate Type = "generate"
	// TypeBatch produces one image per variable combination
	TypeBatch Type = "batch"
)

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	return t == TypeGenerate || t == TypeBatch
}

// Task is one unit of background work.
//
// Output is set only when Status is completed and ErrorMessage only when
// Status is failed. Input and Output values are treated as immutable once
// stored.
type Task struct {
	ID           uuid.UUID
	Type         Type
	Status       Status
	Progress     int
	UserID       *uuid.UUID
	Input        Input
	Output       Output
	ErrorMessage string
	// Attempts counts how many times the task has been claimed.
	Attempts    int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Clone returns a copy that shares no mutable pointers with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.UserID = cloneUUID(t.UserID)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}

// Store defines the persistence contract for tasks. All methods must be safe
// for concurrent use, and every status change goes through it.
type Store interface {
	// Enqueue inserts a pending task with progress 0 and returns its ID.
	Enqueue(ctx context.Context, typ Type, input Input, userID *uuid.UUID) (uuid.UUID, error)

	// ClaimPending atomically moves up to limit pending tasks, oldest first,
	// to processing. StartedAt is set and Attempts incremented on each. No
	// task is returned to more than one caller.
	ClaimPending(ctx context.Context, limit int) ([]*Task, error)

	// UpdateProgress raises the progress of a processing task, clamped to
	// [0,100]. Lower values and tasks in other states are ignored.
	UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error

	// Complete moves a processing task to completed with the given output.
	Complete(ctx context.Context, id uuid.UUID, output Output) error

	// Fail moves a processing task to failed with the given message.
	Fail(ctx context.Context, id uuid.UUID, message string) error

	// ResetStuck returns processing tasks started more than maxAge ago to
	// pending, clearing StartedAt, and reports how many were reset. Tasks
	// whose IDs are in running are still executing and are left alone.
	ResetStuck(ctx context.Context, maxAge time.Duration, running ...uuid.UUID) (int, error)

	// FailExhausted fails stuck tasks that have already been claimed
	// maxAttempts times, so ResetStuck never sees them again. Tasks in
	// running are skipped.
	FailExhausted(ctx context.Context, maxAge time.Duration, maxAttempts int, running ...uuid.UUID) (int, error)

	// ListActive returns the pending and processing tasks owned by userID,
	// oldest first. A nil userID selects tasks without an owner.
	ListActive(ctx context.Context, userID *uuid.UUID) ([]*Task, error)

	// ListRecent returns up to limit tasks of any status owned by userID,
	// newest first.
	ListRecent(ctx context.Context, userID *uuid.UUID, limit int) ([]*Task, error)

	// Get returns a single task or ErrTaskNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Task, error)

	// RetentionSweep deletes terminal tasks created more than maxAgeDays ago
	// and returns the deleted records so their artifacts can be removed.
	RetentionSweep(ctx context.Context, maxAgeDays int) ([]*Task, error)
}

// AbandonedMessage is the error message stored on tasks force-failed by
// FailExhausted.
func AbandonedMessage(attempts int) string {
	return fmt.Sprintf("task abandoned after %d attempts", attempts)
}

// UnknownErrorMessage is stored when Fail is called with an empty message.
const UnknownErrorMessage = "unknown error"

// MaxProgress is the progress of every completed task.
const MaxProgress = 100

// ClampProgress limits percent to [0,100].
func ClampProgress(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > MaxProgress {
		return MaxProgress
	}
	return percent
}
