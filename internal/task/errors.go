package task

import "errors"

// Common errors returned by task stores and the scheduler
var (
	// ErrTaskNotFound is returned when no task exists with the given ID
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the task's current status
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrInvalidInput is returned when a task payload fails validation
	ErrInvalidInput = errors.New("invalid task input")

	// ErrUnknownType is returned for task types other than generate and batch
	ErrUnknownType = errors.New("unknown task type")

	// ErrSchedulerRunning is returned by Start when the scheduler is already running
	ErrSchedulerRunning = errors.New("scheduler already running")

	// ErrSchedulerStopped is returned by Start after Stop has been called
	ErrSchedulerStopped = errors.New("scheduler stopped")
)
