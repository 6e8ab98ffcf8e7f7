package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/task"
)

// SubmitTaskRequest is the body of POST /api/tasks. InputData is decoded
// into the variant selected by Type.
type SubmitTaskRequest struct {
	Type      string          `json:"type"      validate:"required,oneof=generate batch"`
	InputData json.RawMessage `json:"inputData" validate:"required"`
}

// SubmitTaskResponse is returned once a task is enqueued.
type SubmitTaskResponse struct {
	TaskID uuid.UUID `json:"taskId"`
}

// TaskResponse is the client view of a task. Input payloads are never
// returned since they carry the source image.
type TaskResponse struct {
	ID           uuid.UUID   `json:"id"`
	Type         task.Type   `json:"type"`
	Status       task.Status `json:"status"`
	Progress     int         `json:"progress"`
	CreatedAt    time.Time   `json:"createdAt"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
	OutputData   task.Output `json:"outputData,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// TaskListResponse wraps a list of tasks.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

func taskToResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		Type:         t.Type,
		Status:       t.Status,
		Progress:     t.Progress,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		OutputData:   t.Output,
		ErrorMessage: t.ErrorMessage,
	}
}

func tasksToResponse(tasks []*task.Task) TaskListResponse {
	resp := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(t))
	}
	return resp
}
