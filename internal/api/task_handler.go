package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/render-api/internal/api/shared"
	"github.com/phrazzld/render-api/internal/platform/logger"
	"github.com/phrazzld/render-api/internal/service"
	"github.com/phrazzld/render-api/internal/task"
)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	tasks service.TaskService
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(tasks service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// Routes mounts the task endpoints on r. Authentication is applied by the
// caller.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Post("/", h.SubmitTask)
	r.Get("/", h.ListRecentTasks)
	r.Get("/active", h.ListActiveTasks)
	r.Get("/{id}", h.GetTask)
}

// SubmitTask handles POST /api/tasks. The task is only enqueued, so the
// response is 202 Accepted with the new task ID.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	owner := shared.UserIDFromContext(r.Context())
	id, err := h.tasks.Submit(r.Context(), task.Type(req.Type), req.InputData, owner)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit task")
		return
	}

	logger.FromContext(r.Context()).Debug("task accepted", "task_id", id, "type", req.Type)
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{TaskID: id})
}

// ListActiveTasks handles GET /api/tasks/active, returning the caller's
// pending and processing tasks.
func (h *TaskHandler) ListActiveTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.ListActive(r.Context(), shared.UserIDFromContext(r.Context()))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list active tasks")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, tasksToResponse(tasks))
}

// ListRecentTasks handles GET /api/tasks?limit=N, returning the caller's
// most recent tasks of any status.
func (h *TaskHandler) ListRecentTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryInt(r, "limit", service.DefaultRecentLimit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	tasks, err := h.tasks.ListRecent(r.Context(), shared.UserIDFromContext(r.Context()), limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, tasksToResponse(tasks))
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	t, err := h.tasks.Get(r.Context(), shared.UserIDFromContext(r.Context()), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}
