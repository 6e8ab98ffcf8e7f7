package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/task"
)

// DefaultInterval is the poll interval used when Config.Interval is not set.
const DefaultInterval = 3 * time.Second

// maxSeen bounds the set of task IDs whose terminal state was already handled.
const maxSeen = 1024

// ErrTaskNotFound is returned by Lister.GetTask for tasks that no longer
// exist, for example after a retention sweep.
var ErrTaskNotFound = errors.New("task not found")

// TaskView is the client-side view of one task.
type TaskView struct {
	ID           uuid.UUID       `json:"id"`
	Type         task.Type       `json:"type"`
	Status       task.Status     `json:"status"`
	Progress     int             `json:"progress"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	OutputData   json.RawMessage `json:"outputData,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// finishedAt is the time used to order completed tasks.
func (v TaskView) finishedAt() time.Time {
	if v.CompletedAt != nil {
		return *v.CompletedAt
	}
	return v.CreatedAt
}

// Lister reads task state from the server.
type Lister interface {
	// ListActive returns the caller's non-terminal tasks.
	ListActive(ctx context.Context) ([]TaskView, error)
	// GetTask returns one task, or an error matching ErrTaskNotFound.
	GetTask(ctx context.Context, id uuid.UUID) (TaskView, error)
}

// HistoryRefresher reloads the persisted-history view.
type HistoryRefresher interface {
	RefreshHistory(ctx context.Context) error
}

// PreviewSink receives the completed task that should be shown as the
// current result.
type PreviewSink interface {
	SetPreview(view TaskView)
}

// Config holds the Reconciler settings.
type Config struct {
	Interval time.Duration
	// OnFailed, when set, is called once for each task observed failing.
	OnFailed func(TaskView)
}

// Reconciler polls a Lister and folds each snapshot into local state.
type Reconciler struct {
	lister  Lister
	history HistoryRefresher
	preview PreviewSink
	config  Config
	logger  *slog.Logger

	pollMu sync.Mutex // serializes polls

	mu        sync.Mutex
	snapshot  []TaskView
	pending   map[uuid.UUID]struct{} // left the active view, terminal state not yet resolved
	seen      map[uuid.UUID]struct{}
	seenOrder []uuid.UUID
	previewAt time.Time
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// New creates a Reconciler. history and preview may be nil.
func New(lister Lister, history HistoryRefresher, preview PreviewSink, config Config, log *slog.Logger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		lister:  lister,
		history: history,
		preview: preview,
		config:  config,
		logger:  log.With("component", "reconciler"),
		pending: make(map[uuid.UUID]struct{}),
		seen:    make(map[uuid.UUID]struct{}),
	}
}

// SetAuthenticated starts polling when authenticated is true and stops it
// otherwise. Stopping waits for an in-flight poll to return and clears the
// snapshot. Repeated calls with the same value are no-ops.
func (r *Reconciler) SetAuthenticated(authenticated bool) {
	r.mu.Lock()
	if authenticated {
		if r.cancel != nil {
			r.mu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		r.cancel = cancel
		r.loopDone = done
		r.mu.Unlock()

		go r.loop(ctx, done)
		r.logger.Debug("polling started", "interval", r.config.Interval)
		return
	}

	cancel, done := r.cancel, r.loopDone
	r.cancel, r.loopDone = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done

	r.mu.Lock()
	r.snapshot = nil
	clear(r.pending)
	r.mu.Unlock()
	r.logger.Debug("polling stopped")
}

// Polling reports whether the poll loop is running.
func (r *Reconciler) Polling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Snapshot returns a copy of the most recent active-task list.
func (r *Reconciler) Snapshot() []TaskView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskView, len(r.snapshot))
	copy(out, r.snapshot)
	return out
}

// SetPreviewTime records that the user produced a result at t outside the
// task queue, so only tasks completed after t replace the preview.
func (r *Reconciler) SetPreviewTime(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.After(r.previewAt) {
		r.previewAt = t
	}
}

func (r *Reconciler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll performs one reconciliation pass. A listing error leaves the previous
// snapshot in place.
func (r *Reconciler) Poll(ctx context.Context) error {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	views, err := r.lister.ListActive(ctx)
	if err != nil {
		return err
	}

	current := make(map[uuid.UUID]struct{}, len(views))
	var terminal []TaskView
	for _, v := range views {
		current[v.ID] = struct{}{}
		if v.Status.IsTerminal() {
			terminal = append(terminal, v)
		}
	}

	r.mu.Lock()
	for _, v := range r.snapshot {
		if _, still := current[v.ID]; !still && !v.Status.IsTerminal() {
			r.pending[v.ID] = struct{}{}
		}
	}
	r.snapshot = views
	departed := make([]uuid.UUID, 0, len(r.pending))
	for id := range r.pending {
		departed = append(departed, id)
	}
	r.mu.Unlock()

	for _, id := range departed {
		v, err := r.lister.GetTask(ctx, id)
		switch {
		case errors.Is(err, ErrTaskNotFound):
			r.resolve(id)
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("failed to resolve task that left the active view", "task_id", id, "error", err)
		case v.Status.IsTerminal():
			r.resolve(id)
			terminal = append(terminal, v)
		default:
			// Still running but missing from the listing; check again next poll.
		}
	}

	r.handleTerminal(ctx, terminal)
	return nil
}

func (r *Reconciler) resolve(id uuid.UUID) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// handleTerminal applies side effects for tasks not handled before: at most
// one history refresh, the preview update and failure callbacks.
func (r *Reconciler) handleTerminal(ctx context.Context, terminal []TaskView) {
	var (
		completed int
		newest    *TaskView
		failed    []TaskView
	)

	r.mu.Lock()
	for i := range terminal {
		v := terminal[i]
		if !r.markSeen(v.ID) {
			continue
		}
		switch v.Status {
		case task.StatusCompleted:
			completed++
			if newest == nil || v.finishedAt().After(newest.finishedAt()) {
				newest = &terminal[i]
			}
		case task.StatusFailed:
			failed = append(failed, v)
		}
	}
	showPreview := newest != nil && r.preview != nil && newest.finishedAt().After(r.previewAt)
	if showPreview {
		r.previewAt = newest.finishedAt()
	}
	r.mu.Unlock()

	for _, v := range failed {
		r.logger.Info("task failed", "task_id", v.ID, "error_message", v.ErrorMessage)
		if r.config.OnFailed != nil {
			r.config.OnFailed(v)
		}
	}

	if completed == 0 {
		return
	}
	r.logger.Info("tasks completed", "count", completed)

	if r.history != nil {
		if err := r.history.RefreshHistory(ctx); err != nil {
			r.logger.Warn("history refresh failed", "error", err)
		}
	}
	if showPreview {
		r.preview.SetPreview(*newest)
	}
}

// markSeen records id and reports whether it was new. r.mu must be held.
func (r *Reconciler) markSeen(id uuid.UUID) bool {
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = struct{}{}
	r.seenOrder = append(r.seenOrder, id)
	if len(r.seenOrder) > maxSeen {
		delete(r.seen, r.seenOrder[0])
		r.seenOrder = r.seenOrder[1:]
	}
	return true
}
