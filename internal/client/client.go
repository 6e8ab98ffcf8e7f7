// Package client is an HTTP client for the task API. It implements the
// reconcile.Lister and reconcile.HistoryRefresher contracts so a Reconciler
// can poll a remote server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/reconcile"
	"github.com/phrazzld/render-api/internal/task"
)

// Config represents client configuration
type Config struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
	// HistoryLimit is the number of tasks fetched by RefreshHistory.
	HistoryLimit int
}

// DefaultConfig returns default client configuration
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		Timeout:       30 * time.Second,
		RetryCount:    2,
		RetryWaitTime: 500 * time.Millisecond,
		HistoryLimit:  20,
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("task API returned %d: %s (trace %s)", e.StatusCode, e.Message, e.TraceID)
	}
	return fmt.Sprintf("task API returned %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Error   string `json:"error"`
	TraceID string `json:"traceId"`
}

type taskList struct {
	Tasks []reconcile.TaskView `json:"tasks"`
}

// Client is the HTTP client for the task API.
type Client struct {
	client       *resty.Client
	historyLimit int

	mu      sync.RWMutex
	history []reconcile.TaskView
}

var (
	_ reconcile.Lister           = (*Client)(nil)
	_ reconcile.HistoryRefresher = (*Client)(nil)
)

// New creates a Client. An empty Token sends anonymous requests.
func New(cfg Config) *Client {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Client{client: c, historyLimit: cfg.HistoryLimit}
}

// SetToken replaces the bearer token, or clears it when token is empty.
func (c *Client) SetToken(token string) {
	c.client.SetAuthToken(token)
}

// Submit enqueues a task and returns its ID.
func (c *Client) Submit(ctx context.Context, typ task.Type, input task.Input) (uuid.UUID, error) {
	var result struct {
		TaskID uuid.UUID `json:"taskId"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"type": typ, "inputData": input}).
		SetResult(&result).
		SetError(&errorBody{}).
		Post("/api/tasks")
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to submit task: %w", err)
	}
	if err := responseError(resp); err != nil {
		return uuid.Nil, err
	}
	return result.TaskID, nil
}

// ListActive implements reconcile.Lister.
func (c *Client) ListActive(ctx context.Context) ([]reconcile.TaskView, error) {
	var result taskList
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&errorBody{}).
		Get("/api/tasks/active")
	if err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}
	if err := responseError(resp); err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

// GetTask implements reconcile.Lister.
func (c *Client) GetTask(ctx context.Context, id uuid.UUID) (reconcile.TaskView, error) {
	var result reconcile.TaskView
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id.String()).
		SetResult(&result).
		SetError(&errorBody{}).
		Get("/api/tasks/{id}")
	if err != nil {
		return reconcile.TaskView{}, fmt.Errorf("failed to get task: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return reconcile.TaskView{}, fmt.Errorf("%w: %s", reconcile.ErrTaskNotFound, id)
	}
	if err := responseError(resp); err != nil {
		return reconcile.TaskView{}, err
	}
	return result, nil
}

// ListRecent returns up to limit of the caller's tasks, newest first.
func (c *Client) ListRecent(ctx context.Context, limit int) ([]reconcile.TaskView, error) {
	var result taskList
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit", fmt.Sprint(limit)).
		SetResult(&result).
		SetError(&errorBody{}).
		Get("/api/tasks")
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if err := responseError(resp); err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

// RefreshHistory implements reconcile.HistoryRefresher by reloading the
// recent-task list returned by History.
func (c *Client) RefreshHistory(ctx context.Context) error {
	tasks, err := c.ListRecent(ctx, c.historyLimit)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.history = tasks
	c.mu.Unlock()
	return nil
}

// History returns the tasks loaded by the last successful RefreshHistory.
func (c *Client) History() []reconcile.TaskView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]reconcile.TaskView, len(c.history))
	copy(out, c.history)
	return out
}

func responseError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
	if body, ok := resp.Error().(*errorBody); ok && body != nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.TraceID = body.TraceID
	}
	return apiErr
}
