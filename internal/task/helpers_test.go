package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/artifact"
	"github.com/phrazzld/render-api/internal/generation"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fakeClock is a manually advanced clock for stuck-task and retention tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// gatewayFunc adapts a function to generation.Gateway.
type gatewayFunc func(ctx context.Context, req generation.Request) (*generation.Image, error)

func (f gatewayFunc) Generate(ctx context.Context, req generation.Request) (*generation.Image, error) {
	return f(ctx, req)
}

func okGateway() generation.Gateway {
	return gatewayFunc(func(context.Context, generation.Request) (*generation.Image, error) {
		return &generation.Image{Data: []byte("png-bytes"), MIMEType: generation.MIMETypePNG}, nil
	})
}

func failingGateway(msg string) generation.Gateway {
	return gatewayFunc(func(context.Context, generation.Request) (*generation.Image, error) {
		return nil, errors.New(msg)
	})
}

// memoryArtifacts records saves and deletes without touching disk.
type memoryArtifacts struct {
	mu      sync.Mutex
	saved   []string
	deleted []string
	saveErr error
}

func (a *memoryArtifacts) Save(
	_ context.Context,
	img *generation.Image,
	ownerID *uuid.UUID,
	assetID uuid.UUID,
	withThumbnail bool,
) (artifact.Locator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saveErr != nil {
		return artifact.Locator{}, a.saveErr
	}
	owner := "anonymous"
	if ownerID != nil {
		owner = ownerID.String()
	}
	loc := artifact.Locator{URL: "/static/images/" + owner + "/" + assetID.String() + "." + img.Extension()}
	if withThumbnail {
		loc.ThumbnailURL = "/static/thumbnails/" + owner + "/" + assetID.String() + ".jpg"
	}
	a.saved = append(a.saved, loc.URL)
	return loc, nil
}

func (a *memoryArtifacts) Delete(_ context.Context, locator string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, locator)
	return true, nil
}

func (a *memoryArtifacts) Deleted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.deleted...)
}

func sourceImage() generation.Image {
	return generation.Image{Data: []byte("source"), MIMEType: generation.MIMETypePNG}
}

func generateInput(prompt string) *GenerateInput {
	return &GenerateInput{Image: sourceImage(), Prompt: prompt, AspectRatio: "1:1"}
}

func batchInput(combos ...Combination) *BatchInput {
	return &BatchInput{Image: sourceImage(), PromptTemplate: "a {{color}} jacket", Combinations: combos}
}

// enqueueAndClaim inserts a task and claims it so it is ready for execution.
func enqueueAndClaim(t *testing.T, store Store, typ Type, in Input, userID *uuid.UUID) *Task {
	t.Helper()
	ctx := context.Background()
	id, err := store.Enqueue(ctx, typ, in, userID)
	require.NoError(t, err)
	claimed, err := store.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, id, claimed[0].ID)
	return claimed[0]
}

func mustGet(t *testing.T, store Store, id uuid.UUID) *Task {
	t.Helper()
	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return got
}

// assertStatusInvariant checks that output and error message match the status.
func assertStatusInvariant(t *testing.T, task *Task) {
	t.Helper()
	switch task.Status {
	case StatusCompleted:
		require.NotNil(t, task.Output, "completed task must have output")
		require.Empty(t, task.ErrorMessage, "completed task must not have error message")
	case StatusFailed:
		require.Nil(t, task.Output, "failed task must not have output")
		require.NotEmpty(t, task.ErrorMessage, "failed task must have error message")
	case StatusPending, StatusProcessing:
		require.Nil(t, task.Output)
		require.Empty(t, task.ErrorMessage)
	default:
		t.Fatalf("unexpected status %q", task.Status)
	}
}
