package task

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/artifact"
	"github.com/phrazzld/render-api/internal/generation"
	"github.com/phrazzld/render-api/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// progressStore records every progress value passed through to a MemoryStore.
type progressStore struct {
	*MemoryStore
	mu     sync.Mutex
	values []int
}

func (s *progressStore) UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error {
	s.mu.Lock()
	s.values = append(s.values, percent)
	s.mu.Unlock()
	return s.MemoryStore.UpdateProgress(ctx, id, percent)
}

func (s *progressStore) Values() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.values...)
}

func newExecutor(store Store, gateway generation.Gateway, artifacts ArtifactStore, recorder history.Recorder) *Executor {
	return NewExecutor(store, gateway, artifacts, recorder, ExecutorConfig{GenerationTimeout: time.Second}, testLogger())
}

// A generate task with a working gateway completes with an image locator.
func TestExecutor_GenerateCompletes(t *testing.T) {
	t.Parallel()

	store := &progressStore{MemoryStore: NewMemoryStore()}
	owner := uuid.New()
	recorder := history.NewMemoryRecorder()
	arts := &memoryArtifacts{}
	task := enqueueAndClaim(t, store, TypeGenerate, generateInput("a red jacket"), &owner)

	status := newExecutor(store, okGateway(), arts, recorder).Run(context.Background(), task)
	assert.Equal(t, StatusCompleted, status)

	got := mustGet(t, store, task.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assertStatusInvariant(t, got)

	out, ok := got.Output.(*GenerateOutput)
	require.True(t, ok)
	assert.NotEmpty(t, out.ImageURL)
	assert.Contains(t, out.ImageURL, task.ID.String())
	assert.True(t, strings.HasSuffix(out.ThumbnailURL, ".jpg"))

	assert.Equal(t, []int{30, 80}, store.Values())

	entries := recorder.Entries(owner)
	require.Len(t, entries, 1)
	assert.Equal(t, "a red jacket", entries[0].Prompt)
	assert.True(t, entries[0].Succeeded)
}

// A gateway error message is recorded verbatim on the failed task.
func TestExecutor_GenerateGatewayFailure(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	arts := &memoryArtifacts{}
	owner := uuid.New()
	recorder := history.NewMemoryRecorder()
	task := enqueueAndClaim(t, store, TypeGenerate, generateInput("p"), &owner)

	status := newExecutor(store, failingGateway("RENDER_FAILED"), arts, recorder).Run(context.Background(), task)
	assert.Equal(t, StatusFailed, status)

	got := mustGet(t, store, task.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "RENDER_FAILED", got.ErrorMessage)
	assertStatusInvariant(t, got)
	assert.Empty(t, arts.saved, "nothing is stored after a gateway failure")

	entries := recorder.Entries(owner)
	require.Len(t, entries, 1, "failed generations are recorded too")
	assert.Equal(t, "p", entries[0].Prompt)
	assert.False(t, entries[0].Succeeded)
}

func TestExecutor_GenerateStorageFailure(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	arts := &memoryArtifacts{saveErr: errors.New("disk full")}
	task := enqueueAndClaim(t, store, TypeGenerate, generateInput("p"), nil)

	status := newExecutor(store, okGateway(), arts, nil).Run(context.Background(), task)
	assert.Equal(t, StatusFailed, status)

	got := mustGet(t, store, task.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "disk full")
}

func TestExecutor_GenerateTimeout(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	hanging := gatewayFunc(func(ctx context.Context, _ generation.Request) (*generation.Image, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	task := enqueueAndClaim(t, store, TypeGenerate, generateInput("p"), nil)

	exec := NewExecutor(store, hanging, &memoryArtifacts{}, nil,
		ExecutorConfig{GenerationTimeout: 20 * time.Millisecond}, testLogger())
	status := exec.Run(context.Background(), task)
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, "generation timed out after 20ms", mustGet(t, store, task.ID).ErrorMessage)
}

func TestExecutor_EmptyGatewayResponse(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	empty := gatewayFunc(func(context.Context, generation.Request) (*generation.Image, error) {
		return nil, nil
	})
	task := enqueueAndClaim(t, store, TypeGenerate, generateInput("p"), nil)

	newExecutor(store, empty, &memoryArtifacts{}, nil).Run(context.Background(), task)
	assert.Equal(t, generation.ErrInvalidResponse.Error(), mustGet(t, store, task.ID).ErrorMessage)
}

// Cancelling the execution context leaves the task for stuck-task recovery.
func TestExecutor_InterruptedLeavesProcessing(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	blocking := gatewayFunc(func(ctx context.Context, _ generation.Request) (*generation.Image, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	task := enqueueAndClaim(t, store, TypeGenerate, generateInput("p"), nil)

	status := newExecutor(store, blocking, &memoryArtifacts{}, nil).Run(ctx, task)
	assert.Equal(t, StatusProcessing, status)
	assert.Equal(t, StatusProcessing, mustGet(t, store, task.ID).Status)
}

// A batch of three whose second call fails completes with a partial result.
func TestExecutor_BatchPartialFailure(t *testing.T) {
	t.Parallel()

	store := &progressStore{MemoryStore: NewMemoryStore()}
	owner := uuid.New()
	recorder := history.NewMemoryRecorder()

	var calls atomic.Int32
	gateway := gatewayFunc(func(_ context.Context, req generation.Request) (*generation.Image, error) {
		if calls.Add(1) == 2 {
			return nil, errors.New("RENDER_FAILED")
		}
		return &generation.Image{Data: []byte(req.Prompt), MIMEType: generation.MIMETypePNG}, nil
	})

	in := batchInput(Combination{"color": "red"}, Combination{"color": "green"}, Combination{"color": "blue"})
	task := enqueueAndClaim(t, store, TypeBatch, in, &owner)

	status := newExecutor(store, gateway, &memoryArtifacts{}, recorder).Run(context.Background(), task)
	assert.Equal(t, StatusCompleted, status)

	got := mustGet(t, store, task.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assertStatusInvariant(t, got)

	out, ok := got.Output.(*BatchOutput)
	require.True(t, ok)
	require.Len(t, out.Results, 3)
	assert.Equal(t, 2, out.SuccessCount)
	assert.Equal(t, 1, out.FailCount)
	assert.Equal(t, len(in.Combinations), out.SuccessCount+out.FailCount)

	assert.True(t, out.Results[0].Success)
	assert.Equal(t, "a red jacket", out.Results[0].Prompt)
	assert.NotEmpty(t, out.Results[0].ImageURL)

	assert.False(t, out.Results[1].Success)
	assert.Equal(t, "RENDER_FAILED", out.Results[1].Error)
	assert.Equal(t, "green", out.Results[1].Combination["color"])
	assert.Empty(t, out.Results[1].ImageURL)

	assert.True(t, out.Results[2].Success)
	assert.NotEqual(t, out.Results[0].ImageURL, out.Results[2].ImageURL)

	assert.Equal(t, []int{20, 43, 66, 90}, store.Values())

	entries := recorder.Entries(owner)
	require.Len(t, entries, 3)
	assert.False(t, entries[1].Succeeded)
	assert.Equal(t, "green", entries[1].Variables["color"])
}

func TestExecutor_BatchAllFailed(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	in := batchInput(Combination{"color": "red"}, Combination{"color": "blue"})
	task := enqueueAndClaim(t, store, TypeBatch, in, nil)

	status := newExecutor(store, failingGateway("quota exceeded"), &memoryArtifacts{}, nil).Run(context.Background(), task)
	assert.Equal(t, StatusFailed, status)

	got := mustGet(t, store, task.ID)
	assert.Equal(t, "all 2 combinations failed: quota exceeded", got.ErrorMessage)
	assertStatusInvariant(t, got)
}

func TestExecutor_BatchUnresolvedPlaceholder(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	in := batchInput(Combination{"color": "red"}, Combination{"size": "xl"})
	task := enqueueAndClaim(t, store, TypeBatch, in, nil)

	newExecutor(store, okGateway(), &memoryArtifacts{}, nil).Run(context.Background(), task)

	out := mustGet(t, store, task.ID).Output.(*BatchOutput)
	assert.Equal(t, 1, out.SuccessCount)
	assert.Equal(t, 1, out.FailCount)
	assert.Contains(t, out.Results[1].Error, "unresolved template placeholder")
}

// Runs a generate task end to end through a file-backed artifact store.
func TestExecutor_WithFileArtifactStore(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 640, 480))))
	gateway := gatewayFunc(func(context.Context, generation.Request) (*generation.Image, error) {
		return &generation.Image{Data: buf.Bytes(), MIMEType: generation.MIMETypePNG}, nil
	})

	fs, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)
	arts := artifact.NewStore(fs, "/static", artifact.NewThumbnailer(160), testLogger())

	store := NewMemoryStore()
	task := enqueueAndClaim(t, store, TypeGenerate, generateInput("p"), nil)

	require.Equal(t, StatusCompleted, newExecutor(store, gateway, arts, nil).Run(context.Background(), task))

	out := mustGet(t, store, task.ID).Output.(*GenerateOutput)
	assert.Equal(t, "/static/images/anonymous/"+task.ID.String()+".png", out.ImageURL)
	assert.Equal(t, "/static/thumbnails/anonymous/"+task.ID.String()+".jpg", out.ThumbnailURL)
}
