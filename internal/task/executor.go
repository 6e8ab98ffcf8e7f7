package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/render-api/internal/artifact"
	"github.com/phrazzld/render-api/internal/generation"
	"github.com/phrazzld/render-api/internal/history"
	"github.com/phrazzld/render-api/internal/platform/logger"
)

// Progress checkpoints reported while a task runs.
const (
	progressGenerating = 30
	progressStoring    = 80
	batchProgressStart = 20
	batchProgressEnd   = 90
)

// ArtifactStore persists generated images. It is satisfied by *artifact.Store.
type ArtifactStore interface {
	Save(ctx context.Context, img *generation.Image, ownerID *uuid.UUID, assetID uuid.UUID, withThumbnail bool) (artifact.Locator, error)
}

// ExecutorConfig holds configuration for the executor
type ExecutorConfig struct {
	// GenerationTimeout bounds each gateway call. Zero means no per-call limit.
	GenerationTimeout time.Duration
}

// Executor runs the body of generate and batch tasks against the generation
// gateway, the artifact store and prompt history, recording the outcome in
// the task store.
type Executor struct {
	store     Store
	gateway   generation.Gateway
	artifacts ArtifactStore
	history   history.Recorder
	config    ExecutorConfig
	logger    *slog.Logger
}

var _ Runner = (*Executor)(nil)

// NewExecutor creates an Executor. A nil recorder disables prompt history.
func NewExecutor(
	store Store,
	gateway generation.Gateway,
	artifacts ArtifactStore,
	recorder history.Recorder,
	config ExecutorConfig,
	log *slog.Logger,
) *Executor {
	if recorder == nil {
		recorder = history.NopRecorder{}
	}
	return &Executor{
		store:     store,
		gateway:   gateway,
		artifacts: artifacts,
		history:   recorder,
		config:    config,
		logger:    log.With("component", "executor"),
	}
}

// Run executes t and records the result. Errors from the body become a Fail
// on the task; nothing escapes to the caller. When ctx is cancelled mid-run
// the task is left processing for stuck-task recovery.
func (e *Executor) Run(ctx context.Context, t *Task) Status {
	log := e.logger.With("task_id", t.ID, "task_type", t.Type, "attempt", t.Attempts)
	ctx = logger.WithLogger(ctx, log)

	var err error
	switch in := t.Input.(type) {
	case *GenerateInput:
		err = e.runGenerate(ctx, t, in)
	case *BatchInput:
		err = e.runBatch(ctx, t, in)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownType, t.Type)
	}

	if err == nil {
		log.Info("task completed")
		return StatusCompleted
	}

	if ctx.Err() != nil {
		log.Warn("task interrupted, leaving it for recovery", "error", err)
		return StatusProcessing
	}

	log.Error("task execution failed", "error", err)
	if failErr := e.store.Fail(ctx, t.ID, err.Error()); failErr != nil {
		log.Error("failed to update task status to failed", "error", failErr)
		return StatusProcessing
	}
	return StatusFailed
}

func (e *Executor) runGenerate(ctx context.Context, t *Task, in *GenerateInput) error {
	e.progress(ctx, t.ID, progressGenerating)

	req := in.Request()
	succeeded := false
	defer func() {
		// An interrupted run is retried later and recorded then.
		if t.UserID == nil || ctx.Err() != nil {
			return
		}
		e.record(ctx, history.Entry{
			OwnerID:    *t.UserID,
			Prompt:     req.Instructions(),
			TemplateID: in.TemplateID,
			Succeeded:  succeeded,
		})
	}()

	img, err := e.generate(ctx, req)
	if err != nil {
		return err
	}

	e.progress(ctx, t.ID, progressStoring)

	loc, err := e.artifacts.Save(ctx, img, t.UserID, t.ID, true)
	if err != nil {
		return fmt.Errorf("failed to store generated image: %w", err)
	}
	succeeded = true

	thumbnail := loc.ThumbnailURL
	if thumbnail == "" {
		thumbnail = loc.URL
	}
	return e.store.Complete(ctx, t.ID, &GenerateOutput{
		ImageURL:     loc.URL,
		ThumbnailURL: thumbnail,
	})
}

func (e *Executor) runBatch(ctx context.Context, t *Task, in *BatchInput) error {
	total := len(in.Combinations)
	if total == 0 {
		return fmt.Errorf("%w: batch has no combinations", ErrInvalidInput)
	}

	e.progress(ctx, t.ID, batchProgressStart)

	out := &BatchOutput{Results: make([]BatchResult, 0, total)}
	var firstErr error
	for i, combo := range in.Combinations {
		if err := ctx.Err(); err != nil {
			return err
		}

		result := e.runCombination(ctx, t, in, i, combo)
		out.Results = append(out.Results, result)
		if result.Success {
			out.SuccessCount++
		} else {
			out.FailCount++
			if firstErr == nil {
				firstErr = errors.New(result.Error)
			}
		}

		e.progress(ctx, t.ID, batchProgressStart+(batchProgressEnd-batchProgressStart)*(i+1)/total)
	}

	if out.SuccessCount == 0 {
		return fmt.Errorf("all %d combinations failed: %w", total, firstErr)
	}
	return e.store.Complete(ctx, t.ID, out)
}

// runCombination performs one sub-generation. Its failure is reported in the
// result and never aborts the batch.
func (e *Executor) runCombination(ctx context.Context, t *Task, in *BatchInput, index int, combo Combination) BatchResult {
	result := BatchResult{Combination: combo}
	log := logger.FromContext(ctx).With("combination", index)

	prompt, err := generation.ExpandTemplate(in.PromptTemplate, combo)
	if err != nil {
		result.Error = err.Error()
		log.Warn("combination failed", "error", err)
		return result
	}
	result.Prompt = prompt

	defer func() {
		if t.UserID != nil {
			e.record(ctx, history.Entry{
				OwnerID:    *t.UserID,
				Prompt:     prompt,
				TemplateID: in.TemplateID,
				Variables:  combo,
				Succeeded:  result.Success,
			})
		}
	}()

	img, err := e.generate(ctx, generation.Request{
		Image:       in.Image,
		Prompt:      prompt,
		AspectRatio: in.AspectRatio,
		Quality:     in.Quality,
	})
	if err != nil {
		result.Error = err.Error()
		log.Warn("combination failed", "error", err)
		return result
	}

	// Asset IDs derive from the task so a retried batch overwrites its own files.
	assetID := uuid.NewSHA1(t.ID, []byte(strconv.Itoa(index)))
	loc, err := e.artifacts.Save(ctx, img, t.UserID, assetID, false)
	if err != nil {
		result.Error = fmt.Sprintf("failed to store generated image: %v", err)
		log.Warn("combination failed", "error", err)
		return result
	}

	result.ImageURL = loc.URL
	result.ThumbnailURL = loc.ThumbnailURL
	result.Success = true
	return result
}

// generate calls the gateway under the configured per-call timeout.
func (e *Executor) generate(ctx context.Context, req generation.Request) (*generation.Image, error) {
	callCtx := ctx
	if e.config.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.GenerationTimeout)
		defer cancel()
	}

	img, err := e.gateway.Generate(callCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("generation timed out after %s", e.config.GenerationTimeout)
		}
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, generation.ErrInvalidResponse
	}
	return img, nil
}

func (e *Executor) progress(ctx context.Context, id uuid.UUID, percent int) {
	if err := e.store.UpdateProgress(ctx, id, percent); err != nil {
		logger.FromContext(ctx).Warn("failed to update task progress", "progress", percent, "error", err)
	}
}

func (e *Executor) record(ctx context.Context, entry history.Entry) {
	if err := e.history.Record(ctx, entry); err != nil {
		logger.FromContext(ctx).Warn("failed to record prompt history", "error", err)
	}
}
