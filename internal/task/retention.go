package task

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ArtifactDeleter removes a stored artifact by locator. It is satisfied by
// *artifact.Store.
type ArtifactDeleter interface {
	Delete(ctx context.Context, locator string) (bool, error)
}

// RetentionConfig holds configuration for the retention job
type RetentionConfig struct {
	// MaxAgeDays is the age past which terminal tasks are deleted
	MaxAgeDays int
	// Schedule is a cron expression or descriptor such as "@daily"
	Schedule string
	// RunTimeout bounds a single sweep
	RunTimeout time.Duration
}

// RetentionJob deletes old terminal tasks on a cron schedule and removes the
// artifacts their outputs point at.
type RetentionJob struct {
	store     Store
	artifacts ArtifactDeleter
	config    RetentionConfig
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewRetentionJob creates a RetentionJob. A nil deleter leaves artifacts in place.
func NewRetentionJob(store Store, artifacts ArtifactDeleter, config RetentionConfig, log *slog.Logger) *RetentionJob {
	if config.RunTimeout <= 0 {
		config.RunTimeout = 5 * time.Minute
	}
	return &RetentionJob{
		store:     store,
		artifacts: artifacts,
		config:    config,
		logger:    log.With("component", "retention"),
	}
}

// Run performs one sweep and returns how many tasks were deleted.
func (j *RetentionJob) Run(ctx context.Context) (int, error) {
	removed, err := j.store.RetentionSweep(ctx, j.config.MaxAgeDays)
	if err != nil {
		return 0, fmt.Errorf("retention sweep failed: %w", err)
	}

	deletedArtifacts := 0
	if j.artifacts != nil {
		for _, t := range removed {
			for _, locator := range artifactLocators(t.Output) {
				ok, err := j.artifacts.Delete(ctx, locator)
				if err != nil {
					j.logger.Warn("failed to delete artifact",
						"task_id", t.ID, "locator", locator, "error", err)
					continue
				}
				if ok {
					deletedArtifacts++
				}
			}
		}
	}

	j.logger.Info("retention sweep finished",
		"tasks_deleted", len(removed),
		"artifacts_deleted", deletedArtifacts,
		"max_age_days", j.config.MaxAgeDays)
	return len(removed), nil
}

// Start schedules Run according to the configured cron expression.
func (j *RetentionJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(j.config.Schedule, j.runScheduled); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", j.config.Schedule, err)
	}
	c.Start()
	j.cron = c

	j.logger.Info("retention job scheduled", "schedule", j.config.Schedule)
	return nil
}

// Stop unschedules the job and returns a context that is done once a sweep
// in progress has finished.
func (j *RetentionJob) Stop() context.Context {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := j.cron.Stop()
	j.cron = nil
	return ctx
}

func (j *RetentionJob) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), j.config.RunTimeout)
	defer cancel()

	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("scheduled retention sweep failed", "error", err)
	}
}

// artifactLocators lists every locator referenced by a task output.
func artifactLocators(out Output) []string {
	var locators []string
	add := func(urls ...string) {
		for _, u := range urls {
			if u != "" && !slices.Contains(locators, u) {
				locators = append(locators, u)
			}
		}
	}

	switch o := out.(type) {
	case *GenerateOutput:
		add(o.ImageURL, o.ThumbnailURL)
	case *BatchOutput:
		for _, r := range o.Results {
			if r.Success {
				add(r.ImageURL, r.ThumbnailURL)
			}
		}
	}
	return locators
}
