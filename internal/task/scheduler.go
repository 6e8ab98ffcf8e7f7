package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Runner executes one claimed task to a terminal state. It must convert every
// failure into a store update and report the status it left the task in.
// A task interrupted by shutdown is left processing.
type Runner interface {
	Run(ctx context.Context, t *Task) Status
}

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	// MaxConcurrency bounds how many tasks execute at once in this process
	MaxConcurrency int

	// TickInterval is the time between scheduling passes
	TickInterval time.Duration

	// StuckTaskAge defines how long a task can be in processing state
	// before it's considered stuck and reset
	StuckTaskAge time.Duration

	// MaxAttempts is how many claims a task gets before a stuck task is
	// force-failed instead of reset. Zero disables the limit.
	MaxAttempts int
}

// DefaultSchedulerConfig returns a SchedulerConfig with reasonable defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrency: 2,
		TickInterval:   3 * time.Second,
		StuckTaskAge:   10 * time.Minute,
		MaxAttempts:    3,
	}
}

// LoopState is the phase of the scheduling loop.
type LoopState string

// Loop phases. A tick moves idle → sweeping → dispatching → idle.
const (
	StateIdle        LoopState = "idle"
	StateSweeping    LoopState = "sweeping"
	StateDispatching LoopState = "dispatching"
)

// Scheduler claims pending tasks from a Store and runs them with bounded
// concurrency. Each Scheduler owns its slots and lifecycle, so several can
// coexist in one process (tests do this); in production exactly one runs.
type Scheduler struct {
	store   Store
	runner  Runner
	config  SchedulerConfig
	logger  *slog.Logger
	metrics *Metrics

	// slots holds one token per executing task; its capacity is MaxConcurrency.
	slots chan struct{}
	// tickMu serializes ticks so slot accounting cannot race with itself.
	tickMu sync.Mutex
	wg     sync.WaitGroup

	execCtx    context.Context
	execCancel context.CancelFunc

	mu       sync.Mutex
	state    LoopState
	running  bool
	loopStop context.CancelFunc
	loopDone chan struct{}

	// inFlight holds the IDs this Scheduler is executing. Recovery skips
	// them: their age says nothing about whether they are abandoned.
	inFlight map[uuid.UUID]struct{}
}

// NewScheduler creates a Scheduler. Invalid config values fall back to defaults.
func NewScheduler(store Store, runner Runner, config SchedulerConfig, log *slog.Logger, metrics *Metrics) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.MaxConcurrency <= 0 {
		log.Warn("invalid max concurrency specified, using default",
			"specified", config.MaxConcurrency,
			"default", defaults.MaxConcurrency)
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = defaults.StuckTaskAge
	}

	execCtx, execCancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:      store,
		runner:     runner,
		config:     config,
		logger:     log.With("component", "scheduler"),
		metrics:    metrics,
		slots:      make(chan struct{}, config.MaxConcurrency),
		execCtx:    execCtx,
		execCancel: execCancel,
		inFlight:   make(map[uuid.UUID]struct{}),
		state:      StateIdle,
	}
}

// Start launches the scheduling loop. The first tick runs immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}
	if s.execCtx.Err() != nil {
		return ErrSchedulerStopped
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.loopStop = cancel
	s.loopDone = make(chan struct{})

	go s.loop(loopCtx, s.loopDone)

	s.logger.Info("scheduler started",
		"max_concurrency", s.config.MaxConcurrency,
		"tick_interval", s.config.TickInterval.String(),
		"stuck_task_age", s.config.StuckTaskAge.String())
	return nil
}

// Stop halts the loop and waits for in-flight tasks until ctx is done. Tasks
// still running at that point have their context cancelled and stay
// processing; ResetStuck recovers them on a later tick or restart. A stopped
// Scheduler cannot be started again.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.loopStop()
		done := s.loopDone
		s.running = false
		s.mu.Unlock()
		<-done
	} else {
		s.mu.Unlock()
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	defer s.execCancel()

	select {
	case <-waited:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with tasks in flight",
			"active", s.ActiveCount())
		return fmt.Errorf("waiting for in-flight tasks: %w", ctx.Err())
	}
}

// ActiveCount returns the number of tasks this scheduler is executing.
func (s *Scheduler) ActiveCount() int {
	return len(s.slots)
}

// State returns the current loop phase.
func (s *Scheduler) State() LoopState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(state LoopState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.tickAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler tick failed", "error", err)
	}
}

// Tick runs one scheduling pass: recover stuck tasks, then claim up to the
// number of free slots and start each claimed task without waiting for it.
// It returns how many tasks were dispatched.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	defer s.setState(StateIdle)

	s.setState(StateSweeping)
	s.recoverStuck(ctx)

	available := cap(s.slots) - len(s.slots)
	if available <= 0 {
		s.logger.Debug("no free slots", "active", len(s.slots))
		return 0, nil
	}

	s.setState(StateDispatching)
	tasks, err := s.store.ClaimPending(ctx, available)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending tasks: %w", err)
	}

	for _, t := range tasks {
		// Only Tick acquires slots and it holds tickMu, so this never blocks.
		s.slots <- struct{}{}
		s.wg.Add(1)
		s.markInFlight(t.ID, true)
		s.metrics.taskStarted()
		go s.execute(t)
	}

	if len(tasks) > 0 {
		s.logger.Debug("dispatched tasks", "count", len(tasks), "active", len(s.slots))
	}
	return len(tasks), nil
}

func (s *Scheduler) recoverStuck(ctx context.Context) {
	inFlight := s.inFlightIDs()
	if s.config.MaxAttempts > 0 {
		abandoned, err := s.store.FailExhausted(ctx, s.config.StuckTaskAge, s.config.MaxAttempts, inFlight...)
		if err != nil {
			s.logger.Error("failed to fail exhausted tasks", "error", err)
		} else if abandoned > 0 {
			s.logger.Warn("abandoned stuck tasks", "count", abandoned, "max_attempts", s.config.MaxAttempts)
			s.metrics.tasksAbandoned(abandoned)
		}
	}

	reset, err := s.store.ResetStuck(ctx, s.config.StuckTaskAge, inFlight...)
	if err != nil {
		s.logger.Error("failed to reset stuck tasks", "error", err)
		return
	}
	if reset > 0 {
		s.logger.Info("reset stuck tasks", "count", reset)
		s.metrics.tasksReset(reset)
	}
}

// execute runs one task body and releases its slot no matter how it ends.
func (s *Scheduler) execute(t *Task) {
	start := time.Now()
	status := StatusProcessing

	log := s.logger.With("task_id", t.ID, "task_type", t.Type, "attempt", t.Attempts)

	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r)
			msg := fmt.Sprintf("internal error: %v", r)
			if err := s.store.Fail(context.WithoutCancel(s.execCtx), t.ID, msg); err != nil {
				log.Error("failed to record panicked task as failed", "error", err)
			}
			status = StatusFailed
		}
		s.metrics.taskFinished(t.Type, status, time.Since(start))
		s.markInFlight(t.ID, false)
		<-s.slots
		s.wg.Done()
	}()

	log.Info("processing task")
	status = s.runner.Run(s.execCtx, t)
}

func (s *Scheduler) markInFlight(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active {
		s.inFlight[id] = struct{}{}
	} else {
		delete(s.inFlight, id)
	}
}

func (s *Scheduler) inFlightIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	return ids
}
