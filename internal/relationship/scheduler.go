package relationship

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/pkg/models"
)

// cronParser supports both standard (5-field) and extended (6-field with
// seconds) cron expressions, plus descriptors like @every.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Executor runs one materialized relationship task.
type Executor interface {
	Execute(ctx context.Context, task *models.RelationshipTask, rel *models.Relationship) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *models.RelationshipTask, rel *models.Relationship) error

func (f ExecutorFunc) Execute(ctx context.Context, task *models.RelationshipTask, rel *models.Relationship) error {
	return f(ctx, task, rel)
}

// SchedulerConfig configures the background task loop.
type SchedulerConfig struct {
	// PollInterval is how often the scheduler checks for pending tasks.
	// Defaults to 30 seconds.
	PollInterval time.Duration

	// MaxConcurrency bounds concurrent task executions. Defaults to 4.
	MaxConcurrency int

	// TaskTimeout is the per-attempt execution deadline. Defaults to 2
	// minutes.
	TaskTimeout time.Duration

	// MaxRetries is how many extra attempts a failed execution gets.
	// Defaults to 1; negative disables retries.
	MaxRetries int

	// RetryDelay is the pause before a retry attempt. Defaults to 5
	// seconds.
	RetryDelay time.Duration

	// SweepSchedule is a cron expression (or @every form) for the
	// recurring generation sweep. Empty disables sweeping.
	SweepSchedule string

	// StaleTimeout is how long a claimed task may run before the
	// cleanup pass fails it. Defaults to 10 minutes.
	StaleTimeout time.Duration

	// CleanupInterval is how often stale claims are reaped. Defaults to
	// 1 minute.
	CleanupInterval time.Duration

	// Logger for scheduler events.
	Logger *slog.Logger
}

// Scheduler drives pending relationship tasks through an Executor on a
// bounded worker pool, runs the recurring generation sweep, and reaps
// stale claims.
type Scheduler struct {
	engine   *Engine
	executor Executor
	config   SchedulerConfig
	logger   *slog.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.RWMutex
	running bool
}

// NewScheduler wires a scheduler around an engine and an executor.
func NewScheduler(engine *Engine, executor Executor, config SchedulerConfig) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 2 * time.Minute
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	} else if config.MaxRetries == 0 {
		config.MaxRetries = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.StaleTimeout <= 0 {
		config.StaleTimeout = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "relationship-scheduler")
	}

	return &Scheduler{
		engine:   engine,
		executor: executor,
		config:   config,
		logger:   logger,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// Start begins the poll, sweep, and cleanup loops. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	var sweep cron.Schedule
	if s.config.SweepSchedule != "" {
		parsed, err := cronParser.Parse(s.config.SweepSchedule)
		if err != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return errs.Errorf(errs.KindInvalidArgument, "relationship.Scheduler.Start",
				"bad sweep schedule %q: %v", s.config.SweepSchedule, err)
		}
		sweep = parsed
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("starting relationship scheduler",
		"poll_interval", s.config.PollInterval,
		"max_concurrency", s.config.MaxConcurrency,
		"sweep_schedule", s.config.SweepSchedule,
	)

	s.wg.Add(1)
	go s.pollLoop(ctx)

	s.wg.Add(1)
	go s.cleanupLoop(ctx)

	if sweep != nil {
		s.wg.Add(1)
		go s.sweepLoop(ctx, sweep)
	}
	return nil
}

// Stop cancels the loops and waits for in-flight executions to drain,
// or until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("relationship scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler loops are live.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// pollLoop dispatches pending tasks on every tick.
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.dispatchPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchPending(ctx)
		}
	}
}

// dispatchPending claims pending tasks and hands them to workers until
// the pool is saturated.
func (s *Scheduler) dispatchPending(ctx context.Context) {
	tasks, err := s.engine.ExecutableTasks(ctx, 0)
	if err != nil {
		s.logger.Error("failed to list executable tasks", "error", err)
		return
	}

	for _, task := range tasks {
		select {
		case s.sem <- struct{}{}:
		default:
			// At max concurrency, the rest waits for the next tick.
			return
		}

		claimed, err := s.engine.ClaimTask(ctx, task.ID)
		if err != nil {
			<-s.sem
			s.logger.Debug("task claim lost", "task_id", task.ID, "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.executeTask(ctx, claimed)
		}()
	}
}

// executeTask runs one claimed task with a per-attempt timeout and
// bounded retries, then records the terminal status.
func (s *Scheduler) executeTask(ctx context.Context, task *models.RelationshipTask) {
	s.logger.Info("executing relationship task",
		"task_id", task.ID,
		"template", task.Template,
		"relationship_id", task.RelationshipID,
	)

	rel, err := s.engine.Get(ctx, task.RelationshipID)
	if err != nil {
		s.completeTask(ctx, task, models.TaskFailed, "relationship not found")
		return
	}

	var (
		status = models.TaskCompleted
		note   string
	)
	for attempt := 1; ; attempt++ {
		execCtx, cancel := context.WithTimeout(ctx, s.config.TaskTimeout)
		execErr := s.executor.Execute(execCtx, task, rel)
		timedOut := execCtx.Err() == context.DeadlineExceeded
		cancel()

		switch {
		case execErr == nil && !timedOut:
			// status stays completed; finished work is recorded even
			// mid-shutdown.
		case timedOut:
			status, note = models.TaskFailed, "execution timed out"
		case ctx.Err() != nil:
			status, note = models.TaskCancelled, "scheduler shutting down"
		default:
			if attempt <= s.config.MaxRetries {
				s.logger.Warn("task attempt failed, retrying",
					"task_id", task.ID,
					"attempt", attempt,
					"error", execErr,
				)
				select {
				case <-ctx.Done():
					status, note = models.TaskCancelled, "scheduler shutting down"
				case <-time.After(s.config.RetryDelay):
					continue
				}
			} else {
				status, note = models.TaskFailed, execErr.Error()
			}
		}
		break
	}

	s.completeTask(ctx, task, status, note)
}

// completeTask records a terminal status. Shutdown must not lose the
// write, so the store call runs on a fresh context.
func (s *Scheduler) completeTask(ctx context.Context, task *models.RelationshipTask, status models.TaskStatus, note string) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.engine.CompleteTask(recordCtx, task.ID, status, note); err != nil {
		s.logger.Error("failed to complete task",
			"task_id", task.ID,
			"status", status,
			"error", err,
		)
		return
	}
	s.logger.Info("completed relationship task",
		"task_id", task.ID,
		"template", task.Template,
		"status", status,
	)
}

// sweepLoop runs the generation sweep on its cron schedule.
func (s *Scheduler) sweepLoop(ctx context.Context, sched cron.Schedule) {
	defer s.wg.Done()

	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			n, err := s.engine.Sweep(ctx)
			if err != nil {
				s.logger.Error("generation sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("generation sweep materialized tasks", "count", n)
			}
		}
	}
}

// cleanupLoop periodically fails claims that never finished.
func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.engine.ReclaimStale(ctx, s.config.StaleTimeout)
			if err != nil {
				s.logger.Error("stale task cleanup failed", "error", err)
				continue
			}
			if count > 0 {
				s.logger.Warn("reclaimed stale task claims", "count", count)
			}
		}
	}
}
