// Package maintenance runs the background upkeep tasks: expiring stale
// commitments, rebalancing the hot wallet, sweeping fees, retrying owed
// payouts and archiving. Every run produces a structured result that is
// persisted, so failures are queryable rather than only visible in logs.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// Result is what a task reports for one run.
type Result struct {
	Status domain.TaskStatus
	Detail string
	Err    error
}

// Success reports a completed run.
func Success(format string, args ...any) Result {
	return Result{Status: domain.TaskSuccess, Detail: fmt.Sprintf(format, args...)}
}

// Skipped reports a run that had nothing to do.
func Skipped(format string, args ...any) Result {
	return Result{Status: domain.TaskSkipped, Detail: fmt.Sprintf(format, args...)}
}

// Retry reports a transient failure the next cycle will retry.
func Retry(err error) Result {
	return Result{Status: domain.TaskRetry, Err: err}
}

// Failure reports a failure that needs an operator.
func Failure(err error) Result {
	return Result{Status: domain.TaskFailure, Err: err}
}

// Task is one scheduled job. Run must be safe to call redundantly.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) Result
}

// Emitter receives task failure events. service.Events satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event string, detail map[string]any)
}

// Supervisor runs each task on its own ticker.
type Supervisor struct {
	tasks   []Task
	runs    domain.TaskRunStore
	locks   domain.LockManager
	lockTTL time.Duration
	events  Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewSupervisor creates a Supervisor. locks may be nil on a single node;
// otherwise each run holds a distributed lock named after its task.
func NewSupervisor(tasks []Task, runs domain.TaskRunStore, locks domain.LockManager, lockTTL time.Duration, events Emitter, logger *slog.Logger) *Supervisor {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Supervisor{
		tasks:   tasks,
		runs:    runs,
		locks:   locks,
		lockTTL: lockTTL,
		events:  events,
		logger:  logger.With(slog.String("component", "maintenance")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Tasks returns the registered tasks.
func (s *Supervisor) Tasks() []Task { return s.tasks }

// Run starts every task and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "maintenance supervisor starting", slog.Int("tasks", len(s.tasks)))

	g, ctx := errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		if task.Interval <= 0 {
			s.logger.WarnContext(ctx, "task disabled", slog.String("task", task.Name))
			continue
		}
		g.Go(func() error {
			s.RunOnce(ctx, task)
			ticker := time.NewTicker(task.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s.RunOnce(ctx, task)
				}
			}
		})
	}
	err := g.Wait()
	s.logger.InfoContext(ctx, "maintenance supervisor stopped")
	return err
}

// RunOnce executes task a single time and records the outcome.
func (s *Supervisor) RunOnce(ctx context.Context, task Task) domain.TaskRun {
	run := domain.TaskRun{ID: uuid.NewString(), Task: task.Name, StartedAt: s.now()}
	res := s.execute(ctx, task)

	run.Status = res.Status
	run.Detail = res.Detail
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	run.FinishedAt = s.now()

	if err := s.runs.Record(context.WithoutCancel(ctx), run); err != nil {
		s.logger.ErrorContext(ctx, "record task run failed",
			slog.String("task", task.Name),
			slog.String("error", err.Error()),
		)
	}

	attrs := []any{
		slog.String("task", task.Name),
		slog.String("status", string(run.Status)),
		slog.Duration("took", run.FinishedAt.Sub(run.StartedAt)),
	}
	if run.Detail != "" {
		attrs = append(attrs, slog.String("detail", run.Detail))
	}
	switch run.Status {
	case domain.TaskFailure:
		s.logger.ErrorContext(ctx, "task failed", append(attrs, slog.String("error", run.Error))...)
		if s.events != nil {
			s.events.Emit(ctx, domain.EventTaskFailed, map[string]any{
				"task":  task.Name,
				"error": run.Error,
			})
		}
	case domain.TaskRetry:
		s.logger.WarnContext(ctx, "task will retry", append(attrs, slog.String("error", run.Error))...)
	case domain.TaskSkipped:
		s.logger.DebugContext(ctx, "task skipped", attrs...)
	default:
		s.logger.InfoContext(ctx, "task completed", attrs...)
	}
	return run
}

func (s *Supervisor) execute(ctx context.Context, task Task) (res Result) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "maintenance:"+task.Name, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return Skipped("another replica holds the lock")
		}
		if err != nil {
			return Retry(fmt.Errorf("acquire lock: %w", err))
		}
		defer unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			res = Failure(fmt.Errorf("panic: %v", p))
		}
	}()
	res = task.Run(ctx)
	if res.Status == "" {
		res.Status = domain.TaskSuccess
	}
	return res
}
