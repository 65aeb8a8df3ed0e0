package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Dispatcher is the scheduler tick loop: every interval it reads the due
// task set and executes each task in its own goroutine. Overlap control is
// enforced per task via the running status.
type Dispatcher struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger

	// Optional metrics hooks (nil = no-op).
	onExecution func(domain.ExecutionStatus)
	onBacklog   func(int)

	wg sync.WaitGroup
}

func NewDispatcher(svc *Service, interval time.Duration, logger *zap.Logger, onExecution func(domain.ExecutionStatus), onBacklog func(int)) *Dispatcher {
	if onExecution == nil {
		onExecution = func(domain.ExecutionStatus) {}
	}
	if onBacklog == nil {
		onBacklog = func(int) {}
	}
	return &Dispatcher{svc: svc, interval: interval, logger: logger, onExecution: onExecution, onBacklog: onBacklog}
}

// Run ticks until ctx is cancelled, then waits for in-flight executions.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("scheduler dispatcher started", zap.Duration("interval", d.interval))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("scheduler dispatcher stopping")
			d.wg.Wait()
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := d.svc.store.Due(ctx, now)
	if err != nil {
		d.logger.Error("due scan failed", zap.Error(err))
		return
	}
	d.onBacklog(len(due))

	for _, t := range due {
		d.wg.Add(1)
		go func(t *domain.Task) {
			defer d.wg.Done()
			exec := d.svc.execute(ctx, t, now, false)
			if exec != nil {
				d.onExecution(exec.Status)
			}
		}(t)
	}
}

// execute runs one occurrence of the task: overlap gate, running
// transition, handler invocation under timeout, outcome recording, and
// next-run recomputation.
func (s *Service) execute(ctx context.Context, t *domain.Task, now time.Time, manual bool) *domain.Execution {
	scheduled := now
	if t.NextRunAt != nil && !manual {
		scheduled = *t.NextRunAt
	}

	s.mu.Lock()
	current, err := s.store.Get(ctx, t.ID)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("task vanished before execution", zap.String("task_id", t.ID), zap.Error(err))
		return nil
	}

	if current.Status == domain.TaskRunning && !current.AllowOverlap {
		exec := domain.Execution{
			ID:            uuid.New().String(),
			TaskID:        t.ID,
			ScheduledTime: scheduled,
			StartedAt:     now,
			Status:        domain.ExecutionSkipped,
		}
		current.TotalRuns++
		current.AppendExecution(exec)
		s.advanceAfterRun(current, now)
		current.UpdatedAt = now
		if uerr := s.store.Update(ctx, current); uerr != nil {
			s.logger.Error("failed to record skip", zap.String("task_id", t.ID), zap.Error(uerr))
		}
		s.mu.Unlock()
		return &exec
	}

	// Advance next_run_at before invoking so a slow handler does not
	// cause the same occurrence to fire again on the next tick.
	current.Status = domain.TaskRunning
	s.advanceAfterRun(current, now)
	current.UpdatedAt = now
	if uerr := s.store.Update(ctx, current); uerr != nil {
		s.mu.Unlock()
		s.logger.Error("failed to mark task running", zap.String("task_id", t.ID), zap.Error(uerr))
		return nil
	}
	s.mu.Unlock()

	exec := domain.Execution{
		ID:            uuid.New().String(),
		TaskID:        t.ID,
		ScheduledTime: scheduled,
		StartedAt:     time.Now().UTC(),
	}

	result, invokeErr := s.invoke(ctx, current)
	completedAt := time.Now().UTC()
	exec.CompletedAt = &completedAt
	exec.DurationMS = completedAt.Sub(exec.StartedAt).Milliseconds()

	switch {
	case invokeErr == nil:
		exec.Status = domain.ExecutionCompleted
		exec.Result = result
	case errors.Is(invokeErr, context.DeadlineExceeded):
		exec.Status = domain.ExecutionTimeout
		exec.Error = invokeErr.Error()
	default:
		exec.Status = domain.ExecutionFailed
		exec.Error = invokeErr.Error()
	}

	s.recordExecution(ctx, t.ID, exec)
	return &exec
}

// invoke resolves the handler for the payload type and runs it under the
// task timeout. A handler that ignores cancellation is abandoned at the
// deadline; its occurrence is recorded as a timeout.
func (s *Service) invoke(ctx context.Context, t *domain.Task) (string, error) {
	fn, ok := s.handler(t.Payload.Type)
	if !ok {
		if t.Payload.Type != domain.TaskHTTP {
			return "", fmt.Errorf("no handler registered for task type %q", t.Payload.Type)
		}
		fn = s.executor.Execute
	}

	cctx, cancel := context.WithTimeout(ctx, time.Duration(t.TimeoutSeconds)*time.Second)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(cctx, t)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-cctx.Done():
		return "", cctx.Err()
	}
}

// recordExecution appends the outcome, updates counters, and settles the
// task status: retry on failure within budget, completed when the schedule
// is exhausted, active otherwise.
func (s *Service) recordExecution(ctx context.Context, taskID string, exec domain.Execution) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		s.logger.Error("task vanished during execution", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	t.TotalRuns++
	switch exec.Status {
	case domain.ExecutionCompleted:
		t.SuccessfulRuns++
	case domain.ExecutionFailed:
		t.FailedRuns++
	}
	started := exec.StartedAt
	t.LastRunAt = &started
	t.AppendExecution(exec)

	failed := exec.Status == domain.ExecutionFailed || exec.Status == domain.ExecutionTimeout

	retryScheduled := false
	if failed && t.MaxRetries > 0 && trailingFailures(t) <= t.MaxRetries {
		retryAt := now.Add(time.Duration(t.RetryDelaySeconds) * time.Second)
		if t.EndDate == nil || !retryAt.After(*t.EndDate) {
			t.NextRunAt = &retryAt
			t.Status = domain.TaskActive
			retryScheduled = true
		}
	}
	if !retryScheduled {
		switch {
		case t.NextRunAt != nil:
			t.Status = domain.TaskActive
		case t.ScheduleType == domain.ScheduleOnce && failed:
			t.Status = domain.TaskFailed
		default:
			// Schedule exhausted (one-shot done, or next run past end_date).
			t.Status = domain.TaskCompleted
		}
	}

	t.UpdatedAt = now
	if err := s.store.Update(ctx, t); err != nil {
		s.logger.Error("failed to record execution", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	s.logger.Info("task executed",
		zap.String("task_id", taskID),
		zap.String("status", string(exec.Status)),
		zap.Int64("duration_ms", exec.DurationMS),
	)
}

// advanceAfterRun recomputes next_run_at past now. One-shot tasks have no
// further run by definition. Caller holds the service mutex.
func (s *Service) advanceAfterRun(t *domain.Task, now time.Time) {
	if t.ScheduleType == domain.ScheduleOnce {
		t.NextRunAt = nil
		return
	}
	next, err := NextRun(t, now)
	if err != nil {
		s.logger.Error("next-run computation failed", zap.String("task_id", t.ID), zap.Error(err))
		t.NextRunAt = nil
		return
	}
	t.NextRunAt = next
}

// trailingFailures counts consecutive failed/timeout executions at the
// tail of the log; a success resets the retry budget.
func trailingFailures(t *domain.Task) int {
	count := 0
	for i := len(t.Executions) - 1; i >= 0; i-- {
		switch t.Executions[i].Status {
		case domain.ExecutionFailed, domain.ExecutionTimeout:
			count++
		case domain.ExecutionSkipped:
			continue
		default:
			return count
		}
	}
	return count
}
