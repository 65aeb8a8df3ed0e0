// Package scheduler drives time-based task execution: one-shot, interval,
// daily/weekly/monthly, and cron recurrences with retry, timeout, and
// overlap control.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/store"
)

// Service owns task CRUD and the handler registry. All mutations hold a
// single service-wide mutex around store writes; reads go straight to the
// store.
type Service struct {
	store    store.TaskStore
	executor *HTTPExecutor
	logger   *zap.Logger

	mu       sync.Mutex // serializes task mutations
	handlers map[domain.TaskType]Handler
	hmu      sync.RWMutex
}

func NewService(taskStore store.TaskStore, executor *HTTPExecutor, logger *zap.Logger) *Service {
	return &Service{
		store:    taskStore,
		executor: executor,
		logger:   logger,
		handlers: make(map[domain.TaskType]Handler),
	}
}

// RegisterHandler installs the executor for a task type. The http type
// works without one; every other type requires a registered handler.
func (s *Service) RegisterHandler(taskType domain.TaskType, h Handler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.handlers[taskType] = h
}

func (s *Service) handler(taskType domain.TaskType) (Handler, bool) {
	s.hmu.RLock()
	defer s.hmu.RUnlock()
	h, ok := s.handlers[taskType]
	return h, ok
}

// CreateTask validates the task, computes its first run, and accepts it
// into the active set.
func (s *Service) CreateTask(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t.ID = uuid.New().String()
	t.Status = domain.TaskPending
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = 30
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}
	if t.RetryDelaySeconds <= 0 {
		t.RetryDelaySeconds = 60
	}

	base := now
	if t.StartDate != nil && t.StartDate.After(base) {
		base = *t.StartDate
	}
	next, err := NextRun(t, base)
	if err != nil {
		return nil, err
	}
	if next == nil && t.ScheduleType != domain.ScheduleOnce {
		return nil, fmt.Errorf("%w: schedule has no future run", domain.ErrInvalidSchedule)
	}
	t.NextRunAt = next
	t.Status = domain.TaskActive

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	s.logger.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("schedule_type", string(t.ScheduleType)),
	)
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context, f store.TaskFilter) ([]*domain.Task, int, error) {
	return s.store.List(ctx, f)
}

// UpdateTask applies schedule/payload changes and recomputes the next run.
// Terminal tasks (completed, cancelled) cannot be updated.
func (s *Service) UpdateTask(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Get(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.TaskCompleted || current.Status == domain.TaskCancelled {
		return nil, domain.ErrNotCancellable
	}

	// Counters, history, and run state are owned by the dispatcher.
	t.Status = current.Status
	t.TotalRuns = current.TotalRuns
	t.SuccessfulRuns = current.SuccessfulRuns
	t.FailedRuns = current.FailedRuns
	t.Executions = current.Executions
	t.LastRunAt = current.LastRunAt
	t.CreatedAt = current.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	next, err := NextRun(t, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	t.NextRunAt = next

	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx, id)
}

// PauseTask suspends dispatch. Reversible via ResumeTask.
func (s *Service) PauseTask(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.TaskPaused, func(status domain.TaskStatus) bool {
		return status == domain.TaskActive || status == domain.TaskPending
	})
}

// ResumeTask reactivates a paused task and recomputes its next run so the
// pause gap is not replayed.
func (s *Service) ResumeTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != domain.TaskPaused {
		return domain.ErrNotCancellable
	}

	next, err := NextRun(t, time.Now().UTC())
	if err != nil {
		return err
	}
	t.NextRunAt = next
	t.Status = domain.TaskActive
	if next == nil {
		t.Status = domain.TaskCompleted
	}
	t.UpdatedAt = time.Now().UTC()
	return s.store.Update(ctx, t)
}

// CancelTask is terminal: a cancelled task never dispatches again.
func (s *Service) CancelTask(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.TaskCancelled, func(status domain.TaskStatus) bool {
		return status != domain.TaskCancelled && status != domain.TaskCompleted
	})
}

// TriggerTask runs the task immediately, bypassing the schedule gate but
// following the same execution flow (overlap control included).
func (s *Service) TriggerTask(ctx context.Context, id string) (*domain.Execution, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == domain.TaskCancelled || t.Status == domain.TaskCompleted {
		return nil, domain.ErrNotCancellable
	}
	return s.execute(ctx, t, time.Now().UTC(), true), nil
}

// ListExecutions returns the bounded execution log, newest last.
func (s *Service) ListExecutions(ctx context.Context, id string) ([]domain.Execution, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Executions, nil
}

func (s *Service) transition(ctx context.Context, id string, to domain.TaskStatus, allowed func(domain.TaskStatus) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !allowed(t.Status) {
		return domain.ErrNotCancellable
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return s.store.Update(ctx, t)
}
