// Package store holds the persistence contracts and their reference
// in-memory implementations. The in-memory stores keep secondary indexes
// consistent on every write: a status change removes the id from the old
// bucket before adding it to the new one, and Update is a full rewrite
// with an index rebuild for that id.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// TaskFilter narrows task listing. Nil fields are ignored.
type TaskFilter struct {
	OwnerID      *string
	TenantID     *string
	Status       *domain.TaskStatus
	ScheduleType *domain.ScheduleType
	Tag          *string
	Offset       int
	Limit        int
}

// TaskStore is the persistence contract for scheduled tasks.
type TaskStore interface {
	Create(ctx context.Context, t *domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	Update(ctx context.Context, t *domain.Task) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f TaskFilter) ([]*domain.Task, int, error)
	Due(ctx context.Context, now time.Time) ([]*domain.Task, error)
}

// MemoryTaskStore is the reference in-memory TaskStore.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task

	byOwner  map[string]map[string]struct{}
	byTenant map[string]map[string]struct{}
	byStatus map[domain.TaskStatus]map[string]struct{}
	byType   map[domain.ScheduleType]map[string]struct{}
	byTag    map[string]map[string]struct{}
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks:    make(map[string]*domain.Task),
		byOwner:  make(map[string]map[string]struct{}),
		byTenant: make(map[string]map[string]struct{}),
		byStatus: make(map[domain.TaskStatus]map[string]struct{}),
		byType:   make(map[domain.ScheduleType]map[string]struct{}),
		byTag:    make(map[string]map[string]struct{}),
	}
}

func (s *MemoryTaskStore) Create(_ context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = cloneTask(t)
	s.index(t)
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTask(t), nil
}

// Update rewrites the task and rebuilds its index entries. The previous
// status is not always known at the call site, so the old entries are
// removed from the stored copy before re-indexing the new one.
func (s *MemoryTaskStore) Update(_ context.Context, t *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tasks[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	s.unindex(old)
	s.tasks[t.ID] = cloneTask(t)
	s.index(t)
	return nil
}

func (s *MemoryTaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.unindex(t)
	delete(s.tasks, id)
	return nil
}

func (s *MemoryTaskStore) List(_ context.Context, f TaskFilter) ([]*domain.Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Narrow by the most selective available index, then post-filter.
	var candidates []*domain.Task
	switch {
	case f.OwnerID != nil:
		for id := range s.byOwner[*f.OwnerID] {
			candidates = append(candidates, s.tasks[id])
		}
	case f.TenantID != nil:
		for id := range s.byTenant[*f.TenantID] {
			candidates = append(candidates, s.tasks[id])
		}
	case f.Status != nil:
		for id := range s.byStatus[*f.Status] {
			candidates = append(candidates, s.tasks[id])
		}
	default:
		for _, t := range s.tasks {
			candidates = append(candidates, t)
		}
	}

	var matched []*domain.Task
	for _, t := range candidates {
		if f.OwnerID != nil && t.OwnerID != *f.OwnerID {
			continue
		}
		if f.TenantID != nil && t.TenantID != *f.TenantID {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.ScheduleType != nil && t.ScheduleType != *f.ScheduleType {
			continue
		}
		if f.Tag != nil && !hasTag(t, *f.Tag) {
			continue
		}
		matched = append(matched, t)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	matched = paginateTasks(matched, f.Offset, f.Limit)

	result := make([]*domain.Task, len(matched))
	for i, t := range matched {
		result[i] = cloneTask(t)
	}
	return result, total, nil
}

// Due returns tasks whose next_run_at has passed and whose date window
// admits now, ordered by next_run_at ascending. Running tasks are included
// so the dispatcher can apply its overlap policy when the next occurrence
// arrives mid-execution.
func (s *MemoryTaskStore) Due(_ context.Context, now time.Time) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*domain.Task
	for _, status := range []domain.TaskStatus{domain.TaskActive, domain.TaskRunning} {
		for id := range s.byStatus[status] {
			t := s.tasks[id]
			if t.NextRunAt == nil || t.NextRunAt.After(now) {
				continue
			}
			if !t.InWindow(now) {
				continue
			}
			due = append(due, cloneTask(t))
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})
	return due, nil
}

func (s *MemoryTaskStore) index(t *domain.Task) {
	if t.OwnerID != "" {
		addToIndex(s.byOwner, t.OwnerID, t.ID)
	}
	if t.TenantID != "" {
		addToIndex(s.byTenant, t.TenantID, t.ID)
	}
	addToIndex(s.byStatus, t.Status, t.ID)
	addToIndex(s.byType, t.ScheduleType, t.ID)
	for _, tag := range t.Tags {
		addToIndex(s.byTag, tag, t.ID)
	}
}

func (s *MemoryTaskStore) unindex(t *domain.Task) {
	removeFromIndex(s.byOwner, t.OwnerID, t.ID)
	removeFromIndex(s.byTenant, t.TenantID, t.ID)
	removeFromIndex(s.byStatus, t.Status, t.ID)
	removeFromIndex(s.byType, t.ScheduleType, t.ID)
	for _, tag := range t.Tags {
		removeFromIndex(s.byTag, tag, t.ID)
	}
}

func hasTag(t *domain.Task, tag string) bool {
	for _, candidate := range t.Tags {
		if candidate == tag {
			return true
		}
	}
	return false
}

func paginateTasks(tasks []*domain.Task, offset, limit int) []*domain.Task {
	if offset >= len(tasks) {
		return nil
	}
	tasks = tasks[offset:]
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}

func cloneTask(t *domain.Task) *domain.Task {
	clone := *t
	clone.Executions = append([]domain.Execution(nil), t.Executions...)
	clone.Tags = append([]string(nil), t.Tags...)
	return &clone
}

// ---- shared index helpers ----

func addToIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	var zero K
	if key == zero {
		return
	}
	if index[key] == nil {
		index[key] = make(map[string]struct{})
	}
	index[key][id] = struct{}{}
}

func removeFromIndex[K comparable](index map[K]map[string]struct{}, key K, id string) {
	if bucket, ok := index[key]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(index, key)
		}
	}
}
