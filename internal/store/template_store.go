package store

import (
	"context"
	"sort"
	"sync"

	"github.com/notifyhub/dispatch/internal/domain"
)

// TemplateStore is the persistence contract for message templates.
type TemplateStore interface {
	Create(ctx context.Context, t *domain.Template) error
	Get(ctx context.Context, id string) (*domain.Template, error)
	Update(ctx context.Context, t *domain.Template) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, offset, limit int) ([]*domain.Template, int, error)
}

// MemoryTemplateStore is the reference in-memory TemplateStore.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*domain.Template
}

func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]*domain.Template)}
}

func (s *MemoryTemplateStore) Create(_ context.Context, t *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *t
	s.templates[t.ID] = &clone
	return nil
}

func (s *MemoryTemplateStore) Get(_ context.Context, id string) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *MemoryTemplateStore) Update(_ context.Context, t *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; !ok {
		return domain.ErrTemplateNotFound
	}
	clone := *t
	s.templates[t.ID] = &clone
	return nil
}

func (s *MemoryTemplateStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return domain.ErrTemplateNotFound
	}
	delete(s.templates, id)
	return nil
}

func (s *MemoryTemplateStore) List(_ context.Context, offset, limit int) ([]*domain.Template, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.Template, 0, len(s.templates))
	for _, t := range s.templates {
		clone := *t
		all = append(all, &clone)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}
