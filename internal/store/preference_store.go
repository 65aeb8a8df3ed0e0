package store

import (
	"context"
	"sync"

	"github.com/notifyhub/dispatch/internal/domain"
)

// PreferenceStore is the persistence contract for user preferences.
// GetOrCreate auto-creates the default record on first access.
type PreferenceStore interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Preferences, error)
	Update(ctx context.Context, p *domain.Preferences) error
	Delete(ctx context.Context, userID string) error
}

// MemoryPreferenceStore is the reference in-memory PreferenceStore.
type MemoryPreferenceStore struct {
	mu    sync.Mutex
	prefs map[string]*domain.Preferences
}

func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]*domain.Preferences)}
}

func (s *MemoryPreferenceStore) GetOrCreate(_ context.Context, userID string) (*domain.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		p = domain.DefaultPreferences(userID)
		s.prefs[userID] = p
	}
	return clonePreferences(p), nil
}

func (s *MemoryPreferenceStore) Update(_ context.Context, p *domain.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = clonePreferences(p)
	return nil
}

func (s *MemoryPreferenceStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prefs[userID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.prefs, userID)
	return nil
}

func clonePreferences(p *domain.Preferences) *domain.Preferences {
	clone := *p
	clone.Channels = make(map[domain.Channel]domain.ChannelPreference, len(p.Channels))
	for k, v := range p.Channels {
		clone.Channels[k] = v
	}
	clone.Categories = make(map[string]domain.CategoryPreference, len(p.Categories))
	for k, v := range p.Categories {
		clone.Categories[k] = v
	}
	clone.DeviceTokens = append([]string(nil), p.DeviceTokens...)
	return &clone
}
