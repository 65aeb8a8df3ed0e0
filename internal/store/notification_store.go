package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// NotificationFilter narrows notification listing. Nil fields are ignored.
type NotificationFilter struct {
	UserID   *string
	TenantID *string
	Status   *domain.NotificationStatus
	Type     *domain.Channel
	Offset   int
	Limit    int
}

// NotificationStore is the persistence contract for notifications. The
// in-memory implementation is the reference; the pgx-backed one in
// pg_notification_store.go provides durability behind the same contract.
type NotificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, id string) (*domain.Notification, error)
	Update(ctx context.Context, n *domain.Notification) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f NotificationFilter) ([]*domain.Notification, int, error)
	// DuePending returns pending notifications whose scheduled time has
	// passed. Expired pending notifications are marked cancelled in place
	// and excluded from the result.
	DuePending(ctx context.Context, now time.Time) ([]*domain.Notification, error)
}

// MemoryNotificationStore is the reference in-memory NotificationStore.
type MemoryNotificationStore struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification

	byUser   map[string]map[string]struct{}
	byStatus map[domain.NotificationStatus]map[string]struct{}
}

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{
		notifications: make(map[string]*domain.Notification),
		byUser:        make(map[string]map[string]struct{}),
		byStatus:      make(map[domain.NotificationStatus]map[string]struct{}),
	}
}

func (s *MemoryNotificationStore) Create(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = cloneNotification(n)
	addToIndex(s.byUser, n.Recipient.UserID, n.ID)
	addToIndex(s.byStatus, n.Status, n.ID)
	return nil
}

func (s *MemoryNotificationStore) Get(_ context.Context, id string) (*domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (s *MemoryNotificationStore) Update(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.notifications[n.ID]
	if !ok {
		return domain.ErrNotFound
	}
	removeFromIndex(s.byUser, old.Recipient.UserID, old.ID)
	removeFromIndex(s.byStatus, old.Status, old.ID)
	s.notifications[n.ID] = cloneNotification(n)
	addToIndex(s.byUser, n.Recipient.UserID, n.ID)
	addToIndex(s.byStatus, n.Status, n.ID)
	return nil
}

func (s *MemoryNotificationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	removeFromIndex(s.byUser, n.Recipient.UserID, n.ID)
	removeFromIndex(s.byStatus, n.Status, n.ID)
	delete(s.notifications, id)
	return nil
}

func (s *MemoryNotificationStore) List(_ context.Context, f NotificationFilter) ([]*domain.Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*domain.Notification
	switch {
	case f.UserID != nil:
		for id := range s.byUser[*f.UserID] {
			candidates = append(candidates, s.notifications[id])
		}
	case f.Status != nil:
		for id := range s.byStatus[*f.Status] {
			candidates = append(candidates, s.notifications[id])
		}
	default:
		for _, n := range s.notifications {
			candidates = append(candidates, n)
		}
	}

	var matched []*domain.Notification
	for _, n := range candidates {
		if f.UserID != nil && n.Recipient.UserID != *f.UserID {
			continue
		}
		if f.TenantID != nil && n.TenantID != *f.TenantID {
			continue
		}
		if f.Status != nil && n.Status != *f.Status {
			continue
		}
		if f.Type != nil && n.Type != *f.Type {
			continue
		}
		matched = append(matched, n)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= len(matched) {
		matched = nil
	} else {
		matched = matched[f.Offset:]
		if f.Limit > 0 && f.Limit < len(matched) {
			matched = matched[:f.Limit]
		}
	}

	result := make([]*domain.Notification, len(matched))
	for i, n := range matched {
		result[i] = cloneNotification(n)
	}
	return result, total, nil
}

func (s *MemoryNotificationStore) DuePending(_ context.Context, now time.Time) ([]*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Notification
	for id := range s.byStatus[domain.NotificationPending] {
		n := s.notifications[id]
		if n.IsExpired(now) {
			// Expired while waiting: cancel in place and keep indexes consistent.
			removeFromIndex(s.byStatus, n.Status, n.ID)
			n.Status = domain.NotificationCancelled
			n.UpdatedAt = now
			addToIndex(s.byStatus, n.Status, n.ID)
			continue
		}
		if n.IsScheduled(now) {
			continue
		}
		due = append(due, cloneNotification(n))
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due, nil
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	clone := *n
	clone.Attempts = append([]domain.NotificationAttempt(nil), n.Attempts...)
	clone.Recipient.DeviceTokens = append([]string(nil), n.Recipient.DeviceTokens...)
	return &clone
}
