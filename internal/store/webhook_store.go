package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// EndpointFilter narrows endpoint listing. Nil fields are ignored.
type EndpointFilter struct {
	OwnerID  *string
	TenantID *string
	Status   *domain.EndpointStatus
	Offset   int
	Limit    int
}

// EndpointStore is the persistence contract for webhook endpoints.
type EndpointStore interface {
	Create(ctx context.Context, e *domain.Endpoint) error
	Get(ctx context.Context, id string) (*domain.Endpoint, error)
	Update(ctx context.Context, e *domain.Endpoint) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f EndpointFilter) ([]*domain.Endpoint, int, error)
	// ListByEvent returns endpoints subscribed to eventType, including
	// wildcard subscribers.
	ListByEvent(ctx context.Context, eventType string) ([]*domain.Endpoint, error)
}

// DeliveryStore is the persistence contract for webhook deliveries.
type DeliveryStore interface {
	Create(ctx context.Context, d *domain.Delivery) error
	Get(ctx context.Context, id string) (*domain.Delivery, error)
	Update(ctx context.Context, d *domain.Delivery) error
	// ListByWebhook returns deliveries for one endpoint, newest first.
	ListByWebhook(ctx context.Context, webhookID string, offset, limit int) ([]*domain.Delivery, int, error)
	// Due returns pending/retrying deliveries whose next_attempt_at has
	// passed, ordered by next_attempt_at ascending.
	Due(ctx context.Context, now time.Time) ([]*domain.Delivery, error)
	// DeleteByWebhook cascades an endpoint delete to its deliveries.
	DeleteByWebhook(ctx context.Context, webhookID string) error
}

// MemoryEndpointStore is the reference in-memory EndpointStore.
type MemoryEndpointStore struct {
	mu        sync.RWMutex
	endpoints map[string]*domain.Endpoint

	byOwner  map[string]map[string]struct{}
	byTenant map[string]map[string]struct{}
	byEvent  map[string]map[string]struct{} // event type (or "*") -> endpoint ids
}

func NewMemoryEndpointStore() *MemoryEndpointStore {
	return &MemoryEndpointStore{
		endpoints: make(map[string]*domain.Endpoint),
		byOwner:   make(map[string]map[string]struct{}),
		byTenant:  make(map[string]map[string]struct{}),
		byEvent:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryEndpointStore) Create(_ context.Context, e *domain.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[e.ID] = cloneEndpoint(e)
	s.index(e)
	return nil
}

func (s *MemoryEndpointStore) Get(_ context.Context, id string) (*domain.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.endpoints[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneEndpoint(e), nil
}

func (s *MemoryEndpointStore) Update(_ context.Context, e *domain.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.endpoints[e.ID]
	if !ok {
		return domain.ErrNotFound
	}
	s.unindex(old)
	s.endpoints[e.ID] = cloneEndpoint(e)
	s.index(e)
	return nil
}

func (s *MemoryEndpointStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.unindex(e)
	delete(s.endpoints, id)
	return nil
}

func (s *MemoryEndpointStore) List(_ context.Context, f EndpointFilter) ([]*domain.Endpoint, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Endpoint
	for _, e := range s.endpoints {
		if f.OwnerID != nil && e.OwnerID != *f.OwnerID {
			continue
		}
		if f.TenantID != nil && e.TenantID != *f.TenantID {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		matched = append(matched, e)
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

	result := make([]*domain.Endpoint, len(matched))
	for i, e := range matched {
		result[i] = cloneEndpoint(e)
	}
	return result, total, nil
}

func (s *MemoryEndpointStore) ListByEvent(_ context.Context, eventType string) ([]*domain.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var result []*domain.Endpoint
	for _, key := range []string{eventType, domain.EventWildcard} {
		for id := range s.byEvent[key] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, cloneEndpoint(s.endpoints[id]))
		}
	}
	return result, nil
}

func (s *MemoryEndpointStore) index(e *domain.Endpoint) {
	addToIndex(s.byOwner, e.OwnerID, e.ID)
	addToIndex(s.byTenant, e.TenantID, e.ID)
	for _, ev := range e.Events {
		addToIndex(s.byEvent, ev, e.ID)
	}
}

func (s *MemoryEndpointStore) unindex(e *domain.Endpoint) {
	removeFromIndex(s.byOwner, e.OwnerID, e.ID)
	removeFromIndex(s.byTenant, e.TenantID, e.ID)
	for _, ev := range e.Events {
		removeFromIndex(s.byEvent, ev, e.ID)
	}
}

func cloneEndpoint(e *domain.Endpoint) *domain.Endpoint {
	clone := *e
	clone.Events = append([]string(nil), e.Events...)
	if e.Filters != nil {
		clone.Filters = make(map[string]any, len(e.Filters))
		for k, v := range e.Filters {
			clone.Filters[k] = v
		}
	}
	if e.CustomHeaders != nil {
		clone.CustomHeaders = make(map[string]string, len(e.CustomHeaders))
		for k, v := range e.CustomHeaders {
			clone.CustomHeaders[k] = v
		}
	}
	return &clone
}

// MemoryDeliveryStore is the reference in-memory DeliveryStore.
type MemoryDeliveryStore struct {
	mu         sync.RWMutex
	deliveries map[string]*domain.Delivery

	byWebhook map[string]map[string]struct{}
	byStatus  map[domain.DeliveryStatus]map[string]struct{}
}

func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{
		deliveries: make(map[string]*domain.Delivery),
		byWebhook:  make(map[string]map[string]struct{}),
		byStatus:   make(map[domain.DeliveryStatus]map[string]struct{}),
	}
}

func (s *MemoryDeliveryStore) Create(_ context.Context, d *domain.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = cloneDelivery(d)
	addToIndex(s.byWebhook, d.WebhookID, d.ID)
	addToIndex(s.byStatus, d.Status, d.ID)
	return nil
}

func (s *MemoryDeliveryStore) Get(_ context.Context, id string) (*domain.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneDelivery(d), nil
}

func (s *MemoryDeliveryStore) Update(_ context.Context, d *domain.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.deliveries[d.ID]
	if !ok {
		return domain.ErrNotFound
	}
	removeFromIndex(s.byWebhook, old.WebhookID, old.ID)
	removeFromIndex(s.byStatus, old.Status, old.ID)
	s.deliveries[d.ID] = cloneDelivery(d)
	addToIndex(s.byWebhook, d.WebhookID, d.ID)
	addToIndex(s.byStatus, d.Status, d.ID)
	return nil
}

func (s *MemoryDeliveryStore) ListByWebhook(_ context.Context, webhookID string, offset, limit int) ([]*domain.Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Delivery
	for id := range s.byWebhook[webhookID] {
		matched = append(matched, s.deliveries[id])
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= len(matched) {
		matched = nil
	} else {
		matched = matched[offset:]
		if limit > 0 && limit < len(matched) {
			matched = matched[:limit]
		}
	}

	result := make([]*domain.Delivery, len(matched))
	for i, d := range matched {
		result[i] = cloneDelivery(d)
	}
	return result, total, nil
}

func (s *MemoryDeliveryStore) Due(_ context.Context, now time.Time) ([]*domain.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*domain.Delivery
	for _, status := range []domain.DeliveryStatus{domain.DeliveryPending, domain.DeliveryRetrying} {
		for id := range s.byStatus[status] {
			d := s.deliveries[id]
			if d.NextAttemptAt == nil || d.NextAttemptAt.After(now) {
				continue
			}
			due = append(due, cloneDelivery(d))
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})
	return due, nil
}

func (s *MemoryDeliveryStore) DeleteByWebhook(_ context.Context, webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.byWebhook[webhookID] {
		d := s.deliveries[id]
		removeFromIndex(s.byStatus, d.Status, id)
		delete(s.deliveries, id)
	}
	delete(s.byWebhook, webhookID)
	return nil
}

func cloneDelivery(d *domain.Delivery) *domain.Delivery {
	clone := *d
	clone.Attempts = append([]domain.DeliveryAttempt(nil), d.Attempts...)
	return &clone
}
