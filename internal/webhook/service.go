// Package webhook fans events out to subscriber endpoints over signed HTTP
// POSTs with bounded exponential-backoff retries.
package webhook

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/signature"
	"github.com/notifyhub/dispatch/internal/store"
)

const (
	defaultEndpointTimeout = 30 // seconds
	defaultMaxAttempts     = 5

	// disableThreshold is the consecutive-failure count at which an
	// endpoint is taken out of rotation automatically.
	disableThreshold = 50
)

// Service owns endpoint management and event publication. Delivery
// transmission lives in the Dispatcher.
type Service struct {
	endpoints  store.EndpointStore
	deliveries store.DeliveryStore
	logger     *zap.Logger

	// mu serializes endpoint read-modify-write cycles: delivery outcomes
	// fan out in parallel and would otherwise lose counter updates.
	mu sync.Mutex

	source  string
	version string
}

func NewService(endpoints store.EndpointStore, deliveries store.DeliveryStore, source, version string, logger *zap.Logger) *Service {
	return &Service{
		endpoints:  endpoints,
		deliveries: deliveries,
		logger:     logger,
		source:     source,
		version:    version,
	}
}

// CreateEndpoint validates and registers a subscriber. The signing secret
// is generated server-side and returned in clear exactly once; subsequent
// reads mask it.
func (s *Service) CreateEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, error) {
	if err := validateEndpoint(e); err != nil {
		return nil, err
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e.ID = uuid.New().String()
	e.Secret = secret
	e.Status = domain.EndpointActive
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = defaultEndpointTimeout
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = defaultMaxAttempts
	}

	if err := s.endpoints.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("persist endpoint: %w", err)
	}
	s.logger.Info("endpoint created",
		zap.String("endpoint_id", e.ID),
		zap.Strings("events", e.Events),
	)
	return e, nil
}

// GetEndpoint returns the endpoint, secret masked unless includeSecret.
func (s *Service) GetEndpoint(ctx context.Context, id string, includeSecret bool) (*domain.Endpoint, error) {
	e, err := s.endpoints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !includeSecret {
		return e.Masked(), nil
	}
	return e, nil
}

func (s *Service) ListEndpoints(ctx context.Context, f store.EndpointFilter) ([]*domain.Endpoint, int, error) {
	list, total, err := s.endpoints.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	for i, e := range list {
		list[i] = e.Masked()
	}
	return list, total, nil
}

// UpdateEndpoint applies subscription/config changes. Secret, status, and
// delivery counters are owned by the service and cannot be set here.
func (s *Service) UpdateEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, error) {
	if err := validateEndpoint(e); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.endpoints.Get(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	e.Secret = current.Secret
	e.Status = current.Status
	e.TotalDeliveries = current.TotalDeliveries
	e.SuccessfulDeliveries = current.SuccessfulDeliveries
	e.FailedDeliveries = current.FailedDeliveries
	e.ConsecutiveFailures = current.ConsecutiveFailures
	e.LastTriggeredAt = current.LastTriggeredAt
	e.CreatedAt = current.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = current.TimeoutSeconds
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = current.MaxRetries
	}

	if err := s.endpoints.Update(ctx, e); err != nil {
		return nil, err
	}
	return e.Masked(), nil
}

// DeleteEndpoint removes the endpoint and cascades to its deliveries.
func (s *Service) DeleteEndpoint(ctx context.Context, id string) error {
	if err := s.endpoints.Delete(ctx, id); err != nil {
		return err
	}
	return s.deliveries.DeleteByWebhook(ctx, id)
}

// PauseEndpoint suspends delivery; pending deliveries stay queued.
func (s *Service) PauseEndpoint(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.EndpointPaused)
}

// ResumeEndpoint reactivates a paused or failed endpoint and resets its
// consecutive-failure count.
func (s *Service) ResumeEndpoint(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.endpoints.Get(ctx, id)
	if err != nil {
		return err
	}
	e.Status = domain.EndpointActive
	e.ConsecutiveFailures = 0
	e.UpdatedAt = time.Now().UTC()
	return s.endpoints.Update(ctx, e)
}

// RotateSecret replaces the signing secret and returns the new value in
// clear. Deliveries signed with the old secret will fail verification at
// the receiver; rotation is the subscriber's cue to update both sides.
func (s *Service) RotateSecret(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.endpoints.Get(ctx, id)
	if err != nil {
		return "", err
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		return "", err
	}
	e.Secret = secret
	e.UpdatedAt = time.Now().UTC()
	if err := s.endpoints.Update(ctx, e); err != nil {
		return "", err
	}

	s.logger.Info("endpoint secret rotated", zap.String("endpoint_id", id))
	return secret, nil
}

// Publish matches the event against all subscriptions and enqueues one
// delivery per matching active endpoint, due immediately. Returns the
// created deliveries.
func (s *Service) Publish(ctx context.Context, event domain.Event) ([]*domain.Delivery, error) {
	if event.Type == "" {
		return nil, fmt.Errorf("%w: event type is required", domain.ErrInvalidEventType)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Source == "" {
		event.Source = s.source
	}
	if event.Version == "" {
		event.Version = s.version
	}

	subscribers, err := s.endpoints.ListByEvent(ctx, event.Type)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var created []*domain.Delivery
	for _, e := range subscribers {
		if e.Status != domain.EndpointActive {
			continue
		}
		if !e.MatchesFilters(event.Data) {
			continue
		}

		due := now
		d := &domain.Delivery{
			ID:            uuid.New().String(),
			WebhookID:     e.ID,
			Event:         event,
			Status:        domain.DeliveryPending,
			MaxAttempts:   e.MaxRetries,
			NextAttemptAt: &due,
			CreatedAt:     now,
		}
		if err := s.deliveries.Create(ctx, d); err != nil {
			return nil, fmt.Errorf("enqueue delivery: %w", err)
		}
		created = append(created, d)
	}

	s.logger.Info("event published",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Int("deliveries", len(created)),
	)
	return created, nil
}

func (s *Service) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	return s.deliveries.Get(ctx, id)
}

func (s *Service) ListDeliveries(ctx context.Context, webhookID string, offset, limit int) ([]*domain.Delivery, int, error) {
	if _, err := s.endpoints.Get(ctx, webhookID); err != nil {
		return nil, 0, err
	}
	return s.deliveries.ListByWebhook(ctx, webhookID, offset, limit)
}

// RetryDelivery re-queues a failed or expired delivery for an immediate
// attempt. Delivered deliveries cannot be retried.
func (s *Service) RetryDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	d, err := s.deliveries.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == domain.DeliveryDelivered {
		return nil, domain.ErrNotRetryable
	}

	now := time.Now().UTC()
	d.Status = domain.DeliveryRetrying
	d.NextAttemptAt = &now
	d.CompletedAt = nil
	if err := s.deliveries.Update(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("delivery re-queued", zap.String("delivery_id", id))
	return d, nil
}

func (s *Service) setStatus(ctx context.Context, id string, status domain.EndpointStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.endpoints.Get(ctx, id)
	if err != nil {
		return err
	}
	e.Status = status
	e.UpdatedAt = time.Now().UTC()
	return s.endpoints.Update(ctx, e)
}

func validateEndpoint(e *domain.Endpoint) error {
	u, err := url.Parse(e.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: endpoint url must be absolute", domain.ErrInvalidPayload)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: endpoint url scheme must be http or https", domain.ErrInvalidPayload)
	}
	if len(e.Events) == 0 {
		return fmt.Errorf("%w: at least one event subscription is required", domain.ErrInvalidEventType)
	}
	return e.ValidateHeaders()
}
