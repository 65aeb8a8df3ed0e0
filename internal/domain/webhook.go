package domain

import (
	"strings"
	"time"
)

// EndpointStatus tracks the lifecycle of a webhook endpoint.
type EndpointStatus string

const (
	EndpointActive   EndpointStatus = "active"
	EndpointPaused   EndpointStatus = "paused"
	EndpointDisabled EndpointStatus = "disabled"
	EndpointFailed   EndpointStatus = "failed"
)

// EventWildcard subscribes an endpoint to every event type.
const EventWildcard = "*"

// ReservedHeaders are protocol headers that custom endpoint headers may not
// shadow. Checked at endpoint create/update time.
var ReservedHeaders = []string{
	"Content-Type",
	"X-Webhook-Signature",
	"X-Webhook-Timestamp",
	"X-Webhook-ID",
	"X-Webhook-Test",
	"X-Event-ID",
	"X-Event-Type",
	"X-Delivery-ID",
	"X-Attempt-Number",
}

// Endpoint is a webhook subscriber: a URL, a signing secret, and a
// subscription policy over event types and payload filters.
type Endpoint struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Secret        string            `json:"secret,omitempty"`
	OwnerID       string            `json:"owner_id,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
	Status        EndpointStatus    `json:"status"`
	Events        []string          `json:"events"`
	Filters       map[string]any    `json:"filters,omitempty"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`

	TimeoutSeconds int `json:"timeout_seconds"`
	MaxRetries     int `json:"max_retries"`

	TotalDeliveries      int        `json:"total_deliveries"`
	SuccessfulDeliveries int        `json:"successful_deliveries"`
	FailedDeliveries     int        `json:"failed_deliveries"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	LastTriggeredAt      *time.Time `json:"last_triggered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscribedTo reports whether the endpoint's event list covers eventType.
func (e *Endpoint) SubscribedTo(eventType string) bool {
	for _, ev := range e.Events {
		if ev == EventWildcard || ev == eventType {
			return true
		}
	}
	return false
}

// MatchesFilters applies the endpoint's payload filters to event data.
// Scalar filter values match by equality; list values match by membership.
// A key missing from data fails the match.
func (e *Endpoint) MatchesFilters(data map[string]any) bool {
	for key, want := range e.Filters {
		got, ok := data[key]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []any:
			found := false
			for _, candidate := range w {
				if candidate == got {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if w != got {
				return false
			}
		}
	}
	return true
}

// ValidateHeaders rejects custom headers that shadow protocol headers.
func (e *Endpoint) ValidateHeaders() error {
	for name := range e.CustomHeaders {
		for _, reserved := range ReservedHeaders {
			if strings.EqualFold(name, reserved) {
				return ErrReservedHeader
			}
		}
	}
	return nil
}

// Masked returns a copy with the signing secret hidden. Management API
// responses use this unless the caller explicitly requests the secret.
func (e *Endpoint) Masked() *Endpoint {
	clone := *e
	clone.Secret = ""
	return &clone
}

// EventMetadata carries correlation identity on the event envelope.
type EventMetadata struct {
	TenantID      string `json:"tenant_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Event is the envelope serialized as the webhook request body.
type Event struct {
	ID        string         `json:"event_id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Version   string         `json:"version"`
	Data      map[string]any `json:"data"`
	Metadata  EventMetadata  `json:"metadata"`
}

// DeliveryStatus tracks the lifecycle of a webhook delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliveryExpired   DeliveryStatus = "expired"
)

// Terminal reports whether no further attempts will be made.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryExpired
}

// DeliveryAttempt is one HTTP POST to the endpoint and its outcome.
type DeliveryAttempt struct {
	Number       int       `json:"number"`
	StartedAt    time.Time `json:"started_at"`
	StatusCode   int       `json:"status_code,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"` // truncated to 1000 bytes
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
}

// Delivery is the attempt-bounded record of transmitting one event to one
// endpoint.
type Delivery struct {
	ID            string            `json:"id"`
	WebhookID     string            `json:"webhook_id"`
	Event         Event             `json:"event"`
	Status        DeliveryStatus    `json:"status"`
	Attempts      []DeliveryAttempt `json:"attempts,omitempty"`
	MaxAttempts   int               `json:"max_attempts"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}
