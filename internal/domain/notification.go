package domain

import (
	"strings"
	"time"
)

// Channel is the delivery channel for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// Priority controls preference gating. Urgent bypasses every gate except the
// global notifications toggle; high bypasses quiet hours only.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// NotificationStatus tracks the lifecycle of a notification.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSending   NotificationStatus = "sending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationRead      NotificationStatus = "read"
	NotificationFailed    NotificationStatus = "failed"
	NotificationCancelled NotificationStatus = "cancelled"
)

// MaxSMSBody is the hard limit on a transmitted SMS body.
const MaxSMSBody = 160

// Recipient carries the user identity plus the per-channel contact points.
type Recipient struct {
	UserID       string   `json:"user_id"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	DeviceTokens []string `json:"device_tokens,omitempty"`
}

// Content is channel-polymorphic: providers read the fields relevant to
// their channel and ignore the rest.
type Content struct {
	Subject   string         `json:"subject,omitempty"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body,omitempty"`
	HTMLBody  string         `json:"html_body,omitempty"`
	ShortBody string         `json:"short_body,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// SMSBody returns the body actually transmitted over SMS: short_body when
// set, otherwise body truncated to 160 bytes with a trailing ellipsis.
func (c Content) SMSBody() string {
	body := c.Body
	if c.ShortBody != "" {
		body = c.ShortBody
	}
	if len(body) > MaxSMSBody {
		return body[:MaxSMSBody-3] + "..."
	}
	return body
}

// NotificationAttempt is one provider invocation and its outcome.
type NotificationAttempt struct {
	Provider      string    `json:"provider"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Success       bool      `json:"success"`
	ProviderMsgID string    `json:"provider_message_id,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Retryable     bool      `json:"retryable"`
}

// Notification is a user-targeted message routed through one channel.
type Notification struct {
	ID          string                `json:"id"`
	Type        Channel               `json:"notification_type"`
	Category    string                `json:"category"`
	Priority    Priority              `json:"priority"`
	Recipient   Recipient             `json:"recipient"`
	Content     Content               `json:"content"`
	Status      NotificationStatus    `json:"status"`
	Attempts    []NotificationAttempt `json:"attempts,omitempty"`
	MaxAttempts int                   `json:"max_attempts"`
	ScheduledAt *time.Time            `json:"scheduled_at,omitempty"`
	SendAfter   *time.Time            `json:"send_after,omitempty"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
	SentAt      *time.Time            `json:"sent_at,omitempty"`
	TemplateID  string                `json:"template_id,omitempty"`
	GroupID     string                `json:"group_id,omitempty"`
	ThreadID    string                `json:"thread_id,omitempty"`
	TenantID    string                `json:"tenant_id,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// IsExpired reports whether the notification's expires_at has passed.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// IsScheduled reports whether delivery is deferred to the pending processor.
func (n *Notification) IsScheduled(now time.Time) bool {
	if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
		return true
	}
	if n.SendAfter != nil && n.SendAfter.After(now) {
		return true
	}
	return false
}

// CanRetry reports whether another delivery attempt is permitted.
func (n *Notification) CanRetry(now time.Time) bool {
	if n.Status != NotificationFailed && n.Status != NotificationPending {
		return false
	}
	if len(n.Attempts) >= n.MaxAttempts {
		return false
	}
	return !n.IsExpired(now)
}

// CanMarkRead reports whether the read transition is allowed.
// Pending is included to acknowledge silent in-app delivery.
func (n *Notification) CanMarkRead() bool {
	switch n.Status {
	case NotificationSent, NotificationDelivered, NotificationPending:
		return true
	}
	return false
}

// Validate checks the channel-independent invariants.
func (n *Notification) Validate() error {
	if !n.Type.IsValid() {
		return ErrInvalidChannel
	}
	if !n.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if strings.TrimSpace(n.Recipient.UserID) == "" {
		return ErrInvalidPayload
	}
	return nil
}
