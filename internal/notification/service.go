// Package notification is the delivery pipeline: preference gating, rate
// caps, provider dispatch with retry, templates, and read receipts.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/events"
	"github.com/notifyhub/dispatch/internal/preference"
	"github.com/notifyhub/dispatch/internal/provider"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/store"
	"github.com/notifyhub/dispatch/internal/template"
)

const (
	defaultMaxAttempts = 3
	maxBulkSize        = 100

	// retryBase is the requeue delay after the first failed attempt;
	// each further failure doubles it.
	retryBase = 30 * time.Second
)

// Caps are the per-user send ceilings across all channels. Zero disables a
// window.
type Caps struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// BatchSettings control bulk dispatch chunking.
type BatchSettings struct {
	Size  int           // notifications per provider batch call
	Delay time.Duration // pause between chunks
}

// Service coordinates the full pipeline for one notification: gates, then
// persistence, then provider dispatch.
type Service struct {
	store     store.NotificationStore
	prefs     store.PreferenceStore
	templates store.TemplateStore
	registry  *provider.Registry
	rates     *store.RateLimitStore
	pacing    *ratelimiter.ChannelLimiters
	bus       *events.Bus
	logger    *zap.Logger

	caps  Caps
	batch BatchSettings
}

func NewService(
	notifStore store.NotificationStore,
	prefStore store.PreferenceStore,
	templateStore store.TemplateStore,
	registry *provider.Registry,
	rates *store.RateLimitStore,
	pacing *ratelimiter.ChannelLimiters,
	bus *events.Bus,
	caps Caps,
	batch BatchSettings,
	logger *zap.Logger,
) *Service {
	if batch.Size <= 0 {
		batch.Size = maxBulkSize
	}
	return &Service{
		store:     notifStore,
		prefs:     prefStore,
		templates: templateStore,
		registry:  registry,
		rates:     rates,
		pacing:    pacing,
		bus:       bus,
		logger:    logger,
		caps:      caps,
		batch:     batch,
	}
}

// Send runs the gate chain and, unless delivery is deferred, dispatches the
// notification to its provider. checkPreferences=false skips the preference
// gates (system notifications); rate caps always apply.
func (s *Service) Send(ctx context.Context, n *domain.Notification, checkPreferences bool) (*domain.Notification, error) {
	if err := s.admit(ctx, n, checkPreferences); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	s.rates.Increment(n.Recipient.UserID, now)

	if n.IsScheduled(now) {
		s.logger.Info("notification deferred",
			zap.String("notification_id", n.ID),
			zap.String("channel", string(n.Type)),
		)
		return n, nil
	}

	if err := s.deliver(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// admit runs validation and the gate chain, and stamps identity/defaults.
// The notification is not persisted if any gate rejects it.
func (s *Service) admit(ctx context.Context, n *domain.Notification, checkPreferences bool) error {
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	if err := n.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	userID := n.Recipient.UserID

	prefs, err := s.prefs.GetOrCreate(ctx, userID)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	fillRecipient(&n.Recipient, prefs)

	if err := s.checkCaps(userID, n.Type, prefs, now); err != nil {
		return err
	}
	if checkPreferences && !preference.ShouldSend(prefs, n.Type, n.Category, n.Priority, now) {
		return domain.ErrPreferencesBlocked
	}

	n.ID = uuid.New().String()
	n.Status = domain.NotificationPending
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = defaultMaxAttempts
	}
	return nil
}

// checkCaps enforces the service-wide per-user ceilings plus the user's own
// per-channel hourly/daily limits.
func (s *Service) checkCaps(userID string, ch domain.Channel, prefs *domain.Preferences, now time.Time) error {
	windows := []struct {
		unit store.BucketUnit
		cap  int
	}{
		{store.BucketMinute, s.caps.PerMinute},
		{store.BucketHour, s.caps.PerHour},
		{store.BucketDay, s.caps.PerDay},
	}
	for _, w := range windows {
		if w.cap > 0 && s.rates.Count(userID, w.unit, now) >= w.cap {
			return fmt.Errorf("%w: %s cap reached", domain.ErrRateLimited, w.unit)
		}
	}

	if chPref, ok := prefs.Channels[ch]; ok {
		if chPref.MaxPerHour > 0 && s.rates.Count(userID, store.BucketHour, now) >= chPref.MaxPerHour {
			return fmt.Errorf("%w: hourly channel cap reached", domain.ErrRateLimited)
		}
		if chPref.MaxPerDay > 0 && s.rates.Count(userID, store.BucketDay, now) >= chPref.MaxPerDay {
			return fmt.Errorf("%w: daily channel cap reached", domain.ErrRateLimited)
		}
	}
	return nil
}

// deliver dispatches one admitted, persisted, due notification. Failures
// with remaining retry budget re-enter the pending set with a backoff.
func (s *Service) deliver(ctx context.Context, n *domain.Notification) error {
	now := time.Now().UTC()

	p, err := s.registry.GetProvider(n.Type)
	if err != nil {
		n.Status = domain.NotificationFailed
		n.UpdatedAt = now
		if uerr := s.store.Update(ctx, n); uerr != nil {
			s.logger.Error("failed to mark notification failed", zap.String("notification_id", n.ID), zap.Error(uerr))
		}
		s.publish(events.TopicNotificationFailed, n, "no provider configured")
		return err
	}

	n.Status = domain.NotificationSending
	n.UpdatedAt = now
	if err := s.store.Update(ctx, n); err != nil {
		return err
	}

	if err := s.pacing.Wait(ctx, n.Type); err != nil {
		// Shutdown while waiting; leave the notification pending for the
		// processor to pick up.
		n.Status = domain.NotificationPending
		n.UpdatedAt = time.Now().UTC()
		s.store.Update(ctx, n) //nolint:errcheck
		return err
	}

	attempt := domain.NotificationAttempt{
		Provider:  p.Name(),
		StartedAt: time.Now().UTC(),
	}
	result := p.Send(ctx, n)
	attempt.CompletedAt = time.Now().UTC()
	attempt.Success = result.Success
	attempt.ProviderMsgID = result.ProviderMsgID
	attempt.ErrorCode = result.ErrorCode
	attempt.ErrorMessage = result.ErrorMessage
	attempt.Retryable = result.Retryable
	n.Attempts = append(n.Attempts, attempt)

	s.applyResult(ctx, n, result)
	return nil
}

// applyResult settles the notification after one provider attempt.
func (s *Service) applyResult(ctx context.Context, n *domain.Notification, result *provider.Result) {
	now := time.Now().UTC()
	n.UpdatedAt = now

	switch {
	case result.Success:
		n.Status = domain.NotificationSent
		n.SentAt = &now
	case result.Retryable && len(n.Attempts) < n.MaxAttempts && !n.IsExpired(now):
		// Re-enter the pending set; the processor retries after the backoff.
		n.Status = domain.NotificationPending
		next := now.Add(retryBase << (len(n.Attempts) - 1))
		n.SendAfter = &next
	default:
		n.Status = domain.NotificationFailed
	}

	if err := s.store.Update(ctx, n); err != nil {
		s.logger.Error("failed to record attempt", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}

	switch n.Status {
	case domain.NotificationSent:
		s.publish(events.TopicNotificationSent, n, "")
	case domain.NotificationFailed:
		s.publish(events.TopicNotificationFailed, n, result.ErrorMessage)
	}

	s.logger.Info("notification dispatched",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Type)),
		zap.String("status", string(n.Status)),
		zap.Int("attempts", len(n.Attempts)),
	)
}

// SendBulk admits and dispatches up to 100 notifications, grouped by
// channel and sent through the provider batch path. Per-notification gate
// failures are reported in the result slice, not as a call error.
func (s *Service) SendBulk(ctx context.Context, batch []*domain.Notification, checkPreferences bool) ([]*BulkResult, error) {
	if len(batch) == 0 {
		return nil, domain.ErrBatchEmpty
	}
	if len(batch) > maxBulkSize {
		return nil, domain.ErrBatchTooLarge
	}

	now := time.Now().UTC()
	results := make([]*BulkResult, len(batch))
	byChannel := make(map[domain.Channel][]int)

	for i, n := range batch {
		results[i] = &BulkResult{}
		if err := s.admit(ctx, n, checkPreferences); err != nil {
			results[i].Err = err
			continue
		}
		if err := s.store.Create(ctx, n); err != nil {
			results[i].Err = err
			continue
		}
		s.rates.Increment(n.Recipient.UserID, now)
		results[i].ID = n.ID

		if n.IsScheduled(now) {
			results[i].Deferred = true
			continue
		}
		byChannel[n.Type] = append(byChannel[n.Type], i)
	}

	for ch, indexes := range byChannel {
		s.sendChannelBatch(ctx, ch, batch, indexes, results)
	}
	return results, nil
}

// BulkResult is the per-notification outcome of SendBulk.
type BulkResult struct {
	ID       string `json:"id,omitempty"`
	Deferred bool   `json:"deferred,omitempty"`
	Err      error  `json:"-"`
}

func (s *Service) sendChannelBatch(ctx context.Context, ch domain.Channel, batch []*domain.Notification, indexes []int, results []*BulkResult) {
	p, err := s.registry.GetProvider(ch)
	if err != nil {
		now := time.Now().UTC()
		for _, i := range indexes {
			n := batch[i]
			n.Status = domain.NotificationFailed
			n.UpdatedAt = now
			s.store.Update(ctx, n) //nolint:errcheck
			results[i].Err = err
		}
		return
	}

	for start := 0; start < len(indexes); start += s.batch.Size {
		end := start + s.batch.Size
		if end > len(indexes) {
			end = len(indexes)
		}
		if start > 0 && s.batch.Delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.batch.Delay):
			}
		}

		chunk := indexes[start:end]
		notifs := make([]*domain.Notification, len(chunk))
		for j, i := range chunk {
			notifs[j] = batch[i]
			notifs[j].Status = domain.NotificationSending
		}
		if err := s.pacing.Wait(ctx, ch); err != nil {
			return
		}

		batchResults := p.SendBatch(ctx, notifs)
		sentAt := time.Now().UTC()
		for j, i := range chunk {
			n := batch[i]
			result := batchResults[j]
			n.Attempts = append(n.Attempts, domain.NotificationAttempt{
				Provider:      p.Name(),
				StartedAt:     sentAt,
				CompletedAt:   sentAt,
				Success:       result.Success,
				ProviderMsgID: result.ProviderMsgID,
				ErrorCode:     result.ErrorCode,
				ErrorMessage:  result.ErrorMessage,
				Retryable:     result.Retryable,
			})
			s.applyResult(ctx, n, result)
		}
	}
}

// SendFromTemplate renders the template into notification content and
// sends the result. Fields already set on the base notification win over
// template-derived values.
func (s *Service) SendFromTemplate(ctx context.Context, templateID string, data map[string]any, base *domain.Notification) (*domain.Notification, error) {
	t, err := s.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}

	content := template.RenderContent(t, data)
	content.Data = base.Content.Data
	base.Content = content
	base.TemplateID = t.ID
	if base.Category == "" {
		base.Category = t.Category
	}
	return s.Send(ctx, base, true)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f store.NotificationFilter) ([]*domain.Notification, int, error) {
	return s.store.List(ctx, f)
}

// Cancel withdraws a pending notification before dispatch.
func (s *Service) Cancel(ctx context.Context, id string) error {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.Status != domain.NotificationPending {
		return domain.ErrNotCancellable
	}
	n.Status = domain.NotificationCancelled
	n.UpdatedAt = time.Now().UTC()
	return s.store.Update(ctx, n)
}

// MarkRead records the read receipt for an in-app notification.
func (s *Service) MarkRead(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.CanMarkRead() {
		return nil, domain.ErrNotReadable
	}
	n.Status = domain.NotificationRead
	n.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, n); err != nil {
		return nil, err
	}
	s.publish(events.TopicNotificationRead, n, "")
	return n, nil
}

// publish emits a bus message for in-process subscribers.
func (s *Service) publish(topic string, n *domain.Notification, errMsg string) {
	payload := map[string]any{
		"notification_id": n.ID,
		"user_id":         n.Recipient.UserID,
		"channel":         string(n.Type),
		"status":          string(n.Status),
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	s.bus.Publish(topic, payload)
}

// fillRecipient backfills contact points from the preference record when
// the caller supplied only a user id.
func fillRecipient(r *domain.Recipient, prefs *domain.Preferences) {
	if r.Email == "" {
		r.Email = prefs.Email
	}
	if r.Phone == "" {
		r.Phone = prefs.Phone
	}
	if len(r.DeviceTokens) == 0 {
		r.DeviceTokens = append([]string(nil), prefs.DeviceTokens...)
	}
}
