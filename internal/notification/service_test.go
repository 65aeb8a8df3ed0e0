package notification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/events"
	"github.com/notifyhub/dispatch/internal/notification"
	"github.com/notifyhub/dispatch/internal/provider"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/store"
)

// mockProvider is a controllable Provider for pipeline tests.
type mockProvider struct {
	name     string
	channels []domain.Channel
	enabled  bool
	result   *provider.Result
	sent     []*domain.Notification
}

func (m *mockProvider) Name() string            { return m.name }
func (m *mockProvider) Types() []domain.Channel { return m.channels }
func (m *mockProvider) Enabled() bool           { return m.enabled }

func (m *mockProvider) Validate(n *domain.Notification) error { return nil }

func (m *mockProvider) Send(_ context.Context, n *domain.Notification) *provider.Result {
	m.sent = append(m.sent, n)
	r := *m.result
	return &r
}

func (m *mockProvider) SendBatch(ctx context.Context, batch []*domain.Notification) []*provider.Result {
	results := make([]*provider.Result, len(batch))
	for i, n := range batch {
		results[i] = m.Send(ctx, n)
	}
	return results
}

func (m *mockProvider) CheckStatus(context.Context, string) (string, error) {
	return "", provider.ErrStatusUnsupported
}

var _ provider.Provider = (*mockProvider)(nil)

type pipeline struct {
	svc       *notification.Service
	store     *store.MemoryNotificationStore
	prefs     *store.MemoryPreferenceStore
	templates *store.MemoryTemplateStore
	bus       *events.Bus
	email     *mockProvider
}

func newPipeline(caps notification.Caps) *pipeline {
	notifStore := store.NewMemoryNotificationStore()
	prefStore := store.NewMemoryPreferenceStore()
	templateStore := store.NewMemoryTemplateStore()
	bus := events.NewBus()

	email := &mockProvider{
		name:     "mock-email",
		channels: []domain.Channel{domain.ChannelEmail},
		enabled:  true,
		result:   &provider.Result{Success: true, ProviderMsgID: "msg-1"},
	}
	registry := provider.NewRegistry()
	registry.Register(email)
	registry.Register(provider.NewInAppProvider())

	svc := notification.NewService(
		notifStore, prefStore, templateStore, registry,
		store.NewRateLimitStore(), ratelimiter.New(1000), bus,
		caps, notification.BatchSettings{Size: 10}, zap.NewNop(),
	)
	return &pipeline{
		svc:       svc,
		store:     notifStore,
		prefs:     prefStore,
		templates: templateStore,
		bus:       bus,
		email:     email,
	}
}

func emailNotification(userID string) *domain.Notification {
	return &domain.Notification{
		Type:      domain.ChannelEmail,
		Category:  "billing",
		Priority:  domain.PriorityNormal,
		Recipient: domain.Recipient{UserID: userID, Email: "user@example.com"},
		Content:   domain.Content{Subject: "Invoice", Body: "Your invoice is ready"},
	}
}

func TestService_Send_Success(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	sentCh, cancel := p.bus.Subscribe(events.TopicNotificationSent, 1)
	defer cancel()

	n, err := p.svc.Send(ctx, emailNotification("u1"), true)
	if err != nil {
		t.Fatal(err)
	}
	if n.Status != domain.NotificationSent {
		t.Fatalf("status = %q, want sent", n.Status)
	}
	if n.SentAt == nil {
		t.Fatal("sent_at not set")
	}
	if len(n.Attempts) != 1 || !n.Attempts[0].Success || n.Attempts[0].ProviderMsgID != "msg-1" {
		t.Fatalf("attempts = %+v", n.Attempts)
	}
	if len(p.email.sent) != 1 {
		t.Fatalf("provider called %d times", len(p.email.sent))
	}

	select {
	case msg := <-sentCh:
		if msg.Payload["notification_id"] != n.ID {
			t.Fatalf("bus payload = %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("notification.sent not published")
	}
}

func TestService_Send_PreferencesBlocked(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	prefs, _ := p.prefs.GetOrCreate(ctx, "u1")
	prefs.Channels[domain.ChannelEmail] = domain.ChannelPreference{Enabled: false}
	if err := p.prefs.Update(ctx, prefs); err != nil {
		t.Fatal(err)
	}

	_, err := p.svc.Send(ctx, emailNotification("u1"), true)
	if !errors.Is(err, domain.ErrPreferencesBlocked) {
		t.Fatalf("expected ErrPreferencesBlocked, got %v", err)
	}
	if len(p.email.sent) != 0 {
		t.Fatal("provider called despite blocked preferences")
	}

	// Urgent bypasses the channel toggle.
	urgent := emailNotification("u1")
	urgent.Priority = domain.PriorityUrgent
	n, err := p.svc.Send(ctx, urgent, true)
	if err != nil {
		t.Fatal(err)
	}
	if n.Status != domain.NotificationSent {
		t.Fatalf("urgent status = %q, want sent", n.Status)
	}

	// skip_preferences also bypasses.
	skipped := emailNotification("u1")
	if _, err := p.svc.Send(ctx, skipped, false); err != nil {
		t.Fatal(err)
	}
}

func TestService_Send_RateLimited(t *testing.T) {
	p := newPipeline(notification.Caps{PerMinute: 5})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := p.svc.Send(ctx, emailNotification("u1"), true); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
	}

	_, err := p.svc.Send(ctx, emailNotification("u1"), true)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on 6th send, got %v", err)
	}

	// Other users are unaffected.
	if _, err := p.svc.Send(ctx, emailNotification("u2"), true); err != nil {
		t.Fatalf("other user blocked: %v", err)
	}
}

func TestService_Send_ScheduledDefers(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	later := time.Now().UTC().Add(time.Hour)
	n := emailNotification("u1")
	n.ScheduledAt = &later

	created, err := p.svc.Send(ctx, n, true)
	if err != nil {
		t.Fatal(err)
	}
	if created.Status != domain.NotificationPending {
		t.Fatalf("status = %q, want pending", created.Status)
	}
	if len(p.email.sent) != 0 {
		t.Fatal("provider called for a scheduled notification")
	}
}

func TestService_Send_RetryableFailureRequeues(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()
	p.email.result = &provider.Result{ErrorCode: "vendor_down", Retryable: true}

	n, err := p.svc.Send(ctx, emailNotification("u1"), true)
	if err != nil {
		t.Fatal(err)
	}
	if n.Status != domain.NotificationPending {
		t.Fatalf("status = %q, want pending (requeued)", n.Status)
	}
	if n.SendAfter == nil || !n.SendAfter.After(time.Now().UTC()) {
		t.Fatalf("send_after = %v, want future backoff", n.SendAfter)
	}
}

func TestService_Send_PermanentFailure(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()
	p.email.result = &provider.Result{ErrorCode: "invalid_address", Retryable: false}

	failedCh, cancel := p.bus.Subscribe(events.TopicNotificationFailed, 1)
	defer cancel()

	n, err := p.svc.Send(ctx, emailNotification("u1"), true)
	if err != nil {
		t.Fatal(err)
	}
	if n.Status != domain.NotificationFailed {
		t.Fatalf("status = %q, want failed", n.Status)
	}

	select {
	case <-failedCh:
	case <-time.After(time.Second):
		t.Fatal("notification.failed not published")
	}
}

func TestService_Send_NoProvider(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	n := emailNotification("u1")
	n.Type = domain.ChannelSMS // no SMS provider registered
	_, err := p.svc.Send(ctx, n, true)
	if !errors.Is(err, domain.ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestService_MarkRead(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	sent, err := p.svc.Send(ctx, emailNotification("u1"), true)
	if err != nil {
		t.Fatal(err)
	}

	read, err := p.svc.MarkRead(ctx, sent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if read.Status != domain.NotificationRead {
		t.Fatalf("status = %q, want read", read.Status)
	}

	// Reading twice is rejected.
	if _, err := p.svc.MarkRead(ctx, sent.ID); !errors.Is(err, domain.ErrNotReadable) {
		t.Fatalf("expected ErrNotReadable, got %v", err)
	}
}

func TestService_Cancel(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	later := time.Now().UTC().Add(time.Hour)
	n := emailNotification("u1")
	n.ScheduledAt = &later
	created, err := p.svc.Send(ctx, n, true)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.svc.Cancel(ctx, created.ID); err != nil {
		t.Fatal(err)
	}

	// Already-dispatched notifications cannot be cancelled.
	sent, _ := p.svc.Send(ctx, emailNotification("u1"), true)
	if err := p.svc.Cancel(ctx, sent.ID); !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestService_SendFromTemplate(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	tpl := &domain.Template{
		ID:       "tpl-1",
		Name:     "invoice",
		Category: "billing",
		Subject:  "Invoice {{number}}",
		Body:     "Hi {{name}}, invoice {{number}} is ready",
	}
	if err := p.templates.Create(ctx, tpl); err != nil {
		t.Fatal(err)
	}

	base := &domain.Notification{
		Type:      domain.ChannelEmail,
		Priority:  domain.PriorityNormal,
		Recipient: domain.Recipient{UserID: "u1", Email: "user@example.com"},
	}
	n, err := p.svc.SendFromTemplate(ctx, "tpl-1", map[string]any{"name": "Ada", "number": "42"}, base)
	if err != nil {
		t.Fatal(err)
	}
	if n.Content.Subject != "Invoice 42" {
		t.Fatalf("subject = %q", n.Content.Subject)
	}
	if n.Content.Body != "Hi Ada, invoice 42 is ready" {
		t.Fatalf("body = %q", n.Content.Body)
	}
	if n.Category != "billing" || n.TemplateID != "tpl-1" {
		t.Fatalf("category=%q template_id=%q", n.Category, n.TemplateID)
	}

	if _, err := p.svc.SendFromTemplate(ctx, "missing", nil, base); !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestService_SendBulk(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	if _, err := p.svc.SendBulk(ctx, nil, true); !errors.Is(err, domain.ErrBatchEmpty) {
		t.Fatalf("expected ErrBatchEmpty, got %v", err)
	}

	tooMany := make([]*domain.Notification, 101)
	for i := range tooMany {
		tooMany[i] = emailNotification("u1")
	}
	if _, err := p.svc.SendBulk(ctx, tooMany, true); !errors.Is(err, domain.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}

	// A gate failure on one item does not sink the batch.
	bad := emailNotification("")
	batch := []*domain.Notification{emailNotification("u1"), bad, emailNotification("u2")}
	results, err := p.svc.SendBulk(ctx, batch, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("good items failed: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Fatal("invalid item did not report an error")
	}
	if len(p.email.sent) != 2 {
		t.Fatalf("provider called %d times, want 2", len(p.email.sent))
	}
}

// TestProcessor_DispatchesDuePending verifies the background loop picks up
// a pending notification once its scheduled time arrives.
func TestProcessor_DispatchesDuePending(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	soon := time.Now().UTC().Add(50 * time.Millisecond)
	n := emailNotification("u1")
	n.ScheduledAt = &soon
	created, err := p.svc.Send(ctx, n, true)
	if err != nil {
		t.Fatal(err)
	}

	proc := notification.NewProcessor(p.svc, 20*time.Millisecond, zap.NewNop(), nil, nil)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		proc.Run(runCtx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := p.svc.Get(ctx, created.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == domain.NotificationSent {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scheduled notification was not dispatched")
}

func TestService_DeviceTokens(t *testing.T) {
	p := newPipeline(notification.Caps{})
	ctx := context.Background()

	if err := p.svc.RegisterDeviceToken(ctx, "u1", "tok-1"); err != nil {
		t.Fatal(err)
	}
	if err := p.svc.RegisterDeviceToken(ctx, "u1", "tok-1"); err != nil {
		t.Fatal(err)
	}

	prefs, _ := p.svc.GetPreferences(ctx, "u1")
	if len(prefs.DeviceTokens) != 1 {
		t.Fatalf("tokens = %v, want deduplicated single token", prefs.DeviceTokens)
	}

	if err := p.svc.UnregisterDeviceToken(ctx, "u1", "tok-1"); err != nil {
		t.Fatal(err)
	}
	prefs, _ = p.svc.GetPreferences(ctx, "u1")
	if len(prefs.DeviceTokens) != 0 {
		t.Fatalf("tokens after unregister = %v", prefs.DeviceTokens)
	}
}
