package webhook_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/signature"
	"github.com/notifyhub/dispatch/internal/store"
	"github.com/notifyhub/dispatch/internal/webhook"
)

type fixture struct {
	svc        *webhook.Service
	dispatcher *webhook.Dispatcher
	endpoints  *store.MemoryEndpointStore
	deliveries *store.MemoryDeliveryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	endpoints := store.NewMemoryEndpointStore()
	deliveries := store.NewMemoryDeliveryStore()
	svc := webhook.NewService(endpoints, deliveries, "dispatch", "1.0", zap.NewNop())
	dispatcher := webhook.NewDispatcher(svc, &http.Client{Timeout: 5 * time.Second}, 20*time.Millisecond, zap.NewNop(), nil, nil)
	return &fixture{svc: svc, dispatcher: dispatcher, endpoints: endpoints, deliveries: deliveries}
}

// runDispatcher starts the delivery loop and stops it when the test ends.
func (f *fixture) runDispatcher(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.dispatcher.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// waitDelivery polls until the delivery satisfies cond or the timeout hits.
func (f *fixture) waitDelivery(t *testing.T, id string, cond func(*domain.Delivery) bool) *domain.Delivery {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		d, err := f.svc.GetDelivery(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if cond(d) {
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("delivery did not reach expected state")
	return nil
}

func (f *fixture) createEndpoint(t *testing.T, e *domain.Endpoint) *domain.Endpoint {
	t.Helper()
	created, err := f.svc.CreateEndpoint(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func orderEvent() domain.Event {
	return domain.Event{
		Type: "order.created",
		Data: map[string]any{"order_id": "o1", "region": "eu"},
	}
}

func TestDispatcher_DeliverySigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var gotBody atomic.Value
	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		gotHeader.Store(r.Header.Clone())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint := f.createEndpoint(t, &domain.Endpoint{
		URL:           srv.URL,
		Events:        []string{"order.created"},
		CustomHeaders: map[string]string{"X-Team": "payments"},
	})

	created, err := f.svc.Publish(ctx, orderEvent())
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(created))
	}

	f.runDispatcher(t)
	d := f.waitDelivery(t, created[0].ID, func(d *domain.Delivery) bool {
		return d.Status == domain.DeliveryDelivered
	})

	if len(d.Attempts) != 1 || d.Attempts[0].StatusCode != http.StatusOK {
		t.Fatalf("attempts = %+v", d.Attempts)
	}
	if d.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	// The request must verify against the endpoint secret.
	headers := gotHeader.Load().(http.Header)
	err = signature.Verify(
		endpoint.Secret,
		gotBody.Load().(string),
		headers.Get("X-Webhook-Signature"),
		time.Now().UTC(),
		signature.DefaultTolerance,
	)
	if err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
	if headers.Get("X-Event-Type") != "order.created" {
		t.Fatalf("X-Event-Type = %q", headers.Get("X-Event-Type"))
	}
	if headers.Get("X-Delivery-ID") != created[0].ID {
		t.Fatalf("X-Delivery-ID = %q, want %q", headers.Get("X-Delivery-ID"), created[0].ID)
	}
	if headers.Get("X-Webhook-ID") != endpoint.ID {
		t.Fatalf("X-Webhook-ID = %q, want %q", headers.Get("X-Webhook-ID"), endpoint.ID)
	}
	if headers.Get("X-Team") != "payments" {
		t.Fatal("custom header not applied")
	}
	if headers.Get("X-Webhook-Test") != "" {
		t.Fatal("real delivery must not carry the test marker")
	}

	// Endpoint counters updated.
	after, _ := f.svc.GetEndpoint(ctx, endpoint.ID, false)
	if after.TotalDeliveries != 1 || after.SuccessfulDeliveries != 1 || after.ConsecutiveFailures != 0 {
		t.Fatalf("endpoint counters = %+v", after)
	}
}

// TestDispatcher_FailureSchedulesBackoff verifies a failing endpoint moves
// the delivery to retrying with a 60s backoff, not an immediate retry.
func TestDispatcher_FailureSchedulesBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f.createEndpoint(t, &domain.Endpoint{URL: srv.URL, Events: []string{"order.created"}})
	created, err := f.svc.Publish(ctx, orderEvent())
	if err != nil {
		t.Fatal(err)
	}

	f.runDispatcher(t)
	d := f.waitDelivery(t, created[0].ID, func(d *domain.Delivery) bool {
		return d.Status == domain.DeliveryRetrying
	})

	if len(d.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(d.Attempts))
	}
	if d.Attempts[0].StatusCode != http.StatusInternalServerError {
		t.Fatalf("status code = %d", d.Attempts[0].StatusCode)
	}
	if d.NextAttemptAt == nil {
		t.Fatal("next_attempt_at not set")
	}
	wait := time.Until(*d.NextAttemptAt)
	if wait < 50*time.Second || wait > 70*time.Second {
		t.Fatalf("backoff = %v, want about 60s", wait)
	}
}

// TestDispatcher_ExpiresAtMaxAttempts verifies the delivery goes terminal
// once the attempt budget is spent.
func TestDispatcher_ExpiresAtMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f.createEndpoint(t, &domain.Endpoint{
		URL:        srv.URL,
		Events:     []string{"order.created"},
		MaxRetries: 1,
	})
	created, err := f.svc.Publish(ctx, orderEvent())
	if err != nil {
		t.Fatal(err)
	}

	f.runDispatcher(t)
	d := f.waitDelivery(t, created[0].ID, func(d *domain.Delivery) bool {
		return d.Status == domain.DeliveryExpired
	})
	if len(d.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(d.Attempts))
	}
	if d.CompletedAt == nil {
		t.Fatal("completed_at not set on expiry")
	}
}

func TestService_PublishAppliesFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	matching := f.createEndpoint(t, &domain.Endpoint{
		URL:     "https://example.com/a",
		Events:  []string{"order.created"},
		Filters: map[string]any{"region": "eu"},
	})
	f.createEndpoint(t, &domain.Endpoint{
		URL:     "https://example.com/b",
		Events:  []string{"order.created"},
		Filters: map[string]any{"region": "us"},
	})
	f.createEndpoint(t, &domain.Endpoint{
		URL:    "https://example.com/c",
		Events: []string{"user.created"},
	})

	created, err := f.svc.Publish(ctx, orderEvent())
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 {
		t.Fatalf("expected exactly one matching delivery, got %d", len(created))
	}
	if created[0].WebhookID != matching.ID {
		t.Fatal("delivery created for the wrong endpoint")
	}
}

func TestService_PublishSkipsPaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.createEndpoint(t, &domain.Endpoint{URL: "https://example.com/a", Events: []string{"*"}})
	if err := f.svc.PauseEndpoint(ctx, e.ID); err != nil {
		t.Fatal(err)
	}

	created, err := f.svc.Publish(ctx, orderEvent())
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Fatalf("paused endpoint received %d deliveries", len(created))
	}
}

// TestDispatcher_AutoFail verifies an endpoint crossing the consecutive
// failure threshold transitions to failed and out of rotation.
func TestDispatcher_AutoFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := f.createEndpoint(t, &domain.Endpoint{URL: srv.URL, Events: []string{"order.created"}})

	// Put the endpoint one failure short of the threshold.
	stored, _ := f.endpoints.Get(ctx, e.ID)
	stored.ConsecutiveFailures = 49
	if err := f.endpoints.Update(ctx, stored); err != nil {
		t.Fatal(err)
	}

	created, err := f.svc.Publish(ctx, orderEvent())
	if err != nil {
		t.Fatal(err)
	}

	f.runDispatcher(t)
	f.waitDelivery(t, created[0].ID, func(d *domain.Delivery) bool {
		return len(d.Attempts) >= 1
	})

	deadline := time.Now().Add(3 * time.Second)
	for {
		after, _ := f.svc.GetEndpoint(ctx, e.ID, false)
		if after.Status == domain.EndpointFailed {
			if after.ConsecutiveFailures != 50 {
				t.Fatalf("consecutive_failures = %d, want 50", after.ConsecutiveFailures)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("endpoint did not fail out of rotation, status = %q", after.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestDispatcher_ConcurrentOutcomesKeepCounters fans several deliveries to
// one endpoint out in parallel and verifies no counter update is lost.
func TestDispatcher_ConcurrentOutcomesKeepCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := f.createEndpoint(t, &domain.Endpoint{
		URL:        srv.URL,
		Events:     []string{"order.created"},
		MaxRetries: 1, // each delivery is terminal after one attempt
	})

	const events = 10
	ids := make([]string, 0, events)
	for i := 0; i < events; i++ {
		created, err := f.svc.Publish(ctx, orderEvent())
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, created[0].ID)
	}

	f.runDispatcher(t)
	for _, id := range ids {
		f.waitDelivery(t, id, func(d *domain.Delivery) bool {
			return d.Status == domain.DeliveryExpired
		})
	}

	after, _ := f.svc.GetEndpoint(ctx, e.ID, false)
	if after.TotalDeliveries != events || after.FailedDeliveries != events {
		t.Fatalf("counters = total %d failed %d, want %d/%d",
			after.TotalDeliveries, after.FailedDeliveries, events, events)
	}
	if after.ConsecutiveFailures != events {
		t.Fatalf("consecutive_failures = %d, want %d", after.ConsecutiveFailures, events)
	}
}

// TestDispatcher_RetryNow verifies a manual retry runs its attempt before
// returning instead of waiting for the delivery loop to pick it up.
func TestDispatcher_RetryNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f.createEndpoint(t, &domain.Endpoint{URL: srv.URL, Events: []string{"order.created"}})
	created, err := f.svc.Publish(ctx, orderEvent())
	if err != nil {
		t.Fatal(err)
	}

	// Run the loop only for the first attempt, then stop it so the manual
	// retry is provably the one performing the second.
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.dispatcher.Run(loopCtx)
		close(done)
	}()
	f.waitDelivery(t, created[0].ID, func(d *domain.Delivery) bool {
		return d.Status == domain.DeliveryRetrying
	})
	cancel()
	<-done

	d, err := f.dispatcher.RetryNow(ctx, created[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.DeliveryDelivered {
		t.Fatalf("status = %q, want delivered immediately", d.Status)
	}
	if len(d.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(d.Attempts))
	}

	// Delivered deliveries cannot be retried again.
	if _, err := f.dispatcher.RetryNow(ctx, created[0].ID); !errors.Is(err, domain.ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable, got %v", err)
	}
}

func TestDispatcher_TestPing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Clone())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := f.createEndpoint(t, &domain.Endpoint{URL: srv.URL, Events: []string{"order.created"}})

	attempt, err := f.dispatcher.TestPing(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if attempt.StatusCode != http.StatusOK {
		t.Fatalf("ping status = %d", attempt.StatusCode)
	}

	headers := gotHeader.Load().(http.Header)
	if headers.Get("X-Webhook-Test") != "true" {
		t.Fatal("test ping must carry X-Webhook-Test: true")
	}
	if headers.Get("X-Event-Type") != "system.health" {
		t.Fatalf("X-Event-Type = %q", headers.Get("X-Event-Type"))
	}

	// Pings are not persisted as deliveries.
	deliveries, total, err := f.svc.ListDeliveries(ctx, e.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(deliveries) != 0 {
		t.Fatalf("test ping persisted %d deliveries", total)
	}
}

func TestService_CreateEndpoint_ReservedHeader(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateEndpoint(context.Background(), &domain.Endpoint{
		URL:           "https://example.com/hook",
		Events:        []string{"*"},
		CustomHeaders: map[string]string{"x-webhook-signature": "spoof"},
	})
	if !errors.Is(err, domain.ErrReservedHeader) {
		t.Fatalf("expected ErrReservedHeader, got %v", err)
	}
}

func TestService_SecretMasking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.createEndpoint(t, &domain.Endpoint{URL: "https://example.com/hook", Events: []string{"*"}})
	if e.Secret == "" {
		t.Fatal("create response must include the secret")
	}

	masked, err := f.svc.GetEndpoint(ctx, e.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if masked.Secret != "" {
		t.Fatal("secret leaked through default read")
	}

	full, _ := f.svc.GetEndpoint(ctx, e.ID, true)
	if full.Secret != e.Secret {
		t.Fatal("include_secret read returned the wrong secret")
	}

	rotated, err := f.svc.RotateSecret(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rotated == e.Secret {
		t.Fatal("rotation returned the old secret")
	}
}
