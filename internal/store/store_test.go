package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/store"
)

func newTask(id string, status domain.TaskStatus, next *time.Time) *domain.Task {
	return &domain.Task{
		ID:           id,
		Name:         "task-" + id,
		ScheduleType: domain.ScheduleInterval,
		Schedule:     domain.ScheduleConfig{IntervalSeconds: 60},
		Payload:      domain.TaskPayload{Type: domain.TaskHTTP, URL: "http://example.com"},
		Status:       status,
		NextRunAt:    next,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestMemoryTaskStore_UpdateReindexes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryTaskStore()

	task := newTask("t1", domain.TaskActive, nil)
	if err := s.Create(ctx, task); err != nil {
		t.Fatal(err)
	}

	task.Status = domain.TaskPaused
	if err := s.Update(ctx, task); err != nil {
		t.Fatal(err)
	}

	active := domain.TaskActive
	list, total, err := s.List(ctx, store.TaskFilter{Status: &active})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(list) != 0 {
		t.Fatalf("stale status index: found %d active tasks", total)
	}

	paused := domain.TaskPaused
	if _, total, _ = s.List(ctx, store.TaskFilter{Status: &paused}); total != 1 {
		t.Fatalf("expected 1 paused task, got %d", total)
	}
}

func TestMemoryTaskStore_Due(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryTaskStore()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	for _, tc := range []struct {
		id     string
		status domain.TaskStatus
		next   *time.Time
	}{
		{"due", domain.TaskActive, &past},
		{"future", domain.TaskActive, &future},
		{"paused", domain.TaskPaused, &past},
		{"no-next", domain.TaskActive, nil},
	} {
		if err := s.Create(ctx, newTask(tc.id, tc.status, tc.next)); err != nil {
			t.Fatal(err)
		}
	}

	due, err := s.Due(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("Due = %v, want exactly the past-due active task", due)
	}
}

func TestMemoryTaskStore_CloneIsolation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryTaskStore()

	task := newTask("t1", domain.TaskActive, nil)
	if err := s.Create(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	got.Name = "mutated"

	again, _ := s.Get(ctx, "t1")
	if again.Name != "task-t1" {
		t.Fatal("store returned a shared reference, not a clone")
	}
}

func TestMemoryNotificationStore_DuePending(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryNotificationStore()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	mk := func(id string, scheduled, expires *time.Time) *domain.Notification {
		return &domain.Notification{
			ID:          id,
			Type:        domain.ChannelEmail,
			Priority:    domain.PriorityNormal,
			Recipient:   domain.Recipient{UserID: "u1"},
			Status:      domain.NotificationPending,
			ScheduledAt: scheduled,
			ExpiresAt:   expires,
			CreatedAt:   now,
		}
	}

	if err := s.Create(ctx, mk("due", &past, nil)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, mk("future", &future, nil)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, mk("expired", &past, &past)); err != nil {
		t.Fatal(err)
	}

	due, err := s.DuePending(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("DuePending = %v, want exactly the due notification", due)
	}

	// The expired one must have been cancelled in place.
	expired, err := s.Get(ctx, "expired")
	if err != nil {
		t.Fatal(err)
	}
	if expired.Status != domain.NotificationCancelled {
		t.Fatalf("expired status = %q, want cancelled", expired.Status)
	}

	// And the status index must agree.
	cancelled := domain.NotificationCancelled
	if _, total, _ := s.List(ctx, store.NotificationFilter{Status: &cancelled}); total != 1 {
		t.Fatalf("expected 1 cancelled in index, got %d", total)
	}
}

func TestMemoryEndpointStore_ListByEvent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryEndpointStore()

	mk := func(id string, events ...string) *domain.Endpoint {
		return &domain.Endpoint{
			ID:     id,
			URL:    "https://example.com/hook",
			Status: domain.EndpointActive,
			Events: events,
		}
	}

	if err := s.Create(ctx, mk("exact", "order.created")); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, mk("wild", "*")); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, mk("other", "user.created")); err != nil {
		t.Fatal(err)
	}

	subs, err := s.ListByEvent(ctx, "order.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected exact + wildcard subscribers, got %d", len(subs))
	}
	for _, e := range subs {
		if e.ID == "other" {
			t.Fatal("unsubscribed endpoint returned")
		}
	}
}

func TestMemoryDeliveryStore_DeleteByWebhook(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryDeliveryStore()
	now := time.Now().UTC()

	for _, id := range []string{"d1", "d2"} {
		err := s.Create(ctx, &domain.Delivery{
			ID:            id,
			WebhookID:     "w1",
			Status:        domain.DeliveryPending,
			NextAttemptAt: &now,
			CreatedAt:     now,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeleteByWebhook(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after cascade, got %v", err)
	}
	due, _ := s.Due(ctx, now.Add(time.Minute))
	if len(due) != 0 {
		t.Fatalf("stale due index after cascade: %d", len(due))
	}
}

func TestRateLimitStore_WindowCounts(t *testing.T) {
	s := store.NewRateLimitStore()
	now := time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.Increment("u1", now)
	}

	if got := s.Count("u1", store.BucketMinute, now); got != 5 {
		t.Fatalf("minute count = %d, want 5", got)
	}
	if got := s.Count("u1", store.BucketHour, now); got != 5 {
		t.Fatalf("hour count = %d, want 5", got)
	}
	if got := s.Count("u1", store.BucketDay, now); got != 5 {
		t.Fatalf("day count = %d, want 5", got)
	}

	// The next minute starts a fresh minute bucket but the hour/day
	// windows still accumulate.
	next := now.Add(time.Minute)
	if got := s.Count("u1", store.BucketMinute, next); got != 0 {
		t.Fatalf("new minute count = %d, want 0", got)
	}
	if got := s.Count("u1", store.BucketHour, next); got != 5 {
		t.Fatalf("hour count = %d, want 5", got)
	}

	// The next hour resets the hourly window.
	nextHour := now.Add(time.Hour)
	if got := s.Count("u1", store.BucketHour, nextHour); got != 0 {
		t.Fatalf("new hour count = %d, want 0", got)
	}
	if got := s.Count("u1", store.BucketDay, nextHour); got != 5 {
		t.Fatalf("day count = %d, want 5", got)
	}

	// Other users are isolated.
	if got := s.Count("u2", store.BucketDay, now); got != 0 {
		t.Fatalf("u2 day count = %d, want 0", got)
	}
}

func TestMemoryPreferenceStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryPreferenceStore()

	p, err := s.GetOrCreate(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !p.NotificationsEnabled {
		t.Fatal("default record should have notifications enabled")
	}

	p.NotificationsEnabled = false
	if err := s.Update(ctx, p); err != nil {
		t.Fatal(err)
	}

	again, _ := s.GetOrCreate(ctx, "u1")
	if again.NotificationsEnabled {
		t.Fatal("update not persisted")
	}
}
