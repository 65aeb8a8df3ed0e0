package domain_test

import (
	"strings"
	"testing"

	"github.com/notifyhub/dispatch/internal/domain"
)

func TestContent_SMSBody(t *testing.T) {
	short := domain.Content{Body: "hello"}
	if got := short.SMSBody(); got != "hello" {
		t.Fatalf("SMSBody = %q", got)
	}

	// ShortBody wins over Body when present.
	both := domain.Content{Body: "the long version", ShortBody: "short"}
	if got := both.SMSBody(); got != "short" {
		t.Fatalf("SMSBody = %q, want short_body", got)
	}

	long := domain.Content{Body: strings.Repeat("x", 200)}
	got := long.SMSBody()
	if len(got) != domain.MaxSMSBody {
		t.Fatalf("truncated length = %d, want %d", len(got), domain.MaxSMSBody)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated body %q missing ellipsis", got[len(got)-10:])
	}
}

func TestEndpoint_SubscribedTo(t *testing.T) {
	e := &domain.Endpoint{Events: []string{"order.created", "order.updated"}}
	if !e.SubscribedTo("order.created") {
		t.Fatal("exact event type did not match")
	}
	if e.SubscribedTo("user.created") {
		t.Fatal("unsubscribed event type matched")
	}

	wild := &domain.Endpoint{Events: []string{domain.EventWildcard}}
	if !wild.SubscribedTo("anything.at.all") {
		t.Fatal("wildcard did not match")
	}
}

func TestEndpoint_MatchesFilters(t *testing.T) {
	e := &domain.Endpoint{Filters: map[string]any{
		"region": "eu",
		"tier":   []any{"gold", "platinum"},
	}}

	if !e.MatchesFilters(map[string]any{"region": "eu", "tier": "gold"}) {
		t.Fatal("matching data rejected")
	}
	if e.MatchesFilters(map[string]any{"region": "us", "tier": "gold"}) {
		t.Fatal("scalar mismatch accepted")
	}
	if e.MatchesFilters(map[string]any{"region": "eu", "tier": "bronze"}) {
		t.Fatal("list non-member accepted")
	}
	// A filtered key absent from the payload fails the match.
	if e.MatchesFilters(map[string]any{"region": "eu"}) {
		t.Fatal("missing key accepted")
	}

	none := &domain.Endpoint{}
	if !none.MatchesFilters(map[string]any{"anything": 1}) {
		t.Fatal("empty filter set should match everything")
	}
}

func TestEndpoint_Masked(t *testing.T) {
	e := &domain.Endpoint{ID: "ep-1", Secret: "whsec_abc"}
	masked := e.Masked()
	if masked.Secret != "" {
		t.Fatalf("masked secret = %q", masked.Secret)
	}
	if e.Secret != "whsec_abc" {
		t.Fatal("masking mutated the original")
	}
}

func TestTask_AppendExecution_Bounded(t *testing.T) {
	task := &domain.Task{}
	for i := 0; i < domain.MaxExecutionHistory+10; i++ {
		task.AppendExecution(domain.Execution{ID: string(rune('a' + i%26))})
	}
	if len(task.Executions) != domain.MaxExecutionHistory {
		t.Fatalf("history length = %d, want %d", len(task.Executions), domain.MaxExecutionHistory)
	}
}
