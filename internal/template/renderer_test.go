package template_test

import (
	"testing"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/template"
)

func TestRender_Substitution(t *testing.T) {
	got := template.Render("Hello {{name}}, your order {{order_id}} shipped", map[string]any{
		"name":     "Ada",
		"order_id": 1042,
	})
	want := "Hello Ada, your order 1042 shipped"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

// TestRender_MissingKeyStaysLiteral verifies that tokens without a data
// entry are left in place rather than removed.
func TestRender_MissingKeyStaysLiteral(t *testing.T) {
	got := template.Render("Hi {{name}}, code {{code}}", map[string]any{"name": "Bo"})
	want := "Hi Bo, code {{code}}"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestRender_NoWhitespaceTolerance(t *testing.T) {
	got := template.Render("Hi {{ name }}", map[string]any{"name": "Bo"})
	if got != "Hi {{ name }}" {
		t.Fatalf("Render = %q, spaced tokens should not substitute", got)
	}
}

func TestRenderContent_AllFields(t *testing.T) {
	tpl := &domain.Template{
		Subject:   "Order {{id}}",
		Title:     "Order update",
		Body:      "Order {{id}} is {{status}}",
		ShortBody: "{{id}}: {{status}}",
	}
	content := template.RenderContent(tpl, map[string]any{"id": "A1", "status": "shipped"})

	if content.Subject != "Order A1" {
		t.Fatalf("Subject = %q", content.Subject)
	}
	if content.Body != "Order A1 is shipped" {
		t.Fatalf("Body = %q", content.Body)
	}
	if content.ShortBody != "A1: shipped" {
		t.Fatalf("ShortBody = %q", content.ShortBody)
	}
	if content.Title != "Order update" {
		t.Fatalf("Title = %q", content.Title)
	}
}
