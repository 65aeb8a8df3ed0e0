// Package template renders {{name}} placeholders in text templates.
//
// Substitution is literal: no escaping, no nested evaluation, no whitespace
// tolerance inside the braces. Tokens whose key is absent from the data map
// are left in place, so a partially-filled render is still a valid template.
package template

import (
	"fmt"
	"strings"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Render substitutes each {{key}} occurrence in text with the string form
// of data[key].
func Render(text string, data map[string]any) string {
	for key, value := range data {
		text = strings.ReplaceAll(text, "{{"+key+"}}", fmt.Sprintf("%v", value))
	}
	return text
}

// RenderContent renders every text field of a template into notification
// content. The Data map is not carried over; callers attach channel data
// separately.
func RenderContent(t *domain.Template, data map[string]any) domain.Content {
	return domain.Content{
		Subject:   Render(t.Subject, data),
		Title:     Render(t.Title, data),
		Body:      Render(t.Body, data),
		HTMLBody:  Render(t.HTMLBody, data),
		ShortBody: Render(t.ShortBody, data),
	}
}
