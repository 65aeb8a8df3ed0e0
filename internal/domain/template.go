package domain

import "time"

// Template is a reusable message skeleton with {{name}} placeholders.
// Each field is rendered independently; the channel decides which rendered
// fields end up in the notification content.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	HTMLBody  string    `json:"html_body,omitempty"`
	ShortBody string    `json:"short_body,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
