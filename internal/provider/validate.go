package provider

import (
	"fmt"

	"github.com/notifyhub/dispatch/internal/domain"
)

// ValidateForChannel enforces the per-channel payload contract before any
// provider is invoked:
//
//	email:  recipient email, subject, and body or html body
//	sms:    recipient phone and body (transmitted body clamped to 160)
//	push:   device tokens, title, and body
//	in_app: user id and at least one of title/body
func ValidateForChannel(n *domain.Notification) error {
	switch n.Type {
	case domain.ChannelEmail:
		if n.Recipient.Email == "" {
			return fmt.Errorf("%w: email recipient missing", domain.ErrInvalidPayload)
		}
		if n.Content.Subject == "" {
			return fmt.Errorf("%w: email subject missing", domain.ErrInvalidPayload)
		}
		if n.Content.Body == "" && n.Content.HTMLBody == "" {
			return fmt.Errorf("%w: email body missing", domain.ErrInvalidPayload)
		}
	case domain.ChannelSMS:
		if n.Recipient.Phone == "" {
			return fmt.Errorf("%w: sms phone missing", domain.ErrInvalidPayload)
		}
		if n.Content.Body == "" && n.Content.ShortBody == "" {
			return fmt.Errorf("%w: sms body missing", domain.ErrInvalidPayload)
		}
	case domain.ChannelPush:
		if len(n.Recipient.DeviceTokens) == 0 {
			return fmt.Errorf("%w: push device tokens missing", domain.ErrInvalidPayload)
		}
		if n.Content.Title == "" || n.Content.Body == "" {
			return fmt.Errorf("%w: push title and body required", domain.ErrInvalidPayload)
		}
	case domain.ChannelInApp:
		if n.Recipient.UserID == "" {
			return fmt.Errorf("%w: in_app user id missing", domain.ErrInvalidPayload)
		}
		if n.Content.Title == "" && n.Content.Body == "" {
			return fmt.Errorf("%w: in_app title or body required", domain.ErrInvalidPayload)
		}
	default:
		return domain.ErrInvalidChannel
	}
	return nil
}
