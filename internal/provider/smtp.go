package provider

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/notifyhub/dispatch/internal/domain"
)

// SMTPProvider delivers email over plain SMTP. It is the fallback email
// provider; SendGrid, when configured, is registered ahead of it.
type SMTPProvider struct {
	addr     string // host:port
	username string
	password string
	from     string
}

func NewSMTPProvider(addr, username, password, from string) *SMTPProvider {
	return &SMTPProvider{addr: addr, username: username, password: password, from: from}
}

func (p *SMTPProvider) Name() string            { return "smtp" }
func (p *SMTPProvider) Types() []domain.Channel { return []domain.Channel{domain.ChannelEmail} }
func (p *SMTPProvider) Enabled() bool           { return p.addr != "" }

func (p *SMTPProvider) Validate(n *domain.Notification) error {
	return ValidateForChannel(n)
}

func (p *SMTPProvider) Send(_ context.Context, n *domain.Notification) *Result {
	if err := p.Validate(n); err != nil {
		return validationFailure(err)
	}

	body := n.Content.Body
	contentType := "text/plain; charset=utf-8"
	if n.Content.HTMLBody != "" {
		body = n.Content.HTMLBody
		contentType = "text/html; charset=utf-8"
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", p.from)
	fmt.Fprintf(&msg, "To: %s\r\n", n.Recipient.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", n.Content.Subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\nContent-Type: %s\r\n\r\n", contentType)
	msg.WriteString(body)

	var auth smtp.Auth
	if p.username != "" {
		host := p.addr
		if colon := strings.LastIndexByte(host, ':'); colon >= 0 {
			host = host[:colon]
		}
		auth = smtp.PlainAuth("", p.username, p.password, host)
	}

	if err := smtp.SendMail(p.addr, auth, p.from, []string{n.Recipient.Email}, []byte(msg.String())); err != nil {
		return connectionFailure(err)
	}
	return &Result{Success: true, ProviderMsgID: uuid.New().String()}
}

func (p *SMTPProvider) SendBatch(ctx context.Context, batch []*domain.Notification) []*Result {
	return sendEach(ctx, p, batch)
}

func (p *SMTPProvider) CheckStatus(_ context.Context, _ string) (string, error) {
	return "", ErrStatusUnsupported
}

var _ Provider = (*SMTPProvider)(nil)
