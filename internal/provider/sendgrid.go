package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/notifyhub/dispatch/internal/domain"
)

// SendGridProvider delivers email through the SendGrid v3 mail send API.
// The base URL is injected so tests can point to a local mock.
type SendGridProvider struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

func NewSendGridProvider(baseURL, apiKey, from string, client *http.Client) *SendGridProvider {
	return &SendGridProvider{baseURL: baseURL, apiKey: apiKey, from: from, httpClient: client}
}

func (p *SendGridProvider) Name() string            { return "sendgrid" }
func (p *SendGridProvider) Types() []domain.Channel { return []domain.Channel{domain.ChannelEmail} }
func (p *SendGridProvider) Enabled() bool           { return p.apiKey != "" }

func (p *SendGridProvider) Validate(n *domain.Notification) error {
	return ValidateForChannel(n)
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sendGridMail struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

func (p *SendGridProvider) Send(ctx context.Context, n *domain.Notification) *Result {
	if err := p.Validate(n); err != nil {
		return validationFailure(err)
	}

	mail := sendGridMail{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: n.Recipient.Email}}}},
		From:             sgAddress{Email: p.from},
		Subject:          n.Content.Subject,
	}
	if n.Content.Body != "" {
		mail.Content = append(mail.Content, sgContent{Type: "text/plain", Value: n.Content.Body})
	}
	if n.Content.HTMLBody != "" {
		mail.Content = append(mail.Content, sgContent{Type: "text/html", Value: n.Content.HTMLBody})
	}

	body, err := json.Marshal(mail)
	if err != nil {
		return validationFailure(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return connectionFailure(err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return connectionFailure(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	success, retryable := classifyStatus(resp.StatusCode)
	if !success {
		return &Result{
			ErrorCode:    fmt.Sprintf("http_%d", resp.StatusCode),
			ErrorMessage: fmt.Sprintf("sendgrid returned status %d", resp.StatusCode),
			Retryable:    retryable,
		}
	}
	return &Result{Success: true, ProviderMsgID: resp.Header.Get("X-Message-Id")}
}

func (p *SendGridProvider) SendBatch(ctx context.Context, batch []*domain.Notification) []*Result {
	return sendEach(ctx, p, batch)
}

func (p *SendGridProvider) CheckStatus(_ context.Context, _ string) (string, error) {
	return "", ErrStatusUnsupported
}

var _ Provider = (*SendGridProvider)(nil)
