package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/notifyhub/dispatch/internal/domain"
)

// FCMProvider delivers push notifications through the Firebase Cloud
// Messaging HTTP API. Each device token is posted separately; the first
// accepted token counts as delivery for the notification.
type FCMProvider struct {
	baseURL    string
	serverKey  string
	httpClient *http.Client
}

func NewFCMProvider(baseURL, serverKey string, client *http.Client) *FCMProvider {
	return &FCMProvider{baseURL: baseURL, serverKey: serverKey, httpClient: client}
}

func (p *FCMProvider) Name() string            { return "fcm" }
func (p *FCMProvider) Types() []domain.Channel { return []domain.Channel{domain.ChannelPush} }
func (p *FCMProvider) Enabled() bool           { return p.serverKey != "" }

func (p *FCMProvider) Validate(n *domain.Notification) error {
	return ValidateForChannel(n)
}

type fcmMessage struct {
	To           string `json:"to"`
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Data map[string]any `json:"data,omitempty"`
}

func (p *FCMProvider) Send(ctx context.Context, n *domain.Notification) *Result {
	if err := p.Validate(n); err != nil {
		return validationFailure(err)
	}

	var lastFailure *Result
	for _, token := range n.Recipient.DeviceTokens {
		msg := fcmMessage{To: token, Data: n.Content.Data}
		msg.Notification.Title = n.Content.Title
		msg.Notification.Body = n.Content.Body

		body, err := json.Marshal(msg)
		if err != nil {
			return validationFailure(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/fcm/send", bytes.NewReader(body))
		if err != nil {
			return connectionFailure(err)
		}
		req.Header.Set("Authorization", "key="+p.serverKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastFailure = connectionFailure(err)
			continue
		}
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()

		success, retryable := classifyStatus(resp.StatusCode)
		if success {
			return &Result{Success: true, ProviderMsgID: uuid.New().String()}
		}
		lastFailure = &Result{
			ErrorCode:    fmt.Sprintf("http_%d", resp.StatusCode),
			ErrorMessage: fmt.Sprintf("fcm returned status %d", resp.StatusCode),
			Retryable:    retryable,
		}
	}
	return lastFailure
}

func (p *FCMProvider) SendBatch(ctx context.Context, batch []*domain.Notification) []*Result {
	return sendEach(ctx, p, batch)
}

func (p *FCMProvider) CheckStatus(_ context.Context, _ string) (string, error) {
	return "", ErrStatusUnsupported
}

var _ Provider = (*FCMProvider)(nil)
