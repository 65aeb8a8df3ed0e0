package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/notifyhub/dispatch/internal/domain"
)

// TwilioProvider delivers SMS through the Twilio Messages API.
// The base URL is injected so tests can point to a local mock.
type TwilioProvider struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
}

func NewTwilioProvider(baseURL, accountSID, authToken, from string, client *http.Client) *TwilioProvider {
	return &TwilioProvider{
		baseURL:    baseURL,
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		httpClient: client,
	}
}

func (p *TwilioProvider) Name() string            { return "twilio" }
func (p *TwilioProvider) Types() []domain.Channel { return []domain.Channel{domain.ChannelSMS} }
func (p *TwilioProvider) Enabled() bool           { return p.accountSID != "" && p.authToken != "" }

func (p *TwilioProvider) Validate(n *domain.Notification) error {
	return ValidateForChannel(n)
}

func (p *TwilioProvider) Send(ctx context.Context, n *domain.Notification) *Result {
	if err := p.Validate(n); err != nil {
		return validationFailure(err)
	}

	form := url.Values{
		"To":   {n.Recipient.Phone},
		"From": {p.from},
		"Body": {n.Content.SMSBody()},
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return connectionFailure(err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return connectionFailure(err)
	}
	defer resp.Body.Close()

	success, retryable := classifyStatus(resp.StatusCode)
	if !success {
		return &Result{
			ErrorCode:    fmt.Sprintf("http_%d", resp.StatusCode),
			ErrorMessage: fmt.Sprintf("twilio returned status %d", resp.StatusCode),
			Retryable:    retryable,
		}
	}

	var body struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// Delivery was accepted; a malformed response body loses only the
		// vendor message id.
		return &Result{Success: true}
	}
	return &Result{Success: true, ProviderMsgID: body.SID}
}

func (p *TwilioProvider) SendBatch(ctx context.Context, batch []*domain.Notification) []*Result {
	return sendEach(ctx, p, batch)
}

func (p *TwilioProvider) CheckStatus(_ context.Context, _ string) (string, error) {
	return "", ErrStatusUnsupported
}

var _ Provider = (*TwilioProvider)(nil)
