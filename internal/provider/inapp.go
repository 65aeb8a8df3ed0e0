package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/notifyhub/dispatch/internal/domain"
)

// InAppProvider "delivers" in-app notifications. The persisted notification
// record is itself the in-app message, so delivery amounts to accepting the
// payload; the client reads it from the store and acknowledges via
// mark-as-read.
type InAppProvider struct{}

func NewInAppProvider() *InAppProvider { return &InAppProvider{} }

func (p *InAppProvider) Name() string            { return "in_app" }
func (p *InAppProvider) Types() []domain.Channel { return []domain.Channel{domain.ChannelInApp} }
func (p *InAppProvider) Enabled() bool           { return true }

func (p *InAppProvider) Validate(n *domain.Notification) error {
	return ValidateForChannel(n)
}

func (p *InAppProvider) Send(_ context.Context, n *domain.Notification) *Result {
	if err := p.Validate(n); err != nil {
		return validationFailure(err)
	}
	return &Result{Success: true, ProviderMsgID: uuid.New().String()}
}

func (p *InAppProvider) SendBatch(ctx context.Context, batch []*domain.Notification) []*Result {
	return sendEach(ctx, p, batch)
}

func (p *InAppProvider) CheckStatus(_ context.Context, _ string) (string, error) {
	return "", ErrStatusUnsupported
}

var _ Provider = (*InAppProvider)(nil)
