// Package provider contains the channel provider capability set and its
// concrete adapters. A provider declares the notification types it serves,
// validates payloads before dispatch, and reports outcomes with an explicit
// retryable flag so the pipeline can classify failures without knowing
// vendor details.
package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Result is the outcome of one provider invocation.
type Result struct {
	Success       bool   `json:"success"`
	ProviderMsgID string `json:"provider_message_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Retryable     bool   `json:"retryable"`
}

// ErrStatusUnsupported is returned by CheckStatus when the vendor has no
// delivery-status API.
var ErrStatusUnsupported = errors.New("provider does not support status lookup")

// Provider is the channel capability set. Mocking this interface in tests
// gives full control over provider behaviour without real network calls.
type Provider interface {
	Name() string
	Types() []domain.Channel
	Enabled() bool
	Validate(n *domain.Notification) error
	Send(ctx context.Context, n *domain.Notification) *Result
	SendBatch(ctx context.Context, batch []*domain.Notification) []*Result
	CheckStatus(ctx context.Context, providerMsgID string) (string, error)
}

// classifyStatus maps an HTTP response code to a Result outcome class.
// 2xx is success; 5xx and 429 are retryable; any other 4xx is not.
func classifyStatus(code int) (success, retryable bool) {
	switch {
	case code >= 200 && code < 300:
		return true, false
	case code == http.StatusTooManyRequests:
		return false, true
	case code >= 500:
		return false, true
	default:
		return false, false
	}
}

// connectionFailure builds the Result for a transport-level error.
// Network failures are always retryable.
func connectionFailure(err error) *Result {
	return &Result{
		ErrorCode:    "connection_error",
		ErrorMessage: err.Error(),
		Retryable:    true,
	}
}

// validationFailure builds the Result for a pre-dispatch validation error.
// Validation failures are never retryable.
func validationFailure(err error) *Result {
	return &Result{
		ErrorCode:    "invalid_payload",
		ErrorMessage: err.Error(),
	}
}

// sendEach is the SendBatch fallback for providers without a vendor batch
// endpoint.
func sendEach(ctx context.Context, p Provider, batch []*domain.Notification) []*Result {
	results := make([]*Result, len(batch))
	for i, n := range batch {
		results[i] = p.Send(ctx, n)
	}
	return results
}
