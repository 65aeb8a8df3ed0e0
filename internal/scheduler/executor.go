package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Handler executes one task payload and returns a short result string.
// Handlers are registered per TaskType; the http type falls back to the
// built-in executor when no handler is registered.
type Handler func(ctx context.Context, t *domain.Task) (string, error)

// HTTPExecutor is the built-in executor for http task payloads.
// The client is shared across executions (one connection pool).
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{client: client}
}

// Execute performs the task's HTTP request. Any 2xx response is success;
// everything else is a failed execution.
func (e *HTTPExecutor) Execute(ctx context.Context, t *domain.Task) (string, error) {
	method := t.Payload.Method
	if method == "" {
		method = http.MethodGet
		if t.Payload.Body != "" {
			method = http.MethodPost
		}
	}

	var body io.Reader
	if t.Payload.Body != "" {
		body = strings.NewReader(t.Payload.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.Payload.URL, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	for name, value := range t.Payload.Headers {
		req.Header.Set(name, value)
	}
	if t.Payload.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("target returned status %d", resp.StatusCode)
	}
	return fmt.Sprintf("status %d", resp.StatusCode), nil
}
