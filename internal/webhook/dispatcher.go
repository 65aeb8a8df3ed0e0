package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/signature"
)

const (
	// maxResponseBody bounds how much of the subscriber's response is
	// kept on the attempt record.
	maxResponseBody = 1000

	// backoffBase is the delay after the first failed attempt; each
	// further failure doubles it.
	backoffBase = 60 * time.Second
)

// Dispatcher drains the due delivery set: every interval it loads due
// deliveries, POSTs each to its endpoint with a signed payload, and
// schedules retries with exponential backoff.
type Dispatcher struct {
	svc      *Service
	client   *http.Client
	interval time.Duration
	logger   *zap.Logger

	// Optional metrics hooks (nil = no-op).
	onDelivery func(domain.DeliveryStatus, time.Duration)
	onBacklog  func(int)

	wg sync.WaitGroup
}

func NewDispatcher(svc *Service, client *http.Client, interval time.Duration, logger *zap.Logger, onDelivery func(domain.DeliveryStatus, time.Duration), onBacklog func(int)) *Dispatcher {
	if onDelivery == nil {
		onDelivery = func(domain.DeliveryStatus, time.Duration) {}
	}
	if onBacklog == nil {
		onBacklog = func(int) {}
	}
	return &Dispatcher{
		svc:        svc,
		client:     client,
		interval:   interval,
		logger:     logger,
		onDelivery: onDelivery,
		onBacklog:  onBacklog,
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight attempts.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("webhook dispatcher started", zap.Duration("interval", d.interval))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("webhook dispatcher stopping")
			d.wg.Wait()
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	due, err := d.svc.deliveries.Due(ctx, time.Now().UTC())
	if err != nil {
		d.logger.Error("due scan failed", zap.Error(err))
		return
	}
	d.onBacklog(len(due))

	for _, delivery := range due {
		d.wg.Add(1)
		go func(delivery *domain.Delivery) {
			defer d.wg.Done()
			d.process(ctx, delivery)
		}(delivery)
	}
}

// process runs one attempt for the delivery and settles its next state.
func (d *Dispatcher) process(ctx context.Context, delivery *domain.Delivery) {
	endpoint, err := d.svc.endpoints.Get(ctx, delivery.WebhookID)
	if err != nil {
		// Endpoint gone; nothing left to deliver to.
		d.settle(ctx, delivery, domain.DeliveryExpired)
		return
	}

	switch endpoint.Status {
	case domain.EndpointActive:
	case domain.EndpointPaused:
		// Stay queued; re-checked when the endpoint resumes.
		next := time.Now().UTC().Add(d.interval)
		delivery.NextAttemptAt = &next
		if uerr := d.svc.deliveries.Update(ctx, delivery); uerr != nil {
			d.logger.Error("failed to defer delivery", zap.String("delivery_id", delivery.ID), zap.Error(uerr))
		}
		return
	default: // disabled, failed
		d.settle(ctx, delivery, domain.DeliveryExpired)
		return
	}

	// Claim the delivery before the slow HTTP call so the next tick does
	// not pick it up again mid-attempt.
	claim := time.Now().UTC().Add(time.Duration(endpoint.TimeoutSeconds) * time.Second)
	delivery.NextAttemptAt = &claim
	if err := d.svc.deliveries.Update(ctx, delivery); err != nil {
		d.logger.Error("failed to claim delivery", zap.String("delivery_id", delivery.ID), zap.Error(err))
		return
	}

	attempt := d.attempt(ctx, endpoint, &delivery.Event, delivery.ID, len(delivery.Attempts)+1, false)
	delivery.Attempts = append(delivery.Attempts, attempt)

	now := time.Now().UTC()
	success := attempt.Error == "" && attempt.StatusCode >= 200 && attempt.StatusCode < 300

	if success {
		delivery.Status = domain.DeliveryDelivered
		delivery.NextAttemptAt = nil
		delivery.CompletedAt = &now
	} else if len(delivery.Attempts) >= delivery.MaxAttempts {
		delivery.Status = domain.DeliveryExpired
		delivery.NextAttemptAt = nil
		delivery.CompletedAt = &now
	} else {
		delivery.Status = domain.DeliveryRetrying
		next := now.Add(backoff(len(delivery.Attempts)))
		delivery.NextAttemptAt = &next
	}

	if err := d.svc.deliveries.Update(ctx, delivery); err != nil {
		d.logger.Error("failed to record attempt", zap.String("delivery_id", delivery.ID), zap.Error(err))
		return
	}
	d.recordOutcome(ctx, endpoint.ID, success, now)
	d.onDelivery(delivery.Status, time.Duration(attempt.DurationMS)*time.Millisecond)

	d.logger.Info("delivery attempt",
		zap.String("delivery_id", delivery.ID),
		zap.String("endpoint_id", endpoint.ID),
		zap.Int("attempt", attempt.Number),
		zap.Int("status_code", attempt.StatusCode),
		zap.String("status", string(delivery.Status)),
	)
}

// attempt performs one signed POST to the endpoint. Custom headers are
// applied first so protocol headers always win. deliveryID is empty for
// test pings, which have no persisted delivery.
func (d *Dispatcher) attempt(ctx context.Context, e *domain.Endpoint, event *domain.Event, deliveryID string, number int, test bool) domain.DeliveryAttempt {
	attempt := domain.DeliveryAttempt{
		Number:    number,
		StartedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		attempt.Error = fmt.Sprintf("encode event: %v", err)
		return attempt
	}

	cctx, cancel := context.WithTimeout(ctx, time.Duration(e.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Error = fmt.Sprintf("build request: %v", err)
		return attempt
	}

	for name, value := range e.CustomHeaders {
		req.Header.Set(name, value)
	}
	signedAt := time.Now().UTC()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", e.ID)
	req.Header.Set("X-Webhook-Signature", signature.Sign(e.Secret, string(payload), signedAt))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(signedAt.Unix(), 10))
	req.Header.Set("X-Event-ID", event.ID)
	req.Header.Set("X-Event-Type", event.Type)
	if deliveryID != "" {
		req.Header.Set("X-Delivery-ID", deliveryID)
	}
	req.Header.Set("X-Attempt-Number", strconv.Itoa(number))
	if test {
		req.Header.Set("X-Webhook-Test", "true")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		attempt.DurationMS = time.Since(attempt.StartedAt).Milliseconds()
		attempt.Error = err.Error()
		return attempt
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	attempt.DurationMS = time.Since(attempt.StartedAt).Milliseconds()
	attempt.StatusCode = resp.StatusCode
	attempt.ResponseBody = string(body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		attempt.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	}
	return attempt
}

// recordOutcome updates the endpoint's delivery counters and marks it
// failed when consecutive failures cross the threshold. Deliveries to one
// endpoint fan out in parallel, so the read-modify-write runs on a fresh
// copy under the service mutex.
func (d *Dispatcher) recordOutcome(ctx context.Context, endpointID string, success bool, now time.Time) {
	d.svc.mu.Lock()
	defer d.svc.mu.Unlock()

	e, err := d.svc.endpoints.Get(ctx, endpointID)
	if err != nil {
		d.logger.Error("endpoint vanished while recording outcome", zap.String("endpoint_id", endpointID), zap.Error(err))
		return
	}

	e.TotalDeliveries++
	e.LastTriggeredAt = &now
	if success {
		e.SuccessfulDeliveries++
		e.ConsecutiveFailures = 0
	} else {
		e.FailedDeliveries++
		e.ConsecutiveFailures++
		if e.ConsecutiveFailures >= disableThreshold && e.Status == domain.EndpointActive {
			e.Status = domain.EndpointFailed
			d.logger.Warn("endpoint failed out of rotation",
				zap.String("endpoint_id", e.ID),
				zap.Int("consecutive_failures", e.ConsecutiveFailures),
			)
		}
	}
	e.UpdatedAt = now
	if err := d.svc.endpoints.Update(ctx, e); err != nil {
		d.logger.Error("failed to update endpoint counters", zap.String("endpoint_id", e.ID), zap.Error(err))
	}
}

func (d *Dispatcher) settle(ctx context.Context, delivery *domain.Delivery, status domain.DeliveryStatus) {
	now := time.Now().UTC()
	delivery.Status = status
	delivery.NextAttemptAt = nil
	delivery.CompletedAt = &now
	if err := d.svc.deliveries.Update(ctx, delivery); err != nil {
		d.logger.Error("failed to settle delivery", zap.String("delivery_id", delivery.ID), zap.Error(err))
		return
	}
	d.onDelivery(status, 0)
}

// TestPing sends a synthetic system.health event to the endpoint, signed
// like a real delivery but marked with X-Webhook-Test and never persisted.
func (d *Dispatcher) TestPing(ctx context.Context, endpointID string) (*domain.DeliveryAttempt, error) {
	e, err := d.svc.endpoints.Get(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      "system.health",
		Timestamp: time.Now().UTC(),
		Source:    d.svc.source,
		Version:   d.svc.version,
		Data:      map[string]any{"status": "ok"},
	}
	attempt := d.attempt(ctx, e, &event, "", 1, true)
	return &attempt, nil
}

// RetryNow re-queues the delivery and performs the extra attempt in place
// rather than waiting for the next poll tick.
func (d *Dispatcher) RetryNow(ctx context.Context, id string) (*domain.Delivery, error) {
	delivery, err := d.svc.RetryDelivery(ctx, id)
	if err != nil {
		return nil, err
	}
	d.process(ctx, delivery)
	return d.svc.deliveries.Get(ctx, id)
}

// backoff returns the delay after the n-th failed attempt: 60s doubled per
// failure (60, 120, 240, ...).
func backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return backoffBase << (n - 1)
}
