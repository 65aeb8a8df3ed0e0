package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Processor drains the pending notification set: scheduled sends whose
// time has arrived and failed attempts whose retry backoff has elapsed.
type Processor struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger

	// Optional metrics hooks (nil = no-op).
	onDispatch func(domain.NotificationStatus)
	onBacklog  func(int)

	wg sync.WaitGroup
}

func NewProcessor(svc *Service, interval time.Duration, logger *zap.Logger, onDispatch func(domain.NotificationStatus), onBacklog func(int)) *Processor {
	if onDispatch == nil {
		onDispatch = func(domain.NotificationStatus) {}
	}
	if onBacklog == nil {
		onBacklog = func(int) {}
	}
	return &Processor{svc: svc, interval: interval, logger: logger, onDispatch: onDispatch, onBacklog: onBacklog}
}

// Run ticks until ctx is cancelled, then waits for in-flight dispatches.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("notification processor started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification processor stopping")
			p.wg.Wait()
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	due, err := p.svc.store.DuePending(ctx, time.Now().UTC())
	if err != nil {
		p.logger.Error("pending scan failed", zap.Error(err))
		return
	}
	p.onBacklog(len(due))

	for _, n := range due {
		p.wg.Add(1)
		go func(n *domain.Notification) {
			defer p.wg.Done()
			if err := p.svc.deliver(ctx, n); err != nil {
				p.logger.Error("pending dispatch failed",
					zap.String("notification_id", n.ID),
					zap.Error(err),
				)
			}
			p.onDispatch(n.Status)
		}(n)
	}
}
