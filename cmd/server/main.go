package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/api"
	"github.com/notifyhub/dispatch/internal/config"
	"github.com/notifyhub/dispatch/internal/db"
	"github.com/notifyhub/dispatch/internal/events"
	"github.com/notifyhub/dispatch/internal/metrics"
	"github.com/notifyhub/dispatch/internal/notification"
	"github.com/notifyhub/dispatch/internal/provider"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/scheduler"
	"github.com/notifyhub/dispatch/internal/store"
	"github.com/notifyhub/dispatch/internal/webhook"
)

const (
	serviceName    = "dispatch"
	serviceVersion = "1.0"

	sendGridBaseURL = "https://api.sendgrid.com"
	twilioBaseURL   = "https://api.twilio.com"
	fcmBaseURL      = "https://fcm.googleapis.com"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	// ---- stores ----
	// Notifications persist in Postgres when DATABASE_URL is set; every
	// other store (and the no-DB fallback) is in-memory.
	var notifStore store.NotificationStore = store.NewMemoryNotificationStore()
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("database migrations applied")
		notifStore = store.NewPgNotificationStore(pool)
	}

	taskStore := store.NewMemoryTaskStore()
	endpointStore := store.NewMemoryEndpointStore()
	deliveryStore := store.NewMemoryDeliveryStore()
	prefStore := store.NewMemoryPreferenceStore()
	templateStore := store.NewMemoryTemplateStore()
	rateStore := store.NewRateLimitStore()

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	onExecution, onDelivery, onDispatch := m.Hooks()

	outbound := &http.Client{Timeout: cfg.OutboundTimeout}
	bus := events.NewBus()
	limiter := ratelimiter.New(cfg.RateLimit)

	registry := provider.NewRegistry()
	if cfg.SendGridAPIKey != "" {
		registry.Register(provider.NewSendGridProvider(sendGridBaseURL, cfg.SendGridAPIKey, cfg.SendGridFrom, outbound))
	}
	if cfg.SMTPAddr != "" {
		registry.Register(provider.NewSMTPProvider(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom))
	}
	if cfg.TwilioSID != "" {
		registry.Register(provider.NewTwilioProvider(twilioBaseURL, cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom, outbound))
	}
	if cfg.FCMServerKey != "" {
		registry.Register(provider.NewFCMProvider(fcmBaseURL, cfg.FCMServerKey, outbound))
	}
	registry.Register(provider.NewInAppProvider())

	// ---- services ----
	taskSvc := scheduler.NewService(taskStore, scheduler.NewHTTPExecutor(outbound), logger)
	hookSvc := webhook.NewService(endpointStore, deliveryStore, serviceName, serviceVersion, logger)
	notifSvc := notification.NewService(
		notifStore, prefStore, templateStore, registry, rateStore, limiter, bus,
		notification.Caps{PerMinute: cfg.CapPerMinute, PerHour: cfg.CapPerHour, PerDay: cfg.CapPerDay},
		notification.BatchSettings{Size: cfg.BatchSize, Delay: cfg.BatchDelay},
		logger,
	)

	// ---- background loops ----
	// Context for all background goroutines; cancelled on shutdown signal.
	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	taskDispatcher := scheduler.NewDispatcher(taskSvc, cfg.SchedulerInterval, logger, onExecution, m.BacklogGauge("tasks"))
	go taskDispatcher.Run(loopCtx)

	hookDispatcher := webhook.NewDispatcher(hookSvc, outbound, cfg.WebhookInterval, logger, onDelivery, m.BacklogGauge("webhook_deliveries"))
	go hookDispatcher.Run(loopCtx)

	processor := notification.NewProcessor(notifSvc, cfg.PendingInterval, logger, onDispatch, m.BacklogGauge("notifications"))
	go processor.Run(loopCtx)

	// ---- HTTP server ----
	router := api.NewRouter(taskSvc, hookSvc, hookDispatcher, notifSvc, templateStore, m, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal the background loops to stop; each waits for its own
	// in-flight work before returning.
	cancelLoops()

	logger.Info("server stopped cleanly")
}
