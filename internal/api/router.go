package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/api/handler"
	apimw "github.com/notifyhub/dispatch/internal/api/middleware"
	"github.com/notifyhub/dispatch/internal/metrics"
	"github.com/notifyhub/dispatch/internal/notification"
	"github.com/notifyhub/dispatch/internal/scheduler"
	"github.com/notifyhub/dispatch/internal/store"
	"github.com/notifyhub/dispatch/internal/webhook"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	tasks *scheduler.Service,
	hooks *webhook.Service,
	hookDispatcher *webhook.Dispatcher,
	notifs *notification.Service,
	templates store.TemplateStore,
	m *metrics.Metrics,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))
	r.Use(apimw.HTTPMetrics(m.HTTPRequests, m.HTTPLatency))

	// --- handler instances ---
	th := handler.NewTaskHandler(tasks)
	wh := handler.NewWebhookHandler(hooks, hookDispatcher)
	nh := handler.NewNotificationHandler(notifs)
	ph := handler.NewPreferenceHandler(notifs)
	tph := handler.NewTemplateHandler(templates)
	hh := handler.NewHealthHandler()

	// --- routes ---
	r.Get("/health", hh.Health)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Scheduled tasks
		r.Post("/tasks", th.Create)
		r.Get("/tasks", th.List)
		r.Get("/tasks/{id}", th.Get)
		r.Put("/tasks/{id}", th.Update)
		r.Delete("/tasks/{id}", th.Delete)
		r.Post("/tasks/{id}/pause", th.Pause)
		r.Post("/tasks/{id}/resume", th.Resume)
		r.Post("/tasks/{id}/cancel", th.Cancel)
		r.Post("/tasks/{id}/trigger", th.Trigger)
		r.Get("/tasks/{id}/executions", th.Executions)

		// Webhook endpoints and deliveries
		r.Post("/webhooks", wh.CreateEndpoint)
		r.Get("/webhooks", wh.ListEndpoints)
		r.Get("/webhooks/{id}", wh.GetEndpoint)
		r.Put("/webhooks/{id}", wh.UpdateEndpoint)
		r.Delete("/webhooks/{id}", wh.DeleteEndpoint)
		r.Post("/webhooks/{id}/pause", wh.PauseEndpoint)
		r.Post("/webhooks/{id}/resume", wh.ResumeEndpoint)
		r.Post("/webhooks/{id}/rotate-secret", wh.RotateSecret)
		r.Post("/webhooks/{id}/test", wh.Test)
		r.Get("/webhooks/{id}/deliveries", wh.ListDeliveries)
		r.Get("/deliveries/{id}", wh.GetDelivery)
		r.Post("/deliveries/{id}/retry", wh.RetryDelivery)

		// Event publication (fan-out entry point)
		r.Post("/events", wh.Publish)

		// Notifications — note: /bulk and /from-template must be
		// registered before /{id} so chi does not treat the literal
		// path segment as an ID.
		r.Post("/notifications/bulk", nh.SendBulk)
		r.Post("/notifications/from-template", nh.SendFromTemplate)
		r.Post("/notifications", nh.Send)
		r.Get("/notifications", nh.List)
		r.Get("/notifications/{id}", nh.Get)
		r.Post("/notifications/{id}/cancel", nh.Cancel)
		r.Post("/notifications/{id}/read", nh.MarkRead)

		// Per-user preferences and push device tokens
		r.Get("/users/{userID}/preferences", ph.Get)
		r.Put("/users/{userID}/preferences", ph.Update)
		r.Post("/users/{userID}/devices", ph.RegisterDevice)
		r.Delete("/users/{userID}/devices/{token}", ph.UnregisterDevice)

		// Message templates
		r.Post("/templates", tph.Create)
		r.Get("/templates", tph.List)
		r.Get("/templates/{id}", tph.Get)
		r.Put("/templates/{id}", tph.Update)
		r.Delete("/templates/{id}", tph.Delete)
	})

	return r
}
