package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/store"
	"github.com/notifyhub/dispatch/internal/webhook"
)

// WebhookHandler serves endpoint management, event publication, and
// delivery inspection.
type WebhookHandler struct {
	svc        *webhook.Service
	dispatcher *webhook.Dispatcher
}

func NewWebhookHandler(svc *webhook.Service, dispatcher *webhook.Dispatcher) *WebhookHandler {
	return &WebhookHandler{svc: svc, dispatcher: dispatcher}
}

// CreateEndpoint handles POST /api/v1/webhooks
// The response includes the signing secret; it is the only time it is
// returned in clear without ?include_secret=true.
func (h *WebhookHandler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var e domain.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.svc.CreateEndpoint(r.Context(), &e)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// GetEndpoint handles GET /api/v1/webhooks/{id}
func (h *WebhookHandler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	includeSecret := r.URL.Query().Get("include_secret") == "true"
	e, err := h.svc.GetEndpoint(r.Context(), chi.URLParam(r, "id"), includeSecret)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// ListEndpoints handles GET /api/v1/webhooks
func (h *WebhookHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	f := store.EndpointFilter{}
	f.Offset, f.Limit = pagination(r)

	q := r.URL.Query()
	if v := q.Get("owner_id"); v != "" {
		f.OwnerID = &v
	}
	if v := q.Get("tenant_id"); v != "" {
		f.TenantID = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.EndpointStatus(v)
		f.Status = &status
	}

	endpoints, total, err := h.svc.ListEndpoints(r.Context(), f)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"webhooks": endpoints, "total": total})
}

// UpdateEndpoint handles PUT /api/v1/webhooks/{id}
func (h *WebhookHandler) UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	var e domain.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e.ID = chi.URLParam(r, "id")

	updated, err := h.svc.UpdateEndpoint(r.Context(), &e)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteEndpoint handles DELETE /api/v1/webhooks/{id}
func (h *WebhookHandler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteEndpoint(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PauseEndpoint handles POST /api/v1/webhooks/{id}/pause
func (h *WebhookHandler) PauseEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.PauseEndpoint(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeEndpoint handles POST /api/v1/webhooks/{id}/resume
func (h *WebhookHandler) ResumeEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResumeEndpoint(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret handles POST /api/v1/webhooks/{id}/rotate-secret
func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := h.svc.RotateSecret(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

// Test handles POST /api/v1/webhooks/{id}/test
// Sends a synthetic ping without persisting a delivery record.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.dispatcher.TestPing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

// Publish handles POST /api/v1/events
func (h *WebhookHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var event domain.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deliveries, err := h.svc.Publish(r.Context(), event)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"event_id":   event.ID,
		"deliveries": len(deliveries),
	})
}

// ListDeliveries handles GET /api/v1/webhooks/{id}/deliveries
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	deliveries, total, err := h.svc.ListDeliveries(r.Context(), chi.URLParam(r, "id"), offset, limit)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries, "total": total})
}

// GetDelivery handles GET /api/v1/deliveries/{id}
func (h *WebhookHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetDelivery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// RetryDelivery handles POST /api/v1/deliveries/{id}/retry
// The extra attempt runs before the response, not on the next poll tick.
func (h *WebhookHandler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := h.dispatcher.RetryNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}
