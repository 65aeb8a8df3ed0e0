package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/notification"
	"github.com/notifyhub/dispatch/internal/store"
)

// NotificationHandler serves the notification pipeline endpoints.
type NotificationHandler struct {
	svc *notification.Service
}

func NewNotificationHandler(svc *notification.Service) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

type sendRequest struct {
	domain.Notification
	SkipPreferences bool `json:"skip_preferences,omitempty"`
}

// Send handles POST /api/v1/notifications
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := h.svc.Send(r.Context(), &req.Notification, !req.SkipPreferences)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

type bulkRequest struct {
	Notifications   []*domain.Notification `json:"notifications"`
	SkipPreferences bool                   `json:"skip_preferences,omitempty"`
}

type bulkItemResponse struct {
	ID       string `json:"id,omitempty"`
	Deferred bool   `json:"deferred,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SendBulk handles POST /api/v1/notifications/bulk
func (h *NotificationHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := h.svc.SendBulk(r.Context(), req.Notifications, !req.SkipPreferences)
	if err != nil {
		mapError(w, err)
		return
	}

	items := make([]bulkItemResponse, len(results))
	for i, res := range results {
		items[i] = bulkItemResponse{ID: res.ID, Deferred: res.Deferred}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": items})
}

type templateSendRequest struct {
	TemplateID      string         `json:"template_id"`
	Data            map[string]any `json:"data,omitempty"`
	SkipPreferences bool           `json:"skip_preferences,omitempty"`

	domain.Notification
}

// SendFromTemplate handles POST /api/v1/notifications/from-template
func (h *NotificationHandler) SendFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := h.svc.SendFromTemplate(r.Context(), req.TemplateID, req.Data, &req.Notification)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

// Get handles GET /api/v1/notifications/{id}
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// List handles GET /api/v1/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	f := store.NotificationFilter{}
	f.Offset, f.Limit = pagination(r)

	q := r.URL.Query()
	if v := q.Get("user_id"); v != "" {
		f.UserID = &v
	}
	if v := q.Get("tenant_id"); v != "" {
		f.TenantID = &v
	}
	if v := q.Get("status"); v != "" {
		status := domain.NotificationStatus(v)
		f.Status = &status
	}
	if v := q.Get("type"); v != "" {
		ch := domain.Channel(v)
		f.Type = &ch
	}

	notifications, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": notifications, "total": total})
}

// Cancel handles POST /api/v1/notifications/{id}/cancel
func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead handles POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}
