package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/notification"
)

// PreferenceHandler serves the per-user preference endpoints.
type PreferenceHandler struct {
	svc *notification.Service
}

func NewPreferenceHandler(svc *notification.Service) *PreferenceHandler {
	return &PreferenceHandler{svc: svc}
}

// Get handles GET /api/v1/users/{userID}/preferences
// The default record is auto-created on first access.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPreferences(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Update handles PUT /api/v1/users/{userID}/preferences
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var p domain.Preferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.UserID = chi.URLParam(r, "userID")

	updated, err := h.svc.UpdatePreferences(r.Context(), &p)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

type deviceTokenRequest struct {
	Token string `json:"token"`
}

// RegisterDevice handles POST /api/v1/users/{userID}/devices
func (h *PreferenceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.RegisterDeviceToken(r.Context(), chi.URLParam(r, "userID"), req.Token); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnregisterDevice handles DELETE /api/v1/users/{userID}/devices/{token}
func (h *PreferenceHandler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.UnregisterDeviceToken(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "token")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
