package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/store"
)

// TemplateHandler serves message template CRUD.
type TemplateHandler struct {
	templates store.TemplateStore
}

func NewTemplateHandler(templates store.TemplateStore) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// Create handles POST /api/v1/templates
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var t domain.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.Body) == "" {
		respondError(w, http.StatusUnprocessableEntity, "template name and body are required")
		return
	}

	now := time.Now().UTC()
	t.ID = uuid.New().String()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := h.templates.Create(r.Context(), &t); err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// Get handles GET /api/v1/templates/{id}
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// List handles GET /api/v1/templates
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	templates, total, err := h.templates.List(r.Context(), offset, limit)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"templates": templates, "total": total})
}

// Update handles PUT /api/v1/templates/{id}
func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	var t domain.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t.ID = chi.URLParam(r, "id")

	current, err := h.templates.Get(r.Context(), t.ID)
	if err != nil {
		mapError(w, err)
		return
	}
	t.CreatedAt = current.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	if err := h.templates.Update(r.Context(), &t); err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Delete handles DELETE /api/v1/templates/{id}
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.templates.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
