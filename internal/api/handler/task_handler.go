package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/scheduler"
	"github.com/notifyhub/dispatch/internal/store"
)

// TaskHandler serves the scheduled-task management endpoints.
type TaskHandler struct {
	svc *scheduler.Service
}

func NewTaskHandler(svc *scheduler.Service) *TaskHandler {
	return &TaskHandler{svc: svc}
}

// Create handles POST /api/v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var t domain.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.svc.CreateTask(r.Context(), &t)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/v1/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// List handles GET /api/v1/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	f := store.TaskFilter{}
	f.Offset, f.Limit = pagination(r)

	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := domain.TaskStatus(v)
		f.Status = &status
	}
	if v := q.Get("schedule_type"); v != "" {
		st := domain.ScheduleType(v)
		f.ScheduleType = &st
	}
	if v := q.Get("owner_id"); v != "" {
		f.OwnerID = &v
	}
	if v := q.Get("tenant_id"); v != "" {
		f.TenantID = &v
	}
	if v := q.Get("tag"); v != "" {
		f.Tag = &v
	}

	tasks, total, err := h.svc.ListTasks(r.Context(), f)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": total})
}

// Update handles PUT /api/v1/tasks/{id}
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	var t domain.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t.ID = chi.URLParam(r, "id")

	updated, err := h.svc.UpdateTask(r.Context(), &t)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/v1/tasks/{id}
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pause handles POST /api/v1/tasks/{id}/pause
func (h *TaskHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.PauseTask)
}

// Resume handles POST /api/v1/tasks/{id}/resume
func (h *TaskHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.ResumeTask)
}

// Cancel handles POST /api/v1/tasks/{id}/cancel
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.CancelTask)
}

// Trigger handles POST /api/v1/tasks/{id}/trigger
func (h *TaskHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	exec, err := h.svc.TriggerTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// Executions handles GET /api/v1/tasks/{id}/executions
func (h *TaskHandler) Executions(w http.ResponseWriter, r *http.Request) {
	execs, err := h.svc.ListExecutions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (h *TaskHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		mapError(w, err)
		return
	}

	t, err := h.svc.GetTask(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}
