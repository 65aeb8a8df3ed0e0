package handler

import "net/http"

// HealthHandler answers liveness probes. It deliberately checks nothing:
// store and loop health surface through /metrics, and a probe that touches
// the database would take the API down with it.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// Health handles GET /health
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "dispatch",
	})
}
