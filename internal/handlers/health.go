package handlers

import (
	"net/http"
	"time"

	"github.com/ebadeco/rainbow-form-app/internal/platform/httpx"
	"github.com/ebadeco/rainbow-form-app/internal/repositories"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	checker   *repositories.HealthChecker
	startedAt time.Time
	now       func() time.Time
}

// NewHealthHandlers wraps checker. A nil checker makes /readyz always ready.
func NewHealthHandlers(checker *repositories.HealthChecker) *HealthHandlers {
	return &HealthHandlers{checker: checker, startedAt: time.Now(), now: time.Now}
}

// Healthz responds with a simple status payload for liveness checks.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

// Readyz probes every dependency and answers 503 when any of them fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": repositories.HealthOK})
		return
	}
	report := h.checker.Collect(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, report)
}
