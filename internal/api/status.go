package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MedGAN-AI/price-pilot/internal/workflow"
)

// AgentsStatus handles GET /api/agents/status.
func (h *Handler) AgentsStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := h.orch.WorkerStatus()
	reachable := 0
	for _, st := range statuses {
		if st.Reachable {
			reachable++
		}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"agents":    statuses,
		"reachable": reachable,
		"total":     len(statuses),
	})
}

// WorkflowView is a registered workflow with its execution waves.
type WorkflowView struct {
	workflow.Definition
	Waves [][]string `json:"waves"`
}

// Workflows handles GET /api/workflows.
func (h *Handler) Workflows(w http.ResponseWriter, _ *http.Request) {
	defs := h.orch.Workflows()
	out := make([]WorkflowView, 0, len(defs))
	for _, def := range defs {
		v := WorkflowView{Definition: def}
		for _, wave := range def.Waves() {
			names := make([]string, len(wave))
			for i, st := range wave {
				names[i] = st.Name
			}
			v.Waves = append(v.Waves, names)
		}
		out = append(out, v)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"workflows": out})
}

// Pinger reports whether the session backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles liveness and readiness endpoints.
type HealthHandler struct {
	repo    Pinger
	timeout time.Duration
}

// NewHealthHandler creates a health handler over repo.
func NewHealthHandler(repo Pinger) *HealthHandler {
	return &HealthHandler{repo: repo, timeout: 5 * time.Second}
}

// Ready reports whether the session store is reachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := map[string]interface{}{
		"status": "ready",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Readiness check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["session_store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["session_store"] = "ok"
	}

	JSON(w, statusCode, status)
}
