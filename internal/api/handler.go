// Package api provides the HTTP and WebSocket surface of the orchestrator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
	"github.com/MedGAN-AI/price-pilot/internal/orchestrator"
	"github.com/MedGAN-AI/price-pilot/internal/session"
	"github.com/MedGAN-AI/price-pilot/internal/worker"
	"github.com/MedGAN-AI/price-pilot/internal/workflow"
)

const defaultMaxRequestBodySize = 1 << 20

// Orchestrator is the turn-handling core the handlers drive.
type Orchestrator interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
	History(ctx context.Context, id string) (*domain.Session, error)
	Reset(ctx context.Context, id string) error
	WorkerStatus() []worker.Status
	Workflows() []workflow.Definition
}

// Handler serves the chat, session and status endpoints.
type Handler struct {
	orch        Orchestrator
	maxBodySize int64
	conns       *ConnRegistry
	logger      *slog.Logger
}

// NewHandler creates a Handler. maxBodySize <= 0 selects 1 MiB.
func NewHandler(orch Orchestrator, maxBodySize int64, logger *slog.Logger) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, maxBodySize: maxBodySize, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorStatus maps an orchestrator error to a status code and a message
// safe to show to callers.
func errorStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, orchestrator.ErrInvalidSessionID):
		return http.StatusBadRequest, "invalid session id"
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, session.ErrStorage):
		return http.StatusServiceUnavailable, "session storage unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, msg)
}
