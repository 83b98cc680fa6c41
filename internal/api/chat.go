package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
	"github.com/MedGAN-AI/price-pilot/internal/identity"
	"github.com/MedGAN-AI/price-pilot/internal/orchestrator"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// ChatResponse is the reply to one turn.
type ChatResponse struct {
	Response   string            `json:"response"`
	SessionID  string            `json:"session_id"`
	Turn       int               `json:"turn"`
	Intent     domain.Intent     `json:"intent"`
	Confidence float64           `json:"confidence"`
	AgentUsed  string            `json:"agent_used"`
	RouteType  string            `json:"route_type"`
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Products   []domain.Item     `json:"products,omitempty"`
	Steps      []domain.StepNote `json:"steps"`
}

func newChatResponse(res *orchestrator.TurnResult) ChatResponse {
	return ChatResponse{
		Response:   res.Message,
		SessionID:  res.SessionID,
		Turn:       res.Turn,
		Intent:     res.Intent,
		Confidence: res.Confidence,
		AgentUsed:  res.Route,
		RouteType:  string(res.RouteKind),
		Status:     string(res.Status),
		Timestamp:  res.Timestamp,
		Products:   res.Items,
		Steps:      res.Steps,
	}
}

// Chat handles POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}

	res, err := h.orch.HandleTurn(r.Context(), orchestrator.TurnRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		Context:   req.Context,
		Channel:   "chat_http",
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, newChatResponse(res))
}
