package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// HistoryResponse is the read-only view of a session.
type HistoryResponse struct {
	SessionID    string            `json:"session_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Entities     map[string]string `json:"entities"`
	Turns        []TurnView        `json:"turns"`
}

// TurnView is one turn as shown in history. Raw worker errors are omitted.
type TurnView struct {
	Seq        int           `json:"seq"`
	Message    string        `json:"message"`
	Response   string        `json:"response"`
	Timestamp  time.Time     `json:"timestamp"`
	Intent     domain.Intent `json:"intent"`
	Confidence float64       `json:"confidence"`
	Route      string        `json:"route"`
	RouteType  string        `json:"route_type"`
	Status     string        `json:"status"`
	Steps      []StepView    `json:"steps,omitempty"`
}

// StepView is the caller-facing summary of a step result.
type StepView struct {
	Step      string            `json:"step"`
	Worker    string            `json:"worker"`
	Status    domain.StepStatus `json:"status"`
	ErrorKind domain.ErrorKind  `json:"error_kind,omitempty"`
	Attempts  int               `json:"attempts"`
}

func newHistoryResponse(sess *domain.Session) HistoryResponse {
	out := HistoryResponse{
		SessionID:    sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		Entities:     sess.Entities,
		Turns:        make([]TurnView, 0, len(sess.Turns)),
	}
	if out.Entities == nil {
		out.Entities = map[string]string{}
	}
	for _, t := range sess.Turns {
		tv := TurnView{
			Seq:        t.Seq,
			Message:    t.Message,
			Response:   t.Response,
			Timestamp:  t.Timestamp,
			Intent:     t.Intent,
			Confidence: t.Confidence,
			Route:      t.Route,
			RouteType:  t.RouteKind,
			Status:     string(t.Status),
		}
		for _, s := range t.Steps {
			tv.Steps = append(tv.Steps, StepView{
				Step:      s.Step,
				Worker:    s.Worker,
				Status:    s.Status,
				ErrorKind: s.ErrorKind,
				Attempts:  s.Attempts,
			})
		}
		out.Turns = append(out.Turns, tv)
	}
	return out
}

// History handles GET /api/sessions/{id}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	sess, err := h.orch.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, newHistoryResponse(sess))
}

// ResetSession handles DELETE /api/sessions/{id}.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.Reset(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.conns != nil {
		h.conns.CloseSession(id)
	}
	w.WriteHeader(http.StatusNoContent)
}
