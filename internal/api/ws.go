package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MedGAN-AI/price-pilot/internal/identity"
	"github.com/MedGAN-AI/price-pilot/internal/orchestrator"
)

// wsMessage is one client frame on /ws/chat.
type wsMessage struct {
	Type      string         `json:"type,omitempty"`
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// wsError is sent instead of a ChatResponse when a turn cannot run.
type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ChatSocket streams turns over a WebSocket. Each text frame is one turn;
// the reply frame carries the same fields as POST /api/chat.
type ChatSocket struct {
	orch           Orchestrator
	conns          *ConnRegistry
	originPatterns []string
	readLimit      int64
}

// NewChatSocket creates a socket handler. Origins are host patterns as
// accepted by websocket.AcceptOptions.
func NewChatSocket(orch Orchestrator, conns *ConnRegistry, originPatterns []string, readLimit int64) *ChatSocket {
	if conns == nil {
		conns = NewConnRegistry()
	}
	if readLimit <= 0 {
		readLimit = defaultMaxRequestBodySize
	}
	return &ChatSocket{orch: orch, conns: conns, originPatterns: originPatterns, readLimit: readLimit}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("Chat socket request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	ws.SetReadLimit(h.readLimit)

	if sessionID != "" {
		h.conns.Register(sessionID, ws)
	}
	defer func() {
		if sessionID != "" {
			h.conns.Unregister(sessionID, ws)
		}
	}()

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("Chat socket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("Chat socket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := wsjson.Write(ctx, ws, wsError{Type: "error", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}
		if msg.Type == "ping" {
			if err := wsjson.Write(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return
			}
			continue
		}

		if msg.SessionID == "" {
			msg.SessionID = sessionID
		}
		res, err := h.orch.HandleTurn(ctx, orchestrator.TurnRequest{
			SessionID: msg.SessionID,
			Message:   msg.Message,
			Context:   msg.Context,
			Channel:   "chat_ws",
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_, text := errorStatus(err)
			if err := wsjson.Write(ctx, ws, wsError{Type: "error", Error: text}); err != nil {
				return
			}
			continue
		}

		// Later frames without an id continue the session just used.
		if res.SessionID != sessionID {
			if sessionID != "" {
				h.conns.Unregister(sessionID, ws)
			}
			sessionID = res.SessionID
			h.conns.Register(sessionID, ws)
		}

		if err := wsjson.Write(ctx, ws, newChatResponse(res)); err != nil {
			slog.Debug("Chat socket write error", "error", err, "session_id", sessionID)
			return
		}
	}
}
