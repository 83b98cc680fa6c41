package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnRegistry tracks open chat sockets per session so that resetting or
// evicting a session can close them.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds conn under sessionID.
func (m *ConnRegistry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[sessionID]
	if !ok {
		conns = make(map[*websocket.Conn]struct{})
		m.active[sessionID] = conns
	}
	conns[conn] = struct{}{}
}

// Unregister removes conn from sessionID. Unknown pairs are ignored.
func (m *ConnRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.active, sessionID)
		}
	}
}

// Count returns the number of sockets open on sessionID.
func (m *ConnRegistry) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// CloseSession closes every socket bound to sessionID. Closing handshakes
// run in the background.
func (m *ConnRegistry) CloseSession(sessionID string) {
	m.mu.Lock()
	conns := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	for conn := range conns {
		go func(c *websocket.Conn) {
			_ = c.Close(websocket.StatusNormalClosure, "session closed")
		}(conn)
	}
	if len(conns) > 0 {
		slog.Info("Chat sockets closed", "session_id", sessionID, "count", len(conns))
	}
}
