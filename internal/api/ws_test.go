package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func dialChat(t *testing.T, ctx context.Context, baseURL, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/chat" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestChatSocketTurns(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialChat(t, ctx, srv.URL, "?session_id=ws-1")

	if err := wsjson.Write(ctx, conn, map[string]string{"message": "check stock for SKU-42"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var first ChatResponse
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.SessionID != "ws-1" || first.AgentUsed != "inventory" || first.Turn != 1 {
		t.Fatalf("unexpected reply %+v", first)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var second ChatResponse
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatalf("read: %v", err)
	}
	if second.SessionID != "ws-1" || second.Turn != 2 {
		t.Fatalf("expected second turn of ws-1, got %+v", second)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong map[string]string
	if err := wsjson.Read(ctx, conn, &pong); err != nil || pong["type"] != "pong" {
		t.Fatalf("expected pong, got %v (%v)", pong, err)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var bad wsError
	if err := wsjson.Read(ctx, conn, &bad); err != nil || bad.Error != "invalid message" {
		t.Fatalf("expected invalid message error, got %+v (%v)", bad, err)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"message": "  "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &bad); err != nil || bad.Error != "message is required" {
		t.Fatalf("expected validation error, got %+v (%v)", bad, err)
	}
}

func TestChatSocketAdoptsGeneratedSession(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialChat(t, ctx, srv.URL, "")

	var ids []string
	for _, msg := range []string{"hi", "check stock for SKU-42"} {
		if err := wsjson.Write(ctx, conn, map[string]string{"message": msg}); err != nil {
			t.Fatalf("write: %v", err)
		}
		var res ChatResponse
		if err := wsjson.Read(ctx, conn, &res); err != nil {
			t.Fatalf("read: %v", err)
		}
		ids = append(ids, res.SessionID)
	}
	if ids[0] == "" || ids[0] != ids[1] {
		t.Fatalf("expected one generated session across frames, got %v", ids)
	}
}

func TestResetClosesChatSockets(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialChat(t, ctx, srv.URL, "?session_id=ws-reset")

	if err := wsjson.Write(ctx, conn, map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var res ChatResponse
	if err := wsjson.Read(ctx, conn, &res); err != nil {
		t.Fatalf("read: %v", err)
	}

	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/ws-reset", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()

	err = <-readErr
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure after reset, got %v", err)
	}
}

func TestConnRegistry(t *testing.T) {
	t.Parallel()

	reg := NewConnRegistry()
	a, b := &websocket.Conn{}, &websocket.Conn{}
	reg.Register("s1", a)
	reg.Register("s1", b)
	if reg.Count("s1") != 2 {
		t.Fatalf("expected 2 conns, got %d", reg.Count("s1"))
	}
	reg.Unregister("s1", a)
	reg.Unregister("s2", b)
	if reg.Count("s1") != 1 {
		t.Fatalf("expected 1 conn, got %d", reg.Count("s1"))
	}
	reg.Unregister("s1", b)
	if reg.Count("s1") != 0 {
		t.Fatal("expected registry to be empty")
	}
}
