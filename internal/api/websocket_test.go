package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-router/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-router/internal/routing"
)

// ─── Hub Tests ─────────────────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newMockClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
}

func TestHub_Broadcast(t *testing.T) {
	tests := []struct {
		name     string
		channels []string
		wantMsg  bool
	}{
		{"subscribed", []string{"routing_busy_received"}, true},
		{"wildcard", []string{WSChannelAll}, true},
		{"other channel", []string{"state_changed"}, false},
		{"no subscriptions", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newTestHub(t)
			client := newMockClient(hub, tt.channels...)
			hub.Register(client)

			hub.Broadcast("routing_busy_received", map[string]any{"wait_time_ms": 80})

			select {
			case msg := <-client.send:
				if !tt.wantMsg {
					t.Fatal("client received a message for a channel it did not subscribe to")
				}
				var wsMsg WSMessage
				if err := json.Unmarshal(msg, &wsMsg); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				if wsMsg.Type != WSTypeEvent || wsMsg.EventType != "routing_busy_received" {
					t.Errorf("message = %+v", wsMsg)
				}
			case <-time.After(100 * time.Millisecond):
				if tt.wantMsg {
					t.Error("timed out waiting for broadcast message")
				}
			}
		})
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := newTestHub(t)
	client := newMockClient(hub, WSChannelAll)
	client.send = make(chan []byte, 1)
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Broadcast("state_changed", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full client buffer")
	}
	if len(client.send) != 1 {
		t.Errorf("buffered = %d, want 1", len(client.send))
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newMockClient(hub)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}

	// Broadcasting to an unregistered client must not panic.
	client.trySend([]byte("late"))
}

func TestNewHub_Defaults(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	if hub.cfg.PingInterval != 30 || hub.cfg.PongTimeout != 10 {
		t.Errorf("cfg = %+v, want ping 30 pong 10", hub.cfg)
	}
}

// ─── Live Connection Tests ─────────────────────────────────────────

// startedServer runs a server on an ephemeral port.
func startedServer(t *testing.T) (*Server, *fakeRouter) {
	t.Helper()
	srv, fr := testServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, fr
}

func dialWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if resp := readMessage(t, ws); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_EngineEventsRelayed(t *testing.T) {
	srv, fr := startedServer(t)
	ws := dialWebSocket(t, srv)
	subscribe(t, ws, "state_changed")

	fr.emit(routing.StateChanged{State: routing.StateNeighborBusy, Previous: routing.StateRouting})

	msg := readMessage(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != "state_changed" {
		t.Fatalf("message = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T", msg.Payload)
	}
	if payload["router_id"] != "router-test" || payload["state"] != "neighbor_busy" || payload["previous"] != "routing" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_SubscribeUnsubscribe(t *testing.T) {
	srv, fr := startedServer(t)
	ws := dialWebSocket(t, srv)
	subscribe(t, ws, "state_changed", "error_occurred")

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{"state_changed"}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if resp := readMessage(t, ws); resp.Type != WSTypeResponse || resp.ID != "unsub-1" {
		t.Fatalf("unsubscribe response = %+v", resp)
	}

	fr.emit(routing.StateChanged{State: routing.StateFailure, Previous: routing.StateRouting})
	fr.emit(routing.ErrorOccurred{Err: &routing.Error{Kind: routing.ErrorNetwork, Message: "send failed"}})

	// Only the error event should arrive.
	msg := readMessage(t, ws)
	if msg.EventType != "error_occurred" {
		t.Errorf("event_type = %q, want error_occurred", msg.EventType)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := startedServer(t)
	ws := dialWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	resp := readMessage(t, ws)
	if resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %+v, want pong ping-1", resp)
	}
}

func TestWebSocket_BadMessages(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", "not json"},
		{"unknown type", `{"type":"unknown_type","id":"x"}`},
		{"bad subscribe payload", `{"type":"subscribe","payload":{"channels":"state_changed"}}`},
	}

	srv, _ := startedServer(t)
	ws := dialWebSocket(t, srv)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatalf("write: %v", err)
			}
			if resp := readMessage(t, ws); resp.Type != WSTypeError {
				t.Errorf("response type = %s, want error", resp.Type)
			}
		})
	}
}

func TestWebSocket_ClosedOnShutdown(t *testing.T) {
	srv, _ := startedServer(t)
	ws := dialWebSocket(t, srv)
	waitForClients(t, srv.hub, 1)

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	waitForClients(t, srv.hub, 0)

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected read error after server shutdown")
	}
}
