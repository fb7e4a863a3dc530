package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/workspace/orb-agent/internal/evaluator"
	"github.com/workspace/orb-agent/internal/positioning"
)

func dialAttention(t *testing.T, env *testEnv, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/attention?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial attention ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal ws data: %v", err)
	}
	if err := conn.WriteJSON(attentionMessage{Type: msgType, Data: raw}); err != nil {
		t.Fatalf("write ws message: %v", err)
	}
}

func TestAttentionWSRequiresUserID(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/ws/attention")
	if err != nil {
		t.Fatalf("GET without userId: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAttentionWSAdjustsNearbyCursor(t *testing.T) {
	env := newTestEnv(t)
	conn := dialAttention(t, env, "u1")

	orb := positioning.Rect{X: 100, Y: 100, Width: 40, Height: 40}
	// Cursor 60px left of the orb center (120, 120), inside the 120px threshold.
	sendMessage(t, conn, "cursor", cursorData{
		Cursor: positioning.Point{X: 60, Y: 120},
		Orb:    orb,
	})

	var reply struct {
		Type string     `json:"type"`
		Data adjustData `json:"data"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read adjust reply: %v", err)
	}
	if reply.Type != "adjust" {
		t.Fatalf("reply type = %q, want adjust", reply.Type)
	}
	// Push is along +X, magnitude (threshold-distance)/2 = (120-60)/2 = 30.
	if math.Abs(reply.Data.Delta.DX-30) > 1e-9 || math.Abs(reply.Data.Delta.DY) > 1e-9 {
		t.Errorf("delta = %+v, want {30 0}", reply.Data.Delta)
	}
}

func TestAttentionWSNoPushBeyondThreshold(t *testing.T) {
	env := newTestEnv(t)
	conn := dialAttention(t, env, "u1")

	sendMessage(t, conn, "cursor", cursorData{
		Cursor: positioning.Point{X: 500, Y: 500},
		Orb:    positioning.Rect{X: 100, Y: 100, Width: 40, Height: 40},
	})

	var reply struct {
		Type string     `json:"type"`
		Data adjustData `json:"data"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read adjust reply: %v", err)
	}
	if reply.Data.Delta.DX != 0 || reply.Data.Delta.DY != 0 {
		t.Errorf("delta = %+v, want zero beyond threshold", reply.Data.Delta)
	}
}

func TestAttentionWSDismissEndsSession(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.registry.Create("u1", evaluator.Decision{Escalate: true, Reason: evaluator.ReasonKeyword, Priority: evaluator.PriorityNormal}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	conn := dialAttention(t, env, "u1")
	if err := conn.WriteJSON(attentionMessage{Type: "dismiss"}); err != nil {
		t.Fatalf("write dismiss: %v", err)
	}

	var reply attentionMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read dismissed reply: %v", err)
	}
	if reply.Type != "dismissed" {
		t.Fatalf("reply type = %q, want dismissed", reply.Type)
	}

	if _, ok := env.registry.Find("u1"); ok {
		t.Error("session should be ended after ws dismiss")
	}
}

func TestAttentionWSIgnoresUnknownMessages(t *testing.T) {
	env := newTestEnv(t)
	conn := dialAttention(t, env, "u1")

	sendMessage(t, conn, "telemetry", map[string]any{"fps": 60})

	// The connection stays usable after an unknown message.
	sendMessage(t, conn, "cursor", cursorData{
		Cursor: positioning.Point{X: 0, Y: 0},
		Orb:    positioning.Rect{X: 500, Y: 500, Width: 40, Height: 40},
	})
	var reply attentionMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read after unknown message: %v", err)
	}
	if reply.Type != "adjust" {
		t.Errorf("reply type = %q, want adjust", reply.Type)
	}
}
