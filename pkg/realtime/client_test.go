package realtime_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Vivek-Chaudhari30/voice-agent/pkg/realtime"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// waitEvent reads events until one with the given type arrives.
func waitEvent(t *testing.T, events <-chan realtime.ServerEvent, typ string) realtime.ServerEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %q", typ)
			}
			if evt.Type == typ {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for event %q", typ)
		}
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsAuthAndModel(t *testing.T) {
	t.Parallel()

	type dialInfo struct {
		auth  string
		model string
	}
	dialCh := make(chan dialInfo, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		dialCh <- dialInfo{
			auth:  r.Header.Get("Authorization"),
			model: r.URL.Query().Get("model"),
		}
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("my-key",
		realtime.WithBaseURL(wsURL(srv)),
		realtime.WithModel("gpt-4o-mini-realtime"),
	)
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case info := <-dialCh:
		if info.auth != "Bearer my-key" {
			t.Errorf("Authorization = %q; want Bearer my-key", info.auth)
		}
		if info.model != "gpt-4o-mini-realtime" {
			t.Errorf("model = %q; want gpt-4o-mini-realtime", info.model)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	updateCh := make(chan map[string]any, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		updateCh <- raw
		<-conn.CloseRead(context.Background()).Done()
	})

	tools := []realtime.ToolDefinition{{
		Name:        "list_available_slots",
		Description: "List open appointment slots for a date.",
		Parameters:  map[string]any{"type": "object"},
	}}
	c := realtime.NewClient("key",
		realtime.WithBaseURL(wsURL(srv)),
		realtime.WithVoice("sage"),
		realtime.WithInstructions("You are a scheduling assistant."),
		realtime.WithTools(tools),
	)
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	var raw map[string]any
	select {
	case raw = <-updateCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}

	if raw["type"] != "session.update" {
		t.Fatalf("type = %v; want session.update", raw["type"])
	}
	session, ok := raw["session"].(map[string]any)
	if !ok {
		t.Fatalf("session payload missing: %v", raw)
	}
	if session["voice"] != "sage" {
		t.Errorf("voice = %v; want sage", session["voice"])
	}
	if session["input_audio_format"] != "pcm16" || session["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v / %v; want pcm16", session["input_audio_format"], session["output_audio_format"])
	}
	td, ok := session["turn_detection"].(map[string]any)
	if !ok {
		t.Fatal("turn_detection missing")
	}
	if td["type"] != "server_vad" {
		t.Errorf("turn_detection.type = %v; want server_vad", td["type"])
	}
	if td["threshold"] != 0.5 {
		t.Errorf("threshold = %v; want 0.5", td["threshold"])
	}
	if td["prefix_padding_ms"] != float64(300) {
		t.Errorf("prefix_padding_ms = %v; want 300", td["prefix_padding_ms"])
	}
	if td["silence_duration_ms"] != float64(500) {
		t.Errorf("silence_duration_ms = %v; want 500", td["silence_duration_ms"])
	}
	if td["create_response"] != true {
		t.Errorf("create_response = %v; want true", td["create_response"])
	}
	if session["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v; want auto", session["tool_choice"])
	}
	wireTools, ok := session["tools"].([]any)
	if !ok || len(wireTools) != 1 {
		t.Fatalf("tools = %v; want one entry", session["tools"])
	}
	tool := wireTools[0].(map[string]any)
	if tool["type"] != "function" || tool["name"] != "list_available_slots" {
		t.Errorf("tool = %v; want function list_available_slots", tool)
	}
}

// ── Audio paths ───────────────────────────────────────────────────────────────

func TestAppendAudio_Base64Encodes(t *testing.T) {
	t.Parallel()

	audioCh := make(chan string, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update
		var appendMsg struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		readJSON(t, conn, &appendMsg)
		if appendMsg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", appendMsg.Type)
		}
		audioCh <- appendMsg.Audio
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := sess.AppendAudio(context.Background(), pcm); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}

	select {
	case got := <-audioCh:
		if got != base64.StdEncoding.EncodeToString(pcm) {
			t.Errorf("audio = %q; want base64 of input", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestEvents_AudioDeltaDecoded(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x10, 0x20, 0x30}

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{
			"type":    "response.audio.delta",
			"item_id": "item_1",
			"delta":   base64.StdEncoding.EncodeToString(pcm),
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evt := waitEvent(t, sess.Events(), realtime.EventAudioDelta)
	if evt.ItemID != "item_1" {
		t.Errorf("ItemID = %q; want item_1", evt.ItemID)
	}
	if len(evt.Audio) != len(pcm) {
		t.Fatalf("audio length = %d; want %d", len(evt.Audio), len(pcm))
	}
	for i := range pcm {
		if evt.Audio[i] != pcm[i] {
			t.Errorf("audio byte %d = %#02x; want %#02x", i, evt.Audio[i], pcm[i])
		}
	}
}

func TestEvents_FunctionCall(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{
			"type":      "response.function_call_arguments.done",
			"name":      "create_appointment",
			"arguments": `{"date":"2026-02-10"}`,
			"call_id":   "call_7",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evt := waitEvent(t, sess.Events(), realtime.EventFunctionCallDone)
	if evt.Name != "create_appointment" || evt.CallID != "call_7" {
		t.Errorf("event = %+v; want create_appointment/call_7", evt)
	}
	if evt.Arguments != `{"date":"2026-02-10"}` {
		t.Errorf("arguments = %q", evt.Arguments)
	}
}

func TestEvents_MalformedFrameSkipped(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		ctx := context.Background()
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evt := waitEvent(t, sess.Events(), realtime.EventSessionCreated)
	if evt.Type != realtime.EventSessionCreated {
		t.Errorf("unexpected event %+v", evt)
	}
}

// ── Control messages ──────────────────────────────────────────────────────────

func TestTruncateItem_MessageShape(t *testing.T) {
	t.Parallel()

	msgCh := make(chan map[string]any, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		var msg map[string]any
		readJSON(t, conn, &msg)
		msgCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.TruncateItem(context.Background(), "item_9", 640); err != nil {
		t.Fatalf("TruncateItem: %v", err)
	}

	select {
	case msg := <-msgCh:
		if msg["type"] != "conversation.item.truncate" {
			t.Errorf("type = %v", msg["type"])
		}
		if msg["item_id"] != "item_9" {
			t.Errorf("item_id = %v; want item_9", msg["item_id"])
		}
		if msg["content_index"] != float64(0) {
			t.Errorf("content_index = %v; want 0", msg["content_index"])
		}
		if msg["audio_end_ms"] != float64(640) {
			t.Errorf("audio_end_ms = %v; want 640", msg["audio_end_ms"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestInjectUserText_UserRoleItem(t *testing.T) {
	t.Parallel()

	msgCh := make(chan map[string]any, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		var msg map[string]any
		readJSON(t, conn, &msg)
		msgCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.InjectUserText(context.Background(), "please wrap up"); err != nil {
		t.Fatalf("InjectUserText: %v", err)
	}

	select {
	case msg := <-msgCh:
		item := msg["item"].(map[string]any)
		if item["role"] != "user" {
			t.Errorf("role = %v; want user", item["role"])
		}
		content := item["content"].([]any)[0].(map[string]any)
		if content["type"] != "input_text" || content["text"] != "please wrap up" {
			t.Errorf("content = %v", content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestEvents_ClosedOnServerDisconnect(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		conn.Close(websocket.StatusGoingAway, "bye")
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-sess.Events():
			if !ok {
				if sess.Err() == nil {
					t.Error("expected non-nil Err after server disconnect")
				}
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after server disconnect")
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := sess.AppendAudio(context.Background(), []byte{1}); err == nil {
		t.Error("expected error sending on closed session")
	}
}
