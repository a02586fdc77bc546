package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Compile-time assertion that session satisfies Session.
var _ Session = (*session)(nil)

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string       `json:"modalities"`
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection `json:"turn_detection,omitempty"`
	Tools                   []wireTool     `json:"tools,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

type wireTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type truncateItemMessage struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

type createItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ── session ───────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan ServerEvent

	mu     sync.Mutex
	errVal error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// sendSessionUpdate configures modalities, audio formats, transcription,
// server-side VAD, tools, and sampling on a fresh socket.
func (s *session) sendSessionUpdate(ctx context.Context, c *Client) error {
	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		Voice:             c.voice,
		Instructions:      c.instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &transcription{
			Model: "whisper-1",
		},
		TurnDetection: &turnDetection{
			Type:              "server_vad",
			Threshold:         vadThreshold,
			PrefixPaddingMs:   vadPrefixPaddingMs,
			SilenceDurationMs: vadSilenceMs,
			CreateResponse:    true,
		},
		ToolChoice:  "auto",
		Temperature: defaultTemperature,
	}
	if len(c.tools) > 0 {
		params.Tools = toWireTools(c.tools)
	}
	return s.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("realtime: session closed")
	}
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// receiveLoop reads server frames, decodes them, and delivers them on the
// event channel. It owns the channel: it closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.setErr(err)
			}
			return
		}

		var wire serverEventWire
		if err := json.Unmarshal(data, &wire); err != nil {
			// Malformed frame: drop it, keep the session alive.
			continue
		}

		s.deliver(decodeEvent(&wire))
	}
}

// decodeEvent maps a wire frame to the consumer-facing event, decoding audio
// payloads at the boundary.
func decodeEvent(wire *serverEventWire) ServerEvent {
	evt := ServerEvent{
		Type:       wire.Type,
		ItemID:     wire.ItemID,
		Transcript: wire.Transcript,
		Name:       wire.Name,
		Arguments:  wire.Arguments,
		CallID:     wire.CallID,
		Err:        wire.Error,
	}
	if wire.Type == EventAudioDelta && wire.Delta != "" {
		if audio, err := base64.StdEncoding.DecodeString(wire.Delta); err == nil {
			evt.Audio = audio
		}
	}
	if wire.Type == EventAudioTranscriptDone && evt.Transcript == "" {
		evt.Transcript = wire.Delta
	}
	return evt
}

func (s *session) deliver(evt ServerEvent) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func toWireTools(tools []ToolDefinition) []wireTool {
	out := make([]wireTool, len(tools))
	for i, t := range tools {
		out[i] = wireTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── Session methods ───────────────────────────────────────────────────────────

func (s *session) Events() <-chan ServerEvent { return s.events }

func (s *session) AppendAudio(ctx context.Context, pcm []byte) error {
	return s.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

func (s *session) CreateResponse(ctx context.Context) error {
	return s.writeJSON(ctx, map[string]string{"type": "response.create"})
}

func (s *session) CancelResponse(ctx context.Context) error {
	return s.writeJSON(ctx, map[string]string{"type": "response.cancel"})
}

func (s *session) TruncateItem(ctx context.Context, itemID string, audioEndMs int) error {
	return s.writeJSON(ctx, truncateItemMessage{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMs:   audioEndMs,
	})
}

func (s *session) SendFunctionOutput(ctx context.Context, callID, output string) error {
	return s.writeJSON(ctx, createItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
}

func (s *session) InjectUserText(ctx context.Context, text string) error {
	return s.writeJSON(ctx, createItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	})
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
