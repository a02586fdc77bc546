package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"
)

// Conn is a typed view of one media-stream WebSocket. Implementations must
// allow one concurrent reader and serialized writers.
type Conn interface {
	// ReadMessage blocks until the next well-formed frame arrives. Malformed
	// JSON frames are logged and skipped; they never surface as errors.
	ReadMessage(ctx context.Context) (*Message, error)

	// WriteMessage marshals and sends msg as a single text frame.
	WriteMessage(ctx context.Context, msg *Message) error

	// SendMedia sends one outbound audio frame with base64 μ-law payload.
	SendMedia(ctx context.Context, streamSid, payload string) error

	// SendClear instructs the peer to drop its buffered outbound audio.
	SendClear(ctx context.Context, streamSid string) error

	// SendMark sends an advisory playback marker.
	SendMark(ctx context.Context, streamSid, name string) error

	// Close closes the socket with a normal-closure status. Idempotent.
	Close(reason string) error
}

// Compile-time assertion that wsConn satisfies Conn.
var _ Conn = (*wsConn)(nil)

// wsConn adapts a *websocket.Conn to the Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

// NewConn wraps an already-accepted media-stream WebSocket.
func NewConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadMessage(ctx context.Context) (*Message, error) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("telephony: read: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("telephony: dropping malformed frame", "err", err, "bytes", len(data))
			continue
		}
		return &msg, nil
	}
}

func (c *wsConn) WriteMessage(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("telephony: marshal: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("telephony: write: %w", err)
	}
	return nil
}

func (c *wsConn) SendMedia(ctx context.Context, streamSid, payload string) error {
	return c.WriteMessage(ctx, &Message{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: payload},
	})
}

func (c *wsConn) SendClear(ctx context.Context, streamSid string) error {
	return c.WriteMessage(ctx, &Message{
		Event:     EventClear,
		StreamSid: streamSid,
	})
}

func (c *wsConn) SendMark(ctx context.Context, streamSid, name string) error {
	return c.WriteMessage(ctx, &Message{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkPayload{Name: name},
	})
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
