// Package realtime implements a client for the LLM provider's realtime voice
// API: a WebSocket exchanging event-typed JSON, with audio as base64-encoded
// PCM16 at 24 kHz.
//
// A [Client] dials one [Session] per call. The session decodes server events
// at the boundary into [ServerEvent] values delivered on a single channel;
// the consumer owns all conversation logic and drives the session through
// its send methods. The channel closes when the socket dies, after which
// [Session.Err] reports the cause.
package realtime

import "context"

// Dialer opens realtime sessions. It is the seam the per-call bridge uses to
// reconnect, and the one tests substitute.
type Dialer interface {
	// Connect dials the provider, sends the session configuration, and
	// returns a live session. The handshake is bounded by the client's
	// handshake timeout regardless of ctx.
	Connect(ctx context.Context) (Session, error)
}

// Session is one live realtime conversation.
//
// Send methods are safe for concurrent use. Events delivers server events in
// arrival order; it is closed when the socket closes for any reason.
type Session interface {
	// Events returns the server-event stream. Closed on socket death.
	Events() <-chan ServerEvent

	// AppendAudio base64-encodes pcm (little-endian PCM16 at 24 kHz) and
	// appends it to the model's input audio buffer.
	AppendAudio(ctx context.Context, pcm []byte) error

	// CreateResponse asks the model to generate a response now.
	CreateResponse(ctx context.Context) error

	// CancelResponse aborts the in-flight model response.
	CancelResponse(ctx context.Context) error

	// TruncateItem trims an already-delivered assistant item to audioEndMs
	// milliseconds of audio, so the conversation history matches what the
	// caller actually heard before interrupting.
	TruncateItem(ctx context.Context, itemID string, audioEndMs int) error

	// SendFunctionOutput delivers a tool result for callID. output must be a
	// JSON-encoded value.
	SendFunctionOutput(ctx context.Context, callID, output string) error

	// InjectUserText inserts a user-role text item into the conversation
	// without triggering a response.
	InjectUserText(ctx context.Context, text string) error

	// Err returns the error that terminated the session, or nil while it is
	// healthy or after a clean local Close.
	Err() error

	// Close terminates the session and releases the socket. Idempotent.
	Close() error
}

// ToolDefinition describes one function the model may call.
type ToolDefinition struct {
	// Name is the function name the model uses to invoke the tool.
	Name string

	// Description tells the model when to call the tool.
	Description string

	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
}
