// Package telephony implements the provider's bidirectional media-stream
// WebSocket protocol: JSON text frames carrying call lifecycle events and
// base64-encoded μ-law audio.
//
// Inbound frames are decoded at the boundary into a [Message] whose Event tag
// discriminates the payload; the per-call bridge branches on that tag. The
// package accepts the events it knows and leaves everything else to the
// caller to ignore.
package telephony

// Event values carried in the "event" field of a [Message].
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"

	// EventClear is outbound-only: it instructs the peer to flush its
	// buffered outbound audio (used on barge-in).
	EventClear = "clear"
)

// Message is the envelope for every frame exchanged on the media stream.
// At most one of the payload pointers is set, matching Event; connected and
// clear frames carry none.
type Message struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid,omitempty"`

	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Mark  *MarkPayload  `json:"mark,omitempty"`
	Stop  *StopPayload  `json:"stop,omitempty"`
}

// StartPayload describes the call at stream start.
type StartPayload struct {
	AccountSid string   `json:"accountSid,omitempty"`
	CallSid    string   `json:"callSid"`
	StreamSid  string   `json:"streamSid"`
	Tracks     []string `json:"tracks,omitempty"`

	// CustomParameters carries arbitrary key→string pairs set by the webhook
	// that answered the call. The bridge reads the caller's phone number from
	// here when present.
	CustomParameters map[string]string `json:"customParameters,omitempty"`

	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaFormat describes the audio encoding of the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one audio frame. Payload is base64-encoded μ-law;
// frames arrive at roughly 50/s, 160 bytes (20 ms) each.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkPayload names an advisory playback marker.
type MarkPayload struct {
	Name string `json:"name"`
}

// StopPayload identifies the call being terminated.
type StopPayload struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}
