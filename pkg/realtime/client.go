package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Compile-time assertion that Client satisfies Dialer.
var _ Dialer = (*Client)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultVoice   = "alloy"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// defaultHandshakeTimeout bounds the WebSocket dial plus the initial
	// session configuration write.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultTemperature is the sampling temperature configured on each
	// session.
	defaultTemperature = 0.8
)

// Server-side voice activity detection parameters sent in session.update.
const (
	vadThreshold       = 0.5
	vadPrefixPaddingMs = 300
	vadSilenceMs       = 500
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithModel sets the model identifier appended as a query parameter.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithVoice sets the voice timbre configured on each session.
func WithVoice(voice string) Option {
	return func(c *Client) {
		if voice != "" {
			c.voice = voice
		}
	}
}

// WithBaseURL overrides the WebSocket endpoint. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithInstructions sets the system instructions configured on each session.
func WithInstructions(instructions string) Option {
	return func(c *Client) { c.instructions = instructions }
}

// WithTools sets the tool list offered to the model on each session.
func WithTools(tools []ToolDefinition) Option {
	return func(c *Client) { c.tools = tools }
}

// WithHandshakeTimeout overrides the connect deadline. Useful in tests.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// Client dials realtime sessions with a fixed configuration. One Client may
// serve many concurrent calls; each Connect returns an independent session.
type Client struct {
	apiKey           string
	model            string
	voice            string
	baseURL          string
	instructions     string
	tools            []ToolDefinition
	handshakeTimeout time.Duration
}

// NewClient creates a Client with the given API key and options.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:           apiKey,
		model:            defaultModel,
		voice:            defaultVoice,
		baseURL:          defaultBaseURL,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect implements [Dialer]. It dials the provider, sends the session
// configuration, and starts the receive loop. The returned session emits
// session.created and session.updated on its event channel; callers must wait
// for session.updated before requesting the first response — requesting
// earlier races the audio-modality activation.
func (c *Client) Connect(ctx context.Context) (Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan ServerEvent, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(dialCtx, c); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}
