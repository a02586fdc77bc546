// Package bridge implements the per-call orchestrator at the heart of the
// voice agent. One Bridge owns exactly two peer connections — the inbound
// telephony media stream and the outbound model realtime socket — and runs
// a single event loop that relays audio in both directions with format
// conversion, drives the conversation state machine, handles barge-in,
// executes tool calls off the audio path, enforces the call-duration
// ceiling, and tears everything down exactly once.
//
// The Bridge is the only component with mutable per-call state. All of that
// state is owned by the Run loop goroutine; the telephony reader and tool
// executor goroutines communicate with it exclusively through channels, so
// events from each socket are processed in arrival order without locks.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Vivek-Chaudhari30/voice-agent/internal/cache"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/observe"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/tools"
	"github.com/Vivek-Chaudhari30/voice-agent/pkg/realtime"
	"github.com/Vivek-Chaudhari30/voice-agent/pkg/telephony"
	"github.com/google/uuid"
)

// Conversation states.
type state int

const (
	stateIdle state = iota
	stateUserSpeaking
	stateAISpeaking
	stateToolRunning
)

func (s state) String() string {
	switch s {
	case stateUserSpeaking:
		return "user-speaking"
	case stateAISpeaking:
		return "ai-speaking"
	case stateToolRunning:
		return "tool-running"
	default:
		return "idle"
	}
}

// Termination reasons recorded in the end-of-call cache record.
const (
	ReasonTelephonyClosed    = "telephony-closed"
	ReasonTelephonyStop      = "telephony-stop"
	ReasonReconnectExhausted = "llm-reconnect-exhausted"
	ReasonMaxDuration        = "max-duration"
	ReasonShutdown           = "shutdown"
	ReasonFatalError         = "fatal-error"
)

const (
	// maxReconnectAttempts bounds model-socket reconnects per call. The
	// counter resets only when a new session's session.created event is
	// observed, so a socket that dies before being confirmed still burns an
	// attempt.
	maxReconnectAttempts = 3

	// reconnectBackoffUnit spaces reconnect attempts linearly: attempt n is
	// scheduled n units after the close instant.
	reconnectBackoffUnit = time.Second

	// defaultWrapUpGrace is how long the model gets to say goodbye after the
	// duration ceiling fires before both sockets are cut.
	defaultWrapUpGrace = 12 * time.Second

	// mulawBytesPerMs converts delivered μ-law byte counts to elapsed
	// milliseconds (8 kHz mono, one byte per sample).
	mulawBytesPerMs = 8

	// telEventBuffer is the depth of the telephony reader's hand-off channel.
	telEventBuffer = 64
)

// wrapUpPrompt is injected as a user-role item when the duration ceiling
// fires. The provider's contract for a mid-conversation system role is
// ambiguous, so the text rides in as user input.
const wrapUpPrompt = "We have reached the maximum call duration. Please thank " +
	"the caller, briefly summarize anything that was booked, and say goodbye."

// Config carries the collaborators and policy for one call.
type Config struct {
	// Telephony is the already-accepted inbound media stream.
	Telephony telephony.Conn

	// Dialer opens (and re-opens) the model realtime session.
	Dialer realtime.Dialer

	// Tools executes model-requested functions.
	Tools *tools.Dispatcher

	// Writer receives fire-and-forget session-cache updates.
	Writer *cache.Writer

	// Metrics receives instrumentation. Required.
	Metrics *observe.Metrics

	// MaxDuration is the hard call ceiling measured from the telephony start
	// event.
	MaxDuration time.Duration

	// WrapUpGrace overrides the goodbye window after the ceiling fires.
	// Defaults to defaultWrapUpGrace.
	WrapUpGrace time.Duration
}

// toolOutcome carries a finished tool execution back into the event loop.
type toolOutcome struct {
	callID string
	output string
}

// audioStats are the per-call relay counters. Atomics so the teardown path
// and loop goroutine can both read them safely.
type audioStats struct {
	framesIn  atomic.Int64
	framesOut atomic.Int64
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
}

func (s *audioStats) snapshot() cache.AudioStats {
	return cache.AudioStats{
		FramesIn:  s.framesIn.Load(),
		FramesOut: s.framesOut.Load(),
		BytesIn:   s.bytesIn.Load(),
		BytesOut:  s.bytesOut.Load(),
	}
}

// Bridge relays one call between the telephony peer and the model peer.
// Create one per inbound call with New and drive it with Run; a Bridge is
// not reusable.
type Bridge struct {
	id      string
	tel     telephony.Conn
	dialer  realtime.Dialer
	tools   *tools.Dispatcher
	writer  *cache.Writer
	metrics *observe.Metrics

	maxDuration time.Duration
	wrapUpGrace time.Duration

	// backoffUnit spaces reconnect attempts; overridden in tests to keep the
	// suite fast.
	backoffUnit time.Duration

	// State below is owned by the Run loop goroutine.
	callSid        string
	streamSid      string
	caller         string
	startedAt      time.Time
	st             state
	currentItemID  string
	itemAudioBytes int
	greeted        bool

	// pendingPlayback is true while the telephony peer may still hold
	// assistant audio in its playback buffer.
	pendingPlayback bool

	session           realtime.Session
	llmEvents         <-chan realtime.ServerEvent
	reconnectAttempts int

	ceilingTimer *time.Timer
	hardCutTimer *time.Timer

	stats audioStats

	done         chan struct{}
	teardownOnce sync.Once
	endReason    atomic.Pointer[string]

	log *slog.Logger
}

// New creates a Bridge for one call.
func New(cfg Config) *Bridge {
	wrapUp := cfg.WrapUpGrace
	if wrapUp <= 0 {
		wrapUp = defaultWrapUpGrace
	}
	id := uuid.NewString()
	return &Bridge{
		id:          id,
		tel:         cfg.Telephony,
		dialer:      cfg.Dialer,
		tools:       cfg.Tools,
		writer:      cfg.Writer,
		metrics:     cfg.Metrics,
		maxDuration: cfg.MaxDuration,
		wrapUpGrace: wrapUp,
		backoffUnit: reconnectBackoffUnit,
		done:        make(chan struct{}),
		log:         slog.With("bridge_id", id),
	}
}

// Run drives the call until either peer closes, the duration ceiling cuts it,
// or reconnects are exhausted. It always tears down both sockets before
// returning; the error reports only unexpected conditions, not normal call
// ends.
func (b *Bridge) Run(ctx context.Context) error {
	b.metrics.ActiveCalls.Add(ctx, 1)
	defer b.metrics.ActiveCalls.Add(context.Background(), -1)
	defer b.teardown(ReasonFatalError)

	// Open the model socket. Initial dial failures go through the same
	// bounded retry schedule as mid-call drops.
	sess, err := b.dialer.Connect(ctx)
	if err != nil {
		b.log.Warn("initial llm connect failed, retrying", "err", err)
		if err := b.reconnect(ctx); err != nil {
			b.teardown(ReasonReconnectExhausted)
			return fmt.Errorf("bridge: initial llm connect: %w", err)
		}
	} else {
		b.session = sess
		b.llmEvents = sess.Events()
	}

	telCh := make(chan *telephony.Message, telEventBuffer)
	go b.readTelephony(ctx, telCh)

	toolCh := make(chan toolOutcome, 4)

	for {
		select {
		case <-b.done:
			return nil

		case <-ctx.Done():
			b.teardown(ReasonShutdown)
			return nil

		case msg, ok := <-telCh:
			if !ok {
				b.teardown(ReasonTelephonyClosed)
				return nil
			}
			b.handleTelephony(ctx, msg)

		case evt, ok := <-b.llmEvents:
			if !ok {
				if err := b.reconnect(ctx); err != nil {
					b.teardown(ReasonReconnectExhausted)
					return nil
				}
				continue
			}
			b.handleLLMEvent(ctx, evt, toolCh)

		case outcome := <-toolCh:
			b.handleToolOutcome(ctx, outcome)

		case <-b.ceilingC():
			b.beginWrapUp(ctx)

		case <-b.hardCutC():
			b.teardown(ReasonMaxDuration)
			return nil
		}
	}
}

// ceilingC returns the duration-ceiling channel, or nil (blocks forever)
// before the call has started.
func (b *Bridge) ceilingC() <-chan time.Time {
	if b.ceilingTimer == nil {
		return nil
	}
	return b.ceilingTimer.C
}

func (b *Bridge) hardCutC() <-chan time.Time {
	if b.hardCutTimer == nil {
		return nil
	}
	return b.hardCutTimer.C
}

// readTelephony pumps inbound frames into the event loop. It closes the
// channel on any read error, which the loop treats as the peer hanging up.
func (b *Bridge) readTelephony(ctx context.Context, ch chan<- *telephony.Message) {
	defer close(ch)
	for {
		msg, err := b.tel.ReadMessage(ctx)
		if err != nil {
			return
		}
		select {
		case ch <- msg:
		case <-b.done:
			return
		}
	}
}

// reconnect re-dials the model socket on the linear schedule: attempt n fires
// n backoff units after the close instant. The attempt counter persists
// across calls and is reset only by an observed session.created, so sockets
// that die before confirmation exhaust the ceiling.
func (b *Bridge) reconnect(ctx context.Context) error {
	if b.session != nil {
		_ = b.session.Close()
		if err := b.session.Err(); err != nil {
			b.log.Warn("llm socket closed", "err", err)
		}
	}
	closedAt := time.Now()

	for b.reconnectAttempts < maxReconnectAttempts {
		b.reconnectAttempts++
		attempt := b.reconnectAttempts

		wait := time.Until(closedAt.Add(time.Duration(attempt) * b.backoffUnit))
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-b.done:
				return fmt.Errorf("bridge: call ended during reconnect")
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		b.log.Info("reconnecting llm socket",
			"attempt", attempt,
			"max_attempts", maxReconnectAttempts,
		)

		sess, err := b.dialer.Connect(ctx)
		if err != nil {
			b.log.Warn("llm reconnect attempt failed", "attempt", attempt, "err", err)
			b.metrics.LLMReconnects.Add(ctx, 1, reconnectAttr("failed"))
			continue
		}

		b.session = sess
		b.llmEvents = sess.Events()
		b.metrics.LLMReconnects.Add(ctx, 1, reconnectAttr("ok"))
		return nil
	}

	b.log.Error("llm reconnect attempts exhausted", "max_attempts", maxReconnectAttempts)
	return fmt.Errorf("bridge: llm reconnect attempts exhausted")
}

// beginWrapUp fires at the duration ceiling: it asks the model to say goodbye
// and arms the hard cut.
func (b *Bridge) beginWrapUp(ctx context.Context) {
	b.log.Info("duration ceiling reached, starting wrap-up", "grace", b.wrapUpGrace)

	if b.session != nil {
		if err := b.session.InjectUserText(ctx, wrapUpPrompt); err != nil {
			b.log.Warn("wrap-up inject failed", "err", err)
		}
		if err := b.session.CreateResponse(ctx); err != nil {
			b.log.Warn("wrap-up response.create failed", "err", err)
		}
	}

	b.hardCutTimer = time.NewTimer(b.wrapUpGrace)
}

// teardown ends the call exactly once: timers cancelled, both sockets closed,
// end-of-call record queued. Subsequent calls are no-ops.
func (b *Bridge) teardown(reason string) {
	b.teardownOnce.Do(func() {
		b.endReason.Store(&reason)
		close(b.done)

		if b.ceilingTimer != nil {
			b.ceilingTimer.Stop()
		}
		if b.hardCutTimer != nil {
			b.hardCutTimer.Stop()
		}

		if b.session != nil {
			_ = b.session.Close()
		}
		_ = b.tel.Close("call ended")

		b.writer.WriteCallEnded(cache.CallState{
			CallSid:   b.callSid,
			StreamSid: b.streamSid,
			Caller:    b.caller,
			StartedAt: b.startedAt,
		}, reason, b.stats.snapshot())

		b.metrics.RecordCallEnded(context.Background(), reason)
		b.log.Info("call ended",
			"call_sid", b.callSid,
			"reason", reason,
			"frames_in", b.stats.framesIn.Load(),
			"frames_out", b.stats.framesOut.Load(),
		)
	})
}

// EndReason reports the recorded termination reason, or "" while the call is
// live.
func (b *Bridge) EndReason() string {
	if p := b.endReason.Load(); p != nil {
		return *p
	}
	return ""
}
