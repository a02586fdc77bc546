package bridge

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/Vivek-Chaudhari30/voice-agent/internal/cache"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/observe"
	"github.com/Vivek-Chaudhari30/voice-agent/pkg/audio"
	"github.com/Vivek-Chaudhari30/voice-agent/pkg/realtime"
	"github.com/Vivek-Chaudhari30/voice-agent/pkg/telephony"
	"go.opentelemetry.io/otel/metric"
)

// callerParamKeys are the custom-parameter keys checked, in order, for the
// caller's phone number.
var callerParamKeys = []string{"from", "caller", "phone"}

func reconnectAttr(result string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("result", result))
}

// ── Telephony events ──────────────────────────────────────────────────────────

func (b *Bridge) handleTelephony(ctx context.Context, msg *telephony.Message) {
	switch msg.Event {
	case telephony.EventConnected:
		b.log.Debug("telephony connected")

	case telephony.EventStart:
		b.handleStart(msg)

	case telephony.EventMedia:
		b.handleInboundMedia(ctx, msg)

	case telephony.EventMark:
		name := ""
		if msg.Mark != nil {
			name = msg.Mark.Name
		}
		b.log.Debug("telephony mark", "name", name)

	case telephony.EventStop:
		b.teardown(ReasonTelephonyStop)

	default:
		b.log.Debug("ignoring telephony event", "event", msg.Event)
	}
}

func (b *Bridge) handleStart(msg *telephony.Message) {
	if msg.Start == nil {
		b.log.Warn("start event without payload")
		return
	}

	b.callSid = msg.Start.CallSid
	b.streamSid = msg.Start.StreamSid
	b.startedAt = time.Now()
	b.log = b.log.With("call_sid", b.callSid, "stream_sid", b.streamSid)

	for _, key := range callerParamKeys {
		if v := msg.Start.CustomParameters[key]; v != "" {
			b.caller = v
			break
		}
	}

	// The duration ceiling is measured from stream start, not socket accept.
	b.ceilingTimer = time.NewTimer(b.maxDuration)

	b.upsertCallState()
	b.log.Info("call started",
		"caller", b.caller,
		"encoding", msg.Start.MediaFormat.Encoding,
		"max_duration", b.maxDuration,
	)
}

// handleInboundMedia runs the caller→model audio path: base64 μ-law in,
// base64 PCM16 24 kHz out to the model's input buffer. Any per-frame failure
// drops that frame only.
func (b *Bridge) handleInboundMedia(ctx context.Context, msg *telephony.Message) {
	if msg.Media == nil || msg.Media.Payload == "" || b.session == nil {
		return
	}

	start := time.Now()

	mulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		b.log.Warn("dropping media frame with bad base64", "err", err)
		return
	}

	pcm := audio.MulawToPCM24k(mulaw)
	if err := b.session.AppendAudio(ctx, pcm); err != nil {
		b.log.Warn("dropping media frame, llm append failed", "err", err)
		return
	}

	b.stats.framesIn.Add(1)
	b.stats.bytesIn.Add(int64(len(mulaw)))
	b.metrics.RecordFrame(ctx, "in", len(mulaw))
	b.metrics.FrameHandleDuration.Record(ctx, time.Since(start).Seconds())
}

// ── Model events ──────────────────────────────────────────────────────────────

func (b *Bridge) handleLLMEvent(ctx context.Context, evt realtime.ServerEvent, toolCh chan<- toolOutcome) {
	switch evt.Type {
	case realtime.EventSessionCreated:
		// A confirmed session resets the reconnect budget.
		b.reconnectAttempts = 0
		b.log.Debug("llm session created")

	case realtime.EventSessionUpdated:
		// The greeting must wait for session.updated: response.create before
		// it races the audio-modality activation.
		if !b.greeted {
			b.greeted = true
			if err := b.session.CreateResponse(ctx); err != nil {
				b.log.Warn("greeting response.create failed", "err", err)
			}
		}

	case realtime.EventSpeechStarted:
		b.handleSpeechStarted(ctx)

	case realtime.EventSpeechStopped:
		if b.st == stateUserSpeaking {
			b.setState(stateIdle)
		}

	case realtime.EventAudioDelta:
		b.handleOutboundAudio(ctx, evt)

	case realtime.EventAudioDone:
		b.currentItemID = ""
		b.itemAudioBytes = 0
		b.setState(stateIdle)

	case realtime.EventAudioTranscriptDone:
		if evt.Transcript != "" {
			b.writer.AppendTranscript(b.callSid, cache.TranscriptEntry{
				Timestamp: time.Now(),
				Role:      cache.RoleAssistant,
				Text:      evt.Transcript,
			})
		}

	case realtime.EventInputTranscript:
		if evt.Transcript != "" {
			b.writer.AppendTranscript(b.callSid, cache.TranscriptEntry{
				Timestamp: time.Now(),
				Role:      cache.RoleUser,
				Text:      evt.Transcript,
			})
		}

	case realtime.EventFunctionCallDone:
		b.setState(stateToolRunning)
		// Tools run off the loop goroutine so database latency never stalls
		// the audio path; the outcome re-enters through toolCh.
		go func() {
			output := b.tools.Dispatch(ctx, b.callSid, evt.Name, evt.Arguments)
			select {
			case toolCh <- toolOutcome{callID: evt.CallID, output: output}:
			case <-b.done:
			}
		}()

	case realtime.EventResponseDone, realtime.EventRateLimits:
		// Informational.

	case realtime.EventError:
		if evt.Err != nil {
			b.log.Warn("llm error event", "code", evt.Err.Code, "message", evt.Err.Message)
		}

	default:
		b.log.Debug("ignoring llm event", "type", evt.Type)
	}
}

// handleSpeechStarted covers both plain turn-taking and barge-in. When the
// assistant is mid-utterance, the caller interrupting must (in order) flush
// the telephony playback buffer, cancel the in-flight response, and truncate
// the conversation item to the audio actually heard.
func (b *Bridge) handleSpeechStarted(ctx context.Context) {
	if b.st == stateAISpeaking && b.currentItemID != "" {
		elapsedMs := b.itemAudioBytes / mulawBytesPerMs

		if err := b.tel.SendClear(ctx, b.streamSid); err != nil {
			b.log.Warn("barge-in clear failed", "err", err)
		}
		b.pendingPlayback = false
		if err := b.session.CancelResponse(ctx); err != nil {
			b.log.Warn("barge-in response.cancel failed", "err", err)
		}
		if err := b.session.TruncateItem(ctx, b.currentItemID, elapsedMs); err != nil {
			b.log.Warn("barge-in truncate failed", "err", err)
		}

		b.log.Info("barge-in",
			"item_id", b.currentItemID,
			"audio_end_ms", elapsedMs,
		)
		b.currentItemID = ""
		b.itemAudioBytes = 0
	} else if b.pendingPlayback {
		// The assistant already finished its turn but the peer may still be
		// playing buffered audio; flush it so the caller is not talked over.
		if err := b.tel.SendClear(ctx, b.streamSid); err != nil {
			b.log.Warn("playback flush failed", "err", err)
		}
		b.pendingPlayback = false
	}
	b.setState(stateUserSpeaking)
}

// handleOutboundAudio runs the model→caller audio path: PCM16 24 kHz in,
// base64 μ-law media frame out, tagged with the telephony stream id.
func (b *Bridge) handleOutboundAudio(ctx context.Context, evt realtime.ServerEvent) {
	if len(evt.Audio) == 0 {
		return
	}

	if evt.ItemID != "" && evt.ItemID != b.currentItemID {
		b.currentItemID = evt.ItemID
		b.itemAudioBytes = 0
	}
	b.setState(stateAISpeaking)

	mulaw := audio.PCM24kToMulaw(evt.Audio)
	if len(mulaw) == 0 {
		return
	}
	payload := base64.StdEncoding.EncodeToString(mulaw)
	if err := b.tel.SendMedia(ctx, b.streamSid, payload); err != nil {
		b.log.Warn("dropping outbound frame, telephony send failed", "err", err)
		return
	}

	b.itemAudioBytes += len(mulaw)
	b.pendingPlayback = true
	b.stats.framesOut.Add(1)
	b.stats.bytesOut.Add(int64(len(mulaw)))
	b.metrics.RecordFrame(ctx, "out", len(mulaw))
}

func (b *Bridge) handleToolOutcome(ctx context.Context, outcome toolOutcome) {
	if b.session != nil {
		if err := b.session.SendFunctionOutput(ctx, outcome.callID, outcome.output); err != nil {
			b.log.Warn("function output send failed", "err", err)
		}
		if err := b.session.CreateResponse(ctx); err != nil {
			b.log.Warn("post-tool response.create failed", "err", err)
		}
	}
	if b.st == stateToolRunning {
		b.setState(stateIdle)
	}
}

// ── State mirroring ───────────────────────────────────────────────────────────

func (b *Bridge) setState(next state) {
	if b.st == next {
		return
	}
	b.st = next
	b.upsertCallState()
}

// upsertCallState mirrors the live call record to the session cache.
// Fire-and-forget via the writer; never blocks the loop.
func (b *Bridge) upsertCallState() {
	if b.callSid == "" {
		return
	}
	b.writer.UpsertCall(cache.CallState{
		CallSid:           b.callSid,
		StreamSid:         b.streamSid,
		Caller:            b.caller,
		Status:            cache.StatusActive,
		ConversationState: b.st.String(),
		StartedAt:         b.startedAt,
		Stats:             b.stats.snapshot(),
	})
}
