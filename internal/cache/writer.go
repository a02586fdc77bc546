package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Vivek-Chaudhari30/voice-agent/internal/observe"
)

// defaultBuffer is the default capacity of the Writer's operation queue.
const defaultBuffer = 256

// opTimeout bounds each cache write executed by the drain worker.
const opTimeout = 2 * time.Second

// writeOp is one queued cache operation.
type writeOp struct {
	name string
	do   func(ctx context.Context) error
}

// Writer decouples cache writes from the audio path. Enqueue methods never
// block: when the buffer is full (or the writer is closed) the operation is
// dropped and counted. A single background worker drains the queue; write
// errors are logged and never propagate.
type Writer struct {
	client  *Client
	metrics *observe.Metrics
	ops     chan writeOp
	done    chan struct{}

	dropped   atomic.Int64
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWriter creates a Writer over client and starts its drain worker.
// buffer <= 0 selects the default queue capacity.
func NewWriter(client *Client, metrics *observe.Metrics, buffer int) *Writer {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	w := &Writer{
		client:  client,
		metrics: metrics,
		ops:     make(chan writeOp, buffer),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// drain executes queued operations until Close, then flushes whatever is
// still buffered.
func (w *Writer) drain() {
	defer w.wg.Done()

	for {
		select {
		case op := <-w.ops:
			w.run(op)
		case <-w.done:
			for {
				select {
				case op := <-w.ops:
					w.run(op)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) run(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := op.do(ctx); err != nil {
		slog.Warn("cache write failed", "op", op.name, "err", err)
		w.metrics.RecordCacheWrite(ctx, "error")
		return
	}
	w.metrics.RecordCacheWrite(ctx, "ok")
}

// enqueue queues op without blocking; overflow and writes after Close are
// dropped and counted.
func (w *Writer) enqueue(op writeOp) {
	select {
	case <-w.done:
	default:
		select {
		case w.ops <- op:
			return
		default:
		}
	}
	w.dropped.Add(1)
	w.metrics.RecordCacheWrite(context.Background(), "dropped")
	slog.Debug("cache write dropped", "op", op.name)
}

// Dropped reports how many operations were discarded due to overflow or
// enqueueing after Close.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// UpsertCall queues a call-state upsert.
func (w *Writer) UpsertCall(state CallState) {
	w.enqueue(writeOp{
		name: "upsert-call",
		do: func(ctx context.Context) error {
			return w.client.UpsertCall(ctx, state)
		},
	})
}

// AppendTranscript queues a transcript append.
func (w *Writer) AppendTranscript(callSid string, entry TranscriptEntry) {
	w.enqueue(writeOp{
		name: "append-transcript",
		do: func(ctx context.Context) error {
			return w.client.AppendTranscript(ctx, callSid, entry)
		},
	})
}

// AppendToolCall queues the tool-call / tool-result entry pair recorded on
// completion of a tool invocation.
func (w *Writer) AppendToolCall(callSid, tool, arguments, result string, duration time.Duration) {
	now := time.Now()
	w.AppendTranscript(callSid, TranscriptEntry{
		Timestamp: now,
		Role:      RoleToolCall,
		ToolName:  tool,
		Arguments: arguments,
	})
	w.AppendTranscript(callSid, TranscriptEntry{
		Timestamp:  now,
		Role:       RoleToolResult,
		ToolName:   tool,
		Result:     result,
		DurationMs: duration.Milliseconds(),
	})
}

// WriteCallEnded queues the single end-of-call record: the call state flips
// to ended and a call-ended entry carrying the final audio statistics is
// appended to the transcript.
func (w *Writer) WriteCallEnded(state CallState, reason string, stats AudioStats) {
	now := time.Now()
	state.Status = StatusEnded
	state.EndedAt = &now
	state.EndReason = reason
	state.Stats = stats
	w.UpsertCall(state)
	w.AppendTranscript(state.CallSid, TranscriptEntry{
		Timestamp: now,
		Role:      RoleCallEnded,
		Text:      reason,
		Stats:     &stats,
	})
}

// Close stops accepting new operations, flushes the queue, and waits for the
// worker to exit. Safe to call multiple times.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}
