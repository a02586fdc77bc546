package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/Vivek-Chaudhari30/voice-agent/internal/cache"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/observe"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// newTestClient starts an in-memory Redis and returns a cache client bound to
// it.
func newTestClient(t *testing.T) *cache.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewClientFromRedis(rdb)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestClient_UpsertAndReadCall(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	state := cache.CallState{
		CallSid:           "CA1",
		StreamSid:         "MZ1",
		Caller:            "+15550100",
		Status:            cache.StatusActive,
		ConversationState: "idle",
		StartedAt:         time.Now().UTC().Truncate(time.Second),
	}
	if err := c.UpsertCall(ctx, state); err != nil {
		t.Fatalf("UpsertCall: %v", err)
	}

	got, err := c.CallState(ctx, "CA1")
	if err != nil {
		t.Fatalf("CallState: %v", err)
	}
	if got.StreamSid != "MZ1" || got.Status != cache.StatusActive || got.Caller != "+15550100" {
		t.Errorf("read back %+v", got)
	}
}

func TestClient_CallStateUnknown(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.CallState(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown call")
	}
}

func TestClient_TranscriptOrder(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, text := range []string{"hello", "hi there", "book me in"} {
		entry := cache.TranscriptEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Role:      cache.RoleUser,
			Text:      text,
		}
		if err := c.AppendTranscript(ctx, "CA1", entry); err != nil {
			t.Fatalf("AppendTranscript: %v", err)
		}
	}

	entries, err := c.Transcript(ctx, "CA1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Text != "hello" || entries[2].Text != "book me in" {
		t.Errorf("entries out of order: %+v", entries)
	}
}

func TestWriter_FlushOnClose(t *testing.T) {
	c := newTestClient(t)
	w := cache.NewWriter(c, testMetrics(t), 16)

	w.UpsertCall(cache.CallState{CallSid: "CA2", Status: cache.StatusActive})
	w.AppendTranscript("CA2", cache.TranscriptEntry{
		Timestamp: time.Now(),
		Role:      cache.RoleAssistant,
		Text:      "how can I help?",
	})
	w.Close()

	ctx := context.Background()
	if _, err := c.CallState(ctx, "CA2"); err != nil {
		t.Errorf("call state not flushed: %v", err)
	}
	entries, err := c.Transcript(ctx, "CA2")
	if err != nil || len(entries) != 1 {
		t.Errorf("transcript not flushed: %v (%d entries)", err, len(entries))
	}
}

func TestWriter_ToolCallPair(t *testing.T) {
	c := newTestClient(t)
	w := cache.NewWriter(c, testMetrics(t), 16)

	w.AppendToolCall("CA3", "list_available_slots", `{"date":"2026-02-10"}`,
		`{"available_slots":[]}`, 12*time.Millisecond)
	w.Close()

	entries, err := c.Transcript(context.Background(), "CA3")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected tool-call + tool-result, got %d entries", len(entries))
	}
	if entries[0].Role != cache.RoleToolCall || entries[0].Arguments == "" {
		t.Errorf("first entry %+v", entries[0])
	}
	if entries[1].Role != cache.RoleToolResult || entries[1].DurationMs != 12 {
		t.Errorf("second entry %+v", entries[1])
	}
}

func TestWriter_CallEndedRecord(t *testing.T) {
	c := newTestClient(t)
	w := cache.NewWriter(c, testMetrics(t), 16)

	state := cache.CallState{CallSid: "CA4", Status: cache.StatusActive, StartedAt: time.Now()}
	stats := cache.AudioStats{FramesIn: 50, FramesOut: 100, BytesIn: 8000, BytesOut: 16000}
	w.WriteCallEnded(state, "telephony-closed", stats)
	w.Close()

	ctx := context.Background()
	got, err := c.CallState(ctx, "CA4")
	if err != nil {
		t.Fatalf("CallState: %v", err)
	}
	if got.Status != cache.StatusEnded || got.EndReason != "telephony-closed" {
		t.Errorf("state %+v", got)
	}
	if got.Stats.FramesOut != 100 {
		t.Errorf("stats %+v", got.Stats)
	}

	entries, err := c.Transcript(ctx, "CA4")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	var ended int
	for _, e := range entries {
		if e.Role == cache.RoleCallEnded {
			ended++
			if e.Stats == nil || e.Stats.FramesIn != 50 {
				t.Errorf("call-ended entry missing stats: %+v", e)
			}
		}
	}
	if ended != 1 {
		t.Errorf("expected exactly one call-ended record, got %d", ended)
	}
}

func TestWriter_DropsAfterClose(t *testing.T) {
	c := newTestClient(t)
	w := cache.NewWriter(c, testMetrics(t), 16)
	w.Close()

	w.UpsertCall(cache.CallState{CallSid: "CA5"})
	if got := w.Dropped(); got != 1 {
		t.Errorf("Dropped = %d; want 1", got)
	}
	if _, err := c.CallState(context.Background(), "CA5"); err == nil {
		t.Error("dropped write should not reach the cache")
	}
}

func TestWriter_CloseIdempotent(t *testing.T) {
	c := newTestClient(t)
	w := cache.NewWriter(c, testMetrics(t), 4)
	w.Close()
	w.Close()
}
