// Package cache mirrors per-call state into a shared Redis instance for
// external observers: call status, transcripts, tool-call logs, and audio
// statistics.
//
// The cache is strictly advisory. All bridge-side writes go through a
// [Writer], which never blocks the audio path: operations are enqueued into a
// bounded buffer drained by a background worker, and overflow is dropped with
// a counter increment. Entries are retained for 24 hours after their last
// write.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// retention is how long call records and transcripts are kept after the last
// write.
const retention = 24 * time.Hour

// Transcript entry roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolCall   = "tool-call"
	RoleToolResult = "tool-result"

	// RoleCallEnded marks the single end-of-call record appended at teardown.
	RoleCallEnded = "call-ended"
)

// Call statuses mirrored to the cache.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
	StatusFailed = "failed"
)

// AudioStats is a snapshot of a call's relay counters.
type AudioStats struct {
	FramesIn  int64 `json:"frames_in"`
	FramesOut int64 `json:"frames_out"`
	BytesIn   int64 `json:"bytes_in"`
	BytesOut  int64 `json:"bytes_out"`
}

// CallState is the externally visible subset of a call record.
type CallState struct {
	CallSid           string     `json:"call_sid"`
	StreamSid         string     `json:"stream_sid,omitempty"`
	Caller            string     `json:"caller,omitempty"`
	Status            string     `json:"status"`
	ConversationState string     `json:"conversation_state,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	EndReason         string     `json:"end_reason,omitempty"`
	Stats             AudioStats `json:"stats"`
}

// TranscriptEntry is one append-only conversation record. Entries for a call
// are stored in non-decreasing Timestamp order.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Text      string    `json:"text,omitempty"`

	// Tool metadata, set for tool-call and tool-result entries.
	ToolName   string `json:"tool_name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Result     string `json:"result,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// Stats is set on the call-ended record.
	Stats *AudioStats `json:"stats,omitempty"`
}

// Client is a thin typed adapter over a Redis connection. Methods are
// synchronous; the bridge uses them through a [Writer].
type Client struct {
	rdb *redis.Client
}

// NewClient connects to the Redis instance at url
// (e.g. "redis://localhost:6379/0").
func NewClient(url string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}
	return &Client{rdb: redis.NewClient(opt)}, nil
}

// NewClientFromRedis wraps an existing Redis client. Used in tests.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping verifies connectivity; used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func callKey(callSid string) string       { return "voiceagent:call:" + callSid }
func transcriptKey(callSid string) string { return "voiceagent:transcript:" + callSid }

// UpsertCall writes the full call state and refreshes its TTL.
func (c *Client) UpsertCall(ctx context.Context, state CallState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("cache: marshal call state: %w", err)
	}
	if err := c.rdb.Set(ctx, callKey(state.CallSid), data, retention).Err(); err != nil {
		return fmt.Errorf("cache: upsert call %s: %w", state.CallSid, err)
	}
	return nil
}

// AppendTranscript appends one entry to the call's transcript list and
// refreshes the list TTL.
func (c *Client) AppendTranscript(ctx context.Context, callSid string, entry TranscriptEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal transcript entry: %w", err)
	}
	key := transcriptKey(callSid)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: append transcript %s: %w", callSid, err)
	}
	return nil
}

// CallState reads back a call record. Returns redis.Nil via the wrapped error
// when the call is unknown.
func (c *Client) CallState(ctx context.Context, callSid string) (*CallState, error) {
	data, err := c.rdb.Get(ctx, callKey(callSid)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("cache: get call %s: %w", callSid, err)
	}
	var state CallState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("cache: unmarshal call %s: %w", callSid, err)
	}
	return &state, nil
}

// Transcript reads back the full transcript for a call in append order.
func (c *Client) Transcript(ctx context.Context, callSid string) ([]TranscriptEntry, error) {
	raw, err := c.rdb.LRange(ctx, transcriptKey(callSid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: read transcript %s: %w", callSid, err)
	}
	entries := make([]TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("cache: unmarshal transcript %s: %w", callSid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
