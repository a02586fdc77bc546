// Package tools executes the functions the model may call during a
// conversation. Tools are a closed registry of tagged definitions — name,
// JSON-schema parameters, executor — dispatched synchronously by name; adding
// a tool means registering a new definition, no reflection involved.
//
// Every dispatch is measured and logged: wall-clock duration goes to the
// metrics histogram, and a tool-call / tool-result entry pair is appended to
// the session cache. Executor failures are returned to the model as a JSON
// error discriminator so it can verbalize an apology; they are never fatal to
// the call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Vivek-Chaudhari30/voice-agent/internal/booking"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/cache"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/observe"
	"github.com/Vivek-Chaudhari30/voice-agent/pkg/realtime"
	"go.opentelemetry.io/otel/metric"
)

// Definition is one callable tool: its model-facing contract plus the
// executor that implements it.
type Definition struct {
	Name        string
	Description string

	// Parameters is the JSON-schema object describing the arguments.
	Parameters map[string]any

	// Execute runs the tool. callSid identifies the originating call; args is
	// the raw JSON argument object from the model. The returned value is
	// marshalled as the tool result.
	Execute func(ctx context.Context, callSid string, args json.RawMessage) (any, error)
}

// errorResult is the discriminator returned to the model when a tool cannot
// produce a domain result.
type errorResult struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// Dispatcher routes model function calls to registered tools.
type Dispatcher struct {
	defs    map[string]Definition
	order   []string
	writer  *cache.Writer
	metrics *observe.Metrics
}

// NewDispatcher creates a Dispatcher with the booking tools registered.
func NewDispatcher(store *booking.Store, writer *cache.Writer, metrics *observe.Metrics) *Dispatcher {
	d := &Dispatcher{
		defs:    make(map[string]Definition),
		writer:  writer,
		metrics: metrics,
	}
	d.Register(listSlotsTool(store))
	d.Register(createAppointmentTool(store))
	return d
}

// Register adds def to the registry, replacing any tool with the same name.
func (d *Dispatcher) Register(def Definition) {
	if _, exists := d.defs[def.Name]; !exists {
		d.order = append(d.order, def.Name)
	}
	d.defs[def.Name] = def
}

// Definitions returns the registered tools in registration order, in the
// shape the realtime session configuration expects.
func (d *Dispatcher) Definitions() []realtime.ToolDefinition {
	out := make([]realtime.ToolDefinition, 0, len(d.order))
	for _, name := range d.order {
		def := d.defs[name]
		out = append(out, realtime.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return out
}

// Dispatch executes the named tool and returns the JSON-encoded result to
// hand back to the model. It never returns an error: failures become the
// error discriminator the model is expected to verbalize.
func (d *Dispatcher) Dispatch(ctx context.Context, callSid, name, argsJSON string) string {
	start := time.Now()
	result, status := d.execute(ctx, callSid, name, argsJSON)
	elapsed := time.Since(start)

	d.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("tool", name)))
	d.metrics.RecordToolCall(ctx, name, status)
	d.writer.AppendToolCall(callSid, name, argsJSON, result, elapsed)

	slog.Info("tool dispatched",
		"call_sid", callSid,
		"tool", name,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result
}

// execute resolves, runs, and marshals one tool call. The second return value
// is the metric status label.
func (d *Dispatcher) execute(ctx context.Context, callSid, name, argsJSON string) (string, string) {
	def, ok := d.defs[name]
	if !ok {
		return marshalResult(errorResult{Error: true, Message: "unknown tool: " + name}), "unknown"
	}

	args := json.RawMessage(argsJSON)
	if argsJSON == "" {
		args = json.RawMessage("{}")
	}

	value, err := def.Execute(ctx, callSid, args)
	if err != nil {
		slog.Warn("tool execution failed", "tool", name, "call_sid", callSid, "err", err)
		return marshalResult(errorResult{Error: true, Message: userSafeMessage(err)}), "error"
	}
	return marshalResult(value), "ok"
}

// marshalResult encodes v, falling back to a generic error object if the
// result itself cannot be marshalled.
func marshalResult(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":true,"message":"internal error"}`
	}
	return string(data)
}

// userSafeMessage maps executor errors to short strings safe to hand to the
// model for verbalization.
func userSafeMessage(err error) string {
	switch {
	case errors.Is(err, booking.ErrSlotTaken):
		return "that slot was just taken"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "the scheduling system timed out"
	default:
		return "the scheduling system is temporarily unavailable"
	}
}
