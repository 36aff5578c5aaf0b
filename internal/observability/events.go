package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TransportEventsKey is the routing key for transport lifecycle events.
const TransportEventsKey = "transport_events.conversations"

// EventEnvelope wraps transport lifecycle events published to AMQP.
type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// NewTransportEvent stamps a transport_events envelope with the current time.
func NewTransportEvent(name string, payload interface{}) EventEnvelope {
	return EventEnvelope{
		EventType:  "transport_events",
		EventName:  name,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
}

// HeadersFromContext carries the active trace into AMQP headers so consumers
// can join the event to the request that caused it.
func HeadersFromContext(ctx context.Context) map[string]string {
	headers := map[string]string{}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		headers["trace_id"] = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		headers["span_id"] = sc.SpanID().String()
	}
	return headers
}
