package telemetry

import (
	"context"
	"log/slog"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit event names.
const (
	EventModalOpened    = "conversation.modal_opened"
	EventModalClosed    = "conversation.modal_closed"
	EventInlineOpened   = "conversation.inline_opened"
	EventDegraded       = "conversation.degraded"
	EventUploadRejected = "conversation.upload_rejected"
	EventAuditTest      = "conversation.audit_test"
)

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *slog.Logger
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	Viewer        string       `json:"viewer,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level     string `json:"level"`
	Event     string `json:"event"`
	StudentID string `json:"student_id"`
	Text      string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *slog.Logger) *AuditEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
		now:         time.Now,
	}
}

// Emit publishes one audit record. Publish failures are logged only.
func (e *AuditEmitter) Emit(ctx context.Context, level, event, studentID, text, requestID, viewer string) {
	if e == nil || e.publisher == nil {
		return
	}

	e.logger.Debug("audit emit", "level", level, "event", event, "student_id", studentID, "request_id", requestID)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		Viewer:        viewer,
		Payload: AuditPayload{
			Level:     level,
			Event:     event,
			StudentID: studentID,
			Text:      text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Warn("audit publish failed", "event", event, "error", err)
	}
}
