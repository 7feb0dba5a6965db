package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const auditSchemaVersion = 2

// Audit actions.
const (
	ActionMessageDeleted = "message_deleted"
	ActionBotReplied     = "bot_replied"
	ActionAuditTest      = "audit_test"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// AuditRecord describes one user-visible action on a message.
type AuditRecord struct {
	Action         string
	Level          string
	Text           string
	RequestID      string
	UserID         *string
	ConversationID string
	MessageID      string
}

// AuditEmitter publishes user-visible actions (deletes, bot replies) for the audit trail.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.SugaredLogger
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Action         string `json:"action"`
	Level          string `json:"level"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.SugaredLogger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
		now:         time.Now,
	}
}

// Emit publishes rec. Publish failures are logged and swallowed; a nil emitter does nothing.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = "INFO"
	}

	envelope := e.envelope(rec)
	headers := map[string]string{"x-request-id": rec.RequestID}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		e.logger.Warnw("audit publish failed", "action", rec.Action, "request_id", rec.RequestID, "error", err)
	}
}

func (e *AuditEmitter) envelope(rec AuditRecord) AuditEnvelope {
	return AuditEnvelope{
		SchemaVersion: auditSchemaVersion,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		UserID:        rec.UserID,
		Payload: AuditPayload{
			Action:         rec.Action,
			Level:          rec.Level,
			Text:           rec.Text,
			ConversationID: rec.ConversationID,
			MessageID:      rec.MessageID,
		},
	}
}
