package observability

import "time"

const (
	EventMessageCreated  = "message.created"
	EventMessageDeleted  = "message.deleted"
	EventBotReplied      = "message.bot_replied"
	EventWSConnect       = "ws_connect"
	EventWSDisconnect    = "ws_disconnect"
	EventWSError         = "ws_error"
	messageEventCategory = "message_events"
)

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// NewMessageEvent wraps payload into an envelope stamped with the current time.
func NewMessageEvent(name string, payload interface{}) EventEnvelope {
	return EventEnvelope{
		EventType:  messageEventCategory,
		EventName:  name,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
