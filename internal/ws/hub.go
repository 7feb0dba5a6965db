package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"message-service/internal/models"
	"message-service/internal/observability"
)

const (
	wsKind       = "conversation"
	wsRoutingKey = "ws_events.conversations"
)

// Hub maintains active websocket rooms, one per conversation.
type Hub struct {
	rooms  map[string]map[*Client]struct{}
	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// AddClient registers a connection to a conversation room.
func (h *Hub) AddClient(conversationID string, cl *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*Client]struct{})
	}
	h.rooms[conversationID][cl] = struct{}{}
}

// RemoveClient removes a connection; empty rooms are dropped.
func (h *Hub) RemoveClient(conversationID string, cl *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[conversationID]; ok {
		delete(clients, cl)
		if len(clients) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

func (h *Hub) snapshot(conversationID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.rooms[conversationID]))
	for cl := range h.rooms[conversationID] {
		clients = append(clients, cl)
	}
	return clients
}

// Broadcast sends event to every client of the conversation.
func (h *Hub) Broadcast(conversationID string, event models.ConversationEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorw("websocket event encode failed", "type", event.Type, "error", err)
		return
	}
	for _, cl := range h.snapshot(conversationID) {
		if err := cl.write(payload); err != nil {
			h.logger.Warnw("websocket write error", "conversation_id", conversationID, "conn_id", cl.info.ConnID, "error", err)
			cl.close()
			h.RemoveClient(conversationID, cl)
			h.publishWSError(conversationID, cl.info, err)
		}
	}
	observability.IncWSEvent(wsKind, event.Type)
}

func (h *Hub) BroadcastMessage(conversationID string, msg models.Message) {
	h.Broadcast(conversationID, models.ConversationEvent{Type: EventMessage, Message: &msg})
}

func (h *Hub) BroadcastBotReply(conversationID string, msg models.Message) {
	h.Broadcast(conversationID, models.ConversationEvent{Type: EventBotReply, Message: &msg})
}

// BroadcastDeletion notifies clients that a message was hidden for deleteFrom.
func (h *Hub) BroadcastDeletion(conversationID, messageID string, deleteFrom []string) {
	h.Broadcast(conversationID, models.ConversationEvent{Type: EventMessageDeleted, MessageID: messageID, DeleteFrom: deleteFrom})
}

func (h *Hub) publishWSError(conversationID string, info ConnInfo, err error) {
	publishLifecycle(context.Background(), observability.EventWSError, conversationID, info, err.Error())
	observability.IncWSEvent(wsKind, observability.EventWSError)
}

func publishLifecycle(ctx context.Context, event, conversationID string, info ConnInfo, reason string) {
	duration := int64(0)
	if !info.ConnectedAt.IsZero() {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        wsKind,
			"resource_id": conversationID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType:  "ws_events",
		EventName:  event,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
