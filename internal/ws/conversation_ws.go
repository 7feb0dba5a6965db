package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"message-service/internal/middleware"
	"message-service/internal/models"
	"message-service/internal/observability"
	"message-service/internal/presence"
	"message-service/internal/service"
)

const (
	EventMessage        = "message"
	EventMessageDeleted = "message_deleted"
	EventBotReply       = "bot_reply"
	EventError          = "error"

	frameSendMessage   = "send_message"
	frameDeleteMessage = "delete_message"
	frameBotPrompt     = "bot_prompt"

	maxFrameBytes = 64 * 1024
	frameTimeout  = 60 * time.Second
)

// ConversationService is the part of the message service used by sockets.
type ConversationService interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	DispatchRealtime(ctx context.Context, in service.RealtimeMessage) (models.Message, error)
	RetractRealtime(ctx context.Context, in service.RealtimeDelete) (bool, error)
	GenerateBotReply(ctx context.Context, in service.BotPrompt) (service.BotExchange, error)
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sendPayload struct {
	Text                     string `json:"text"`
	ImageURL                 string `json:"imageUrl"`
	ReceiverID               string `json:"receiverId"`
	IsReceiverInsideChatRoom *bool  `json:"isReceiverInsideChatRoom"`
}

type deletePayload struct {
	MessageID  string   `json:"messageId"`
	DeleteFrom []string `json:"deleteFrom"`
}

type botPromptPayload struct {
	Prompt string `json:"prompt"`
}

// ConversationWebSocketHandler handles conversation websocket connections.
type ConversationWebSocketHandler struct {
	hub      *Hub
	svc      ConversationService
	tokens   middleware.TokenValidator
	presence presence.Store
	logger   *zap.SugaredLogger
}

// NewConversationWebSocketHandler constructs a ConversationWebSocketHandler.
func NewConversationWebSocketHandler(hub *Hub, svc ConversationService, tokens middleware.TokenValidator, presence presence.Store, logger *zap.SugaredLogger) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{hub: hub, svc: svc, tokens: tokens, presence: presence, logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, checks membership, upgrades and serves the connection.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("message-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.svc.IsMember(ctx, conversationID, userID)
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	meta := observability.RequestMetaFrom(c.Request)
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cl := NewClient(conn, info)
	h.join(conversationID, cl)

	go h.serve(conversationID, cl)
}

func (h *ConversationWebSocketHandler) join(conversationID string, cl *Client) {
	h.hub.AddClient(conversationID, cl)
	if err := h.presence.Enter(context.Background(), conversationID, cl.info.UserID); err != nil {
		h.logger.Warnw("presence enter failed", "conversation_id", conversationID, "user_id", cl.info.UserID, "error", err)
	}
	observability.IncWSActive(wsKind)
	observability.IncWSEvent(wsKind, observability.EventWSConnect)
	publishLifecycle(context.Background(), observability.EventWSConnect, conversationID, cl.info, "")
}

func (h *ConversationWebSocketHandler) leave(conversationID string, cl *Client, reason string) {
	h.hub.RemoveClient(conversationID, cl)
	if err := h.presence.Leave(context.Background(), conversationID, cl.info.UserID); err != nil {
		h.logger.Warnw("presence leave failed", "conversation_id", conversationID, "user_id", cl.info.UserID, "error", err)
	}
	observability.DecWSActive(wsKind)
	observability.IncWSEvent(wsKind, observability.EventWSDisconnect)
	publishLifecycle(context.Background(), observability.EventWSDisconnect, conversationID, cl.info, reason)
	cl.close()
}

func (h *ConversationWebSocketHandler) serve(conversationID string, cl *Client) {
	var closeReason string
	defer func() { h.leave(conversationID, cl, closeReason) }()

	cl.conn.SetReadLimit(maxFrameBytes)
	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(wsKind, observability.EventWSError)
				publishLifecycle(context.Background(), observability.EventWSError, conversationID, cl.info, closeReason)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.replyError(cl, "malformed frame")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		h.dispatch(ctx, conversationID, cl, frame)
		cancel()
	}
}

func (h *ConversationWebSocketHandler) dispatch(ctx context.Context, conversationID string, cl *Client, frame inboundFrame) {
	switch frame.Type {
	case frameSendMessage:
		var p sendPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			h.replyError(cl, "malformed send_message payload")
			return
		}
		msg, err := h.svc.DispatchRealtime(ctx, service.RealtimeMessage{
			ConversationID: conversationID,
			SenderID:       cl.info.UserID,
			ReceiverID:     p.ReceiverID,
			Text:           p.Text,
			ImageURL:       p.ImageURL,
			ReceiverInside: p.IsReceiverInsideChatRoom,
		})
		if err != nil {
			h.replyServiceError(cl, frame.Type, err)
			return
		}
		h.hub.BroadcastMessage(conversationID, msg)

	case frameDeleteMessage:
		var p deletePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			h.replyError(cl, "malformed delete_message payload")
			return
		}
		if _, err := h.svc.RetractRealtime(ctx, service.RealtimeDelete{
			ConversationID: conversationID,
			MessageID:      p.MessageID,
			DeleteFrom:     p.DeleteFrom,
		}); err != nil {
			h.replyServiceError(cl, frame.Type, err)
			return
		}
		h.hub.BroadcastDeletion(conversationID, p.MessageID, p.DeleteFrom)

	case frameBotPrompt:
		var p botPromptPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			h.replyError(cl, "malformed bot_prompt payload")
			return
		}
		ex, err := h.svc.GenerateBotReply(ctx, service.BotPrompt{
			ConversationID: conversationID,
			SenderID:       cl.info.UserID,
			Prompt:         p.Prompt,
		})
		if err != nil {
			h.replyServiceError(cl, frame.Type, err)
			return
		}
		// prompt first so other sockets render the exchange in order
		h.hub.BroadcastMessage(conversationID, ex.Prompt)
		h.hub.BroadcastBotReply(conversationID, ex.Reply)

	default:
		h.replyError(cl, "unknown frame type")
	}
}

func (h *ConversationWebSocketHandler) replyServiceError(cl *Client, frameType string, err error) {
	h.logger.Warnw("websocket frame failed", "frame", frameType, "conn_id", cl.info.ConnID, "error", err)
	switch {
	case errors.Is(err, service.ErrValidation):
		h.replyError(cl, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.replyError(cl, "not found")
	case errors.Is(err, service.ErrForbidden):
		h.replyError(cl, "not a conversation member")
	case errors.Is(err, service.ErrUnsupportedConversation):
		h.replyError(cl, "bot replies are only available in one-to-one bot conversations")
	case errors.Is(err, service.ErrUpstreamUnavailable):
		h.replyError(cl, "AI is busy right now, please try again.")
	default:
		h.replyError(cl, "internal error")
	}
}

func (h *ConversationWebSocketHandler) replyError(cl *Client, msg string) {
	payload, _ := json.Marshal(models.ConversationEvent{Type: EventError, Error: msg})
	if err := cl.write(payload); err != nil {
		h.logger.Debugw("websocket error frame not delivered", "conn_id", cl.info.ConnID, "error", err)
	}
}
