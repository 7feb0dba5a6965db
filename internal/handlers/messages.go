package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"message-service/internal/models"
	"message-service/internal/service"
	"message-service/internal/storage"
	"message-service/internal/telemetry"
)

// MessageService is the application logic behind the message endpoints.
type MessageService interface {
	SubmitMessage(ctx context.Context, in service.SubmitInput) (service.SubmitResult, error)
	ListMessages(ctx context.Context, conversationID, viewerID string) ([]models.Message, error)
	DeleteForRequester(ctx context.Context, requesterID, messageID string, userIDs []string) (models.Message, error)
	IssueUploadCredential(ctx context.Context, userID, filename, filetype string) (storage.UploadCredential, error)
	GenerateBotReply(ctx context.Context, in service.BotPrompt) (service.BotExchange, error)
}

// Broadcaster pushes changes to open conversation sockets.
type Broadcaster interface {
	BroadcastMessage(conversationID string, msg models.Message)
	BroadcastBotReply(conversationID string, msg models.Message)
	BroadcastDeletion(conversationID, messageID string, deleteFrom []string)
}

// MessageHandler manages message endpoints.
type MessageHandler struct {
	svc    MessageService
	hub    Broadcaster
	audit  *telemetry.AuditEmitter
	logger *zap.SugaredLogger
}

// NewMessageHandler builds a MessageHandler; hub and audit may be nil.
func NewMessageHandler(svc MessageService, hub Broadcaster, audit *telemetry.AuditEmitter, logger *zap.SugaredLogger) *MessageHandler {
	return &MessageHandler{svc: svc, hub: hub, audit: audit, logger: logger}
}

// RegisterRoutes mounts the message endpoints on an authenticated group.
func (h *MessageHandler) RegisterRoutes(rg *gin.RouterGroup, botLimiter gin.HandlerFunc) {
	rg.POST("/messages", h.SubmitMessage)
	rg.POST("/messages/delete", h.DeleteMessage)
	rg.GET("/messages/upload-url", h.UploadURL)
	if botLimiter != nil {
		rg.POST("/messages/bot-reply", botLimiter, h.BotReply)
	} else {
		rg.POST("/messages/bot-reply", h.BotReply)
	}
	rg.GET("/messages/:conversation_id", h.ListMessages)
}

// SubmitMessage stores a message sent as JSON or multipart form with an optional file.
func (h *MessageHandler) SubmitMessage(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversationId" form:"conversationId"`
		Sender         string `json:"sender" form:"sender"`
		Text           string `json:"text" form:"text"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID := c.GetString("userID")
	if req.Sender == "" {
		req.Sender = userID
	}
	if req.Sender != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "sender does not match authenticated user"})
		return
	}

	in := service.SubmitInput{ConversationID: req.ConversationID, SenderID: req.Sender, Text: req.Text}
	if fh, err := c.FormFile("file"); err == nil {
		file, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read attachment"})
			return
		}
		defer file.Close()
		in.Attachment = &service.Attachment{Filename: fh.Filename, ContentType: attachmentType(fh), Body: file}
	}

	res, err := h.svc.SubmitMessage(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err, "failed to store message")
		return
	}
	if res.Route == service.RouteBot {
		c.JSON(http.StatusAccepted, gin.H{"route": string(service.RouteBot)})
		return
	}

	if h.hub != nil {
		h.hub.BroadcastMessage(res.Message.ConversationID, *res.Message)
	}
	c.JSON(http.StatusOK, res.Message)
}

// ListMessages returns the conversation history visible to the caller.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	msgs, err := h.svc.ListMessages(c.Request.Context(), c.Param("conversation_id"), c.GetString("userID"))
	if err != nil {
		h.writeError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// DeleteMessage hides a message for the listed users. The caller must be a member
// of the message's conversation.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	var req struct {
		MessageID string   `json:"messageid"`
		UserIDs   []string `json:"userids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.svc.DeleteForRequester(c.Request.Context(), c.GetString("userID"), req.MessageID, req.UserIDs)
	if err != nil {
		h.writeError(c, err, "could not delete message")
		return
	}

	if h.hub != nil {
		h.hub.BroadcastDeletion(msg.ConversationID, msg.ID, req.UserIDs)
	}
	h.audit.Emit(c.Request.Context(), telemetry.AuditRecord{
		Action:         telemetry.ActionMessageDeleted,
		Text:           fmt.Sprintf("message hidden for %d user(s)", len(req.UserIDs)),
		RequestID:      requestIDFromContext(c),
		UserID:         userIDFromContext(c),
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
	})
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted successfully"})
}

// UploadURL issues a presigned POST for a direct browser upload.
func (h *MessageHandler) UploadURL(c *gin.Context) {
	cred, err := h.svc.IssueUploadCredential(c.Request.Context(), c.GetString("userID"), c.Query("filename"), c.Query("filetype"))
	if err != nil {
		h.writeError(c, err, "failed to create upload url")
		return
	}
	c.JSON(http.StatusOK, cred)
}

// BotReply generates and stores an assistant reply to the caller's prompt.
func (h *MessageHandler) BotReply(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversationId"`
		Prompt         string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ex, err := h.svc.GenerateBotReply(c.Request.Context(), service.BotPrompt{
		ConversationID: req.ConversationID,
		SenderID:       c.GetString("userID"),
		Prompt:         req.Prompt,
	})
	if err != nil {
		h.writeError(c, err, "failed to generate reply")
		return
	}
	reply := ex.Reply

	if h.hub != nil {
		h.hub.BroadcastMessage(ex.Prompt.ConversationID, ex.Prompt)
		h.hub.BroadcastBotReply(reply.ConversationID, reply)
	}
	h.audit.Emit(c.Request.Context(), telemetry.AuditRecord{
		Action:         telemetry.ActionBotReplied,
		Text:           "bot reply stored",
		RequestID:      requestIDFromContext(c),
		UserID:         userIDFromContext(c),
		ConversationID: reply.ConversationID,
		MessageID:      reply.ID,
	})
	c.JSON(http.StatusOK, reply)
}

// writeError maps service error kinds to status codes; internal details stay in the log.
func (h *MessageHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
	case errors.Is(err, service.ErrUnsupportedConversation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "bot replies are only available in one-to-one bot conversations"})
	case errors.Is(err, service.ErrUpstreamUnavailable):
		h.logger.Warnw("upstream unavailable", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI is busy right now, please try again."})
	default:
		h.logger.Errorw("request failed", "path", c.FullPath(), "request_id", requestIDFromContext(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func attachmentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
