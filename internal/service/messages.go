package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"message-service/internal/models"
	"message-service/internal/observability"
)

type Route string

const (
	// RouteStored means the message was persisted.
	RouteStored Route = "stored"
	// RouteBot means the conversation has a bot member and the caller must use GenerateBotReply.
	RouteBot Route = "bot"
)

type Attachment struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type SubmitInput struct {
	ConversationID string
	SenderID       string
	Text           string
	Attachment     *Attachment
}

type SubmitResult struct {
	Route   Route
	Message *models.Message
}

// SubmitMessage stores a message unless the conversation contains a bot.
func (s *MessageService) SubmitMessage(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if strings.TrimSpace(in.ConversationID) == "" || strings.TrimSpace(in.SenderID) == "" || strings.TrimSpace(in.Text) == "" {
		return SubmitResult{}, validationError("conversationId, sender and text are required")
	}

	conv, err := s.conversations.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return SubmitResult{}, mapStoreErr(err)
	}
	if !conv.HasMember(in.SenderID) {
		return SubmitResult{}, ErrForbidden
	}

	hasBot, err := s.hasBotMember(ctx, conv, in.SenderID)
	if err != nil {
		return SubmitResult{}, err
	}
	if hasBot {
		s.logger.Debugw("submit routed to bot reply", "conversation_id", conv.ID)
		return SubmitResult{Route: RouteBot}, nil
	}

	var imageURL string
	if in.Attachment != nil {
		imageURL, err = s.uploadAttachment(ctx, in.SenderID, in.Attachment)
		if err != nil {
			return SubmitResult{}, err
		}
	}

	now := s.now()
	msg, err := s.messages.CreateMessage(ctx, models.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		ImageURL:       imageURL,
		SeenBy:         []models.SeenMarker{{User: in.SenderID, SeenAt: now}},
		DeletedFrom:    []string{},
		CreatedAt:      now,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("create message: %w", mapStoreErr(err))
	}
	observability.IncMessageCreated("http")

	if err := s.conversations.RecordMessage(ctx, conv.ID, msg.Text, now, conv.OtherMembers(in.SenderID)); err != nil {
		return SubmitResult{}, fmt.Errorf("update conversation: %w", mapStoreErr(err))
	}

	s.publish(ctx, observability.EventMessageCreated, msg)
	return SubmitResult{Route: RouteStored, Message: &msg}, nil
}

// hasBotMember reports whether any member other than senderID is a bot account.
// Members without a user record are treated as humans.
func (s *MessageService) hasBotMember(ctx context.Context, conv models.Conversation, senderID string) (bool, error) {
	others := conv.OtherMembers(senderID)
	if len(others) == 0 || s.users == nil {
		return false, nil
	}
	users, err := s.users.GetUsers(ctx, others)
	if err != nil {
		return false, fmt.Errorf("load members: %w", mapStoreErr(err))
	}
	for _, u := range users {
		if u.IsBotAccount() {
			return true, nil
		}
	}
	return false, nil
}

// ListMessages returns the messages visible to viewerID, oldest first, and marks them seen.
func (s *MessageService) ListMessages(ctx context.Context, conversationID, viewerID string) ([]models.Message, error) {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(viewerID) == "" {
		return nil, validationError("conversationId and viewer are required")
	}

	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !conv.HasMember(viewerID) {
		return nil, ErrForbidden
	}

	msgs, err := s.messages.ListVisible(ctx, conversationID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", mapStoreErr(err))
	}

	now := s.now()
	unseen := make([]string, 0)
	for i := range msgs {
		if !msgs[i].SeenByUser(viewerID) {
			unseen = append(unseen, msgs[i].ID)
			msgs[i].SeenBy = append(msgs[i].SeenBy, models.SeenMarker{User: viewerID, SeenAt: now})
		}
	}
	if len(unseen) > 0 {
		if err := s.messages.MarkSeen(ctx, unseen, viewerID, now); err != nil {
			return nil, fmt.Errorf("mark seen: %w", mapStoreErr(err))
		}
	}

	if conv.UnreadFor(viewerID) > 0 {
		if err := s.conversations.ResetUnread(ctx, conversationID, viewerID); err != nil {
			s.logger.Warnw("reset unread failed", "conversation_id", conversationID, "user_id", viewerID, "error", err)
		}
	}
	return msgs, nil
}

// SoftDeleteMessage hides the message from every user in userIDs. Repeating it is a no-op.
func (s *MessageService) SoftDeleteMessage(ctx context.Context, messageID string, userIDs []string) (models.Message, error) {
	if strings.TrimSpace(messageID) == "" || len(userIDs) == 0 {
		return models.Message{}, validationError("messageid and userids are required")
	}
	for _, id := range userIDs {
		if strings.TrimSpace(id) == "" {
			return models.Message{}, validationError("userids must not contain empty ids")
		}
	}

	msg, err := s.messages.AddDeletedFrom(ctx, messageID, userIDs)
	if err != nil {
		return models.Message{}, mapStoreErr(err)
	}

	s.publish(ctx, observability.EventMessageDeleted, map[string]any{
		"messageId":      msg.ID,
		"conversationId": msg.ConversationID,
		"deleteFrom":     userIDs,
	})
	return msg, nil
}

// DeleteForRequester is SoftDeleteMessage for callers that did not join the
// conversation first; requesterID must be a member of the message's conversation.
func (s *MessageService) DeleteForRequester(ctx context.Context, requesterID, messageID string, userIDs []string) (models.Message, error) {
	if strings.TrimSpace(requesterID) == "" || strings.TrimSpace(messageID) == "" {
		return models.Message{}, validationError("messageid and requester are required")
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, mapStoreErr(err)
	}
	member, err := s.IsMember(ctx, msg.ConversationID, requesterID)
	if err != nil {
		return models.Message{}, err
	}
	if !member {
		return models.Message{}, ErrForbidden
	}
	return s.SoftDeleteMessage(ctx, messageID, userIDs)
}

// IsMember reports whether userID belongs to the conversation.
func (s *MessageService) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return false, mapStoreErr(err)
	}
	return conv.HasMember(userID), nil
}
