package service

import (
	"context"
	"fmt"
	"strings"

	"message-service/internal/models"
	"message-service/internal/observability"
)

// RealtimeMessage is a message pushed through an open conversation socket.
// ReceiverInside overrides the presence store when the client knows better.
type RealtimeMessage struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Text           string
	ImageURL       string
	ReceiverInside *bool
}

type RealtimeDelete struct {
	ConversationID string
	MessageID      string
	DeleteFrom     []string
}

// DispatchRealtime stores a socket message. Receivers inside the room get a seen marker,
// the others get their unread counter bumped. There is no bot gate on this path.
func (s *MessageService) DispatchRealtime(ctx context.Context, in RealtimeMessage) (models.Message, error) {
	if strings.TrimSpace(in.ConversationID) == "" || strings.TrimSpace(in.SenderID) == "" {
		return models.Message{}, validationError("conversationId and senderId are required")
	}
	if strings.TrimSpace(in.Text) == "" && strings.TrimSpace(in.ImageURL) == "" {
		return models.Message{}, validationError("text or imageUrl is required")
	}

	conv, err := s.conversations.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return models.Message{}, mapStoreErr(err)
	}
	if !conv.HasMember(in.SenderID) {
		return models.Message{}, ErrForbidden
	}

	receivers := conv.OtherMembers(in.SenderID)
	if in.ReceiverID != "" {
		if !conv.HasMember(in.ReceiverID) || in.ReceiverID == in.SenderID {
			return models.Message{}, validationError("receiverId is not a member of the conversation")
		}
		receivers = []string{in.ReceiverID}
	} else if in.ReceiverInside != nil {
		// the flag names a single receiver; only a one-to-one conversation implies who
		if len(receivers) != 1 {
			return models.Message{}, validationError("receiverId is required with isReceiverInsideChatRoom in group conversations")
		}
		in.ReceiverID = receivers[0]
	}

	now := s.now()
	seen := []models.SeenMarker{}
	unread := []string{}
	for _, receiver := range receivers {
		if s.receiverInside(ctx, conv.ID, receiver, in) {
			seen = append(seen, models.SeenMarker{User: receiver, SeenAt: now})
		} else {
			unread = append(unread, receiver)
		}
	}

	msg, err := s.messages.CreateMessage(ctx, models.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		ImageURL:       in.ImageURL,
		SeenBy:         seen,
		DeletedFrom:    []string{},
		CreatedAt:      now,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", mapStoreErr(err))
	}
	observability.IncMessageCreated("realtime")

	if err := s.conversations.RecordMessage(ctx, conv.ID, msg.Text, now, unread); err != nil {
		return models.Message{}, fmt.Errorf("update conversation: %w", mapStoreErr(err))
	}

	s.publish(ctx, observability.EventMessageCreated, msg)
	return msg, nil
}

func (s *MessageService) receiverInside(ctx context.Context, conversationID, receiverID string, in RealtimeMessage) bool {
	if in.ReceiverInside != nil && receiverID == in.ReceiverID {
		return *in.ReceiverInside
	}
	inside, err := s.presence.IsInside(ctx, conversationID, receiverID)
	if err != nil {
		s.logger.Warnw("presence lookup failed", "conversation_id", conversationID, "user_id", receiverID, "error", err)
		return false
	}
	return inside
}

// RetractRealtime soft deletes a message of the given conversation.
func (s *MessageService) RetractRealtime(ctx context.Context, in RealtimeDelete) (bool, error) {
	if strings.TrimSpace(in.MessageID) == "" {
		return false, validationError("messageId is required")
	}
	if in.ConversationID != "" {
		msg, err := s.messages.GetMessage(ctx, in.MessageID)
		if err != nil {
			return false, mapStoreErr(err)
		}
		if msg.ConversationID != in.ConversationID {
			return false, fmt.Errorf("%w: message %s is not in conversation %s", ErrNotFound, in.MessageID, in.ConversationID)
		}
	}
	if _, err := s.SoftDeleteMessage(ctx, in.MessageID, in.DeleteFrom); err != nil {
		return false, err
	}
	return true, nil
}
