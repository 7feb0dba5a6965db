package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"message-service/internal/inference"
	"message-service/internal/models"
	"message-service/internal/observability"
)

type BotPrompt struct {
	ConversationID string
	SenderID       string
	Prompt         string
}

// BotExchange is the stored prompt and the bot's answer to it.
type BotExchange struct {
	Prompt models.Message
	Reply  models.Message
}

// GenerateBotReply asks the model for a reply, then stores the prompt and the reply.
// Nothing is written when the model call fails. A failure while storing the reply
// leaves the prompt in place.
func (s *MessageService) GenerateBotReply(ctx context.Context, in BotPrompt) (BotExchange, error) {
	if strings.TrimSpace(in.ConversationID) == "" || strings.TrimSpace(in.SenderID) == "" || strings.TrimSpace(in.Prompt) == "" {
		return BotExchange{}, validationError("conversationId, sender and prompt are required")
	}
	if s.completer == nil {
		return BotExchange{}, fmt.Errorf("%w: inference is not configured", ErrUpstreamUnavailable)
	}

	conv, err := s.conversations.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return BotExchange{}, mapStoreErr(err)
	}
	others := conv.OtherMembers(in.SenderID)
	if len(conv.Members) != 2 || !conv.HasMember(in.SenderID) || len(others) != 1 {
		return BotExchange{}, ErrUnsupportedConversation
	}
	botID := others[0]

	recent, err := s.messages.ListRecent(ctx, conv.ID, s.opts.HistoryLimit)
	if err != nil {
		return BotExchange{}, fmt.Errorf("load history: %w", mapStoreErr(err))
	}

	reply, err := s.completer.Complete(ctx, inference.CompletionRequest{
		System:    s.opts.SystemPrompt,
		History:   BuildHistory(recent, in.SenderID),
		Prompt:    in.Prompt,
		MaxTokens: s.opts.MaxTokens,
	})
	if err != nil {
		observability.IncBotReply("upstream_error")
		return BotExchange{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if strings.TrimSpace(reply) == "" {
		observability.IncBotReply("fallback")
		reply = s.opts.FallbackReply
	}

	promptAt := s.now()
	prompt, err := s.messages.CreateMessage(ctx, models.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Text:           in.Prompt,
		SeenBy:         []models.SeenMarker{{User: botID, SeenAt: promptAt}},
		DeletedFrom:    []string{},
		CreatedAt:      promptAt,
	})
	if err != nil {
		observability.IncBotReply("store_error")
		return BotExchange{}, fmt.Errorf("store prompt: %w", mapStoreErr(err))
	}
	observability.IncMessageCreated("bot")

	replyAt := s.now()
	if !replyAt.After(promptAt) {
		replyAt = promptAt.Add(time.Millisecond)
	}
	botMsg, err := s.messages.CreateMessage(ctx, models.Message{
		ConversationID: conv.ID,
		SenderID:       botID,
		Text:           reply,
		SeenBy:         []models.SeenMarker{{User: in.SenderID, SeenAt: replyAt}},
		DeletedFrom:    []string{},
		CreatedAt:      replyAt,
	})
	if err != nil {
		observability.IncBotReply("store_error")
		s.logger.Warnw("bot reply not stored, prompt kept", "conversation_id", conv.ID, "prompt_id", prompt.ID, "error", err)
		return BotExchange{}, fmt.Errorf("store reply: %w", mapStoreErr(err))
	}
	observability.IncMessageCreated("bot")

	if err := s.conversations.RecordMessage(ctx, conv.ID, botMsg.Text, replyAt, nil); err != nil {
		observability.IncBotReply("store_error")
		return BotExchange{}, fmt.Errorf("update conversation: %w", mapStoreErr(err))
	}

	observability.IncBotReply("ok")
	s.publish(ctx, observability.EventBotReplied, map[string]any{
		"conversationId": conv.ID,
		"promptId":       prompt.ID,
		"replyId":        botMsg.ID,
	})
	return BotExchange{Prompt: prompt, Reply: botMsg}, nil
}
