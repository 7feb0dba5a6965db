package service

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"message-service/internal/inference"
	"message-service/internal/observability"
	"message-service/internal/presence"
	"message-service/internal/repositories"
	"message-service/internal/storage"
)

// Completer produces an assistant reply for a prompt and its history.
type Completer interface {
	Complete(ctx context.Context, req inference.CompletionRequest) (string, error)
}

// UploadSigner issues client-side upload credentials.
type UploadSigner interface {
	PresignUpload(ctx context.Context, key string, maxBytes int64, ttl time.Duration) (storage.UploadCredential, error)
}

// Uploader stores attachments received by the service itself.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type Deps struct {
	Messages      repositories.MessageRepository
	Conversations repositories.ConversationRepository
	Users         repositories.UserRepository
	Completer     Completer
	Signer        UploadSigner
	Uploader      Uploader
	Events        EventPublisher
	Presence      presence.Store
}

type Options struct {
	SystemPrompt    string
	FallbackReply   string
	MaxTokens       int
	HistoryLimit    int
	UploadKeyPrefix string
	UploadMaxBytes  int64
	UploadTTL       time.Duration
	AllowedTypes    []string
}

func (o Options) withDefaults() Options {
	if o.SystemPrompt == "" {
		o.SystemPrompt = "You are a helpful AI chatbot."
	}
	if o.FallbackReply == "" {
		o.FallbackReply = "AI is busy right now, please try again."
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2000
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	if o.UploadKeyPrefix == "" {
		o.UploadKeyPrefix = "conversa"
	}
	if o.UploadMaxBytes <= 0 {
		o.UploadMaxBytes = 5 * 1024 * 1024
	}
	if o.UploadTTL <= 0 {
		o.UploadTTL = 15 * time.Minute
	}
	return o
}

// MessageService owns message creation, listing, soft deletion, uploads and bot replies.
type MessageService struct {
	messages      repositories.MessageRepository
	conversations repositories.ConversationRepository
	users         repositories.UserRepository
	completer     Completer
	signer        UploadSigner
	uploader      Uploader
	events        EventPublisher
	presence      presence.Store
	opts          Options
	now           func() time.Time
	logger        *zap.SugaredLogger
}

func NewMessageService(deps Deps, opts Options, logger *zap.SugaredLogger) *MessageService {
	if deps.Presence == nil {
		deps.Presence = presence.NewLocalStore()
	}
	return &MessageService{
		messages:      deps.Messages,
		conversations: deps.Conversations,
		users:         deps.Users,
		completer:     deps.Completer,
		signer:        deps.Signer,
		uploader:      deps.Uploader,
		events:        deps.Events,
		presence:      deps.Presence,
		opts:          opts.withDefaults(),
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger,
	}
}

// publish never fails the caller; the write it describes already happened.
func (s *MessageService) publish(ctx context.Context, name string, payload any) {
	if s.events == nil {
		return
	}
	headers := observability.BuildHeaders("", observability.TraceIDFromContext(ctx))
	if err := s.events.Publish(ctx, name, observability.NewMessageEvent(name, payload), headers); err != nil {
		s.logger.Warnw("event publish failed", "event", name, "error", err)
	}
}
