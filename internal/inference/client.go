package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"message-service/internal/observability"
)

// ErrUnavailable is returned while the circuit breaker rejects calls.
var ErrUnavailable = errors.New("inference gateway unavailable")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation history sent to the model.
type Turn struct {
	Role    Role
	Content string
}

type CompletionRequest struct {
	System    string
	History   []Turn
	Prompt    string
	MaxTokens int
}

type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	BreakerFailures  uint32
	BreakerOpenDelay time.Duration
}

// Client talks to an OpenAI compatible chat completion endpoint.
type Client struct {
	api     *openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inference",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		breaker: breaker,
		logger:  logger,
	}
}

// Complete returns the content of the first choice, or "" when the provider returned none.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, span := otel.Tracer("message-service/inference").Start(ctx, "inference.complete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.history_turns", len(req.History)),
	)

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     c.model,
			Messages:  BuildMessages(req),
			MaxTokens: req.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ObserveInference(outcome, time.Since(start))
		c.logger.Warnw("chat completion failed", "model", c.model, "outcome", outcome, "error", err)
		return "", err
	}

	observability.ObserveInference("ok", time.Since(start))
	return out.(string), nil
}

// BuildMessages lays out the system instruction, the history and the prompt as the final user turn.
func BuildMessages(req CompletionRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(RoleSystem), Content: req.System})
	}
	for _, turn := range req.History {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(turn.Role), Content: turn.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: string(RoleUser), Content: req.Prompt})
	return msgs
}
