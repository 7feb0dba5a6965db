package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"message-service/internal/observability"
	"message-service/internal/telemetry"
)

const (
	modeAMQP = "amqp"
	modeNoop = "noop"

	publishTimeout = 5 * time.Second
)

// Publisher publishes message and audit events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher connects to RabbitMQ and declares the exchange. Any failure
// yields a noop publisher so the service keeps serving without a broker.
func NewPublisher(amqpURL, exchange string, logger *zap.SugaredLogger) Publisher {
	if amqpURL == "" {
		logger.Infow("rabbitmq disabled, using noop", "reason", "empty amqp url")
		return noopPublisher{reason: "empty amqp url", logger: logger}
	}

	p, err := dial(amqpURL, exchange, logger)
	if err != nil {
		logger.Warnw("rabbitmq disabled, using noop", "exchange", exchange, "error", err)
		return noopPublisher{reason: err.Error(), logger: logger}
	}
	logger.Infow("rabbitmq connected", "exchange", exchange)
	return p
}

func dial(amqpURL, exchange string, logger *zap.SugaredLogger) (*amqpPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	// durable topic exchange, consumers bind message.* and audit.*
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.SugaredLogger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, publishing(routingKey, body, headers))
	if err != nil {
		observability.IncAMQPPublishError()
		p.logger.Warnw("rabbitmq publish failed", "routing_key", routingKey, "error", err)
	}
	return err
}

func publishing(routingKey string, body []byte, headers map[string]string) amqp.Publishing {
	table := amqp.Table{}
	for key, value := range headers {
		table[key] = value
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: headers["x-request-id"],
		Type:          routingKey,
		Timestamp:     time.Now().UTC(),
		Headers:       table,
		Body:          body,
	}
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	logger *zap.SugaredLogger
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any, _ map[string]string) error {
	p.logger.Debugw("rabbitmq noop publish", "routing_key", routingKey, "event", describe(event))
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

func describe(event any) string {
	switch e := event.(type) {
	case telemetry.AuditEnvelope:
		return e.EventType + ":" + e.Payload.Action
	case observability.EventEnvelope:
		return e.EventName
	default:
		return fmt.Sprintf("%T", event)
	}
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return modeAMQP
	case noopPublisher:
		return modeNoop
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
