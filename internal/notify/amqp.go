// ABOUTME: AMQP emitter publishing assignment envelopes to a topic exchange
// ABOUTME: Event kinds double as routing keys; messages are persistent JSON

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/relaywise/supportd/internal/store"
)

// AMQPEmitter publishes envelopes to a RabbitMQ topic exchange.
// The external broadcast layer binds queues by routing key
// (conversation.assigned, conversation.transferred, conversation.queued).
type AMQPEmitter struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewAMQPEmitter connects to the broker and declares the topic exchange.
func NewAMQPEmitter(url, exchange string, logger *slog.Logger) (*AMQPEmitter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}

	return &AMQPEmitter{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("component", "amqp-emitter"),
	}, nil
}

// publish marshals and sends one envelope with its kind as routing key
func (e *AMQPEmitter) publish(ctx context.Context, env Envelope) error {
	ch, err := e.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	err = ch.PublishWithContext(
		ctx, e.exchange, string(env.Meta.Kind), false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     env.Meta.ID,
			CorrelationId: env.Meta.CorrelationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", env.Meta.Kind, err)
	}

	e.logger.Debug("published", "key", env.Meta.Kind, "exchange", e.exchange, "event_id", env.Meta.ID)
	return nil
}

// EmitAssignment publishes an assigned or transferred event
func (e *AMQPEmitter) EmitAssignment(ctx context.Context, conv *store.Conversation, agent *store.Agent, kind Kind) error {
	return e.publish(ctx, NewAssignmentEnvelope(conv, agent, kind))
}

// EmitQueued publishes a queued event
func (e *AMQPEmitter) EmitQueued(ctx context.Context, conv *store.Conversation) error {
	return e.publish(ctx, NewQueuedEnvelope(conv))
}

// Close closes the broker connection
func (e *AMQPEmitter) Close() error {
	return e.conn.Close()
}

var _ Emitter = (*AMQPEmitter)(nil)
