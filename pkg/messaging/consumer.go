package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leadflow/leadflow-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Tail follows an exchange through a throwaway exclusive queue. Nothing is
// requeued: a tail only observes traffic, it never owns it.
type Tail struct {
	rmq       *RabbitMQ
	exchange  string
	queueName string
	logger    *logger.Logger
}

// NewTail declares the exchange and binds a fresh queue for each pattern.
func NewTail(rmq *RabbitMQ, exchange string, patterns []string, log *logger.Logger) (*Tail, error) {
	if err := rmq.DeclareExchange(exchange); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := rmq.DeclareTailQueue()
	if err != nil {
		return nil, fmt.Errorf("failed to declare tail queue: %w", err)
	}

	if len(patterns) == 0 {
		patterns = []string{"#"}
	}
	for _, p := range patterns {
		if err := rmq.BindQueue(q.Name, exchange, p); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", p, err)
		}
	}

	return &Tail{rmq: rmq, exchange: exchange, queueName: q.Name, logger: log}, nil
}

// Run delivers events to handler until ctx is cancelled or the channel closes.
func (t *Tail) Run(ctx context.Context, handler MessageHandler) error {
	msgs, err := t.rmq.Channel().Consume(
		t.queueName, // queue
		"",          // consumer tag (auto-generated)
		true,        // auto-ack
		true,        // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	t.logger.Info().Str("exchange", t.exchange).Msg("tailing events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			t.dispatch(ctx, msg, handler)
		}
	}
}

func (t *Tail) dispatch(ctx context.Context, msg amqp.Delivery, handler MessageHandler) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		t.logger.Warn().Err(err).Str("routing_key", msg.RoutingKey).Msg("skipping malformed event")
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)
	if err := handler(ctx, &event); err != nil {
		t.logger.Error().Err(err).Str("event_type", event.Type).Msg("event handler failed")
	}
}
