// Package events publishes link activity to the message broker feeding
// the analytics pipeline.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const clickQueue = "link.clicks"

// ClickEvent is the wire format consumed by the analytics worker.
type ClickEvent struct {
	ShortCode  string    `json:"short_code"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher sends click events over AMQP.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher connects to the broker and declares the click queue.
func NewPublisher(url string) (*Publisher, error) {
	const op = "adapter.events.NewPublisher"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect to broker: %w", op, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: failed to open channel: %w", op, err)
	}

	if _, err := channel.QueueDeclare(clickQueue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: failed to declare queue: %w", op, err)
	}

	return &Publisher{
		conn:    conn,
		channel: channel,
	}, nil
}

// PublishClick enqueues one click event.
func (p *Publisher) PublishClick(ctx context.Context, shortCode string, occurredAt time.Time) error {
	const op = "adapter.events.Publisher.PublishClick"

	body, err := json.Marshal(ClickEvent{
		ShortCode:  shortCode,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return fmt.Errorf("%s: failed to marshal event: %w", op, err)
	}

	err = p.channel.PublishWithContext(ctx, "", clickQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%s: failed to publish event: %w", op, err)
	}

	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	const op = "adapter.events.Publisher.Close"

	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("%s: failed to close channel: %w", op, err)
	}

	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("%s: failed to close connection: %w", op, err)
	}

	return nil
}
