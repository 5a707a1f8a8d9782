// Package notify publishes listing status-change events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"mls_ingest/models"
)

// Publisher delivers status changes. Delivery is best effort; callers log errors.
type Publisher interface {
	PublishStatusChange(ctx context.Context, change models.StatusChange) error
}

const publishTimeout = 10 * time.Second

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	slog.Info("Notify: connected", "exchange", exchange)
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// RoutingKey is listing.status.<from>.<to>.
func RoutingKey(c models.StatusChange) string {
	return fmt.Sprintf("listing.status.%s.%s", c.From, c.To)
}

func (p *AMQPPublisher) PublishStatusChange(ctx context.Context, change models.StatusChange) error {
	msg, err := newPublishing(change)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(change), false, false, msg); err != nil {
		return fmt.Errorf("publish status change %s: %w", change.ListingKey, err)
	}
	return nil
}

func newPublishing(change models.StatusChange) (amqp.Publishing, error) {
	body, err := json.Marshal(change)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal status change: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         "listing.status_changed",
	}, nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.ch != nil {
		firstErr = p.ch.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
