package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"github.com/vaidashi/quote-service/pkg/logger"
)

// Channel is the subset of *amqp.Channel the publisher needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes persistent JSON messages to a durable topic exchange
type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	logger   logger.Logger
	mu       sync.Mutex
}

// Config holds RabbitMQ connection details
type Config struct {
	URL      string
	Exchange string
}

// NewPublisher dials the broker, opens a channel and declares the exchange
func NewPublisher(cfg Config, logger logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewPublisherWithChannel(ch, cfg.Exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisherWithChannel declares the exchange on an already open channel
func NewPublisherWithChannel(ch Channel, exchange string, logger logger.Logger) (*Publisher, error) {
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	logger.Info("RabbitMQ publisher ready", "exchange", exchange)

	return &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish sends body with the given routing key. amqp channels are not safe
// for concurrent publishing, so calls are serialized.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.Publish(
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Headers:      table,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("Message published to RabbitMQ", "exchange", p.exchange, "routingKey", routingKey)
	return nil
}

// Close closes the channel and the connection
func (p *Publisher) Close() error {
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing RabbitMQ publisher: %v", errs)
	}
	return nil
}
