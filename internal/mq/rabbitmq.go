package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/redmonkez12/loyalty-card/internal/logging"
)

var ErrChannelUnavailable = errors.New("rabbitmq channel not available")

const (
	maxConnectAttempts = 10
	maxRetryDelay      = 30 * time.Second
	publishTimeout     = 5 * time.Second
)

// RabbitMQ holds one connection and one channel used for publishing
type RabbitMQ struct {
	url    string
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *logging.Logger
	mu     sync.RWMutex
	closed bool
}

// Connect dials the broker, retrying with a growing delay
func Connect(ctx context.Context, url string, logger *logging.Logger) (*RabbitMQ, error) {
	mq := &RabbitMQ{url: url, logger: logger}

	retryDelay := time.Second
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		err := mq.connect()
		if err == nil {
			logger.Info("rabbitmq connected", "attempt", attempt)
			return mq, nil
		}

		logger.Warn("rabbitmq connection attempt failed",
			"attempt", attempt,
			"max_attempts", maxConnectAttempts,
			"retry_in", retryDelay.String(),
			"error", err,
		)

		if attempt == maxConnectAttempts {
			return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxConnectAttempts, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
			retryDelay = min(time.Duration(float64(retryDelay)*1.5), maxRetryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to rabbitmq")
}

func (mq *RabbitMQ) connect() error {
	conn, err := amqp.Dial(mq.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	mq.mu.Lock()
	mq.conn = conn
	mq.ch = ch
	mq.mu.Unlock()

	return nil
}

// DeclareTopicExchange creates a durable topic exchange if it does not exist
func (mq *RabbitMQ) DeclareTopicExchange(name string) error {
	mq.mu.RLock()
	ch := mq.ch
	mq.mu.RUnlock()

	if ch == nil {
		return ErrChannelUnavailable
	}

	if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", name, err)
	}
	return nil
}

// Publish sends a persistent JSON message
func (mq *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	mq.mu.RLock()
	ch := mq.ch
	mq.mu.RUnlock()

	if ch == nil {
		return ErrChannelUnavailable
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return ch.PublishWithContext(
		publishCtx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

func (mq *RabbitMQ) Close() {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return
	}
	mq.closed = true

	if mq.ch != nil {
		_ = mq.ch.Close()
	}
	if mq.conn != nil {
		_ = mq.conn.Close()
	}

	mq.logger.Info("rabbitmq connection closed")
}
