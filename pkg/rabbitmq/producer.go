package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer publishes JSON messages to durable queues
type Producer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex // amqp channels are not safe for concurrent publishing
	queues  map[string]bool
}

// NewProducer connects and declares every queue it will publish to
func NewProducer(rabbitURL string, queues ...string) (*Producer, error) {
	conn, err := connectWithRetry(rabbitURL, dialPolicy())
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	declared := make(map[string]bool, len(queues))
	for _, q := range queues {
		if err := declareQueue(channel, q); err != nil {
			conn.Close()
			return nil, err
		}
		declared[q] = true
	}

	log.Printf("✓ Connected to RabbitMQ, publishing to: %v\n", queues)

	return &Producer{
		conn:    conn,
		channel: channel,
		queues:  declared,
	}, nil
}

// Publish marshals message and publishes it persistently to queue
func (p *Producer) Publish(ctx context.Context, queue string, message any) error {
	if !p.queues[queue] {
		return fmt.Errorf("queue %s was not declared by this producer", queue)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	log.Printf("    [↑] Published to queue %s (%d bytes)\n", queue, len(body))
	return nil
}

// Close closes the producer connection
func (p *Producer) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
