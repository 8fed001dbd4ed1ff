package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body. Returning nil acks the message. An
// error rejects it without requeue unless the context was cancelled, in
// which case it is requeued for another worker.
type Handler func(ctx context.Context, body []byte) error

// Consumer handles RabbitMQ message consumption
type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	prefetch  int
}

// NewConsumer creates a consumer that processes up to prefetch messages at once
func NewConsumer(rabbitURL, queueName string, prefetch int) (*Consumer, error) {
	if prefetch < 1 {
		prefetch = 1
	}

	conn, err := connectWithRetry(rabbitURL, dialPolicy())
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareQueue(channel, queueName); err != nil {
		conn.Close()
		return nil, err
	}

	if err := channel.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	log.Printf("✓ Connected to RabbitMQ, queue: %s\n", queueName)

	return &Consumer{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		prefetch:  prefetch,
	}, nil
}

// Start consumes messages until ctx is cancelled or the broker closes the
// channel
func (c *Consumer) Start(ctx context.Context, handler Handler) error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Printf("[*] Waiting for messages on %s. To exit press CTRL+C\n", c.queueName)
	return consume(ctx, msgs, handler, c.prefetch)
}

func consume(ctx context.Context, msgs <-chan amqp.Delivery, handler Handler, workers int) error {
	var wg sync.WaitGroup
	closed := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						closed <- struct{}{}
						return
					}
					dispatch(ctx, msg, handler)
				}
			}
		}()
	}

	wg.Wait()
	if ctx.Err() == nil && len(closed) > 0 {
		return errors.New("delivery channel closed by broker")
	}
	return nil
}

func dispatch(ctx context.Context, msg amqp.Delivery, handler Handler) {
	log.Printf("\n[→] Received message %d\n", msg.DeliveryTag)

	err := handler(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Printf("[✗] Failed to ack message: %v\n", ackErr)
		}
	case ctx.Err() != nil:
		log.Printf("[!] Shutting down, requeueing message: %v\n", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			log.Printf("[✗] Failed to requeue message: %v\n", nackErr)
		}
	default:
		log.Printf("[✗] Error processing message: %v\n", err)
		// Reject and don't requeue to avoid infinite loop
		if nackErr := msg.Nack(false, false); nackErr != nil {
			log.Printf("[✗] Failed to reject message: %v\n", nackErr)
		}
	}
}

// Close closes the consumer connection
func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
