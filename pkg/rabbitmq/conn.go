package rabbitmq

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/audioscribe/pipeline/pkg/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// dial is swapped in tests
var dial = amqp.Dial

// dialPolicy retries the broker dial every 5s, 10 times in all
func dialPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     10,
		InitialInterval: 5 * time.Second,
		MaxInterval:     5 * time.Second,
		Multiplier:      1,
		Retryable:       func(error) bool { return true },
	}
}

// connectWithRetry attempts to connect to RabbitMQ with retries
func connectWithRetry(url string, policy retry.Policy) (*amqp.Connection, error) {
	var conn *amqp.Connection
	err := policy.Do(context.Background(), "RabbitMQ connect", func() error {
		c, err := dial(url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect after %d attempts: %w", policy.MaxAttempts, err)
	}

	log.Println("✓ Connected to RabbitMQ")
	return conn, nil
}

func declareQueue(channel *amqp.Channel, name string) error {
	_, err := channel.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}
