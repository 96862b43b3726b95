// Package rabbit is the queue transport variant of the chat protocol:
// requests go out on chat.requests, responses come back on chat.responses.
// Both queues are durable and bound to a topic exchange.
package rabbit

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RequestQueue  = "chat.requests"
	ResponseQueue = "chat.responses"

	requestKey  = "chat.request"
	responseKey = "chat.response"
)

func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

// declareTopology sets up the exchange and both queues idempotently.
func declareTopology(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	for queue, key := range map[string]string{
		RequestQueue:  requestKey,
		ResponseQueue: responseKey,
	} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

func publish(ctx context.Context, conn *amqp.Connection, exchange, routingKey string, body []byte) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch, exchange); err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}
	return nil
}
