package rabbit

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/opshift/ragrelay/internal/dispatch"
)

// Publisher pushes chat processing requests onto the request queue. It
// satisfies chat.RequestPublisher.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) *Publisher {
	return &Publisher{conn: conn, exchange: exchange}
}

func (p *Publisher) PublishRequest(ctx context.Context, req dispatch.ProcessingRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}
	return publish(ctx, p.conn, p.exchange, requestKey, body)
}
