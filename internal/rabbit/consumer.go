package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/opshift/ragrelay/internal/chat"
	"github.com/opshift/ragrelay/internal/models"
	"github.com/opshift/ragrelay/internal/pipeline"
)

// Response is the processor's answer arriving on chat.responses.
type Response struct {
	MessageID        string          `json:"message_id"`
	ConversationID   string          `json:"conversation_id"`
	TenantID         string          `json:"tenant_id"`
	AIResponse       string          `json:"ai_response"`
	Sources          json.RawMessage `json:"sources"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}

type Resolver interface {
	ResolveFromQueue(ctx context.Context, messageID, tenantID uuid.UUID, res chat.Resolution) (*models.ChatExchange, error)
}

// ResponseConsumer drains chat.responses and resolves exchanges. Conflicts
// and unknown ids are acked away (re-delivery cannot fix them); transient
// errors are nacked for redelivery.
type ResponseConsumer struct {
	conn     *amqp.Connection
	resolver Resolver
	exchange string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewResponseConsumer(conn *amqp.Connection, resolver Resolver, exchange string) *ResponseConsumer {
	return &ResponseConsumer{conn: conn, resolver: resolver, exchange: exchange}
}

func (c *ResponseConsumer) Start(ctx context.Context) error {
	if c.cancel != nil {
		return nil
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	ch, err := c.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open consumer channel: %w", err)
	}

	if err := declareTopology(ch, c.exchange); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(ResponseQueue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume %s: %w", ResponseQueue, err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-consumerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				c.handle(consumerCtx, d)
			}
		}
	}()

	return nil
}

func (c *ResponseConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var resp Response
	if err := json.Unmarshal(d.Body, &resp); err != nil {
		slog.Error("decode chat response", "error", err)
		_ = d.Nack(false, false)
		return
	}

	messageID, err := uuid.Parse(resp.MessageID)
	if err != nil {
		slog.Error("chat response has invalid message_id", "message_id", resp.MessageID)
		_ = d.Nack(false, false)
		return
	}
	tenantID, err := uuid.Parse(resp.TenantID)
	if err != nil {
		slog.Error("chat response has invalid tenant_id", "message_id", resp.MessageID)
		_ = d.Nack(false, false)
		return
	}
	conversationID, _ := uuid.Parse(resp.ConversationID)

	_, err = c.resolver.ResolveFromQueue(ctx, messageID, tenantID, chat.Resolution{
		ConversationID:   conversationID,
		AIResponse:       resp.AIResponse,
		Sources:          resp.Sources,
		ProcessingTimeMs: resp.ProcessingTimeMs,
	})
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, pipeline.ErrConflict),
		errors.Is(err, pipeline.ErrNotFound),
		errors.Is(err, pipeline.ErrUnauthorized):
		// Terminal for this delivery; redelivering cannot change the outcome.
		slog.Warn("chat response not applicable", "message_id", messageID, "error", err)
		_ = d.Ack(false)
	default:
		slog.Error("resolve chat response", "message_id", messageID, "error", err)
		_ = d.Nack(false, true)
	}
}

func (c *ResponseConsumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
