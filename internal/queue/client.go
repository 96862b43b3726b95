package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/opshift/ragrelay/internal/config"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// RecordTraffic captures one webhook exchange after the fact. It is
// fire-and-forget: enqueue failures are logged and swallowed so the
// delivery or callback path is never held up by bookkeeping.
func (c *Client) RecordTraffic(tenantID uuid.UUID, direction, endpoint string, statusCode int, detail string) {
	payload := TrafficCapturePayload{
		TenantID:   tenantID.String(),
		Direction:  direction,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Detail:     detail,
	}
	if err := c.enqueue(TypeTrafficCapture, payload, asynq.Queue("low"), asynq.MaxRetry(2)); err != nil {
		slog.Warn("traffic capture enqueue failed", "error", err, "endpoint", endpoint)
	}
}

func (c *Client) enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.Enqueue(task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
