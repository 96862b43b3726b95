package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opshift/ragrelay/internal/queue"
)

// TrafficWorker persists captured webhook traffic rows.
type TrafficWorker struct {
	db *pgxpool.Pool
}

func NewTrafficWorker(db *pgxpool.Pool) *TrafficWorker {
	return &TrafficWorker{db: db}
}

func (w *TrafficWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p queue.TrafficCapturePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode traffic payload: %w", err)
	}

	_, err := w.db.Exec(ctx,
		`INSERT INTO webhook_traffic (tenant_id, direction, endpoint, status_code, detail)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.TenantID, p.Direction, p.Endpoint, p.StatusCode, p.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert traffic row: %w", err)
	}
	return nil
}
