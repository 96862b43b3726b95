package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opshift/ragrelay/internal/models"
)

// PgStore persists pending webhooks. It is both the dispatcher's failure
// sink and the retry worker's queue.
type PgStore struct {
	db          *pgxpool.Pool
	maxAttempts int
}

func NewPgStore(db *pgxpool.Pool, maxAttempts int) *PgStore {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &PgStore{db: db, maxAttempts: maxAttempts}
}

func (s *PgStore) Enqueue(ctx context.Context, d Delivery, payload []byte, nextRetryAt time.Time, lastErr string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO pending_webhooks
		   (tenant_id, target_url, payload, auth_scheme, ref_kind, ref_id, max_attempts, next_retry_at, last_error, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.TenantID, d.TargetURL, payload, d.AuthScheme, d.RefKind, d.RefID,
		s.maxAttempts, nextRetryAt, lastErr, models.WebhookStatusPending,
	)
	if err != nil {
		return fmt.Errorf("insert pending webhook: %w", err)
	}
	return nil
}

// ClaimDue flips due rows to retrying in one statement. SKIP LOCKED makes
// the scan-and-claim atomic across overlapping ticks.
func (s *PgStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.PendingWebhook, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE pending_webhooks SET status = $1
		 WHERE id IN (
		     SELECT id FROM pending_webhooks
		     WHERE status IN ($2, $1) AND next_retry_at <= $3
		     ORDER BY next_retry_at
		     LIMIT $4
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, tenant_id, target_url, payload, auth_scheme, ref_kind, ref_id,
		           attempt_count, max_attempts, next_retry_at, last_error, status, created_at`,
		models.WebhookStatusRetrying, models.WebhookStatusPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due webhooks: %w", err)
	}
	defer rows.Close()

	var claimed []models.PendingWebhook
	for rows.Next() {
		var w models.PendingWebhook
		if err := rows.Scan(&w.ID, &w.TenantID, &w.TargetURL, &w.Payload, &w.AuthScheme,
			&w.RefKind, &w.RefID, &w.AttemptCount, &w.MaxAttempts, &w.NextRetryAt,
			&w.LastError, &w.Status, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending webhook: %w", err)
		}
		claimed = append(claimed, w)
	}
	return claimed, rows.Err()
}

func (s *PgStore) MarkSucceeded(ctx context.Context, id uuid.UUID, attemptCount int) error {
	_, err := s.db.Exec(ctx,
		"UPDATE pending_webhooks SET status = $1, attempt_count = $2, last_error = '' WHERE id = $3",
		models.WebhookStatusSucceeded, attemptCount, id,
	)
	return err
}

func (s *PgStore) Reschedule(ctx context.Context, id uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE pending_webhooks
		 SET status = $1, attempt_count = $2, next_retry_at = $3, last_error = $4
		 WHERE id = $5`,
		models.WebhookStatusPending, attemptCount, nextRetryAt, lastErr, id,
	)
	return err
}

// MarkExhausted terminates the row and surfaces the failure on the document
// or chat exchange it was carrying, so operators see it through normal
// status reads. No compensating action beyond that.
func (s *PgStore) MarkExhausted(ctx context.Context, row models.PendingWebhook, lastErr string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"UPDATE pending_webhooks SET status = $1, attempt_count = max_attempts, last_error = $2 WHERE id = $3",
		models.WebhookStatusFailed, lastErr, row.ID,
	)
	if err != nil {
		return fmt.Errorf("mark webhook failed: %w", err)
	}

	switch row.RefKind {
	case models.WebhookRefDocument:
		_, err = tx.Exec(ctx,
			"UPDATE documents SET status = $1, updated_at = now() WHERE id = $2 AND status NOT IN ($1, $3)",
			models.DocStatusFailed, row.RefID, models.DocStatusCompleted,
		)
	case models.WebhookRefChat:
		_, err = tx.Exec(ctx,
			"UPDATE chat_exchanges SET status = $1, updated_at = now() WHERE message_id = $2 AND status IN ($3, $4)",
			models.ChatStatusFailed, row.RefID, models.ChatStatusSent, models.ChatStatusAwaiting,
		)
	}
	if err != nil {
		return fmt.Errorf("mark %s failed: %w", row.RefKind, err)
	}

	return tx.Commit(ctx)
}
