package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opshift/ragrelay/internal/models"
)

// retryDelays is the fixed backoff schedule: attempt n waits retryDelays[n-1]
// after the previous failure. Three attempts, then terminal.
var retryDelays = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// RetryDelay returns the wait before retry attempt n (1-based).
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryDelays) {
		attempt = len(retryDelays)
	}
	return retryDelays[attempt-1]
}

// RetryStore is the durable pending-webhook queue. ClaimDue must be atomic:
// two overlapping worker ticks never both claim the same row.
type RetryStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.PendingWebhook, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, attemptCount int) error
	Reschedule(ctx context.Context, id uuid.UUID, attemptCount int, nextRetryAt time.Time, lastErr string) error
	MarkExhausted(ctx context.Context, row models.PendingWebhook, lastErr string) error
}

// TokenSource re-derives the tenant's callback token at retry time so
// secrets are not persisted alongside the queued payload twice.
type TokenSource interface {
	GetOrCreate(ctx context.Context, tenantID uuid.UUID) (string, error)
}

type attemptFunc func(ctx context.Context, targetURL, scheme, token string, tenantID uuid.UUID, body []byte) (int, error)

// RetryWorker drains due pending webhooks on a fixed interval. It runs as a
// single periodic task, not per-tenant workers; row claiming keeps
// concurrent ticks from double-sending.
type RetryWorker struct {
	store   RetryStore
	tokens  TokenSource
	attempt attemptFunc
	now     func() time.Time
}

func NewRetryWorker(store RetryStore, tokens TokenSource, d *Dispatcher) *RetryWorker {
	return &RetryWorker{
		store:   store,
		tokens:  tokens,
		attempt: d.AttemptRaw,
		now:     time.Now,
	}
}

// Run ticks until the context is cancelled.
func (w *RetryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				slog.Error("retry scan failed", "error", err)
			}
		}
	}
}

// RunOnce claims every due row and re-attempts its delivery directly,
// bypassing the dispatcher's enqueue path.
func (w *RetryWorker) RunOnce(ctx context.Context) error {
	rows, err := w.store.ClaimDue(ctx, w.now(), 100)
	if err != nil {
		return fmt.Errorf("claim due webhooks: %w", err)
	}

	for _, row := range rows {
		w.process(ctx, row)
	}
	return nil
}

func (w *RetryWorker) process(ctx context.Context, row models.PendingWebhook) {
	token, err := w.tokens.GetOrCreate(ctx, row.TenantID)
	if err != nil {
		// Token store down: leave the row claimed for the next tick's
		// schedule rather than burning an attempt.
		slog.Error("token lookup for retry failed", "error", err, "webhook_id", row.ID)
		if err := w.store.Reschedule(ctx, row.ID, row.AttemptCount, w.now().Add(RetryDelay(row.AttemptCount+1)), "token lookup failed: "+err.Error()); err != nil {
			slog.Error("reschedule pending webhook", "error", err, "webhook_id", row.ID)
		}
		return
	}

	attempts := row.AttemptCount + 1
	status, sendErr := w.attempt(ctx, row.TargetURL, row.AuthScheme, token, row.TenantID, row.Payload)
	if sendErr == nil {
		slog.Info("pending webhook delivered", "webhook_id", row.ID, "attempt", attempts, "status", status)
		if err := w.store.MarkSucceeded(ctx, row.ID, attempts); err != nil {
			slog.Error("mark webhook succeeded", "error", err, "webhook_id", row.ID)
		}
		return
	}

	if attempts >= row.MaxAttempts {
		slog.Warn("pending webhook exhausted retries",
			"webhook_id", row.ID, "attempts", attempts,
			"ref_kind", row.RefKind, "ref_id", row.RefID, "error", sendErr)
		if err := w.store.MarkExhausted(ctx, row, sendErr.Error()); err != nil {
			slog.Error("mark webhook exhausted", "error", err, "webhook_id", row.ID)
		}
		return
	}

	next := w.now().Add(RetryDelay(attempts + 1))
	slog.Warn("pending webhook retry failed",
		"webhook_id", row.ID, "attempt", attempts, "next_retry_at", next, "error", sendErr)
	if err := w.store.Reschedule(ctx, row.ID, attempts, next, sendErr.Error()); err != nil {
		slog.Error("reschedule pending webhook", "error", err, "webhook_id", row.ID)
	}
}
