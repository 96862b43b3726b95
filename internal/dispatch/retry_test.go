package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opshift/ragrelay/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRetryStore struct {
	due         []models.PendingWebhook
	succeeded   []uuid.UUID
	rescheduled []time.Time
	attempts    []int
	exhausted   []models.PendingWebhook
}

func (f *fakeRetryStore) ClaimDue(_ context.Context, _ time.Time, _ int) ([]models.PendingWebhook, error) {
	due := f.due
	f.due = nil
	return due, nil
}

func (f *fakeRetryStore) MarkSucceeded(_ context.Context, id uuid.UUID, attemptCount int) error {
	f.succeeded = append(f.succeeded, id)
	f.attempts = append(f.attempts, attemptCount)
	return nil
}

func (f *fakeRetryStore) Reschedule(_ context.Context, _ uuid.UUID, attemptCount int, nextRetryAt time.Time, _ string) error {
	f.rescheduled = append(f.rescheduled, nextRetryAt)
	f.attempts = append(f.attempts, attemptCount)
	return nil
}

func (f *fakeRetryStore) MarkExhausted(_ context.Context, row models.PendingWebhook, _ string) error {
	f.exhausted = append(f.exhausted, row)
	return nil
}

type fakeTokens struct{ token string }

func (f *fakeTokens) GetOrCreate(_ context.Context, _ uuid.UUID) (string, error) {
	return f.token, nil
}

func pendingRow(attempts int) models.PendingWebhook {
	return models.PendingWebhook{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		TargetURL:    "http://processor.example/webhook",
		Payload:      []byte(`{"action":"document-processing"}`),
		AuthScheme:   SchemeBearer,
		RefKind:      models.WebhookRefDocument,
		RefID:        uuid.New(),
		AttemptCount: attempts,
		MaxAttempts:  3,
		Status:       models.WebhookStatusPending,
	}
}

func newTestWorker(store RetryStore, attempt attemptFunc, now time.Time) *RetryWorker {
	return &RetryWorker{
		store:   store,
		tokens:  &fakeTokens{token: "cbt_test"},
		attempt: attempt,
		now:     func() time.Time { return now },
	}
}

func TestRetryDelay_Schedule(t *testing.T) {
	require.Equal(t, time.Minute, RetryDelay(1))
	require.Equal(t, 5*time.Minute, RetryDelay(2))
	require.Equal(t, 15*time.Minute, RetryDelay(3))
	// Clamped at both ends.
	require.Equal(t, time.Minute, RetryDelay(0))
	require.Equal(t, 15*time.Minute, RetryDelay(9))
}

func TestRetryWorker_SuccessMarksSucceeded(t *testing.T) {
	store := &fakeRetryStore{due: []models.PendingWebhook{pendingRow(0)}}
	w := newTestWorker(store, func(_ context.Context, _, _, token string, _ uuid.UUID, _ []byte) (int, error) {
		require.Equal(t, "cbt_test", token)
		return 200, nil
	}, time.Now())

	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, store.succeeded, 1)
	require.Equal(t, []int{1}, store.attempts)
	require.Empty(t, store.rescheduled)
	require.Empty(t, store.exhausted)
}

func TestRetryWorker_FailureReschedulesWithBackoff(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fail := func(context.Context, string, string, string, uuid.UUID, []byte) (int, error) {
		return 503, errors.New("status 503")
	}

	// First retry fails: attempt_count 0 -> 1, next attempt is #2, waits 5m.
	store := &fakeRetryStore{due: []models.PendingWebhook{pendingRow(0)}}
	w := newTestWorker(store, fail, now)
	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, []int{1}, store.attempts)
	require.Equal(t, []time.Time{now.Add(5 * time.Minute)}, store.rescheduled)

	// Second retry fails: next attempt is #3, waits 15m.
	store = &fakeRetryStore{due: []models.PendingWebhook{pendingRow(1)}}
	w = newTestWorker(store, fail, now)
	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, []int{2}, store.attempts)
	require.Equal(t, []time.Time{now.Add(15 * time.Minute)}, store.rescheduled)
}

func TestRetryWorker_ThirdFailureExhausts(t *testing.T) {
	row := pendingRow(2)
	store := &fakeRetryStore{due: []models.PendingWebhook{row}}
	w := newTestWorker(store, func(context.Context, string, string, string, uuid.UUID, []byte) (int, error) {
		return 0, errors.New("connection refused")
	}, time.Now())

	require.NoError(t, w.RunOnce(context.Background()))
	require.Empty(t, store.rescheduled, "exhausted row must not be rescheduled")
	require.Len(t, store.exhausted, 1)
	require.Equal(t, row.ID, store.exhausted[0].ID)
	require.Equal(t, models.WebhookRefDocument, store.exhausted[0].RefKind)
}

func TestRetryWorker_AlwaysFailingAccumulatesExactlyThreeAttempts(t *testing.T) {
	row := pendingRow(0)
	calls := 0
	fail := func(context.Context, string, string, string, uuid.UUID, []byte) (int, error) {
		calls++
		return 500, errors.New("status 500")
	}

	now := time.Now()
	store := &fakeRetryStore{}
	w := newTestWorker(store, fail, now)

	// Drive the row through its whole life: each tick re-offers it with the
	// attempt count the previous Reschedule recorded.
	for attempts := 0; attempts < row.MaxAttempts; attempts++ {
		row.AttemptCount = attempts
		store.due = []models.PendingWebhook{row}
		require.NoError(t, w.RunOnce(context.Background()))
	}

	require.Equal(t, 3, calls)
	require.Len(t, store.exhausted, 1)

	// Once failed, the worker never claims it again; nothing due.
	store.due = nil
	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, 3, calls)
}
