package workers

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/opshift/ragrelay/internal/dispatch"
)

// RetryScanWorker runs one pass of the pending-webhook retry queue when the
// scheduler's periodic task fires. Claiming is atomic in SQL, so an overdue
// scan overlapping the next tick cannot double-send.
type RetryScanWorker struct {
	worker *dispatch.RetryWorker
}

func NewRetryScanWorker(worker *dispatch.RetryWorker) *RetryScanWorker {
	return &RetryScanWorker{worker: worker}
}

func (w *RetryScanWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	return w.worker.RunOnce(ctx)
}
