package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opshift/ragrelay/internal/models"
)

// FailureSink absorbs deliveries that could not be completed. The caller of
// Send never sees a delivery failure; it lands here for backoff-scheduled
// retries instead.
type FailureSink interface {
	Enqueue(ctx context.Context, d Delivery, payload []byte, nextRetryAt time.Time, lastErr string) error
}

// TrafficRecorder captures webhook traffic after the fact. Implementations
// must never block or fail the delivery path.
type TrafficRecorder interface {
	RecordTraffic(tenantID uuid.UUID, direction, endpoint string, statusCode int, detail string)
}

type Sender interface {
	Send(ctx context.Context, d Delivery)
}

// Dispatcher sends outbound processing requests. Send enqueues onto an
// in-process channel and returns immediately; a background loop performs
// the HTTP POST with a bounded timeout and hands failures to the sink.
// Close persists anything still buffered as pending webhooks, so a
// shutdown never strands a document in processing with no retry row.
type Dispatcher struct {
	httpClient *http.Client
	failures   FailureSink
	traffic    TrafficRecorder
	deliveries chan Delivery
	firstDelay time.Duration

	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(failures FailureSink, traffic TrafficRecorder, timeout time.Duration) *Dispatcher {
	d := &Dispatcher{
		httpClient: &http.Client{Timeout: timeout},
		failures:   failures,
		traffic:    traffic,
		deliveries: make(chan Delivery, 1000),
		firstDelay: RetryDelay(1),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go d.processLoop()
	return d
}

// Send accepts the delivery for processing. It never reports delivery
// outcome to the caller; a full queue or a closed dispatcher degrades to
// an immediate pending webhook so nothing is dropped.
func (d *Dispatcher) Send(ctx context.Context, delivery Delivery) {
	select {
	case <-d.closed:
		d.queueRetry(context.WithoutCancel(ctx), delivery, "dispatcher closed")
		return
	default:
	}

	select {
	case d.deliveries <- delivery:
	default:
		slog.Warn("dispatch queue full, deferring to retry queue",
			"tenant_id", delivery.TenantID, "ref_kind", delivery.RefKind, "ref_id", delivery.RefID)
		d.queueRetry(context.WithoutCancel(ctx), delivery, "dispatch queue full")
	}
}

// Close stops intake, waits for the loop to exit, and flushes every
// undelivered entry to the failure sink. Idempotent.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	<-d.done
	// Catch sends that raced the close signal into the channel.
	d.drain()
}

func (d *Dispatcher) processLoop() {
	defer close(d.done)
	for {
		select {
		case <-d.closed:
			d.drain()
			return
		case delivery := <-d.deliveries:
			ctx := context.Background()
			status, err := d.Attempt(ctx, delivery)
			if err != nil {
				slog.Warn("webhook dispatch failed, queueing retry",
					"target", delivery.TargetURL, "tenant_id", delivery.TenantID,
					"status", status, "error", err)
				d.queueRetry(ctx, delivery, err.Error())
				continue
			}
			slog.Info("webhook dispatched",
				"target", delivery.TargetURL, "tenant_id", delivery.TenantID,
				"action", delivery.Payload.Action, "status", status)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case delivery := <-d.deliveries:
			d.queueRetry(context.Background(), delivery, "shutdown before dispatch")
		default:
			return
		}
	}
}

// Attempt performs one synchronous POST. The retry worker reuses it so
// retries never re-enter the failure sink by accident.
func (d *Dispatcher) Attempt(ctx context.Context, delivery Delivery) (int, error) {
	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	return d.AttemptRaw(ctx, delivery.TargetURL, delivery.AuthScheme, delivery.Token, delivery.TenantID, body)
}

func (d *Dispatcher) AttemptRaw(ctx context.Context, targetURL, scheme, token string, tenantID uuid.UUID, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	key, value := AuthHeader(scheme, token)
	req.Header.Set(key, value)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		// Timeouts and transport errors follow the same path as non-2xx.
		d.record(tenantID, targetURL, 0, err.Error())
		return 0, fmt.Errorf("post %s: %w", targetURL, err)
	}
	defer resp.Body.Close()

	d.record(tenantID, targetURL, resp.StatusCode, "")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("post %s: status %d", targetURL, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) queueRetry(ctx context.Context, delivery Delivery, lastErr string) {
	payload, err := json.Marshal(delivery.Payload)
	if err != nil {
		slog.Error("marshal payload for retry queue", "error", err)
		return
	}
	nextRetryAt := time.Now().Add(d.firstDelay)
	if err := d.failures.Enqueue(ctx, delivery, payload, nextRetryAt, lastErr); err != nil {
		slog.Error("enqueue pending webhook", "error", err,
			"tenant_id", delivery.TenantID, "ref_id", delivery.RefID)
	}
}

func (d *Dispatcher) record(tenantID uuid.UUID, endpoint string, status int, detail string) {
	if d.traffic != nil {
		d.traffic.RecordTraffic(tenantID, models.TrafficOutbound, endpoint, status, detail)
	}
}
