package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	enqueued []Delivery
	errs     []string
}

func (f *fakeSink) Enqueue(_ context.Context, d Delivery, _ []byte, _ time.Time, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, d)
	f.errs = append(f.errs, lastErr)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

func newTestDispatcher(sink FailureSink) *Dispatcher {
	// No processLoop: tests drive Attempt/queueRetry/Close directly, so
	// done starts closed.
	done := make(chan struct{})
	close(done)
	return &Dispatcher{
		httpClient: &http.Client{Timeout: 2 * time.Second},
		failures:   sink,
		deliveries: make(chan Delivery, 10),
		firstDelay: RetryDelay(1),
		closed:     make(chan struct{}),
		done:       done,
	}
}

func TestAuthHeader(t *testing.T) {
	key, value := AuthHeader(SchemeBearer, "cbt_x")
	require.Equal(t, "Authorization", key)
	require.Equal(t, "Bearer cbt_x", value)

	key, value = AuthHeader(SchemeCallbackToken, "cbt_x")
	require.Equal(t, "X-Callback-Token", key)
	require.Equal(t, "cbt_x", value)
}

func TestSchemeFor(t *testing.T) {
	require.Equal(t, SchemeBearer, SchemeFor("document"))
	require.Equal(t, SchemeBearer, SchemeFor("chat"))
	require.Equal(t, SchemeCallbackToken, SchemeFor("vector"))
	require.Equal(t, SchemeBearer, SchemeFor("unknown"))
}

func TestAttempt_SetsAuthAndPostsJSON(t *testing.T) {
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(&fakeSink{})
	status, err := d.Attempt(context.Background(), Delivery{
		TargetURL:  srv.URL,
		AuthScheme: SchemeBearer,
		Token:      "cbt_secret",
		TenantID:   uuid.New(),
		Payload:    ProcessingRequest{Action: ActionDocumentProcessing},
	})

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Bearer cbt_secret", gotAuth)
	require.Equal(t, "application/json", gotContentType)
}

func TestAttempt_Non2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := newTestDispatcher(&fakeSink{})
	status, err := d.Attempt(context.Background(), Delivery{TargetURL: srv.URL, Payload: ProcessingRequest{}})
	require.Error(t, err)
	require.Equal(t, http.StatusBadGateway, status)
}

func TestQueueRetry_HandsDeliveryToSink(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(sink)

	delivery := Delivery{
		TargetURL: "http://unreachable.example",
		TenantID:  uuid.New(),
		RefKind:   "document",
		RefID:     uuid.New(),
		Payload:   ProcessingRequest{Action: ActionDocumentProcessing},
	}
	d.queueRetry(context.Background(), delivery, "status 502")

	require.Equal(t, 1, sink.count())
	require.Equal(t, delivery.RefID, sink.enqueued[0].RefID)
	require.Equal(t, "status 502", sink.errs[0])
}

func TestSend_FullChannelFallsBackToSink(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(sink)
	d.deliveries = make(chan Delivery) // unbuffered, nobody reading

	d.Send(context.Background(), Delivery{TargetURL: "http://x.example", Payload: ProcessingRequest{}})
	require.Equal(t, 1, sink.count())
}

func TestClose_FlushesBufferedDeliveriesToSink(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(sink)

	first := Delivery{TargetURL: "http://x.example", RefKind: "document", RefID: uuid.New(), Payload: ProcessingRequest{}}
	second := Delivery{TargetURL: "http://x.example", RefKind: "chat", RefID: uuid.New(), Payload: ProcessingRequest{}}
	d.deliveries <- first
	d.deliveries <- second

	d.Close()

	require.Equal(t, 2, sink.count())
	require.Equal(t, first.RefID, sink.enqueued[0].RefID)
	require.Equal(t, second.RefID, sink.enqueued[1].RefID)
	require.Equal(t, "shutdown before dispatch", sink.errs[0])
}

func TestSend_AfterCloseGoesToSink(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(sink)
	d.Close()

	d.Send(context.Background(), Delivery{TargetURL: "http://x.example", RefID: uuid.New(), Payload: ProcessingRequest{}})

	require.Equal(t, 1, sink.count())
	require.Equal(t, "dispatcher closed", sink.errs[0])
}

func TestClose_Idempotent(t *testing.T) {
	d := newTestDispatcher(&fakeSink{})
	d.Close()
	d.Close()
}
