package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opshift/ragrelay/internal/chat"
	"github.com/opshift/ragrelay/internal/models"
	"github.com/opshift/ragrelay/internal/pipeline"
	"github.com/opshift/ragrelay/internal/tenant"
)

type mockChatService struct {
	sendFn      func(ctx context.Context, tenantID uuid.UUID, req chat.SendRequest) (*models.ChatExchange, error)
	getFn       func(ctx context.Context, messageID, tenantID uuid.UUID) (*models.ChatExchange, error)
	listStuckFn func(ctx context.Context, tenantID uuid.UUID, minAge time.Duration) ([]models.ChatExchange, error)
}

func (m *mockChatService) Send(ctx context.Context, tenantID uuid.UUID, req chat.SendRequest) (*models.ChatExchange, error) {
	return m.sendFn(ctx, tenantID, req)
}

func (m *mockChatService) Get(ctx context.Context, messageID, tenantID uuid.UUID) (*models.ChatExchange, error) {
	return m.getFn(ctx, messageID, tenantID)
}

func (m *mockChatService) ListStuck(ctx context.Context, tenantID uuid.UUID, minAge time.Duration) ([]models.ChatExchange, error) {
	return m.listStuckFn(ctx, tenantID, minAge)
}

func chatRouter(h *ChatHandler, tenantID uuid.UUID) *chi.Mux {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(tenant.WithID(r.Context(), tenantID)))
		})
	})
	r.Post("/api/v1/chat/messages", h.SendMessage)
	r.Get("/api/v1/chat/exchanges/stuck", h.ListStuck)
	r.Get("/api/v1/chat/exchanges/{message_id}", h.GetExchange)
	return r
}

func TestSendMessageAccepted(t *testing.T) {
	tenantID := uuid.New()

	svc := &mockChatService{
		sendFn: func(_ context.Context, gotTenant uuid.UUID, req chat.SendRequest) (*models.ChatExchange, error) {
			require.Equal(t, tenantID, gotTenant)
			require.Equal(t, "hello", req.Message)
			return &models.ChatExchange{
				MessageID: uuid.New(),
				TenantID:  gotTenant,
				Status:    models.ChatStatusAwaiting,
			}, nil
		},
	}
	router := chatRouter(NewChatHandler(svc, nil), tenantID)

	raw, _ := json.Marshal(map[string]string{"message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/messages", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var ex models.ChatExchange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ex))
	require.Equal(t, models.ChatStatusAwaiting, ex.Status)
}

func TestSendMessageEmptyRejected(t *testing.T) {
	svc := &mockChatService{
		sendFn: func(context.Context, uuid.UUID, chat.SendRequest) (*models.ChatExchange, error) {
			return nil, fmt.Errorf("%w: message required", pipeline.ErrBadRequest)
		},
	}
	router := chatRouter(NewChatHandler(svc, nil), uuid.New())

	raw, _ := json.Marshal(map[string]string{"message": ""})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/messages", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetExchangeNotFound(t *testing.T) {
	svc := &mockChatService{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (*models.ChatExchange, error) {
			return nil, fmt.Errorf("%w: chat exchange", pipeline.ErrNotFound)
		},
	}
	router := chatRouter(NewChatHandler(svc, nil), uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/exchanges/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListStuckDefaultsAge(t *testing.T) {
	var gotAge time.Duration
	svc := &mockChatService{
		listStuckFn: func(_ context.Context, _ uuid.UUID, minAge time.Duration) ([]models.ChatExchange, error) {
			gotAge = minAge
			return nil, nil
		},
	}
	router := chatRouter(NewChatHandler(svc, nil), uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/exchanges/stuck", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5*time.Minute, gotAge)

	body := decodeBody(t, rec)
	require.Equal(t, float64(0), body["count"])
}

func TestListStuckCustomAge(t *testing.T) {
	var gotAge time.Duration
	svc := &mockChatService{
		listStuckFn: func(_ context.Context, _ uuid.UUID, minAge time.Duration) ([]models.ChatExchange, error) {
			gotAge = minAge
			return []models.ChatExchange{{MessageID: uuid.New(), Status: models.ChatStatusAwaiting}}, nil
		},
	}
	router := chatRouter(NewChatHandler(svc, nil), uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/exchanges/stuck?min_age=30s", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 30*time.Second, gotAge)
}
