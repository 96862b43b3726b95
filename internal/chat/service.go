// Package chat correlates an outbound chat-processing request with exactly
// one inbound response. The first valid resolution per message wins; later
// ones get a conflict so a replayed callback can never corrupt a newer turn.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opshift/ragrelay/internal/dispatch"
	"github.com/opshift/ragrelay/internal/models"
	"github.com/opshift/ragrelay/internal/notify"
	"github.com/opshift/ragrelay/internal/pipeline"
)

const (
	TransportWebhook = "webhook"
	TransportQueue   = "queue"
)

type TokenStore interface {
	GetOrCreate(ctx context.Context, tenantID uuid.UUID) (string, error)
	Validate(ctx context.Context, tenantID uuid.UUID, token string) error
}

// RequestPublisher is the queue-transport alternative to webhook dispatch.
type RequestPublisher interface {
	PublishRequest(ctx context.Context, req dispatch.ProcessingRequest) error
}

type Notifier interface {
	Publish(tenantID, conversationID uuid.UUID, ev notify.Event)
}

type Service struct {
	db           *pgxpool.Pool
	tokens       TokenStore
	sender       dispatch.Sender
	publisher    RequestPublisher
	notifier     Notifier
	transport    string
	processorURL string
	baseURL      string
}

func NewService(db *pgxpool.Pool, tokens TokenStore, sender dispatch.Sender, publisher RequestPublisher, notifier Notifier, transport, processorURL, baseURL string) *Service {
	return &Service{
		db:           db,
		tokens:       tokens,
		sender:       sender,
		publisher:    publisher,
		notifier:     notifier,
		transport:    transport,
		processorURL: processorURL,
		baseURL:      baseURL,
	}
}

type SendRequest struct {
	ConversationID uuid.UUID
	Message        string
}

// Resolution is the terminal payload from a chat callback or queue response.
type Resolution struct {
	ConversationID   uuid.UUID
	AIResponse       string
	Sources          json.RawMessage
	ProcessingTimeMs int64
}

// Send persists the exchange, hands the processing request to the
// configured transport, and moves the exchange to awaiting_response. The
// caller sees success as soon as the request is accepted; delivery failures
// surface later through the exchange's status.
func (s *Service) Send(ctx context.Context, tenantID uuid.UUID, req SendRequest) (*models.ChatExchange, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message required", pipeline.ErrBadRequest)
	}
	if req.ConversationID == uuid.Nil {
		req.ConversationID = uuid.New()
	}

	token, err := s.tokens.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("bind callback token: %w", err)
	}

	var ex models.ChatExchange
	err = s.db.QueryRow(ctx,
		`INSERT INTO chat_exchanges (message_id, conversation_id, tenant_id, user_message, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING message_id, conversation_id, tenant_id, user_message, status, created_at, updated_at`,
		uuid.New(), req.ConversationID, tenantID, req.Message, models.ChatStatusSent,
	).Scan(&ex.MessageID, &ex.ConversationID, &ex.TenantID, &ex.UserMessage, &ex.Status, &ex.CreatedAt, &ex.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat exchange: %w", err)
	}

	payload := s.buildRequest(&ex, token)

	if s.transport == TransportQueue && s.publisher != nil {
		if err := s.publisher.PublishRequest(ctx, payload); err != nil {
			// The caller already owns a persisted exchange; surface the
			// delivery failure through its status, not an error.
			slog.Error("publish chat request failed", "message_id", ex.MessageID, "error", err)
			s.markFailed(ctx, ex.MessageID)
			ex.Status = models.ChatStatusFailed
			return &ex, nil
		}
	} else {
		s.sender.Send(ctx, dispatch.Delivery{
			TargetURL:  s.processorURL,
			AuthScheme: dispatch.SchemeFor("chat"),
			Token:      token,
			TenantID:   tenantID,
			RefKind:    models.WebhookRefChat,
			RefID:      ex.MessageID,
			Payload:    payload,
		})
	}

	_, err = s.db.Exec(ctx,
		"UPDATE chat_exchanges SET status = $1, updated_at = now() WHERE message_id = $2 AND status = $3",
		models.ChatStatusAwaiting, ex.MessageID, models.ChatStatusSent,
	)
	if err != nil {
		return nil, fmt.Errorf("mark awaiting: %w", err)
	}
	if ex.Status == models.ChatStatusSent {
		ex.Status = models.ChatStatusAwaiting
	}

	return &ex, nil
}

// Resolve applies an authenticated chat callback. Exactly one resolution
// succeeds per message id.
func (s *Service) Resolve(ctx context.Context, messageID, tenantID uuid.UUID, token string, res Resolution) (*models.ChatExchange, error) {
	if err := s.tokens.Validate(ctx, tenantID, token); err != nil {
		slog.Warn("chat callback rejected", "message_id", messageID, "tenant_id", tenantID)
		return nil, err
	}
	return s.resolve(ctx, messageID, tenantID, res)
}

// ResolveFromQueue applies a queue-consumer response. The broker transport
// is trusted; token validation happened when the request was published.
func (s *Service) ResolveFromQueue(ctx context.Context, messageID, tenantID uuid.UUID, res Resolution) (*models.ChatExchange, error) {
	return s.resolve(ctx, messageID, tenantID, res)
}

func (s *Service) resolve(ctx context.Context, messageID, tenantID uuid.UUID, res Resolution) (*models.ChatExchange, error) {
	sources := res.Sources
	if sources == nil {
		sources = []byte("[]")
	}

	var ex models.ChatExchange
	err := s.db.QueryRow(ctx,
		`UPDATE chat_exchanges
		 SET ai_response = $1, sources = $2, status = $3, updated_at = now()
		 WHERE message_id = $4 AND tenant_id = $5 AND conversation_id = $6 AND status = $7
		 RETURNING message_id, conversation_id, tenant_id, user_message, ai_response, sources, status, created_at, updated_at`,
		res.AIResponse, sources, models.ChatStatusComplete,
		messageID, tenantID, res.ConversationID, models.ChatStatusAwaiting,
	).Scan(&ex.MessageID, &ex.ConversationID, &ex.TenantID, &ex.UserMessage, &ex.AIResponse,
		&ex.Sources, &ex.Status, &ex.CreatedAt, &ex.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyResolveFailure(ctx, messageID, tenantID, res.ConversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve chat exchange: %w", err)
	}

	if s.notifier != nil {
		s.notifier.Publish(tenantID, ex.ConversationID, notify.Event{
			MessageID:      ex.MessageID,
			ConversationID: ex.ConversationID,
			Status:         ex.Status,
			AIResponse:     res.AIResponse,
			Sources:        sources,
		})
	}
	return &ex, nil
}

// classifyResolveFailure decides why the guarded update matched nothing.
// Unknown message: NotFound. Wrong tenant or conversation: Unauthorized,
// without revealing which. Known but not awaiting: Conflict.
func (s *Service) classifyResolveFailure(ctx context.Context, messageID, tenantID, conversationID uuid.UUID) error {
	var ownerTenant, ownerConversation uuid.UUID
	var status string
	err := s.db.QueryRow(ctx,
		"SELECT tenant_id, conversation_id, status FROM chat_exchanges WHERE message_id = $1", messageID,
	).Scan(&ownerTenant, &ownerConversation, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: chat exchange", pipeline.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("inspect chat exchange: %w", err)
	}

	if ownerTenant != tenantID || ownerConversation != conversationID {
		slog.Warn("chat callback identity mismatch", "message_id", messageID, "tenant_id", tenantID)
		return pipeline.ErrUnauthorized
	}
	return fmt.Errorf("%w: exchange %s is %s", pipeline.ErrConflict, messageID, status)
}

func (s *Service) Get(ctx context.Context, messageID, tenantID uuid.UUID) (*models.ChatExchange, error) {
	var ex models.ChatExchange
	err := s.db.QueryRow(ctx,
		`SELECT message_id, conversation_id, tenant_id, user_message, ai_response, sources, status, created_at, updated_at
		 FROM chat_exchanges WHERE message_id = $1 AND tenant_id = $2`,
		messageID, tenantID,
	).Scan(&ex.MessageID, &ex.ConversationID, &ex.TenantID, &ex.UserMessage, &ex.AIResponse,
		&ex.Sources, &ex.Status, &ex.CreatedAt, &ex.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: chat exchange", pipeline.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat exchange: %w", err)
	}
	return &ex, nil
}

// ListStuck returns exchanges that have been awaiting a response for longer
// than minAge. Monitoring only; nothing auto-fails them.
func (s *Service) ListStuck(ctx context.Context, tenantID uuid.UUID, minAge time.Duration) ([]models.ChatExchange, error) {
	rows, err := s.db.Query(ctx,
		`SELECT message_id, conversation_id, tenant_id, user_message, status, created_at, updated_at
		 FROM chat_exchanges
		 WHERE tenant_id = $1 AND status = $2 AND created_at <= now() - $3::interval
		 ORDER BY created_at`,
		tenantID, models.ChatStatusAwaiting, fmt.Sprintf("%d seconds", int(minAge.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("list stuck exchanges: %w", err)
	}
	defer rows.Close()

	var stuck []models.ChatExchange
	for rows.Next() {
		var ex models.ChatExchange
		if err := rows.Scan(&ex.MessageID, &ex.ConversationID, &ex.TenantID, &ex.UserMessage,
			&ex.Status, &ex.CreatedAt, &ex.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stuck exchange: %w", err)
		}
		stuck = append(stuck, ex)
	}
	return stuck, rows.Err()
}

func (s *Service) markFailed(ctx context.Context, messageID uuid.UUID) {
	_, err := s.db.Exec(ctx,
		"UPDATE chat_exchanges SET status = $1, updated_at = now() WHERE message_id = $2",
		models.ChatStatusFailed, messageID,
	)
	if err != nil {
		slog.Error("mark chat exchange failed", "message_id", messageID, "error", err)
	}
}

func (s *Service) buildRequest(ex *models.ChatExchange, token string) dispatch.ProcessingRequest {
	return dispatch.ProcessingRequest{
		Source:          "ragrelay",
		Action:          dispatch.ActionProcessChatMessage,
		TenantID:        ex.TenantID.String(),
		CallbackToken:   token,
		MessageID:       ex.MessageID.String(),
		ConversationID:  ex.ConversationID.String(),
		CustomerMessage: ex.UserMessage,
		ChatCallbackURL: fmt.Sprintf("%s/api/rag/chat-callback/%s", s.baseURL, ex.MessageID),
		VectorSearchURL: fmt.Sprintf("%s/api/rag/vector-search", s.baseURL),
	}
}
