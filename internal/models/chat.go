package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ChatExchange struct {
	MessageID      uuid.UUID       `json:"message_id" db:"message_id"`
	ConversationID uuid.UUID       `json:"conversation_id" db:"conversation_id"`
	TenantID       uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	UserMessage    string          `json:"user_message" db:"user_message"`
	AIResponse     *string         `json:"ai_response,omitempty" db:"ai_response"`
	Sources        json.RawMessage `json:"sources,omitempty" db:"sources"`
	Status         string          `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

const (
	ChatStatusSent     = "sent"
	ChatStatusAwaiting = "awaiting_response"
	ChatStatusComplete = "completed"
	ChatStatusFailed   = "failed"
)
