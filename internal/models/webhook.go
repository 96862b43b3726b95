package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PendingWebhook is a failed outbound dispatch awaiting backoff-scheduled
// re-attempts. attempt_count counts completed retries, never exceeds
// MaxAttempts, and once status is failed the row is never touched again.
type PendingWebhook struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	TenantID     uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	TargetURL    string          `json:"target_url" db:"target_url"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	AuthScheme   string          `json:"auth_scheme" db:"auth_scheme"`
	RefKind      string          `json:"ref_kind" db:"ref_kind"`
	RefID        uuid.UUID       `json:"ref_id" db:"ref_id"`
	AttemptCount int             `json:"attempt_count" db:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts" db:"max_attempts"`
	NextRetryAt  time.Time       `json:"next_retry_at" db:"next_retry_at"`
	LastError    string          `json:"last_error,omitempty" db:"last_error"`
	Status       string          `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

const (
	WebhookStatusPending   = "pending"
	WebhookStatusRetrying  = "retrying"
	WebhookStatusSucceeded = "succeeded"
	WebhookStatusFailed    = "failed"
)

const (
	WebhookRefDocument = "document"
	WebhookRefChat     = "chat"
)

// WebhookTraffic is an audit record of one outbound dispatch or inbound
// callback, written asynchronously after the main transaction.
type WebhookTraffic struct {
	ID         uuid.UUID `json:"id" db:"id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Direction  string    `json:"direction" db:"direction"`
	Endpoint   string    `json:"endpoint" db:"endpoint"`
	StatusCode int       `json:"status_code" db:"status_code"`
	Detail     string    `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

const (
	TrafficOutbound = "outbound"
	TrafficInbound  = "inbound"
)
