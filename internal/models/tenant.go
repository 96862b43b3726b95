package models

import (
	"time"

	"github.com/google/uuid"
)

// TenantToken is the per-tenant callback secret. Exactly one active token per
// tenant; rotation is an overwrite, never a second row.
type TenantToken struct {
	TenantID      uuid.UUID `json:"tenant_id" db:"tenant_id"`
	CallbackToken string    `json:"-" db:"callback_token"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
