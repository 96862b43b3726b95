package tenant

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const tenantKey contextKey = "tenant"

func WithID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}

// IDFromContext returns the authenticated tenant id. The second return is
// false when no auth middleware ran; callers treat that as unauthorized
// rather than acting as the zero tenant.
func IDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantKey).(uuid.UUID)
	return id, ok
}
