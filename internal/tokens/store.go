// Package tokens is the trust anchor for the callback pipeline: one
// long-lived secret per tenant, created lazily, validated on every inbound
// callback and vector-search call. Everything else fails closed if this
// store is unavailable.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opshift/ragrelay/internal/pipeline"
)

type Store struct {
	db    *pgxpool.Pool
	cache Cache
}

func NewStore(db *pgxpool.Pool, cache Cache) *Store {
	return &Store{db: db, cache: cache}
}

// GetOrCreate returns the tenant's callback token, minting one on first
// access. The insert races safely against concurrent first accesses: the
// ON CONFLICT path returns whichever token won.
func (s *Store) GetOrCreate(ctx context.Context, tenantID uuid.UUID) (string, error) {
	if tok, ok := s.cache.Get(ctx, tenantID); ok {
		return tok, nil
	}

	secret, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate callback token: %w", err)
	}

	var token string
	err = s.db.QueryRow(ctx,
		`INSERT INTO tenant_tokens (tenant_id, callback_token)
		 VALUES ($1, $2)
		 ON CONFLICT (tenant_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id
		 RETURNING callback_token`,
		tenantID, secret,
	).Scan(&token)
	if err != nil {
		return "", fmt.Errorf("get or create token: %w", err)
	}

	s.cache.Set(ctx, tenantID, token)
	return token, nil
}

// Validate checks the presented token against the tenant's stored secret.
// Every failure mode returns ErrUnauthorized so callers cannot probe for
// tenant existence.
func (s *Store) Validate(ctx context.Context, tenantID uuid.UUID, presented string) error {
	if presented == "" {
		return pipeline.ErrUnauthorized
	}

	token, ok := s.cache.Get(ctx, tenantID)
	if !ok {
		err := s.db.QueryRow(ctx,
			"SELECT callback_token FROM tenant_tokens WHERE tenant_id = $1", tenantID,
		).Scan(&token)
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.ErrUnauthorized
		}
		if err != nil {
			// Fail closed: an unreachable token store must never let a
			// callback through.
			slog.Error("token lookup failed", "error", err)
			return pipeline.ErrUnauthorized
		}
		s.cache.Set(ctx, tenantID, token)
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(presented)) != 1 {
		return pipeline.ErrUnauthorized
	}
	return nil
}

// Rotate overwrites the tenant's token. The old token stops validating as
// soon as the cache entry expires or is invalidated here.
func (s *Store) Rotate(ctx context.Context, tenantID uuid.UUID) (string, error) {
	secret, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate callback token: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO tenant_tokens (tenant_id, callback_token)
		 VALUES ($1, $2)
		 ON CONFLICT (tenant_id) DO UPDATE SET callback_token = $2, updated_at = now()`,
		tenantID, secret,
	)
	if err != nil {
		return "", fmt.Errorf("rotate token: %w", err)
	}

	s.cache.Delete(ctx, tenantID)
	return secret, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "cbt_" + hex.EncodeToString(b), nil
}
