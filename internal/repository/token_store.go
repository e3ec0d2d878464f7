package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/metering-gateway/internal/db"
	"github.com/septivank/metering-gateway/internal/token"
)

const uniqueViolation = "23505"

// TokenStore persists the shared upstream token in the upstream_tokens table
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a token store
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Get returns the token row or nil
func (s *TokenStore) Get(ctx context.Context) (*token.Token, error) {
	query := `SELECT id, access_token, scope, expires_at, updated_at FROM upstream_tokens WHERE id = 1`

	var row db.UpstreamToken
	err := s.pool.QueryRow(ctx, query).Scan(&row.ID, &row.AccessToken, &row.Scope, &row.ExpiresAt, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	return &token.Token{AccessToken: row.AccessToken, Scope: row.Scope, ExpiresAt: row.ExpiresAt}, nil
}

// Insert creates the token row. A concurrent insert loses on the primary key
// and gets token.ErrDuplicate.
func (s *TokenStore) Insert(ctx context.Context, t token.Token) error {
	query := `
		INSERT INTO upstream_tokens (id, access_token, scope, expires_at, updated_at)
		VALUES (1, $1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, t.AccessToken, t.Scope, t.ExpiresAt, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return token.ErrDuplicate
		}
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// Replace swaps the token only if previous is still the stored one
func (s *TokenStore) Replace(ctx context.Context, previous, next token.Token) (bool, error) {
	query := `
		UPDATE upstream_tokens
		SET access_token = $1, scope = $2, expires_at = $3, updated_at = $4
		WHERE id = 1 AND access_token = $5
	`

	tag, err := s.pool.Exec(ctx, query, next.AccessToken, next.Scope, next.ExpiresAt, time.Now(), previous.AccessToken)
	if err != nil {
		return false, fmt.Errorf("failed to replace token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
