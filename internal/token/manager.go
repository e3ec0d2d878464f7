// Package token manages the single bearer token shared by every upstream call.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/metering-gateway/internal/metering"
	"go.uber.org/zap"
)

// ErrDuplicate is returned by Store.Insert when a token record already exists
var ErrDuplicate = errors.New("token record already exists")

// expirySkew renews tokens slightly before the provider expires them
const expirySkew = 30 * time.Second

// Token is the machine-to-machine bearer token
type Token struct {
	AccessToken string
	Scope       string
	ExpiresAt   time.Time
}

// Store persists the token record. At most one record may exist.
type Store interface {
	// Get returns the current record or nil
	Get(ctx context.Context) (*Token, error)
	// Insert creates the record, failing with ErrDuplicate if one exists
	Insert(ctx context.Context, t Token) error
	// Replace swaps previous for next and reports false if previous is no longer current
	Replace(ctx context.Context, previous, next Token) (bool, error)
}

// Issuer obtains fresh tokens from the provider
type Issuer interface {
	Issue(ctx context.Context) (Token, error)
}

// Manager hands out a valid token, issuing a new one when needed
type Manager struct {
	store  Store
	issuer Issuer
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a token manager
func NewManager(store Store, issuer Issuer, logger *zap.Logger) *Manager {
	return &Manager{store: store, issuer: issuer, logger: logger, now: time.Now}
}

// WithClock replaces the clock used to check expiry
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) valid(t *Token) bool {
	return t != nil && t.AccessToken != "" && m.now().Add(expirySkew).Before(t.ExpiresAt)
}

// GetValidToken returns a usable access token. When two callers race to create
// the record, the loser discards its token and returns the winner's.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	current, err := m.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if m.valid(current) {
		return current.AccessToken, nil
	}

	fresh, err := m.issuer.Issue(ctx)
	if err != nil {
		m.logger.Error("token issuance failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", metering.ErrUpstreamUnavailable, err)
	}

	if current == nil {
		err := m.store.Insert(ctx, fresh)
		if err == nil {
			m.logger.Info("upstream token issued", zap.Time("expires_at", fresh.ExpiresAt))
			return fresh.AccessToken, nil
		}
		if !errors.Is(err, ErrDuplicate) {
			return "", fmt.Errorf("failed to store token: %w", err)
		}
		m.logger.Debug("lost token creation race, using persisted token")
		return m.reload(ctx, fresh)
	}

	replaced, err := m.store.Replace(ctx, *current, fresh)
	if err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	if !replaced {
		m.logger.Debug("token refreshed concurrently, using persisted token")
		return m.reload(ctx, fresh)
	}
	m.logger.Info("upstream token refreshed", zap.Time("expires_at", fresh.ExpiresAt))
	return fresh.AccessToken, nil
}

// reload re-reads the winner's token. If it is somehow unusable, the token we
// fetched ourselves is still valid and is returned instead.
func (m *Manager) reload(ctx context.Context, fallback Token) (string, error) {
	winner, err := m.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to reload token: %w", err)
	}
	if m.valid(winner) {
		return winner.AccessToken, nil
	}
	return fallback.AccessToken, nil
}
