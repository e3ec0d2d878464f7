package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/metering-gateway/internal/db"
	"github.com/septivank/metering-gateway/internal/metering"
)

// Repository handles account and metering point queries
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// IsOwner reports whether accountID owns pointID
func (r *Repository) IsOwner(ctx context.Context, pointID, accountID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM metering_points
			WHERE point_id = $1 AND account_id = $2
		)
	`

	var owned bool
	if err := r.pool.QueryRow(ctx, query, pointID, accountID).Scan(&owned); err != nil {
		return false, fmt.Errorf("failed to check point ownership: %w", err)
	}
	return owned, nil
}

// AccountCacheKey returns the key the account's cache entries are sealed with.
// An unknown account owns no point, so it surfaces as ErrPointNotFound.
func (r *Repository) AccountCacheKey(ctx context.Context, accountID string) (string, error) {
	query := `SELECT id, cache_key, created_at FROM accounts WHERE id = $1`

	var account db.Account
	err := r.pool.QueryRow(ctx, query, accountID).Scan(&account.ID, &account.CacheKey, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", metering.ErrPointNotFound
		}
		return "", fmt.Errorf("failed to query account: %w", err)
	}
	return account.CacheKey, nil
}

// GetPoint loads a metering point, returning nil when it does not exist
func (r *Repository) GetPoint(ctx context.Context, pointID string) (*db.MeteringPoint, error) {
	query := `
		SELECT point_id, account_id, oldest_data_date, created_at, updated_at
		FROM metering_points
		WHERE point_id = $1
	`

	var p db.MeteringPoint
	err := r.pool.QueryRow(ctx, query, pointID).Scan(
		&p.PointID,
		&p.AccountID,
		&p.OldestDataDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query metering point: %w", err)
	}
	return &p, nil
}

// OldestDataDate returns the point's oldest-available-data boundary, zero when unknown
func (r *Repository) OldestDataDate(ctx context.Context, pointID string) (time.Time, error) {
	p, err := r.GetPoint(ctx, pointID)
	if err != nil {
		return time.Time{}, err
	}
	if p == nil || p.OldestDataDate == nil {
		return time.Time{}, nil
	}
	return metering.Day(*p.OldestDataDate), nil
}

// AdvanceOldestDataDate moves the boundary forward to date. It never moves it
// back and reports whether the row changed.
func (r *Repository) AdvanceOldestDataDate(ctx context.Context, pointID string, date time.Time) (bool, error) {
	query := `
		UPDATE metering_points
		SET oldest_data_date = $2, updated_at = $3
		WHERE point_id = $1 AND (oldest_data_date IS NULL OR oldest_data_date < $2)
	`

	tag, err := r.pool.Exec(ctx, query, pointID, metering.Day(date), time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to update oldest data date: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
