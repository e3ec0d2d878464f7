package db

import (
	"time"
)

// Account owns metering points and the key its cache entries are sealed with
type Account struct {
	ID        string
	CacheKey  string
	CreatedAt time.Time
}

// MeteringPoint represents a metering point in the database
type MeteringPoint struct {
	PointID        string
	AccountID      string
	OldestDataDate *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpstreamToken is the single shared provider token row
type UpstreamToken struct {
	ID          int
	AccessToken string
	Scope       string
	ExpiresAt   time.Time
	UpdatedAt   time.Time
}
