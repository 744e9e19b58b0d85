package store

import (
	"context"
	"time"

	"github.com/xraph/progression/identity"
	"github.com/xraph/progression/tracking"
)

// Store is the unified storage interface for the gamification store.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Tracking methods
	GetTracking(ctx context.Context, userID string) (*tracking.Tracking, error)
	AddUsage(ctx context.Context, userID string, amount int64) (*tracking.Tracking, error)
	ApplyConversion(ctx context.Context, conv *tracking.Conversion) error
	SetWeeklyTokens(ctx context.Context, userID string, count int64, syncedAt time.Time) error
	GetProgression(ctx context.Context, userID string) (*tracking.Progression, error)

	// Identity methods
	UpsertIdentity(ctx context.Context, ident *identity.Identity) error
	GetIdentity(ctx context.Context, externalID string) (*identity.Identity, error)
	DeactivateIdentity(ctx context.Context, externalID string) error
	SetSyncStatus(ctx context.Context, externalID string, status identity.SyncStatus) error
	ListLinkedUserIDs(ctx context.Context) ([]string, error)

	// Rank audit methods
	RecordRankUpdate(ctx context.Context, upd *identity.RankUpdate) error
	ListRankUpdates(ctx context.Context, userID string) ([]*identity.RankUpdate, error)

	// Change-feed checkpoint methods
	SyncCheckpoint(ctx context.Context, stream string) (string, error)
	SaveSyncCheckpoint(ctx context.Context, stream, token string) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
