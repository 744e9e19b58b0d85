package tracking

import (
	"context"
	"time"
)

// Store is the gamification store's tracking surface.
type Store interface {
	// GetTracking returns the tracking record for a user.
	GetTracking(ctx context.Context, userID string) (*Tracking, error)

	// AddUsage upserts the tracking record for a user: created with the given
	// amount if absent, otherwise both WeeklyTokens and UnprocessedTokens are
	// incremented and LastSyncedAt is stamped. Returns the updated record.
	AddUsage(ctx context.Context, userID string, amount int64) (*Tracking, error)

	// ApplyConversion atomically applies a conversion batch: increments the
	// user's experience by conv.ExperienceGained, sets the level to conv.Level,
	// and resets UnprocessedTokens to conv.Remainder. All fields commit
	// together or not at all.
	ApplyConversion(ctx context.Context, conv *Conversion) error

	// SetWeeklyTokens overwrites the cached weekly counter with the
	// authoritative figure read from the metering store.
	SetWeeklyTokens(ctx context.Context, userID string, count int64, syncedAt time.Time) error

	// GetProgression returns the derived progression state for a user.
	// Users with no recorded experience are at level 1 with zero experience.
	GetProgression(ctx context.Context, userID string) (*Progression, error)
}
