package tracking

import (
	"time"

	"github.com/xraph/progression/id"
	"github.com/xraph/progression/types"
)

// Tracking is the gamification store's per-user token record. WeeklyTokens is
// a cached mirror of the metering store's weekly counter; UnprocessedTokens is
// the balance not yet converted to experience. UnprocessedTokens never goes
// negative and only decreases by whole conversion batches.
type Tracking struct {
	types.Entity
	ID                id.TrackingID `json:"id"`
	UserID            string        `json:"user_id"`
	WeeklyTokens      int64         `json:"weekly_tokens"`
	UnprocessedTokens int64         `json:"unprocessed_tokens"`
	LastSyncedAt      time.Time     `json:"last_synced_at"`
}

// Progression is the derived gamification state for a user. Experience is
// monotonic non-decreasing; Level is derived from cumulative experience.
type Progression struct {
	UserID     string `json:"user_id"`
	Experience int64  `json:"experience"`
	Level      int    `json:"level"`
}

// Conversion describes one applied token-to-experience batch.
type Conversion struct {
	UserID           string `json:"user_id"`
	ExperienceGained int64  `json:"experience_gained"`
	Remainder        int64  `json:"remainder"`
	Level            int    `json:"level"`
	LeveledUp        bool   `json:"leveled_up"`
}

// Availability is the result of a weekly-quota check.
type Availability struct {
	Available       bool  `json:"available"`
	WeeklyRemaining int64 `json:"weekly_remaining"`
}
