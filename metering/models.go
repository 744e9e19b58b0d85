package metering

import (
	"time"

	"github.com/xraph/progression/id"
)

// WeeklyUsage is the metering store's authoritative weekly counter for a user.
type WeeklyUsage struct {
	Count         int64     `json:"count"`
	BaseLimit     int64     `json:"base_limit"`
	LastResetDate time.Time `json:"last_reset_date"`
}

// UsageEvent is a single recorded consumption against the metering store.
type UsageEvent struct {
	ID             id.UsageEventID `json:"id"`
	UserID         string          `json:"user_id"`
	Amount         int64           `json:"amount"`
	Timestamp      time.Time       `json:"timestamp"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// RecordOpts carries optional parameters for RecordUsage.
type RecordOpts struct {
	// IdempotencyKey deduplicates retried writes of the same logical event.
	// Without a key the write is a plain increment and a caller retry after an
	// unconfirmed write will double count.
	IdempotencyKey string
}
