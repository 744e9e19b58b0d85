// Package metering defines the contract the engine requires from the
// usage-metering store: the source of truth for raw consumption counters and
// canonical user identity. The engine never assumes it is the only writer to
// this store, so all increments here are additive.
package metering

import "context"

// Store is the metering store contract consumed by the engine.
type Store interface {
	// RecordUsage increments the user's weekly and total counters by amount
	// and returns the resulting weekly usage. Counters roll over when the
	// stored LastResetDate falls outside the current week.
	RecordUsage(ctx context.Context, userID string, amount int64, opts RecordOpts) (*WeeklyUsage, error)

	// WeeklyUsage returns the current weekly counter for a user. Users with no
	// recorded usage report a zero count.
	WeeklyUsage(ctx context.Context, userID string) (*WeeklyUsage, error)

	// TotalConsumed returns the all-time token total for a user.
	TotalConsumed(ctx context.Context, userID string) (int64, error)
}
