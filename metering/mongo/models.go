package mongo

import (
	"time"

	"github.com/xraph/progression/metering"
)

// usageModel is the MongoDB document shape for per-user usage counters.
type usageModel struct {
	UserID              string           `bson:"user_id"`
	Weekly              weeklyUsageModel `bson:"weekly"`
	TotalTokensConsumed int64            `bson:"total_tokens_consumed"`
}

type weeklyUsageModel struct {
	Count         int64     `bson:"count"`
	BaseLimit     int64     `bson:"base_limit"`
	LastResetDate time.Time `bson:"last_reset_date"`
}

// usageEventModel is the MongoDB document shape for individual usage events.
// The idempotency key carries a sparse unique index.
type usageEventModel struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"user_id"`
	Amount         int64     `bson:"amount"`
	Timestamp      time.Time `bson:"timestamp"`
	IdempotencyKey string    `bson:"idempotency_key,omitempty"`
}

// userModel is the identity portion of the metering store's user documents,
// as surfaced by the change feed.
type userModel struct {
	ExternalID     string `bson:"external_id,omitempty"`
	Email          string `bson:"email,omitempty"`
	Name           string `bson:"name,omitempty"`
	Rank           string `bson:"rank,omitempty"`
	CredentialHash string `bson:"credential_hash,omitempty"`
}

func (m *usageModel) toWeeklyUsage() *metering.WeeklyUsage {
	return &metering.WeeklyUsage{
		Count:         m.Weekly.Count,
		BaseLimit:     m.Weekly.BaseLimit,
		LastResetDate: m.Weekly.LastResetDate,
	}
}
