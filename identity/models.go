package identity

import (
	"time"

	"github.com/xraph/progression/id"
	"github.com/xraph/progression/types"
)

// SyncStatus marks the propagation state of an identity record.
type SyncStatus string

const (
	// StatusPending means the record has not yet propagated successfully.
	StatusPending SyncStatus = "PENDING"
	// StatusSynced means the last propagation succeeded.
	StatusSynced SyncStatus = "SYNCED"
	// StatusFailed means the last propagation failed after bounded retries.
	StatusFailed SyncStatus = "FAILED"
)

// Identity is the gamification store's copy of a metering-store user record,
// keyed by the external identifier that links the two stores. It is a
// documented copy, not shared state: the metering store owns the canonical
// fields.
type Identity struct {
	types.Entity
	ID             id.IdentityID `json:"id"`
	ExternalID     string        `json:"external_id"`
	Email          string        `json:"email"`
	Name           string        `json:"name"`
	Rank           string        `json:"rank"`
	CredentialHash string        `json:"credential_hash,omitempty"`
	SyncStatus     SyncStatus    `json:"sync_status"`
	Active         bool          `json:"active"`
}

// RankUpdate is an audit fact recorded whenever a rank transition propagates.
type RankUpdate struct {
	ID        id.RankUpdateID `json:"id"`
	UserID    string          `json:"user_id"`
	OldRank   string          `json:"old_rank"`
	NewRank   string          `json:"new_rank"`
	UpdatedAt time.Time       `json:"updated_at"`
}
