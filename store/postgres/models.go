package postgres

import (
	"time"

	"github.com/xraph/progression/id"
	"github.com/xraph/progression/identity"
	"github.com/xraph/progression/tracking"
	"github.com/xraph/progression/types"
)

// trackingRow maps progression_tracking rows to the domain type.
type trackingRow struct {
	UserID            string
	ID                string
	WeeklyTokens      int64
	UnprocessedTokens int64
	LastSyncedAt      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r *trackingRow) toDomain() (*tracking.Tracking, error) {
	trkID, err := id.ParseTrackingID(r.ID)
	if err != nil {
		trkID = id.Nil
	}
	return &tracking.Tracking{
		Entity: types.Entity{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		ID:                trkID,
		UserID:            r.UserID,
		WeeklyTokens:      r.WeeklyTokens,
		UnprocessedTokens: r.UnprocessedTokens,
		LastSyncedAt:      r.LastSyncedAt,
	}, nil
}

// identityRow maps progression_identities rows to the domain type.
type identityRow struct {
	ExternalID     string
	ID             string
	Email          string
	Name           string
	Rank           string
	CredentialHash string
	SyncStatus     string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *identityRow) toDomain() *identity.Identity {
	identID, err := id.ParseIdentityID(r.ID)
	if err != nil {
		identID = id.Nil
	}
	return &identity.Identity{
		Entity: types.Entity{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		ID:             identID,
		ExternalID:     r.ExternalID,
		Email:          r.Email,
		Name:           r.Name,
		Rank:           r.Rank,
		CredentialHash: r.CredentialHash,
		SyncStatus:     identity.SyncStatus(r.SyncStatus),
		Active:         r.Active,
	}
}
