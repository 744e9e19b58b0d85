// Package memory provides an in-memory gamification store, suitable for tests
// and demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/progression"
	"github.com/xraph/progression/id"
	"github.com/xraph/progression/identity"
	"github.com/xraph/progression/tracking"
	"github.com/xraph/progression/types"
)

type Store struct {
	mu sync.RWMutex

	// Tracking storage, keyed by user ID
	trackings map[string]*tracking.Tracking

	// Progression storage, keyed by user ID
	progressions map[string]*tracking.Progression

	// Identity storage, keyed by external ID
	identities map[string]*identity.Identity

	// Rank update audit log
	rankUpdates []identity.RankUpdate

	// Change-feed checkpoints, keyed by stream name
	checkpoints map[string]string
}

func New() *Store {
	return &Store{
		trackings:    make(map[string]*tracking.Tracking),
		progressions: make(map[string]*tracking.Progression),
		identities:   make(map[string]*identity.Identity),
		rankUpdates:  make([]identity.RankUpdate, 0),
		checkpoints:  make(map[string]string),
	}
}

// Tracking Store implementation

func (s *Store) GetTracking(_ context.Context, userID string) (*tracking.Tracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if trk, ok := s.trackings[userID]; ok {
		cp := *trk
		return &cp, nil
	}
	return nil, progression.ErrTrackingNotFound
}

func (s *Store) AddUsage(_ context.Context, userID string, amount int64) (*tracking.Tracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	trk, ok := s.trackings[userID]
	if !ok {
		trk = &tracking.Tracking{
			Entity: types.NewEntity(),
			ID:     id.NewTrackingID(),
			UserID: userID,
		}
		s.trackings[userID] = trk
	}

	trk.WeeklyTokens += amount
	trk.UnprocessedTokens += amount
	trk.LastSyncedAt = now
	trk.Touch()

	cp := *trk
	return &cp, nil
}

func (s *Store) ApplyConversion(_ context.Context, conv *tracking.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trk, ok := s.trackings[conv.UserID]
	if !ok {
		return progression.ErrTrackingNotFound
	}

	prog, ok := s.progressions[conv.UserID]
	if !ok {
		prog = &tracking.Progression{UserID: conv.UserID, Level: 1}
		s.progressions[conv.UserID] = prog
	}

	prog.Experience += conv.ExperienceGained
	prog.Level = conv.Level
	trk.UnprocessedTokens = conv.Remainder
	trk.Touch()

	return nil
}

func (s *Store) SetWeeklyTokens(_ context.Context, userID string, count int64, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trk, ok := s.trackings[userID]
	if !ok {
		trk = &tracking.Tracking{
			Entity: types.NewEntity(),
			ID:     id.NewTrackingID(),
			UserID: userID,
		}
		s.trackings[userID] = trk
	}

	trk.WeeklyTokens = count
	trk.LastSyncedAt = syncedAt
	trk.Touch()
	return nil
}

func (s *Store) GetProgression(_ context.Context, userID string) (*tracking.Progression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if prog, ok := s.progressions[userID]; ok {
		cp := *prog
		return &cp, nil
	}
	return &tracking.Progression{UserID: userID, Level: 1}, nil
}

// Identity Store implementation

func (s *Store) UpsertIdentity(_ context.Context, ident *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.identities[ident.ExternalID]
	if ok {
		// Preserve the store-side identity and creation time across upserts.
		ident.ID = existing.ID
		ident.CreatedAt = existing.CreatedAt
	} else {
		if ident.ID.IsNil() {
			ident.ID = id.NewIdentityID()
		}
		if ident.CreatedAt.IsZero() {
			ident.Entity = types.NewEntity()
		}
	}
	ident.Touch()

	cp := *ident
	s.identities[ident.ExternalID] = &cp
	return nil
}

func (s *Store) GetIdentity(_ context.Context, externalID string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ident, ok := s.identities[externalID]; ok {
		cp := *ident
		return &cp, nil
	}
	return nil, progression.ErrIdentityNotFound
}

func (s *Store) DeactivateIdentity(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[externalID]
	if !ok {
		return progression.ErrIdentityNotFound
	}
	ident.Active = false
	ident.Touch()
	return nil
}

func (s *Store) SetSyncStatus(_ context.Context, externalID string, status identity.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[externalID]
	if !ok {
		return progression.ErrIdentityNotFound
	}
	ident.SyncStatus = status
	ident.Touch()
	return nil
}

func (s *Store) ListLinkedUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.identities))
	for externalID, ident := range s.identities {
		if ident.Active {
			ids = append(ids, externalID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Rank audit implementation

func (s *Store) RecordRankUpdate(_ context.Context, upd *identity.RankUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if upd.ID.IsNil() {
		upd.ID = id.NewRankUpdateID()
	}
	s.rankUpdates = append(s.rankUpdates, *upd)
	return nil
}

func (s *Store) ListRankUpdates(_ context.Context, userID string) ([]*identity.RankUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*identity.RankUpdate, 0)
	for i := range s.rankUpdates {
		if s.rankUpdates[i].UserID == userID {
			cp := s.rankUpdates[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

// Checkpoint implementation

func (s *Store) SyncCheckpoint(_ context.Context, stream string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.checkpoints[stream], nil
}

func (s *Store) SaveSyncCheckpoint(_ context.Context, stream, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[stream] = token
	return nil
}

// Core implementation

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }
