// Package postgres provides the PostgreSQL-backed gamification store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/progression"
	"github.com/xraph/progression/id"
	"github.com/xraph/progression/identity"
	progstore "github.com/xraph/progression/store"
	"github.com/xraph/progression/tracking"
)

// compile-time interface check
var _ progstore.Store = (*Store)(nil)

// Store implements store.Store on a PostgreSQL pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a new gamification store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("progression/postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the schema migrations that have not run yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS progression_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", progression.ErrMigrationFailed, err)
	}

	for _, m := range migrations {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM progression_migrations WHERE version = $1)`, m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: check %s: %w", progression.ErrMigrationFailed, m.Name, err)
		}
		if exists {
			continue
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%w: begin %s: %w", progression.ErrMigrationFailed, m.Name, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // original error is the one that matters
			return fmt.Errorf("%w: apply %s: %w", progression.ErrMigrationFailed, m.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO progression_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name,
		); err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // original error is the one that matters
			return fmt.Errorf("%w: record %s: %w", progression.ErrMigrationFailed, m.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%w: commit %s: %w", progression.ErrMigrationFailed, m.Name, err)
		}
	}

	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ──────────────────────────────────────────────────
// Tracking
// ──────────────────────────────────────────────────

func (s *Store) GetTracking(ctx context.Context, userID string) (*tracking.Tracking, error) {
	var r trackingRow
	err := s.pool.QueryRow(ctx, `
SELECT user_id, id, weekly_tokens, unprocessed_tokens, last_synced_at, created_at, updated_at
FROM progression_tracking WHERE user_id = $1`, userID,
	).Scan(&r.UserID, &r.ID, &r.WeeklyTokens, &r.UnprocessedTokens, &r.LastSyncedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, progression.ErrTrackingNotFound
		}
		return nil, fmt.Errorf("progression/postgres: get tracking: %w", err)
	}
	return r.toDomain()
}

func (s *Store) AddUsage(ctx context.Context, userID string, amount int64) (*tracking.Tracking, error) {
	var r trackingRow
	err := s.pool.QueryRow(ctx, `
INSERT INTO progression_tracking (user_id, id, weekly_tokens, unprocessed_tokens, last_synced_at)
VALUES ($1, $2, $3, $3, NOW())
ON CONFLICT (user_id) DO UPDATE SET
    weekly_tokens      = progression_tracking.weekly_tokens + EXCLUDED.weekly_tokens,
    unprocessed_tokens = progression_tracking.unprocessed_tokens + EXCLUDED.unprocessed_tokens,
    last_synced_at     = NOW(),
    updated_at         = NOW()
RETURNING user_id, id, weekly_tokens, unprocessed_tokens, last_synced_at, created_at, updated_at`,
		userID, id.NewTrackingID().String(), amount,
	).Scan(&r.UserID, &r.ID, &r.WeeklyTokens, &r.UnprocessedTokens, &r.LastSyncedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("progression/postgres: add usage: %w", err)
	}
	return r.toDomain()
}

func (s *Store) ApplyConversion(ctx context.Context, conv *tracking.Conversion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin conversion: %w", progression.ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
UPDATE progression_tracking
SET unprocessed_tokens = $2, updated_at = NOW()
WHERE user_id = $1`, conv.UserID, conv.Remainder)
	if err != nil {
		return fmt.Errorf("%w: update tracking: %w", progression.ErrTransactionFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return progression.ErrTrackingNotFound
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO progression_states (user_id, experience, level, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO UPDATE SET
    experience = progression_states.experience + EXCLUDED.experience,
    level      = EXCLUDED.level,
    updated_at = NOW()`, conv.UserID, conv.ExperienceGained, conv.Level,
	); err != nil {
		return fmt.Errorf("%w: update progression: %w", progression.ErrTransactionFailed, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit conversion: %w", progression.ErrTransactionFailed, err)
	}
	return nil
}

func (s *Store) SetWeeklyTokens(ctx context.Context, userID string, count int64, syncedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO progression_tracking (user_id, id, weekly_tokens, unprocessed_tokens, last_synced_at)
VALUES ($1, $2, $3, 0, $4)
ON CONFLICT (user_id) DO UPDATE SET
    weekly_tokens  = EXCLUDED.weekly_tokens,
    last_synced_at = EXCLUDED.last_synced_at,
    updated_at     = NOW()`,
		userID, id.NewTrackingID().String(), count, syncedAt)
	if err != nil {
		return fmt.Errorf("progression/postgres: set weekly tokens: %w", err)
	}
	return nil
}

func (s *Store) GetProgression(ctx context.Context, userID string) (*tracking.Progression, error) {
	prog := &tracking.Progression{UserID: userID, Level: 1}
	err := s.pool.QueryRow(ctx,
		`SELECT experience, level FROM progression_states WHERE user_id = $1`, userID,
	).Scan(&prog.Experience, &prog.Level)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("progression/postgres: get progression: %w", err)
	}
	return prog, nil
}

// ──────────────────────────────────────────────────
// Identity
// ──────────────────────────────────────────────────

func (s *Store) UpsertIdentity(ctx context.Context, ident *identity.Identity) error {
	if ident.ID.IsNil() {
		ident.ID = id.NewIdentityID()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO progression_identities (external_id, id, email, name, rank, credential_hash, sync_status, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (external_id) DO UPDATE SET
    email           = EXCLUDED.email,
    name            = EXCLUDED.name,
    rank            = EXCLUDED.rank,
    credential_hash = EXCLUDED.credential_hash,
    sync_status     = EXCLUDED.sync_status,
    active          = EXCLUDED.active,
    updated_at      = NOW()`,
		ident.ExternalID, ident.ID.String(), ident.Email, ident.Name, ident.Rank,
		ident.CredentialHash, string(ident.SyncStatus), ident.Active)
	if err != nil {
		return fmt.Errorf("progression/postgres: upsert identity: %w", err)
	}
	return nil
}

func (s *Store) GetIdentity(ctx context.Context, externalID string) (*identity.Identity, error) {
	var r identityRow
	err := s.pool.QueryRow(ctx, `
SELECT external_id, id, email, name, rank, credential_hash, sync_status, active, created_at, updated_at
FROM progression_identities WHERE external_id = $1`, externalID,
	).Scan(&r.ExternalID, &r.ID, &r.Email, &r.Name, &r.Rank, &r.CredentialHash, &r.SyncStatus, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, progression.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("progression/postgres: get identity: %w", err)
	}
	return r.toDomain(), nil
}

func (s *Store) DeactivateIdentity(ctx context.Context, externalID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE progression_identities SET active = FALSE, updated_at = NOW() WHERE external_id = $1`, externalID)
	if err != nil {
		return fmt.Errorf("progression/postgres: deactivate identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return progression.ErrIdentityNotFound
	}
	return nil
}

func (s *Store) SetSyncStatus(ctx context.Context, externalID string, status identity.SyncStatus) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE progression_identities SET sync_status = $2, updated_at = NOW() WHERE external_id = $1`,
		externalID, string(status))
	if err != nil {
		return fmt.Errorf("progression/postgres: set sync status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return progression.ErrIdentityNotFound
	}
	return nil
}

func (s *Store) ListLinkedUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT external_id FROM progression_identities WHERE active ORDER BY external_id`)
	if err != nil {
		return nil, fmt.Errorf("progression/postgres: list linked users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("progression/postgres: scan linked user: %w", err)
		}
		ids = append(ids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("progression/postgres: list linked users: %w", err)
	}
	return ids, nil
}

// ──────────────────────────────────────────────────
// Rank audit
// ──────────────────────────────────────────────────

func (s *Store) RecordRankUpdate(ctx context.Context, upd *identity.RankUpdate) error {
	if upd.ID.IsNil() {
		upd.ID = id.NewRankUpdateID()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO progression_rank_updates (id, user_id, old_rank, new_rank, updated_at)
VALUES ($1, $2, $3, $4, $5)`,
		upd.ID.String(), upd.UserID, upd.OldRank, upd.NewRank, upd.UpdatedAt)
	if err != nil {
		return fmt.Errorf("progression/postgres: record rank update: %w", err)
	}
	return nil
}

func (s *Store) ListRankUpdates(ctx context.Context, userID string) ([]*identity.RankUpdate, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, old_rank, new_rank, updated_at
FROM progression_rank_updates WHERE user_id = $1 ORDER BY updated_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("progression/postgres: list rank updates: %w", err)
	}
	defer rows.Close()

	var result []*identity.RankUpdate
	for rows.Next() {
		var upd identity.RankUpdate
		var rawID string
		if err := rows.Scan(&rawID, &upd.UserID, &upd.OldRank, &upd.NewRank, &upd.UpdatedAt); err != nil {
			return nil, fmt.Errorf("progression/postgres: scan rank update: %w", err)
		}
		if parsed, err := id.ParseRankUpdateID(rawID); err == nil {
			upd.ID = parsed
		}
		result = append(result, &upd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("progression/postgres: list rank updates: %w", err)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Checkpoints
// ──────────────────────────────────────────────────

func (s *Store) SyncCheckpoint(ctx context.Context, stream string) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx,
		`SELECT token FROM progression_sync_checkpoints WHERE stream = $1`, stream,
	).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("progression/postgres: get checkpoint: %w", err)
	}
	return token, nil
}

func (s *Store) SaveSyncCheckpoint(ctx context.Context, stream, token string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO progression_sync_checkpoints (stream, token, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (stream) DO UPDATE SET token = EXCLUDED.token, updated_at = NOW()`,
		stream, token)
	if err != nil {
		return fmt.Errorf("progression/postgres: save checkpoint: %w", err)
	}
	return nil
}
