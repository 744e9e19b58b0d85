// Package mongo provides the MongoDB-backed metering store client: the
// authoritative weekly/total consumption counters and the identity change
// feed sourced from the store's change streams.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/progression/id"
	"github.com/xraph/progression/metering"
)

// Collection name constants.
const (
	colUsage       = "metering_usage"
	colUsageEvents = "metering_usage_events"
	colUsers       = "metering_users"
)

// compile-time interface check
var _ metering.Store = (*Store)(nil)

// Store implements metering.Store on a MongoDB database.
type Store struct {
	db *mongo.Database
}

// New creates a new MongoDB metering store.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates the indexes the store relies on.
func (s *Store) Migrate(ctx context.Context) error {
	usageIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.db.Collection(colUsage).Indexes().CreateOne(ctx, usageIdx); err != nil {
		return fmt.Errorf("progression/mongo: create usage index: %w", err)
	}

	eventIdx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
		},
	}
	if _, err := s.db.Collection(colUsageEvents).Indexes().CreateMany(ctx, eventIdx); err != nil {
		return fmt.Errorf("progression/mongo: create usage event indexes: %w", err)
	}

	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *Store) RecordUsage(ctx context.Context, userID string, amount int64, opts metering.RecordOpts) (*metering.WeeklyUsage, error) {
	now := time.Now().UTC()

	var eventID string
	if opts.IdempotencyKey != "" {
		event := usageEventModel{
			ID:             id.NewUsageEventID().String(),
			UserID:         userID,
			Amount:         amount,
			Timestamp:      now,
			IdempotencyKey: opts.IdempotencyKey,
		}
		if _, err := s.db.Collection(colUsageEvents).InsertOne(ctx, event); err != nil {
			// A duplicate key means this logical event was already recorded;
			// report the current counters without incrementing again.
			if mongo.IsDuplicateKeyError(err) {
				return s.WeeklyUsage(ctx, userID)
			}
			return nil, fmt.Errorf("progression/mongo: record usage event: %w", err)
		}
		eventID = event.ID
	}

	weekStart := startOfWeek(now)

	// Roll the weekly counter over first if the stored week is stale. The
	// rollover and the increment are separate commands, but both are additive
	// or guarded, so concurrent writers cannot lose an increment.
	_, err := s.db.Collection(colUsage).UpdateOne(ctx,
		bson.M{"user_id": userID, "weekly.last_reset_date": bson.M{"$lt": weekStart}},
		bson.M{"$set": bson.M{"weekly.count": int64(0), "weekly.last_reset_date": weekStart}},
	)
	if err != nil {
		return nil, s.releaseEvent(ctx, eventID, fmt.Errorf("progression/mongo: weekly rollover: %w", err))
	}

	res := s.db.Collection(colUsage).FindOneAndUpdate(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$inc": bson.M{
				"weekly.count":          amount,
				"total_tokens_consumed": amount,
			},
			"$setOnInsert": bson.M{
				"weekly.base_limit":      int64(0),
				"weekly.last_reset_date": weekStart,
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var m usageModel
	if err := res.Decode(&m); err != nil {
		return nil, s.releaseEvent(ctx, eventID, fmt.Errorf("progression/mongo: record usage: %w", err))
	}

	return m.toWeeklyUsage(), nil
}

// releaseEvent deletes a recorded usage event after its counter increment
// failed, so the idempotency key is not burned: a caller retry with the same
// key must re-apply the write, not read back the un-incremented counters.
func (s *Store) releaseEvent(ctx context.Context, eventID string, cause error) error {
	if eventID == "" {
		return cause
	}
	if _, err := s.db.Collection(colUsageEvents).DeleteOne(ctx, bson.M{"_id": eventID}); err != nil {
		// The key stays held; surface both so the caller knows a retry with
		// the same key will report stale counters instead of incrementing.
		return fmt.Errorf("%w (release usage event: %w)", cause, err)
	}
	return cause
}

func (s *Store) WeeklyUsage(ctx context.Context, userID string) (*metering.WeeklyUsage, error) {
	now := time.Now().UTC()
	weekStart := startOfWeek(now)

	var m usageModel
	err := s.db.Collection(colUsage).FindOne(ctx, bson.M{"user_id": userID}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &metering.WeeklyUsage{LastResetDate: weekStart}, nil
		}
		return nil, fmt.Errorf("progression/mongo: weekly usage: %w", err)
	}

	// A stale week reads as zero even before a write triggers the rollover.
	if m.Weekly.LastResetDate.Before(weekStart) {
		return &metering.WeeklyUsage{
			BaseLimit:     m.Weekly.BaseLimit,
			LastResetDate: weekStart,
		}, nil
	}

	return m.toWeeklyUsage(), nil
}

func (s *Store) TotalConsumed(ctx context.Context, userID string) (int64, error) {
	var m usageModel
	err := s.db.Collection(colUsage).FindOne(ctx, bson.M{"user_id": userID}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("progression/mongo: total consumed: %w", err)
	}
	return m.TotalTokensConsumed, nil
}

// startOfWeek returns 00:00 UTC on the Monday of t's ISO week.
func startOfWeek(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
