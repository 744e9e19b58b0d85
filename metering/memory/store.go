// Package memory provides an in-memory metering store, suitable for tests and
// demos. It applies the same weekly rollover semantics as the MongoDB-backed
// store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/progression/metering"
)

type usageRecord struct {
	weeklyCount   int64
	baseLimit     int64
	lastResetDate time.Time
	totalConsumed int64
}

type Store struct {
	mu sync.RWMutex

	usage map[string]*usageRecord

	// Seen idempotency keys; retried writes carrying a known key are dropped.
	idempotencyKeys map[string]struct{}

	// now is swappable so tests can step across week boundaries.
	now func() time.Time

	// failNext, when set, fails the next RecordUsage before any state changes.
	failNext error
}

func New() *Store {
	return &Store{
		usage:           make(map[string]*usageRecord),
		idempotencyKeys: make(map[string]struct{}),
		now:             time.Now,
	}
}

// SetClock replaces the store's clock. Test helper.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNextRecord makes the next RecordUsage call fail with err, leaving all
// state untouched. Test helper for exercising caller retries.
func (s *Store) FailNextRecord(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) RecordUsage(_ context.Context, userID string, amount int64, opts metering.RecordOpts) (*metering.WeeklyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return nil, err
	}

	now := s.now().UTC()

	if opts.IdempotencyKey != "" {
		if _, seen := s.idempotencyKeys[opts.IdempotencyKey]; seen {
			return s.weeklyUsageLocked(userID, now), nil
		}
		s.idempotencyKeys[opts.IdempotencyKey] = struct{}{}
	}

	rec, ok := s.usage[userID]
	if !ok {
		rec = &usageRecord{lastResetDate: startOfWeek(now)}
		s.usage[userID] = rec
	}

	s.rolloverLocked(rec, now)
	rec.weeklyCount += amount
	rec.totalConsumed += amount

	return &metering.WeeklyUsage{
		Count:         rec.weeklyCount,
		BaseLimit:     rec.baseLimit,
		LastResetDate: rec.lastResetDate,
	}, nil
}

func (s *Store) WeeklyUsage(_ context.Context, userID string) (*metering.WeeklyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.weeklyUsageLocked(userID, s.now().UTC()), nil
}

func (s *Store) TotalConsumed(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.usage[userID]; ok {
		return rec.totalConsumed, nil
	}
	return 0, nil
}

func (s *Store) weeklyUsageLocked(userID string, now time.Time) *metering.WeeklyUsage {
	rec, ok := s.usage[userID]
	if !ok {
		return &metering.WeeklyUsage{LastResetDate: startOfWeek(now)}
	}
	s.rolloverLocked(rec, now)
	return &metering.WeeklyUsage{
		Count:         rec.weeklyCount,
		BaseLimit:     rec.baseLimit,
		LastResetDate: rec.lastResetDate,
	}
}

func (s *Store) rolloverLocked(rec *usageRecord, now time.Time) {
	weekStart := startOfWeek(now)
	if rec.lastResetDate.Before(weekStart) {
		rec.weeklyCount = 0
		rec.lastResetDate = weekStart
	}
}

// startOfWeek returns 00:00 UTC on the Monday of t's ISO week.
func startOfWeek(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
