package progression_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/progression"
	"github.com/xraph/progression/id"
	"github.com/xraph/progression/identity"
	"github.com/xraph/progression/metering"
	"github.com/xraph/progression/types"
)

func seedIdentity(t *testing.T, gam interface {
	UpsertIdentity(ctx context.Context, ident *identity.Identity) error
}, externalID string) {
	t.Helper()
	err := gam.UpsertIdentity(context.Background(), &identity.Identity{
		Entity:     types.NewEntity(),
		ID:         id.NewIdentityID(),
		ExternalID: externalID,
		SyncStatus: identity.StatusSynced,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("seed identity %s: %v", externalID, err)
	}
}

func TestReconciliationHealsDrift(t *testing.T) {
	ctx := context.Background()
	e, gam, meter := newTestEngine(t)

	seedIdentity(t, gam, "user-1")
	seedIdentity(t, gam, "user-2")

	// The metering store is authoritative: 7000 for user-1, 3000 for user-2.
	for userID, amount := range map[string]int64{"user-1": 7_000, "user-2": 3_000} {
		if _, err := meter.RecordUsage(ctx, userID, amount, metering.RecordOpts{}); err != nil {
			t.Fatalf("RecordUsage(%s) failed: %v", userID, err)
		}
	}

	// The cache drifted: user-1 missed the dual-write entirely, user-2
	// recorded a different figure.
	if _, err := gam.AddUsage(ctx, "user-2", 1_111); err != nil {
		t.Fatalf("AddUsage failed: %v", err)
	}

	if err := e.RunReconciliation(ctx); err != nil {
		t.Fatalf("RunReconciliation failed: %v", err)
	}

	for userID, want := range map[string]int64{"user-1": 7_000, "user-2": 3_000} {
		trk, err := gam.GetTracking(ctx, userID)
		if err != nil {
			t.Fatalf("GetTracking(%s) failed: %v", userID, err)
		}
		if trk.WeeklyTokens != want {
			t.Errorf("%s weekly tokens: got %d, want %d", userID, trk.WeeklyTokens, want)
		}
	}

	// The sweep never touches the conversion backlog.
	trk, err := gam.GetTracking(ctx, "user-2")
	if err != nil {
		t.Fatalf("GetTracking failed: %v", err)
	}
	if trk.UnprocessedTokens != 1_111 {
		t.Errorf("unprocessed tokens: got %d, want 1111 (untouched by sweep)", trk.UnprocessedTokens)
	}
}

func TestReconciliationConvergesAfterPartialWrite(t *testing.T) {
	ctx := context.Background()
	e, gam, meter := newTestEngine(t)

	seedIdentity(t, gam, "user-1")

	// Simulate a consume whose cache write was lost: only the metering store
	// saw the tokens.
	if _, err := meter.RecordUsage(ctx, "user-1", 42_000, metering.RecordOpts{}); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	if err := e.RunReconciliation(ctx); err != nil {
		t.Fatalf("RunReconciliation failed: %v", err)
	}

	trk, err := gam.GetTracking(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetTracking failed: %v", err)
	}
	if trk.WeeklyTokens != 42_000 {
		t.Errorf("weekly tokens: got %d, want 42000", trk.WeeklyTokens)
	}

	// A second pass with no new writes changes nothing.
	if err := e.RunReconciliation(ctx); err != nil {
		t.Fatalf("second RunReconciliation failed: %v", err)
	}
	trk2, err := gam.GetTracking(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetTracking failed: %v", err)
	}
	if trk2.WeeklyTokens != trk.WeeklyTokens {
		t.Errorf("idle pass changed weekly tokens: %d -> %d", trk.WeeklyTokens, trk2.WeeklyTokens)
	}
}

// flakyMeter fails WeeklyUsage for one user and delegates everything else.
type flakyMeter struct {
	metering.Store
	failUser string
}

func (f *flakyMeter) WeeklyUsage(ctx context.Context, userID string) (*metering.WeeklyUsage, error) {
	if userID == f.failUser {
		return nil, errors.New("metering store unreachable")
	}
	return f.Store.WeeklyUsage(ctx, userID)
}

func TestReconciliationIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	_, gam, meter := newTestEngine(t)
	e := progression.New(gam, &flakyMeter{Store: meter, failUser: "user-2"})

	for _, userID := range []string{"user-1", "user-2", "user-3"} {
		seedIdentity(t, gam, userID)
		if _, err := meter.RecordUsage(ctx, userID, 5_000, metering.RecordOpts{}); err != nil {
			t.Fatalf("RecordUsage(%s) failed: %v", userID, err)
		}
	}

	err := e.RunReconciliation(ctx)
	if err == nil {
		t.Fatal("expected the pass to report the failed user")
	}
	var merr progression.MultiError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MultiError, got %T: %v", err, err)
	}
	if len(merr.Errors) != 1 {
		t.Fatalf("expected exactly one failure, got %d: %v", len(merr.Errors), merr)
	}

	// The healthy users were still synced.
	for _, userID := range []string{"user-1", "user-3"} {
		trk, err := gam.GetTracking(ctx, userID)
		if err != nil {
			t.Fatalf("GetTracking(%s) failed: %v", userID, err)
		}
		if trk.WeeklyTokens != 5_000 {
			t.Errorf("%s weekly tokens: got %d, want 5000", userID, trk.WeeklyTokens)
		}
	}

	// The failed user's cache was left alone.
	if _, err := gam.GetTracking(ctx, "user-2"); !errors.Is(err, progression.ErrTrackingNotFound) {
		t.Errorf("user-2 tracking: got %v, want ErrTrackingNotFound", err)
	}
}

// stallingMeter blocks WeeklyUsage for one user until the call's context
// expires and delegates everything else.
type stallingMeter struct {
	metering.Store
	stallUser string
}

func (m *stallingMeter) WeeklyUsage(ctx context.Context, userID string) (*metering.WeeklyUsage, error) {
	if userID == m.stallUser {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.Store.WeeklyUsage(ctx, userID)
}

func TestReconciliationTimesOutStalledUser(t *testing.T) {
	ctx := context.Background()
	_, gam, meter := newTestEngine(t)
	e := progression.New(gam, &stallingMeter{Store: meter, stallUser: "user-2"},
		progression.WithSweepUserTimeout(50*time.Millisecond),
	)

	for _, userID := range []string{"user-1", "user-2", "user-3"} {
		seedIdentity(t, gam, userID)
		if _, err := meter.RecordUsage(ctx, userID, 5_000, metering.RecordOpts{}); err != nil {
			t.Fatalf("RecordUsage(%s) failed: %v", userID, err)
		}
	}

	start := time.Now()
	err := e.RunReconciliation(ctx)
	elapsed := time.Since(start)

	// The stalled user is cut off by the per-user timeout, not by the caller.
	if elapsed > 5*time.Second {
		t.Fatalf("pass took %v; the stalled user was not timeout-bounded", elapsed)
	}
	if err == nil {
		t.Fatal("expected the pass to report the stalled user")
	}
	var merr progression.MultiError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MultiError, got %T: %v", err, err)
	}
	if len(merr.Errors) != 1 {
		t.Fatalf("expected exactly one failure, got %d: %v", len(merr.Errors), merr)
	}
	if !errors.Is(merr.First(), context.DeadlineExceeded) {
		t.Errorf("stalled user's error: got %v, want context.DeadlineExceeded", merr.First())
	}

	// The users after the stalled one were still synced.
	for _, userID := range []string{"user-1", "user-3"} {
		trk, err := gam.GetTracking(ctx, userID)
		if err != nil {
			t.Fatalf("GetTracking(%s) failed: %v", userID, err)
		}
		if trk.WeeklyTokens != 5_000 {
			t.Errorf("%s weekly tokens: got %d, want 5000", userID, trk.WeeklyTokens)
		}
	}
	if _, err := gam.GetTracking(ctx, "user-2"); !errors.Is(err, progression.ErrTrackingNotFound) {
		t.Errorf("stalled user's cache should be untouched, got %v", err)
	}
}

func TestReconciliationSkipsInactiveIdentities(t *testing.T) {
	ctx := context.Background()
	e, gam, meter := newTestEngine(t)

	seedIdentity(t, gam, "user-1")
	seedIdentity(t, gam, "user-2")
	if err := gam.DeactivateIdentity(ctx, "user-2"); err != nil {
		t.Fatalf("DeactivateIdentity failed: %v", err)
	}

	for _, userID := range []string{"user-1", "user-2"} {
		if _, err := meter.RecordUsage(ctx, userID, 9_000, metering.RecordOpts{}); err != nil {
			t.Fatalf("RecordUsage(%s) failed: %v", userID, err)
		}
	}

	if err := e.RunReconciliation(ctx); err != nil {
		t.Fatalf("RunReconciliation failed: %v", err)
	}

	if trk, err := gam.GetTracking(ctx, "user-1"); err != nil || trk.WeeklyTokens != 9_000 {
		t.Errorf("user-1 tracking: got %+v, %v; want weekly 9000", trk, err)
	}
	if _, err := gam.GetTracking(ctx, "user-2"); !errors.Is(err, progression.ErrTrackingNotFound) {
		t.Errorf("inactive user-2 should be skipped, got %v", err)
	}
}
