package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/progression"
	"github.com/xraph/progression/identity"
	"github.com/xraph/progression/tracking"
)

func TestAddUsageCreatesThenIncrements(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.AddUsage(ctx, "user-1", 1_000)
	if err != nil {
		t.Fatalf("AddUsage failed: %v", err)
	}
	if first.ID.IsNil() {
		t.Error("first AddUsage should mint a tracking ID")
	}
	if first.WeeklyTokens != 1_000 || first.UnprocessedTokens != 1_000 {
		t.Errorf("first record: got weekly %d / unprocessed %d, want 1000/1000",
			first.WeeklyTokens, first.UnprocessedTokens)
	}

	second, err := s.AddUsage(ctx, "user-1", 500)
	if err != nil {
		t.Fatalf("AddUsage failed: %v", err)
	}
	if second.ID != first.ID {
		t.Error("increment should reuse the existing record")
	}
	if second.WeeklyTokens != 1_500 || second.UnprocessedTokens != 1_500 {
		t.Errorf("second record: got weekly %d / unprocessed %d, want 1500/1500",
			second.WeeklyTokens, second.UnprocessedTokens)
	}
}

func TestGetTrackingNotFound(t *testing.T) {
	s := New()

	_, err := s.GetTracking(context.Background(), "nobody")
	if !errors.Is(err, progression.ErrTrackingNotFound) {
		t.Errorf("got %v, want ErrTrackingNotFound", err)
	}
	if !progression.IsNotFound(err) {
		t.Error("IsNotFound should report true")
	}
}

func TestApplyConversion(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.AddUsage(ctx, "user-1", 305_500); err != nil {
		t.Fatalf("AddUsage failed: %v", err)
	}

	err := s.ApplyConversion(ctx, &tracking.Conversion{
		UserID:           "user-1",
		ExperienceGained: 30,
		Remainder:        5_500,
		Level:            1,
	})
	if err != nil {
		t.Fatalf("ApplyConversion failed: %v", err)
	}

	trk, err := s.GetTracking(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetTracking failed: %v", err)
	}
	if trk.UnprocessedTokens != 5_500 {
		t.Errorf("unprocessed: got %d, want 5500", trk.UnprocessedTokens)
	}
	if trk.WeeklyTokens != 305_500 {
		t.Errorf("weekly tokens: got %d, want 305500 (conversion must not touch them)", trk.WeeklyTokens)
	}

	prog, err := s.GetProgression(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetProgression failed: %v", err)
	}
	if prog.Experience != 30 || prog.Level != 1 {
		t.Errorf("progression: got %+v, want exp 30 / level 1", prog)
	}

	// A second batch accumulates experience.
	err = s.ApplyConversion(ctx, &tracking.Conversion{
		UserID:           "user-1",
		ExperienceGained: 470,
		Remainder:        0,
		Level:            2,
	})
	if err != nil {
		t.Fatalf("second ApplyConversion failed: %v", err)
	}
	prog, err = s.GetProgression(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetProgression failed: %v", err)
	}
	if prog.Experience != 500 || prog.Level != 2 {
		t.Errorf("progression: got %+v, want exp 500 / level 2", prog)
	}
}

func TestApplyConversionUnknownUser(t *testing.T) {
	s := New()

	err := s.ApplyConversion(context.Background(), &tracking.Conversion{UserID: "nobody"})
	if !errors.Is(err, progression.ErrTrackingNotFound) {
		t.Errorf("got %v, want ErrTrackingNotFound", err)
	}
}

func TestSetWeeklyTokensUpserts(t *testing.T) {
	ctx := context.Background()
	s := New()

	syncedAt := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	if err := s.SetWeeklyTokens(ctx, "user-1", 7_000, syncedAt); err != nil {
		t.Fatalf("SetWeeklyTokens failed: %v", err)
	}

	trk, err := s.GetTracking(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetTracking failed: %v", err)
	}
	if trk.WeeklyTokens != 7_000 {
		t.Errorf("weekly tokens: got %d, want 7000", trk.WeeklyTokens)
	}
	if trk.UnprocessedTokens != 0 {
		t.Errorf("unprocessed: got %d, want 0 (sweep never touches it)", trk.UnprocessedTokens)
	}
	if !trk.LastSyncedAt.Equal(syncedAt) {
		t.Errorf("last synced at: got %v, want %v", trk.LastSyncedAt, syncedAt)
	}

	// Overwrite, not increment.
	if err := s.SetWeeklyTokens(ctx, "user-1", 4_000, syncedAt.Add(time.Hour)); err != nil {
		t.Fatalf("SetWeeklyTokens failed: %v", err)
	}
	trk, err = s.GetTracking(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetTracking failed: %v", err)
	}
	if trk.WeeklyTokens != 4_000 {
		t.Errorf("weekly tokens after overwrite: got %d, want 4000", trk.WeeklyTokens)
	}
}

func TestGetProgressionDefaults(t *testing.T) {
	s := New()

	prog, err := s.GetProgression(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetProgression failed: %v", err)
	}
	if prog.Experience != 0 || prog.Level != 1 {
		t.Errorf("defaults: got %+v, want exp 0 / level 1", prog)
	}
}

func TestUpsertIdentityPreservesProvenance(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.UpsertIdentity(ctx, &identity.Identity{
		ExternalID: "user-1",
		Email:      "old@example.com",
		Rank:       "bronze",
		SyncStatus: identity.StatusSynced,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("UpsertIdentity failed: %v", err)
	}

	first, err := s.GetIdentity(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if first.ID.IsNil() {
		t.Error("insert should mint an identity ID")
	}
	if first.CreatedAt.IsZero() {
		t.Error("insert should stamp CreatedAt")
	}

	err = s.UpsertIdentity(ctx, &identity.Identity{
		ExternalID: "user-1",
		Email:      "new@example.com",
		Rank:       "silver",
		SyncStatus: identity.StatusSynced,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("second UpsertIdentity failed: %v", err)
	}

	second, err := s.GetIdentity(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert changed the identity ID: %s -> %s", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("upsert changed CreatedAt: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.Email != "new@example.com" || second.Rank != "silver" {
		t.Errorf("upsert did not apply new fields: %+v", second)
	}
}

func TestDeactivateIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.DeactivateIdentity(ctx, "nobody"); !errors.Is(err, progression.ErrIdentityNotFound) {
		t.Errorf("got %v, want ErrIdentityNotFound", err)
	}

	err := s.UpsertIdentity(ctx, &identity.Identity{
		ExternalID: "user-1",
		SyncStatus: identity.StatusSynced,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("UpsertIdentity failed: %v", err)
	}
	if err := s.DeactivateIdentity(ctx, "user-1"); err != nil {
		t.Fatalf("DeactivateIdentity failed: %v", err)
	}

	ident, err := s.GetIdentity(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if ident.Active {
		t.Error("identity should be inactive")
	}
}

func TestListLinkedUserIDsSortedAndActiveOnly(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, externalID := range []string{"charlie", "alice", "bob"} {
		err := s.UpsertIdentity(ctx, &identity.Identity{
			ExternalID: externalID,
			SyncStatus: identity.StatusSynced,
			Active:     true,
		})
		if err != nil {
			t.Fatalf("UpsertIdentity(%s) failed: %v", externalID, err)
		}
	}
	if err := s.DeactivateIdentity(ctx, "bob"); err != nil {
		t.Fatalf("DeactivateIdentity failed: %v", err)
	}

	ids, err := s.ListLinkedUserIDs(ctx)
	if err != nil {
		t.Fatalf("ListLinkedUserIDs failed: %v", err)
	}
	want := []string{"alice", "charlie"}
	if len(ids) != len(want) {
		t.Fatalf("linked users: got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("linked users: got %v, want %v", ids, want)
			break
		}
	}
}

func TestRankUpdateAuditLog(t *testing.T) {
	ctx := context.Background()
	s := New()

	updates := []identity.RankUpdate{
		{UserID: "user-1", OldRank: "bronze", NewRank: "silver", UpdatedAt: time.Now().UTC()},
		{UserID: "user-1", OldRank: "silver", NewRank: "gold", UpdatedAt: time.Now().UTC()},
		{UserID: "user-2", OldRank: "bronze", NewRank: "gold", UpdatedAt: time.Now().UTC()},
	}
	for i := range updates {
		if err := s.RecordRankUpdate(ctx, &updates[i]); err != nil {
			t.Fatalf("RecordRankUpdate failed: %v", err)
		}
		if updates[i].ID.IsNil() {
			t.Error("RecordRankUpdate should mint an ID")
		}
	}

	got, err := s.ListRankUpdates(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListRankUpdates failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("user-1 rank updates: got %d, want 2", len(got))
	}
	if got[0].NewRank != "silver" || got[1].NewRank != "gold" {
		t.Errorf("rank updates out of order: %+v", got)
	}
}

func TestSyncCheckpoints(t *testing.T) {
	ctx := context.Background()
	s := New()

	token, err := s.SyncCheckpoint(ctx, "identity_changes")
	if err != nil {
		t.Fatalf("SyncCheckpoint failed: %v", err)
	}
	if token != "" {
		t.Errorf("fresh store checkpoint: got %q, want empty", token)
	}

	if err := s.SaveSyncCheckpoint(ctx, "identity_changes", "t1"); err != nil {
		t.Fatalf("SaveSyncCheckpoint failed: %v", err)
	}
	if err := s.SaveSyncCheckpoint(ctx, "identity_changes", "t2"); err != nil {
		t.Fatalf("SaveSyncCheckpoint failed: %v", err)
	}

	token, err = s.SyncCheckpoint(ctx, "identity_changes")
	if err != nil {
		t.Fatalf("SyncCheckpoint failed: %v", err)
	}
	if token != "t2" {
		t.Errorf("checkpoint: got %q, want %q", token, "t2")
	}
}
