package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/progression/identity"
)

// identityStream is the checkpoint key for the identity change feed.
const identityStream = "identity_changes"

// RunIdentitySync consumes the ordered identity change feed and applies each
// mutation to the gamification store. Delivery is at-least-once: every handler
// is an upsert, so replayed events are harmless. Each event is retried on a
// bounded schedule; a terminally failed event is recorded as FAILED and the
// stream moves on, so one bad record never blocks later changes.
//
// The feed's resume token is checkpointed only after an event is terminally
// handled (SYNCED or FAILED), so a crash in between results in re-delivery
// rather than a skipped event.
//
// It blocks until the context is canceled or the feed closes.
func (e *Engine) RunIdentitySync(ctx context.Context, feed identity.Feed) error {
	for {
		ev, err := feed.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrFeedClosed) {
				return nil
			}
			return fmt.Errorf("next change event: %w", err)
		}

		e.handleChangeEvent(ctx, ev)

		if ev.ResumeToken != "" {
			if err := e.gam.SaveSyncCheckpoint(ctx, identityStream, ev.ResumeToken); err != nil {
				e.logger.Error("failed to save sync checkpoint",
					"stream", identityStream,
					"error", err,
				)
			}
		}
	}
}

// SyncCheckpoint returns the last checkpointed resume token of the identity
// feed, or the empty string if no event was ever handled.
func (e *Engine) SyncCheckpoint(ctx context.Context) (string, error) {
	return e.gam.SyncCheckpoint(ctx, identityStream)
}

func (e *Engine) handleChangeEvent(ctx context.Context, ev *identity.ChangeEvent) {
	switch ev.Operation {
	case identity.OpInsert, identity.OpUpdate:
		e.applyIdentityUpsert(ctx, ev)
	case identity.OpDelete:
		e.applyIdentityDelete(ctx, ev)
	default:
		e.logger.Warn("skipping change event with unknown operation",
			"operation", string(ev.Operation),
			"document_key", ev.DocumentKey,
		)
	}
}

// applyIdentityUpsert propagates an insert or update into the gamification
// store and marks the record SYNCED. On repeated failure the record is marked
// FAILED instead and processing continues.
func (e *Engine) applyIdentityUpsert(ctx context.Context, ev *identity.ChangeEvent) {
	doc := ev.FullDocument
	if doc == nil {
		e.logger.Warn("change event carries no document, skipping",
			"operation", string(ev.Operation),
			"document_key", ev.DocumentKey,
		)
		return
	}

	externalID := doc.ExternalID
	if externalID == "" {
		externalID = ev.DocumentKey
	}
	if externalID == "" {
		e.logger.Warn("change event carries no external identifier, skipping")
		return
	}

	var prevRank string
	var hadPrev bool

	apply := func() (*identity.Identity, error) {
		prev, err := e.gam.GetIdentity(ctx, externalID)
		switch {
		case err == nil:
			prevRank = prev.Rank
			hadPrev = true
		case errors.Is(err, ErrIdentityNotFound):
			hadPrev = false
		default:
			return nil, err
		}

		ident := &identity.Identity{
			ExternalID:     externalID,
			Email:          doc.Email,
			Name:           doc.Name,
			Rank:           doc.Rank,
			CredentialHash: doc.CredentialHash,
			SyncStatus:     identity.StatusSynced,
			Active:         true,
		}
		if err := e.gam.UpsertIdentity(ctx, ident); err != nil {
			return nil, err
		}
		return ident, nil
	}

	ident, err := backoff.Retry(ctx, apply,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(e.syncMaxRetries),
	)
	if err != nil {
		e.recordSyncFailure(ctx, externalID, err)
		return
	}

	if hadPrev && doc.Rank != prevRank {
		upd := &identity.RankUpdate{
			UserID:    externalID,
			OldRank:   prevRank,
			NewRank:   doc.Rank,
			UpdatedAt: time.Now().UTC(),
		}
		if err := e.gam.RecordRankUpdate(ctx, upd); err != nil {
			e.logger.Error("failed to record rank update",
				"external_id", externalID,
				"error", err,
			)
		} else {
			e.plugins.EmitRankChanged(ctx, upd)
		}
	}

	e.plugins.EmitIdentitySynced(ctx, ident)
	e.logger.Debug("identity change applied",
		"operation", string(ev.Operation),
		"external_id", externalID,
	)
}

// applyIdentityDelete soft-deletes the identity: progression history is
// preserved, the record is only marked inactive.
func (e *Engine) applyIdentityDelete(ctx context.Context, ev *identity.ChangeEvent) {
	externalID := ev.DocumentKey
	if externalID == "" && ev.FullDocument != nil {
		externalID = ev.FullDocument.ExternalID
	}
	if externalID == "" {
		e.logger.Warn("delete event carries no external identifier, skipping")
		return
	}

	deactivate := func() (struct{}, error) {
		err := e.gam.DeactivateIdentity(ctx, externalID)
		if errors.Is(err, ErrIdentityNotFound) {
			// Replayed delete, or delete for an identity that never synced.
			return struct{}{}, nil
		}
		return struct{}{}, err
	}

	if _, err := backoff.Retry(ctx, deactivate,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(e.syncMaxRetries),
	); err != nil {
		e.recordSyncFailure(ctx, externalID, err)
		return
	}

	e.logger.Debug("identity deactivated", "external_id", externalID)
}

// recordSyncFailure marks the identity FAILED so the failure is visible on the
// record itself, then moves on.
func (e *Engine) recordSyncFailure(ctx context.Context, externalID string, cause error) {
	e.logger.Error("identity propagation failed",
		"external_id", externalID,
		"error", cause,
	)

	err := e.gam.SetSyncStatus(ctx, externalID, identity.StatusFailed)
	if errors.Is(err, ErrIdentityNotFound) {
		// First propagation never landed; keep a stub so the failure is recorded.
		err = e.gam.UpsertIdentity(ctx, &identity.Identity{
			ExternalID: externalID,
			SyncStatus: identity.StatusFailed,
			Active:     true,
		})
	}
	if err != nil {
		e.logger.Error("failed to record sync failure",
			"external_id", externalID,
			"error", err,
		)
	}

	e.plugins.EmitIdentitySyncFailed(ctx, externalID, cause)
}
