package progression

import (
	"context"
	"fmt"
	"time"
)

// RunReconciliation performs one reconciliation pass: for every user in the
// gamification store with a linked metering-store identity, it reads the
// authoritative weekly counter and overwrites the cached copy, healing drift
// from missed or failed dual-writes. Per-user failures are logged and
// collected; one user's failure never aborts the pass for the rest.
//
// The overwrite races benignly with concurrent Consume writes to the same
// field: the sweep is a periodic correction, so last-writer-wins is
// acceptable. It never touches UnprocessedTokens or experience.
func (e *Engine) RunReconciliation(ctx context.Context) error {
	start := time.Now()

	userIDs, err := e.gam.ListLinkedUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list linked users: %w", err)
	}

	var merr MultiError
	synced := 0
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			merr.Add(ctx.Err())
			break
		}

		if err := e.reconcileUser(ctx, userID); err != nil {
			e.logger.Error("reconciliation failed for user",
				"user_id", userID,
				"error", err,
			)
			merr.Add(fmt.Errorf("reconcile user %s: %w", userID, err))
			continue
		}
		synced++
	}

	elapsed := time.Since(start)
	e.plugins.EmitReconcileCompleted(ctx, synced, len(merr.Errors), elapsed)

	e.logger.Info("reconciliation pass completed",
		"synced", synced,
		"failed", len(merr.Errors),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	if merr.HasErrors() {
		return merr
	}
	return nil
}

// reconcileUser syncs one user's cached weekly counter from the metering
// store. The work is timeout-bounded so an unreachable identity cannot stall
// the whole pass.
func (e *Engine) reconcileUser(ctx context.Context, userID string) error {
	uctx, cancel := context.WithTimeout(ctx, e.sweepUserTimeout)
	defer cancel()

	weekly, err := e.meter.WeeklyUsage(uctx, userID)
	if err != nil {
		return fmt.Errorf("fetch weekly usage: %w", err)
	}

	if err := e.gam.SetWeeklyTokens(uctx, userID, weekly.Count, time.Now().UTC()); err != nil {
		return fmt.Errorf("overwrite weekly tokens: %w", err)
	}

	return nil
}

// reconcileWorker runs reconciliation passes on a fixed interval until the
// engine stops.
func (e *Engine) reconcileWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunReconciliation(ctx); err != nil {
				e.logger.Error("scheduled reconciliation pass had failures", "error", err)
			}
		}
	}
}
