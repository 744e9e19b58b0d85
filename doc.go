// Package progression provides a token metering and progression engine for Go
// applications.
//
// Progression is designed as a library, not a service. It meters a resource
// ("tokens") against a per-user weekly quota and converts accumulated usage
// into experience points and levels in discrete batches, keeping two
// independently-owned stores approximately consistent:
//
//   - the metering store (MongoDB-backed), the source of truth for raw
//     consumption counters and canonical user identity
//   - the gamification store (PostgreSQL-backed), the source of truth for
//     derived progression state and a writable cache of weekly usage
//
// Consistency is maintained through three mechanisms: a synchronous dual-write
// on every consumption event, a periodic reconciliation sweep that overwrites
// the cached weekly counter from the authoritative source, and a change-feed
// processor that propagates identity mutations with per-record sync-status
// tracking.
//
// # Quick Start
//
// Create an engine over your two stores:
//
//	import (
//	    "github.com/xraph/progression"
//	    meteringmongo "github.com/xraph/progression/metering/mongo"
//	    "github.com/xraph/progression/store/postgres"
//	)
//
//	gam, err := postgres.New(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	meter := meteringmongo.New(mongoDB)
//
//	feed, err := meter.ChangeFeed(ctx, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := progression.New(gam, meter,
//	    progression.WithChangeFeed(feed),
//	)
//
//	// Start background workers (reconciliation sweep, identity sync)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// Record consumption:
//
//	receipt, err := engine.Consume(ctx, userID, 2500)
//	if progression.IsQuotaError(err) {
//	    // spend rejected: weekly quota exhausted
//	}
//
// Consume enforces the weekly quota, increments the metering counters, and
// converts unprocessed tokens into experience once the batch threshold is
// crossed, carrying the remainder forward. Two concurrent Consume calls for
// the same user are serialized, so a conversion batch is never double-spent.
//
// An operator can trigger a corrective pass at any time:
//
//	if err := engine.RunReconciliation(ctx); err != nil {
//	    // per-user failures; the pass still covered the remaining users
//	}
package progression
