// Package plugin provides an extensible plugin system for Progression.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/progression/identity"
	"github.com/xraph/progression/tracking"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Consumption hooks
// ──────────────────────────────────────────────────

// OnConsumption is called after a consumption request commits.
type OnConsumption interface {
	Plugin
	OnConsumption(ctx context.Context, userID string, amount, weeklyRemaining int64) error
}

// OnQuotaExceeded is called when a consumption request is rejected for quota.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, userID string, requested, weeklyRemaining int64) error
}

// ──────────────────────────────────────────────────
// Conversion hooks
// ──────────────────────────────────────────────────

// OnConversion is called after a token-to-experience batch is applied.
type OnConversion interface {
	Plugin
	OnConversion(ctx context.Context, conv *tracking.Conversion) error
}

// OnLevelUp is called when an applied conversion raises the user's level.
type OnLevelUp interface {
	Plugin
	OnLevelUp(ctx context.Context, userID string, oldLevel, newLevel int) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconcileCompleted is called after every reconciliation pass.
type OnReconcileCompleted interface {
	Plugin
	OnReconcileCompleted(ctx context.Context, synced, failed int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Identity sync hooks
// ──────────────────────────────────────────────────

// OnIdentitySynced is called after an identity change propagates successfully.
type OnIdentitySynced interface {
	Plugin
	OnIdentitySynced(ctx context.Context, ident *identity.Identity) error
}

// OnIdentitySyncFailed is called when an identity change terminally fails.
type OnIdentitySyncFailed interface {
	Plugin
	OnIdentitySyncFailed(ctx context.Context, externalID string, err error) error
}

// OnRankChanged is called when a rank transition is recorded.
type OnRankChanged interface {
	Plugin
	OnRankChanged(ctx context.Context, upd *identity.RankUpdate) error
}
