package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/progression/identity"
	"github.com/xraph/progression/tracking"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onConsumption        []OnConsumption
	onQuotaExceeded      []OnQuotaExceeded
	onConversion         []OnConversion
	onLevelUp            []OnLevelUp
	onReconcileCompleted []OnReconcileCompleted
	onIdentitySynced     []OnIdentitySynced
	onIdentitySyncFailed []OnIdentitySyncFailed
	onRankChanged        []OnRankChanged
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnConsumption); ok {
		r.onConsumption = append(r.onConsumption, v)
	}
	if v, ok := p.(OnQuotaExceeded); ok {
		r.onQuotaExceeded = append(r.onQuotaExceeded, v)
	}
	if v, ok := p.(OnConversion); ok {
		r.onConversion = append(r.onConversion, v)
	}
	if v, ok := p.(OnLevelUp); ok {
		r.onLevelUp = append(r.onLevelUp, v)
	}
	if v, ok := p.(OnReconcileCompleted); ok {
		r.onReconcileCompleted = append(r.onReconcileCompleted, v)
	}
	if v, ok := p.(OnIdentitySynced); ok {
		r.onIdentitySynced = append(r.onIdentitySynced, v)
	}
	if v, ok := p.(OnIdentitySyncFailed); ok {
		r.onIdentitySyncFailed = append(r.onIdentitySyncFailed, v)
	}
	if v, ok := p.(OnRankChanged); ok {
		r.onRankChanged = append(r.onRankChanged, v)
	}

	return nil
}

// Plugins returns the names of all registered plugins.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		names = append(names, p.Name())
	}
	return names
}

// ──────────────────────────────────────────────────
// Emitters. Hook errors are logged, never propagated.
// ──────────────────────────────────────────────────

// EmitInit notifies all OnInit plugins.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onInit {
		if err := p.OnInit(ctx, engine); err != nil {
			r.logger.Error("plugin OnInit failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitShutdown notifies all OnShutdown plugins.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onShutdown {
		if err := p.OnShutdown(ctx); err != nil {
			r.logger.Error("plugin OnShutdown failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitConsumption notifies all OnConsumption plugins.
func (r *Registry) EmitConsumption(ctx context.Context, userID string, amount, weeklyRemaining int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onConsumption {
		if err := p.OnConsumption(ctx, userID, amount, weeklyRemaining); err != nil {
			r.logger.Error("plugin OnConsumption failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitQuotaExceeded notifies all OnQuotaExceeded plugins.
func (r *Registry) EmitQuotaExceeded(ctx context.Context, userID string, requested, weeklyRemaining int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onQuotaExceeded {
		if err := p.OnQuotaExceeded(ctx, userID, requested, weeklyRemaining); err != nil {
			r.logger.Error("plugin OnQuotaExceeded failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitConversion notifies all OnConversion plugins.
func (r *Registry) EmitConversion(ctx context.Context, conv *tracking.Conversion) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onConversion {
		if err := p.OnConversion(ctx, conv); err != nil {
			r.logger.Error("plugin OnConversion failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitLevelUp notifies all OnLevelUp plugins.
func (r *Registry) EmitLevelUp(ctx context.Context, userID string, oldLevel, newLevel int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onLevelUp {
		if err := p.OnLevelUp(ctx, userID, oldLevel, newLevel); err != nil {
			r.logger.Error("plugin OnLevelUp failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitReconcileCompleted notifies all OnReconcileCompleted plugins.
func (r *Registry) EmitReconcileCompleted(ctx context.Context, synced, failed int, elapsed time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onReconcileCompleted {
		if err := p.OnReconcileCompleted(ctx, synced, failed, elapsed); err != nil {
			r.logger.Error("plugin OnReconcileCompleted failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitIdentitySynced notifies all OnIdentitySynced plugins.
func (r *Registry) EmitIdentitySynced(ctx context.Context, ident *identity.Identity) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onIdentitySynced {
		if err := p.OnIdentitySynced(ctx, ident); err != nil {
			r.logger.Error("plugin OnIdentitySynced failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitIdentitySyncFailed notifies all OnIdentitySyncFailed plugins.
func (r *Registry) EmitIdentitySyncFailed(ctx context.Context, externalID string, cause error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onIdentitySyncFailed {
		if err := p.OnIdentitySyncFailed(ctx, externalID, cause); err != nil {
			r.logger.Error("plugin OnIdentitySyncFailed failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitRankChanged notifies all OnRankChanged plugins.
func (r *Registry) EmitRankChanged(ctx context.Context, upd *identity.RankUpdate) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.onRankChanged {
		if err := p.OnRankChanged(ctx, upd); err != nil {
			r.logger.Error("plugin OnRankChanged failed", "plugin", p.Name(), "error", err)
		}
	}
}
