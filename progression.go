package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/progression/identity"
	"github.com/xraph/progression/metering"
	"github.com/xraph/progression/plugin"
	"github.com/xraph/progression/store"
	"github.com/xraph/progression/tracking"
)

// Default configuration values.
const (
	DefaultWeeklyLimit         = 100_000
	DefaultConversionThreshold = 300_000
	DefaultTokensPerExperience = 10_000
	DefaultExperiencePerLevel  = 500
	DefaultReconcileInterval   = time.Hour
	DefaultSweepUserTimeout    = 10 * time.Second
	DefaultSyncMaxRetries      = 5
)

// Engine keeps the metering store and the gamification store consistent:
// it enforces the weekly quota, dual-writes consumption, converts accumulated
// tokens into experience in discrete batches, and runs the reconciliation
// sweep and identity change-feed processor as background workers.
type Engine struct {
	gam     store.Store
	meter   metering.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	// Configuration
	weeklyLimit         int64
	conversionThreshold int64
	tokensPerExperience int64
	experiencePerLevel  int64
	reconcileInterval   time.Duration
	sweepUserTimeout    time.Duration
	syncMaxRetries      uint
	feed                identity.Feed

	// Per-user serialization of tracking mutation and conversion.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// Background workers
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new Engine over the gamification store and the metering store.
func New(gam store.Store, meter metering.Store, opts ...Option) *Engine {
	e := &Engine{
		gam:                 gam,
		meter:               meter,
		plugins:             plugin.NewRegistry(),
		logger:              slog.Default(),
		weeklyLimit:         DefaultWeeklyLimit,
		conversionThreshold: DefaultConversionThreshold,
		tokensPerExperience: DefaultTokensPerExperience,
		experiencePerLevel:  DefaultExperiencePerLevel,
		reconcileInterval:   DefaultReconcileInterval,
		sweepUserTimeout:    DefaultSweepUserTimeout,
		syncMaxRetries:      DefaultSyncMaxRetries,
		locks:               make(map[string]*sync.Mutex),
		stopChan:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithWeeklyLimit sets the weekly token quota per user.
func WithWeeklyLimit(limit int64) Option {
	return func(e *Engine) {
		e.weeklyLimit = limit
	}
}

// WithConversionThreshold sets the unprocessed-token balance at which a
// conversion batch runs. Balances below the threshold are held, not converted
// fractionally.
func WithConversionThreshold(threshold int64) Option {
	return func(e *Engine) {
		e.conversionThreshold = threshold
	}
}

// WithTokensPerExperience sets how many tokens convert into one experience point.
func WithTokensPerExperience(tokens int64) Option {
	return func(e *Engine) {
		e.tokensPerExperience = tokens
	}
}

// WithExperiencePerLevel sets how many experience points make up one level.
func WithExperiencePerLevel(exp int64) Option {
	return func(e *Engine) {
		e.experiencePerLevel = exp
	}
}

// WithReconcileInterval sets the cadence of the background reconciliation sweep.
func WithReconcileInterval(interval time.Duration) Option {
	return func(e *Engine) {
		e.reconcileInterval = interval
	}
}

// WithSweepUserTimeout bounds the per-user work inside a reconciliation pass
// so one unreachable identity cannot stall the whole sweep.
func WithSweepUserTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.sweepUserTimeout = timeout
	}
}

// WithSyncMaxRetries bounds the retry attempts per identity change event
// before it is recorded as FAILED.
func WithSyncMaxRetries(n uint) Option {
	return func(e *Engine) {
		e.syncMaxRetries = n
	}
}

// WithChangeFeed attaches the identity change feed consumed by the background
// sync worker started by Start. RunIdentitySync can also be driven manually.
func WithChangeFeed(feed identity.Feed) Option {
	return func(e *Engine) {
		e.feed = feed
	}
}

// Start begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.gam.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	workerCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go e.reconcileWorker(workerCtx)

	if e.feed != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.RunIdentitySync(workerCtx, e.feed); err != nil {
				e.logger.Error("identity sync stopped", "error", err)
			}
		}()
	}

	e.logger.Info("progression engine started",
		"weekly_limit", e.weeklyLimit,
		"conversion_threshold", e.conversionThreshold,
		"tokens_per_exp", e.tokensPerExperience,
		"exp_per_level", e.experiencePerLevel,
		"reconcile_interval", e.reconcileInterval,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	close(e.stopChan)
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.gam.Close()
}

// ──────────────────────────────────────────────────
// Quota
// ──────────────────────────────────────────────────

// CheckAvailability answers whether a user can spend the requested amount this
// week, based on the gamification store's cached weekly counter. A user with
// no tracking record has used nothing. Pure read; no side effects.
func (e *Engine) CheckAvailability(ctx context.Context, userID string, requested int64) (*tracking.Availability, error) {
	var used int64
	trk, err := e.gam.GetTracking(ctx, userID)
	switch {
	case err == nil:
		used = trk.WeeklyTokens
	case errors.Is(err, ErrTrackingNotFound):
		// absent record: zero usage
	default:
		return nil, err
	}

	remaining := e.weeklyLimit - used
	return &tracking.Availability{
		Available:       remaining >= requested,
		WeeklyRemaining: remaining,
	}, nil
}

// ──────────────────────────────────────────────────
// Consumption
// ──────────────────────────────────────────────────

// Receipt reports the outcome of a consumption request. WeeklyRemaining is an
// estimate computed from the pre-consumption quota snapshot; callers must not
// treat it as authoritative for a subsequent call.
type Receipt struct {
	WeeklyRemaining int64                `json:"weekly_remaining"`
	Conversion      *tracking.Conversion `json:"conversion,omitempty"`
}

// ConsumeOption carries optional parameters for Consume.
type ConsumeOption func(*consumeOptions)

type consumeOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey deduplicates the metering-store write for retried
// consumption requests. Without it, a retry after an unconfirmed write double
// counts.
func WithIdempotencyKey(key string) ConsumeOption {
	return func(o *consumeOptions) {
		o.idempotencyKey = key
	}
}

// Consume records one consumption event: it checks the weekly quota, writes
// the authoritative metering counters, accumulates unprocessed tokens in the
// gamification store, and converts them once the batch threshold is crossed.
// The tracking increment and the conversion run as one per-user critical
// section so concurrent calls for the same user cannot interleave.
func (e *Engine) Consume(ctx context.Context, userID string, amount int64, opts ...ConsumeOption) (*Receipt, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidInput, amount)
	}

	var co consumeOptions
	for _, opt := range opts {
		opt(&co)
	}

	avail, err := e.CheckAvailability(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	if !avail.Available {
		e.plugins.EmitQuotaExceeded(ctx, userID, amount, avail.WeeklyRemaining)
		return nil, fmt.Errorf("%w: requested %d, weekly remaining %d",
			ErrInsufficientQuota, amount, avail.WeeklyRemaining)
	}

	if _, err := e.meter.RecordUsage(ctx, userID, amount, metering.RecordOpts{
		IdempotencyKey: co.idempotencyKey,
	}); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}

	unlock := e.lockUser(userID)
	defer unlock()

	if _, err := e.gam.AddUsage(ctx, userID, amount); err != nil {
		return nil, fmt.Errorf("track usage: %w", err)
	}

	conv, err := e.convertLocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	remaining := avail.WeeklyRemaining - amount
	e.plugins.EmitConsumption(ctx, userID, amount, remaining)

	return &Receipt{
		WeeklyRemaining: remaining,
		Conversion:      conv,
	}, nil
}

// ──────────────────────────────────────────────────
// Read surface
// ──────────────────────────────────────────────────

// UsageSummary is a combined read of both stores for one user.
type UsageSummary struct {
	Weekly      *metering.WeeklyUsage `json:"weekly"`
	Total       int64                 `json:"total"`
	Tracking    *tracking.Tracking    `json:"tracking,omitempty"`
	Progression *tracking.Progression `json:"progression"`
}

// Usage returns the user's authoritative metering counters alongside the
// gamification store's tracking and progression state.
func (e *Engine) Usage(ctx context.Context, userID string) (*UsageSummary, error) {
	weekly, err := e.meter.WeeklyUsage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("weekly usage: %w", err)
	}

	total, err := e.meter.TotalConsumed(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("total consumed: %w", err)
	}

	trk, err := e.gam.GetTracking(ctx, userID)
	if err != nil && !errors.Is(err, ErrTrackingNotFound) {
		return nil, err
	}

	prog, err := e.gam.GetProgression(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &UsageSummary{
		Weekly:      weekly,
		Total:       total,
		Tracking:    trk,
		Progression: prog,
	}, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// lockUser acquires the per-user mutex and returns its release func.
func (e *Engine) lockUser(userID string) func() {
	e.locksMu.Lock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	e.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}
