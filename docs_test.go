package progression_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/progression"
	meteringmem "github.com/xraph/progression/metering/memory"
	"github.com/xraph/progression/store/memory"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from the package docs
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create stores (memory for demo; use MongoDB + PostgreSQL in production)
		gam := memory.New()
		meter := meteringmem.New()
		feed := meteringmem.NewFeed(16)

		// Initialize the engine
		engine := progression.New(gam, meter,
			progression.WithLogger(slog.Default()),
			progression.WithChangeFeed(feed),
			progression.WithReconcileInterval(time.Hour),
		)

		// Start background workers
		ctx := context.Background()
		if err := engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer engine.Stop()

		// Record consumption
		receipt, err := engine.Consume(ctx, "user_123", 2500)
		if progression.IsQuotaError(err) {
			log.Println("weekly quota exhausted")
		} else if err != nil {
			t.Fatal(err)
		}

		log.Printf("Tokens remaining this week: %d\n", receipt.WeeklyRemaining)
		if receipt.Conversion != nil {
			log.Printf("Converted %d experience points\n", receipt.Conversion.ExperienceGained)
		}

		// Trigger a corrective pass manually
		if err := engine.RunReconciliation(ctx); err != nil {
			t.Fatal(err)
		}

		// Combined read of both stores
		summary, err := engine.Usage(ctx, "user_123")
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Level %d with %d experience\n",
			summary.Progression.Level, summary.Progression.Experience)
	})
}
