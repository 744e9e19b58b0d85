package progression

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/progression/tracking"
)

// Convert runs one conversion batch for a user if the unprocessed-token
// balance has crossed the threshold. Below the threshold, or for users with no
// tracking record, it is a no-op and returns nil. Re-running Convert on an
// unchanged record is a no-op because the carried remainder is already below
// the threshold.
func (e *Engine) Convert(ctx context.Context, userID string) (*tracking.Conversion, error) {
	unlock := e.lockUser(userID)
	defer unlock()

	return e.convertLocked(ctx, userID)
}

// convertLocked performs the conversion. Callers must hold the user's lock:
// an unguarded read-modify-write here would let two concurrent conversions
// both consume the same batch.
func (e *Engine) convertLocked(ctx context.Context, userID string) (*tracking.Conversion, error) {
	trk, err := e.gam.GetTracking(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrTrackingNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if trk.UnprocessedTokens < e.conversionThreshold {
		return nil, nil
	}

	expPoints := trk.UnprocessedTokens / e.tokensPerExperience
	remainder := trk.UnprocessedTokens % e.tokensPerExperience
	if expPoints == 0 {
		return nil, nil
	}

	prog, err := e.gam.GetProgression(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Level derives from cumulative experience after the batch. The legacy
	// system derived it from the batch size alone, which let levels regress
	// after a small batch.
	newLevel := e.levelFor(prog.Experience + expPoints)

	conv := &tracking.Conversion{
		UserID:           userID,
		ExperienceGained: expPoints,
		Remainder:        remainder,
		Level:            newLevel,
		LeveledUp:        newLevel > prog.Level,
	}

	if err := e.gam.ApplyConversion(ctx, conv); err != nil {
		return nil, fmt.Errorf("apply conversion: %w", err)
	}

	e.plugins.EmitConversion(ctx, conv)
	if conv.LeveledUp {
		e.plugins.EmitLevelUp(ctx, userID, prog.Level, newLevel)
	}

	e.logger.Debug("conversion applied",
		"user_id", userID,
		"exp_gained", expPoints,
		"remainder", remainder,
		"level", newLevel,
	)

	return conv, nil
}

// levelFor derives the level from cumulative experience.
func (e *Engine) levelFor(experience int64) int {
	return int(experience/e.experiencePerLevel) + 1
}
