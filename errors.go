package progression

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("progression: not found")
	ErrInvalidInput = errors.New("progression: invalid input")

	// Quota errors
	ErrInsufficientQuota = errors.New("progression: insufficient weekly quota")

	// Tracking errors
	ErrTrackingNotFound = errors.New("progression: tracking record not found")

	// Identity errors
	ErrIdentityNotFound = errors.New("progression: identity not found")

	// Feed errors
	ErrFeedClosed = errors.New("progression: change feed closed")

	// Store errors
	ErrStoreUnavailable  = errors.New("progression: store unavailable")
	ErrTransactionFailed = errors.New("progression: transaction failed")
	ErrMigrationFailed   = errors.New("progression: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("progression: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred. The reconciliation
// sweep uses it to report per-user failures without aborting the pass.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "progression: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("progression: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTrackingNotFound) ||
		errors.Is(err, ErrIdentityNotFound)
}

// IsQuotaError returns true if the error is related to the weekly quota.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrInsufficientQuota)
}

// IsRetryable returns true if the error is temporary and the operation can be
// retried. Retrying a consumption after an unconfirmed usage write risks
// double counting unless the call carried an idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTransactionFailed)
}
