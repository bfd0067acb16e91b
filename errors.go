package credits

import (
	"errors"
	"fmt"

	"github.com/gr8r/credits/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("credits: not found")
	ErrAlreadyExists = errors.New("credits: already exists")
	ErrInvalidInput  = errors.New("credits: invalid input")
	ErrUnauthorized  = errors.New("credits: unauthorized")
	ErrForbidden     = errors.New("credits: forbidden")

	// Ledger errors
	ErrInvalidAmount = errors.New("credits: invalid amount")
	ErrNoAccount     = errors.New("credits: no credit account")

	// Coupon errors
	ErrMissingParams     = errors.New("credits: missing required parameters")
	ErrInvalidDiscount   = errors.New("credits: invalid discount")
	ErrInvalidUser       = errors.New("credits: invalid user")
	ErrCouponNotFound    = errors.New("credits: coupon not found")
	ErrCouponExpired     = errors.New("credits: coupon expired")
	ErrCouponAlreadyUsed = errors.New("credits: coupon already used")
	ErrCouponWrongUser   = errors.New("credits: coupon belongs to another user")

	// Token errors
	ErrTokenNotFound = errors.New("credits: auto-apply token not found")

	// Store errors
	ErrStoreUnavailable  = errors.New("credits: store unavailable")
	ErrStoreClosed       = errors.New("credits: store is closed")
	ErrTransactionFailed = errors.New("credits: transaction failed")
	ErrMigrationFailed   = errors.New("credits: migration failed")

	// Cache errors
	ErrCacheMiss = errors.New("credits: cache miss")
)

// InsufficientCreditsError reports a deduction that exceeds the available
// balance, carrying both sides so callers can show the shortfall.
type InsufficientCreditsError struct {
	Available types.Amount
	Requested types.Amount
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("credits: insufficient credits: available %s, requested %s",
		e.Available, e.Requested)
}

// IsInsufficientCredits reports whether err is an over-draw failure.
func IsInsufficientCredits(err error) bool {
	var ie *InsufficientCreditsError
	return errors.As(err, &ie)
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "credits: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("credits: %d errors occurred", len(e.Errors))
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
		errors.Is(err, ErrNoAccount) ||
		errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrTokenNotFound)
}

// IsBusinessError returns true for failures that are answers, not
// outages: invalid input, coupon state, over-draw. These map to 4xx
// responses and carry machine-readable detail.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNoAccount) ||
		errors.Is(err, ErrMissingParams) ||
		errors.Is(err, ErrInvalidDiscount) ||
		errors.Is(err, ErrInvalidUser) ||
		errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponAlreadyUsed) ||
		errors.Is(err, ErrCouponWrongUser) ||
		errors.Is(err, ErrTokenNotFound) ||
		IsInsufficientCredits(err)
}

// IsRetryable returns true if the error is temporary and the operation
// can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTransactionFailed)
}
