package tally

import (
	"errors"
	"fmt"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("tally: not found")
	ErrAlreadyExists = errors.New("tally: already exists")
	ErrInvalidInput  = errors.New("tally: invalid input")

	// Ledger errors
	ErrInvalidAmount              = errors.New("tally: amount must be a positive number of pence")
	ErrInsufficientFunds          = errors.New("tally: insufficient funds")
	ErrUnsupportedIntent          = errors.New("tally: payouts are appended by settlement only")
	ErrEntryNotFound              = errors.New("tally: ledger entry not found")
	ErrHolderNotFound             = errors.New("tally: holder not found")
	ErrConcurrentSequenceConflict = errors.New("tally: concurrent sequence conflict")
	ErrLedgerWriteFailed          = errors.New("tally: ledger write failed")

	// Escrow errors
	ErrAllocationNotFound = errors.New("tally: escrow allocation not found")
	ErrAllocationClaimed  = errors.New("tally: escrow allocation already claimed")

	// Payout errors
	ErrPayoutNotFound          = errors.New("tally: payout request not found")
	ErrIneligibleForPayout     = errors.New("tally: ineligible for payout")
	ErrBelowMinimum            = errors.New("tally: payout below minimum")
	ErrExceedsBalance          = errors.New("tally: payout exceeds escrow balance")
	ErrDuplicateOpenRequest    = errors.New("tally: payout request already open")
	ErrInvalidStateTransition  = errors.New("tally: invalid payout state transition")
	ErrInsufficientBalanceRace = errors.New("tally: escrow balance changed before settlement")

	// Store errors
	ErrStoreClosed     = errors.New("tally: store is closed")
	ErrStoreBusy       = errors.New("tally: store is busy")
	ErrMigrationFailed = errors.New("tally: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tally: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets callers match validation failures with ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IneligibleError reports how far an artist is from the payout threshold.
type IneligibleError struct {
	FirstPayout bool
	Earned      int64
	Required    int64
	Shortfall   int64
}

func (e *IneligibleError) Error() string {
	threshold := "payout interval"
	if e.FirstPayout {
		threshold = "first payout threshold"
	}
	return fmt.Sprintf("tally: ineligible for payout: %s short of the %s %s",
		types.Pence(e.Shortfall), types.Pence(e.Required), threshold)
}

func (e *IneligibleError) Unwrap() error { return ErrIneligibleForPayout }

func ineligible(el payout.Eligibility) *IneligibleError {
	return &IneligibleError{
		FirstPayout: el.FirstPayout,
		Earned:      el.Earned,
		Required:    el.Required,
		Shortfall:   el.Shortfall,
	}
}

// TransitionError reports a payout status change that is not allowed from
// the request's current status.
type TransitionError struct {
	RequestID id.PayoutID
	Current   payout.Status
	Target    payout.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("tally: payout %s cannot move from %s to %s", e.RequestID, e.Current, e.Target)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "tally: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("tally: %d errors occurred", len(e.Errors))
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

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrHolderNotFound) ||
		errors.Is(err, ErrAllocationNotFound) ||
		errors.Is(err, ErrPayoutNotFound)
}

// IsPayoutRejection returns true if the error is a payout policy refusal
// rather than a storage failure.
func IsPayoutRejection(err error) bool {
	return errors.Is(err, ErrIneligibleForPayout) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrExceedsBalance) ||
		errors.Is(err, ErrDuplicateOpenRequest) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrInsufficientBalanceRace)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentSequenceConflict) || errors.Is(err, ErrStoreBusy)
}

// IsValidationError returns true if the request itself was malformed.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrUnsupportedIntent)
}
