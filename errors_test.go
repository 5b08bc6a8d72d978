package tally_test

import (
	"fmt"
	"testing"

	"github.com/xraph/tally"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		retryable  bool
		rejection  bool
		validation bool
	}{
		{"holder missing", fmt.Errorf("reconcile: %w", tally.ErrHolderNotFound), true, false, false, false},
		{"sequence conflict", tally.ErrConcurrentSequenceConflict, false, true, false, false},
		{"store busy", fmt.Errorf("%w: database is locked", tally.ErrStoreBusy), false, true, false, false},
		{"write failed", fmt.Errorf("%w: %w", tally.ErrLedgerWriteFailed, tally.ErrConcurrentSequenceConflict), false, true, false, false},
		{"ineligible", &tally.IneligibleError{FirstPayout: true, Earned: 2000, Required: 3300, Shortfall: 1300}, false, false, true, false},
		{"transition", &tally.TransitionError{}, false, false, true, false},
		{"bad field", tally.ValidationError{Field: "user_id", Message: "required"}, false, false, false, true},
		{"insufficient funds", tally.ErrInsufficientFunds, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tally.IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := tally.IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := tally.IsPayoutRejection(tt.err); got != tt.rejection {
				t.Errorf("IsPayoutRejection = %v, want %v", got, tt.rejection)
			}
			if got := tally.IsValidationError(tt.err); got != tt.validation {
				t.Errorf("IsValidationError = %v, want %v", got, tt.validation)
			}
		})
	}
}

func TestIneligibleErrorMessage(t *testing.T) {
	err := &tally.IneligibleError{FirstPayout: true, Earned: 2000, Required: 3300, Shortfall: 1300}
	want := "tally: ineligible for payout: £13.00 short of the £33.00 first payout threshold"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
