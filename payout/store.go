package payout

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

type Store interface {
	// CreatePayoutRequest inserts r unless the user already has an open
	// request.
	CreatePayoutRequest(ctx context.Context, r *Request) error
	GetPayoutRequest(ctx context.Context, requestID id.PayoutID) (*Request, error)
	ListPayoutRequests(ctx context.Context, opts ListOpts) ([]*Request, error)
	// TransitionPayout moves a request to processing or rejected. Completion
	// goes through SettlePayout.
	TransitionPayout(ctx context.Context, requestID id.PayoutID, to Status, processedBy, notes string, at time.Time) (*Request, error)
	// SettlePayout completes a request: status guard, conditional escrow
	// debit, PAY_OUT entry commit and FIFO claim of pending history lines.
	// Nothing is written unless every step succeeds.
	SettlePayout(ctx context.Context, s *Settlement) (*Request, error)
}
