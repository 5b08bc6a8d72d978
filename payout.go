package tally

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/types"
)

// ──────────────────────────────────────────────────
// Payouts
// ──────────────────────────────────────────────────

// CheckEligibility evaluates a user's escrow earnings against the payout
// policy without opening a request.
func (l *Ledger) CheckEligibility(ctx context.Context, userID string) (*payout.Eligibility, error) {
	a, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	el := l.policy.Evaluate(a.TotalEscrowEarned, a.LastPayoutTotalEarned)
	return &el, nil
}

// RequestPayout opens a pending payout request. A zero amount requests the
// whole escrow balance. The request must clear the eligibility threshold,
// the minimum, and the current balance, and the user may have only one
// open request at a time.
func (l *Ledger) RequestPayout(ctx context.Context, in payout.RequestInput) (*payout.Request, error) {
	if in.UserID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}
	if in.Amount < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, in.Amount)
	}

	a, err := l.store.GetAccount(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if el := l.policy.Evaluate(a.TotalEscrowEarned, a.LastPayoutTotalEarned); !el.Eligible {
		return nil, ineligible(el)
	}

	amount := in.Amount
	if amount == 0 {
		amount = a.ArtistEscrowBalance
	}
	if amount < l.policy.MinimumPayout || amount <= 0 {
		return nil, fmt.Errorf("%w: %s is under %s", ErrBelowMinimum,
			types.Pence(amount), types.Pence(l.policy.MinimumPayout))
	}
	if amount > a.ArtistEscrowBalance {
		return nil, fmt.Errorf("%w: requested %s, balance %s", ErrExceedsBalance,
			types.Pence(amount), types.Pence(a.ArtistEscrowBalance))
	}

	now := l.now()
	r := &payout.Request{
		Entity:          types.Entity{CreatedAt: now, UpdatedAt: now},
		ID:              id.NewPayoutID(),
		UserID:          in.UserID,
		RequestedAmount: amount,
		Method:          in.Method,
		Details:         maps.Clone(in.Details),
		Status:          payout.StatusPending,
	}
	if err := l.plugins.ApprovePayout(ctx, r); err != nil {
		return nil, err
	}
	if err := l.store.CreatePayoutRequest(ctx, r); err != nil {
		return nil, err
	}

	l.logger.Info("payout requested",
		"payout_id", r.ID.String(),
		"user_id", r.UserID,
		"amount", types.Pence(amount).String(),
	)
	l.plugins.EmitPayoutRequested(ctx, r)
	return r, nil
}

// MarkProcessing moves a pending request to processing.
func (l *Ledger) MarkProcessing(ctx context.Context, requestID id.PayoutID, processedBy string) (*payout.Request, error) {
	r, err := l.store.TransitionPayout(ctx, requestID, payout.StatusProcessing, processedBy, "", l.now())
	if err != nil {
		return nil, err
	}
	l.plugins.EmitPayoutProcessing(ctx, r)
	return r, nil
}

// SettlePayout completes or rejects an open request. Completion debits the
// escrow balance only if it still covers the request, appends a PAY_OUT
// entry, resets the eligibility baseline and claims pending history lines
// oldest first, all in one unit. A request whose balance was drained by a
// concurrent settlement fails with ErrInsufficientBalanceRace and stays open.
func (l *Ledger) SettlePayout(ctx context.Context, in payout.SettleInput) (*payout.Request, error) {
	switch in.Decision {
	case payout.DecisionReject:
		return l.rejectPayout(ctx, in)
	case payout.DecisionComplete:
	default:
		return nil, ValidationError{Field: "decision", Message: fmt.Sprintf("unknown decision %q", in.Decision)}
	}

	req, err := l.store.GetPayoutRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.IsOpen() {
		return nil, &TransitionError{RequestID: req.ID, Current: req.Status, Target: payout.StatusCompleted}
	}

	draft := entry.PayOut{
		UserID: req.UserID,
		Amount: req.RequestedAmount,
		Refs:   entry.Refs{Description: "Artist escrow payout " + req.ID.String()},
	}.Draft()
	draft.ID = id.NewEntryID()

	var settled *entry.Entry
	done, err := retryOnConflict(ctx, l, "settle payout", func() (*payout.Request, error) {
		a, err := l.store.GetAccount(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if err := l.checkSettlement(req, a); err != nil {
			return nil, err
		}

		e, m, err := l.prepare(ctx, draft, entry.PayOut{}.Effect())
		if err != nil {
			return nil, err
		}
		out, err := l.store.SettlePayout(ctx, &payout.Settlement{
			RequestID:   req.ID,
			UserID:      req.UserID,
			Amount:      req.RequestedAmount,
			ProcessedBy: in.ProcessedBy,
			Notes:       in.Notes,
			ProcessedAt: e.Timestamp,
			Entry:       e,
			Mutation:    m,
		})
		if err != nil {
			return nil, err
		}
		settled = e
		return out, nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalanceRace) {
			l.logger.Warn("payout settlement lost balance race",
				"payout_id", req.ID.String(),
				"user_id", req.UserID,
			)
		}
		return nil, err
	}

	l.logger.Info("payout completed",
		"payout_id", done.ID.String(),
		"user_id", done.UserID,
		"amount", types.Pence(done.RequestedAmount).String(),
		"sequence", settled.Sequence,
		"claimed_lines", len(done.ClaimedHistory),
	)
	l.plugins.EmitEntryAppended(ctx, settled)
	l.plugins.EmitPayoutCompleted(ctx, done, settled)
	return done, nil
}

// checkSettlement re-reads the balance before building the unit. The balance
// check comes first so a request drained by a concurrent settlement reports
// the race rather than the reset eligibility baseline.
func (l *Ledger) checkSettlement(req *payout.Request, a *account.Account) error {
	if a.ArtistEscrowBalance < req.RequestedAmount {
		return fmt.Errorf("%w: balance %s, request %s", ErrInsufficientBalanceRace,
			types.Pence(a.ArtistEscrowBalance), types.Pence(req.RequestedAmount))
	}
	if el := l.policy.Evaluate(a.TotalEscrowEarned, a.LastPayoutTotalEarned); !el.Eligible {
		return ineligible(el)
	}
	return nil
}

func (l *Ledger) rejectPayout(ctx context.Context, in payout.SettleInput) (*payout.Request, error) {
	r, err := l.store.TransitionPayout(ctx, in.RequestID, payout.StatusRejected, in.ProcessedBy, in.Notes, l.now())
	if err != nil {
		return nil, err
	}

	l.logger.Info("payout rejected",
		"payout_id", r.ID.String(),
		"user_id", r.UserID,
		"processed_by", r.ProcessedBy,
	)
	l.plugins.EmitPayoutRejected(ctx, r)
	return r, nil
}

// GetPayoutRequest returns a payout request by ID.
func (l *Ledger) GetPayoutRequest(ctx context.Context, requestID id.PayoutID) (*payout.Request, error) {
	return l.store.GetPayoutRequest(ctx, requestID)
}

// ListPayoutRequests returns payout requests oldest first.
func (l *Ledger) ListPayoutRequests(ctx context.Context, opts payout.ListOpts) ([]*payout.Request, error) {
	return l.store.ListPayoutRequests(ctx, opts)
}
