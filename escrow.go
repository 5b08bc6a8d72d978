package tally

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

// ──────────────────────────────────────────────────
// Escrow
// ──────────────────────────────────────────────────

// AllocateEscrow holds proceeds for an artist who has no verified account.
// The allocation waits under the artist's normalized name until a matching
// user claims it.
func (l *Ledger) AllocateEscrow(ctx context.Context, in escrow.AllocateInput) (*escrow.Allocation, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, in.Amount)
	}
	key := escrow.NormalizeArtist(in.ArtistName)
	if key == "" {
		return nil, ValidationError{Field: "artist_name", Message: "required"}
	}

	now := l.now()
	a := &escrow.Allocation{
		Entity:      types.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewAllocationID(),
		ArtistName:  in.ArtistName,
		ArtistKey:   key,
		ExternalIDs: maps.Clone(in.ExternalIDs),
		Amount:      in.Amount,
		MediaID:     in.MediaID,
		BidID:       in.BidID,
		AllocatedAt: now,
	}
	if err := l.store.CreateAllocation(ctx, a); err != nil {
		return nil, err
	}

	l.plugins.EmitEscrowAllocated(ctx, a)
	return a, nil
}

// CreditArtist credits a verified artist's escrow directly and records a
// pending history line for a later payout to claim.
func (l *Ledger) CreditArtist(ctx context.Context, in escrow.CreditInput) (*escrow.HistoryEntry, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, in.Amount)
	}
	if in.UserID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}

	h := &escrow.HistoryEntry{
		ID:          id.NewHistoryID(),
		UserID:      in.UserID,
		MediaID:     in.MediaID,
		BidID:       in.BidID,
		Amount:      in.Amount,
		Status:      escrow.HistoryPending,
		AllocatedAt: l.now(),
	}
	if err := l.store.CreditEscrow(ctx, h); err != nil {
		return nil, err
	}

	l.plugins.EmitEscrowCredited(ctx, h)
	return h, nil
}

// MatchUnknownArtist transfers every unclaimed allocation held under
// artistName to userID. Each allocation is claimed with its own
// test-and-set, so concurrent matchers credit it at most once; allocations
// another caller won are skipped. On a store failure the result still lists
// the allocations claimed before it.
func (l *Ledger) MatchUnknownArtist(ctx context.Context, userID, artistName string, criteria escrow.MatchCriteria) (*escrow.MatchResult, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}

	res := &escrow.MatchResult{Allocations: []*escrow.Allocation{}}
	key := escrow.NormalizeArtist(artistName)
	if key == "" {
		return res, nil
	}

	candidates, err := l.store.ListUnclaimedAllocations(ctx, key)
	if err != nil {
		return nil, err
	}

	for _, a := range candidates {
		if !criteria.Matches(a) {
			continue
		}

		now := l.now()
		h := &escrow.HistoryEntry{
			ID:           id.NewHistoryID(),
			UserID:       userID,
			AllocationID: a.ID,
			MediaID:      a.MediaID,
			BidID:        a.BidID,
			Amount:       a.Amount,
			Status:       escrow.HistoryPending,
			AllocatedAt:  a.AllocatedAt,
		}
		err := l.store.ClaimAllocation(ctx, a.ID, h, now)
		if errors.Is(err, ErrAllocationClaimed) {
			l.logger.Debug("escrow allocation already claimed",
				"allocation_id", a.ID.String(),
				"user_id", userID,
			)
			continue
		}
		if err != nil {
			res.Matched = res.Count > 0
			return res, fmt.Errorf("claim allocation %s: %w", a.ID, err)
		}

		a.Claimed = true
		a.ClaimedBy = userID
		a.ClaimedAt = &now
		res.Allocations = append(res.Allocations, a)
		res.Count++
		res.TotalAmount += a.Amount
	}
	res.Matched = res.Count > 0

	if res.Matched {
		l.logger.Info("escrow claimed",
			"user_id", userID,
			"artist", key,
			"count", res.Count,
			"total", types.Pence(res.TotalAmount).String(),
		)
		l.plugins.EmitEscrowClaimed(ctx, userID, res)
	}
	return res, nil
}

// GetAllocation returns an escrow allocation by ID.
func (l *Ledger) GetAllocation(ctx context.Context, allocID id.AllocationID) (*escrow.Allocation, error) {
	return l.store.GetAllocation(ctx, allocID)
}

// ListUnclaimed returns the unclaimed allocations held under artistName.
func (l *Ledger) ListUnclaimed(ctx context.Context, artistName string) ([]*escrow.Allocation, error) {
	return l.store.ListUnclaimedAllocations(ctx, escrow.NormalizeArtist(artistName))
}

// ListEscrowHistory returns an artist's escrow history, oldest first.
func (l *Ledger) ListEscrowHistory(ctx context.Context, userID string, opts escrow.HistoryListOpts) ([]*escrow.HistoryEntry, error) {
	return l.store.ListHistory(ctx, userID, opts)
}
