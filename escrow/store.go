package escrow

import (
	"context"
	"time"

	"github.com/xraph/tally/id"
)

type Store interface {
	CreateAllocation(ctx context.Context, a *Allocation) error
	GetAllocation(ctx context.Context, allocID id.AllocationID) (*Allocation, error)
	// ListUnclaimedAllocations returns unclaimed allocations under the
	// normalized artist key, oldest first.
	ListUnclaimedAllocations(ctx context.Context, artistKey string) ([]*Allocation, error)
	// ClaimAllocation marks the allocation claimed by h.UserID, credits the
	// artist's escrow balance and total earned, and records h, all in one
	// unit. It fails with an already-claimed error if another caller won.
	ClaimAllocation(ctx context.Context, allocID id.AllocationID, h *HistoryEntry, at time.Time) error
	// CreditEscrow credits a verified artist directly and records h.
	CreditEscrow(ctx context.Context, h *HistoryEntry) error
	// ListHistory returns an artist's history lines oldest first.
	ListHistory(ctx context.Context, userID string, opts HistoryListOpts) ([]*HistoryEntry, error)
}
