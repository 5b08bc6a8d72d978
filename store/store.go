// Package store defines the aggregate persistence interface every tally
// backend implements.
package store

import (
	"context"
	"time"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/payout"
)

// Store is the unified storage interface for all tally entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Entry methods
	CommitEntry(ctx context.Context, e *entry.Entry, m entry.Mutation) error
	LastEntry(ctx context.Context) (*entry.Entry, error)
	GetEntry(ctx context.Context, sequence int64) (*entry.Entry, error)
	GetEntryByHash(ctx context.Context, hash string) (*entry.Entry, error)
	ListEntries(ctx context.Context, opts entry.ListOpts) ([]*entry.Entry, error)
	CountEntries(ctx context.Context) (int64, error)
	HolderTail(ctx context.Context, h entry.Holder) (*entry.Entry, error)
	ListHolderEntries(ctx context.Context, h entry.Holder, opts entry.ListOpts) ([]*entry.Entry, error)

	// Account methods
	GetAccount(ctx context.Context, userID string) (*account.Account, error)
	ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error)
	GetMedia(ctx context.Context, mediaID string) (*account.Media, error)
	ListMedia(ctx context.Context, opts account.ListOpts) ([]*account.Media, error)

	// Escrow methods
	CreateAllocation(ctx context.Context, a *escrow.Allocation) error
	GetAllocation(ctx context.Context, allocID id.AllocationID) (*escrow.Allocation, error)
	ListUnclaimedAllocations(ctx context.Context, artistKey string) ([]*escrow.Allocation, error)
	ClaimAllocation(ctx context.Context, allocID id.AllocationID, h *escrow.HistoryEntry, at time.Time) error
	CreditEscrow(ctx context.Context, h *escrow.HistoryEntry) error
	ListHistory(ctx context.Context, userID string, opts escrow.HistoryListOpts) ([]*escrow.HistoryEntry, error)

	// Payout methods
	CreatePayoutRequest(ctx context.Context, r *payout.Request) error
	GetPayoutRequest(ctx context.Context, requestID id.PayoutID) (*payout.Request, error)
	ListPayoutRequests(ctx context.Context, opts payout.ListOpts) ([]*payout.Request, error)
	TransitionPayout(ctx context.Context, requestID id.PayoutID, to payout.Status, processedBy, notes string, at time.Time) (*payout.Request, error)
	SettlePayout(ctx context.Context, s *payout.Settlement) (*payout.Request, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that Store satisfies each entity store.
var (
	_ entry.Store   = Store(nil)
	_ account.Store = Store(nil)
	_ escrow.Store  = Store(nil)
	_ payout.Store  = Store(nil)
)
