// Package plugin provides an extensible plugin system for tally.
// Plugins can hook into ledger, escrow, payout and audit events.
package plugin

import (
	"context"

	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/integrity"
	"github.com/xraph/tally/payout"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnEntryAppended is called after an entry is committed to the chain.
type OnEntryAppended interface {
	Plugin
	OnEntryAppended(ctx context.Context, e *entry.Entry) error
}

// ──────────────────────────────────────────────────
// Escrow hooks
// ──────────────────────────────────────────────────

// OnEscrowAllocated is called when escrow is held for an unverified artist.
type OnEscrowAllocated interface {
	Plugin
	OnEscrowAllocated(ctx context.Context, a *escrow.Allocation) error
}

// OnEscrowCredited is called when a verified artist's escrow is credited.
type OnEscrowCredited interface {
	Plugin
	OnEscrowCredited(ctx context.Context, h *escrow.HistoryEntry) error
}

// OnEscrowClaimed is called when a newly verified artist claims allocations.
type OnEscrowClaimed interface {
	Plugin
	OnEscrowClaimed(ctx context.Context, userID string, res *escrow.MatchResult) error
}

// ──────────────────────────────────────────────────
// Payout hooks
// ──────────────────────────────────────────────────

// OnPayoutRequested is called when a payout request is opened.
type OnPayoutRequested interface {
	Plugin
	OnPayoutRequested(ctx context.Context, r *payout.Request) error
}

// OnPayoutProcessing is called when an operator picks up a request.
type OnPayoutProcessing interface {
	Plugin
	OnPayoutProcessing(ctx context.Context, r *payout.Request) error
}

// OnPayoutCompleted is called after settlement commits.
type OnPayoutCompleted interface {
	Plugin
	OnPayoutCompleted(ctx context.Context, r *payout.Request, e *entry.Entry) error
}

// OnPayoutRejected is called when a request is rejected.
type OnPayoutRejected interface {
	Plugin
	OnPayoutRejected(ctx context.Context, r *payout.Request) error
}

// PayoutGate can veto a payout request before it is opened, for example
// pending identity checks. A non-nil error refuses the request.
type PayoutGate interface {
	Plugin
	ApprovePayout(ctx context.Context, r *payout.Request) error
}

// ──────────────────────────────────────────────────
// Integrity hooks
// ──────────────────────────────────────────────────

// OnChainBroken is called when verification finds invalid entries.
type OnChainBroken interface {
	Plugin
	OnChainBroken(ctx context.Context, r *integrity.Report) error
}

// OnBalanceDiscrepancy is called when a holder's live balance disagrees
// with the ledger.
type OnBalanceDiscrepancy interface {
	Plugin
	OnBalanceDiscrepancy(ctx context.Context, r *integrity.Reconciliation) error
}

// OnAuditCompleted is called after a full audit run.
type OnAuditCompleted interface {
	Plugin
	OnAuditCompleted(ctx context.Context, a *integrity.Audit) error
}
