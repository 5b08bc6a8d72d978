// Package audithook bridges tally lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/integrity"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnEntryAppended      = (*Extension)(nil)
	_ plugin.OnEscrowAllocated    = (*Extension)(nil)
	_ plugin.OnEscrowCredited     = (*Extension)(nil)
	_ plugin.OnEscrowClaimed      = (*Extension)(nil)
	_ plugin.OnPayoutRequested    = (*Extension)(nil)
	_ plugin.OnPayoutProcessing   = (*Extension)(nil)
	_ plugin.OnPayoutCompleted    = (*Extension)(nil)
	_ plugin.OnPayoutRejected     = (*Extension)(nil)
	_ plugin.OnChainBroken        = (*Extension)(nil)
	_ plugin.OnBalanceDiscrepancy = (*Extension)(nil)
	_ plugin.OnAuditCompleted     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly. Callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges tally lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnEntryAppended implements plugin.OnEntryAppended.
func (e *Extension) OnEntryAppended(ctx context.Context, en *entry.Entry) error {
	return e.record(ctx, ActionEntryAppended, SeverityInfo, OutcomeSuccess,
		ResourceEntry, strconv.FormatInt(en.Sequence, 10), CategoryLedger, "",
		"type", string(en.Type),
		"amount", en.Amount,
		"user_id", en.UserID,
		"media_id", en.MediaID,
		"hash", en.Hash,
	)
}

// ──────────────────────────────────────────────────
// Escrow hooks
// ──────────────────────────────────────────────────

// OnEscrowAllocated implements plugin.OnEscrowAllocated.
func (e *Extension) OnEscrowAllocated(ctx context.Context, a *escrow.Allocation) error {
	return e.record(ctx, ActionEscrowAllocated, SeverityInfo, OutcomeSuccess,
		ResourceAllocation, a.ID.String(), CategoryEscrow, "",
		"artist_name", a.ArtistName,
		"artist_key", a.ArtistKey,
		"amount", a.Amount,
		"media_id", a.MediaID,
	)
}

// OnEscrowCredited implements plugin.OnEscrowCredited.
func (e *Extension) OnEscrowCredited(ctx context.Context, h *escrow.HistoryEntry) error {
	return e.record(ctx, ActionEscrowCredited, SeverityInfo, OutcomeSuccess,
		ResourceEscrow, h.ID.String(), CategoryEscrow, "",
		"user_id", h.UserID,
		"amount", h.Amount,
		"media_id", h.MediaID,
	)
}

// OnEscrowClaimed implements plugin.OnEscrowClaimed.
func (e *Extension) OnEscrowClaimed(ctx context.Context, userID string, res *escrow.MatchResult) error {
	return e.record(ctx, ActionEscrowClaimed, SeverityInfo, OutcomeSuccess,
		ResourceEscrow, userID, CategoryEscrow, "",
		"count", res.Count,
		"total_amount", res.TotalAmount,
	)
}

// ──────────────────────────────────────────────────
// Payout hooks
// ──────────────────────────────────────────────────

// OnPayoutRequested implements plugin.OnPayoutRequested.
func (e *Extension) OnPayoutRequested(ctx context.Context, r *payout.Request) error {
	return e.record(ctx, ActionPayoutRequested, SeverityInfo, OutcomeSuccess,
		ResourcePayout, r.ID.String(), CategoryPayment, "",
		"user_id", r.UserID,
		"amount", r.RequestedAmount,
		"method", r.Method,
	)
}

// OnPayoutProcessing implements plugin.OnPayoutProcessing.
func (e *Extension) OnPayoutProcessing(ctx context.Context, r *payout.Request) error {
	return e.record(ctx, ActionPayoutProcessing, SeverityInfo, OutcomeSuccess,
		ResourcePayout, r.ID.String(), CategoryPayment, "",
		"user_id", r.UserID,
	)
}

// OnPayoutCompleted implements plugin.OnPayoutCompleted.
func (e *Extension) OnPayoutCompleted(ctx context.Context, r *payout.Request, en *entry.Entry) error {
	return e.record(ctx, ActionPayoutCompleted, SeverityInfo, OutcomeSuccess,
		ResourcePayout, r.ID.String(), CategoryPayment, "",
		"user_id", r.UserID,
		"amount", r.RequestedAmount,
		"processed_by", r.ProcessedBy,
		"sequence", en.Sequence,
		"claimed_lines", len(r.ClaimedHistory),
	)
}

// OnPayoutRejected implements plugin.OnPayoutRejected.
func (e *Extension) OnPayoutRejected(ctx context.Context, r *payout.Request) error {
	return e.record(ctx, ActionPayoutRejected, SeverityWarning, OutcomeFailure,
		ResourcePayout, r.ID.String(), CategoryPayment, r.Notes,
		"user_id", r.UserID,
		"processed_by", r.ProcessedBy,
	)
}

// ──────────────────────────────────────────────────
// Integrity hooks
// ──────────────────────────────────────────────────

// OnChainBroken implements plugin.OnChainBroken.
func (e *Extension) OnChainBroken(ctx context.Context, r *integrity.Report) error {
	kv := []any{
		"from", r.From,
		"to", r.To,
		"invalid_count", r.InvalidCount,
	}
	if r.FirstBreak != nil {
		kv = append(kv, "first_break", *r.FirstBreak)
	}
	return e.record(ctx, ActionChainBroken, SeverityCritical, OutcomeFailure,
		ResourceChain, "", CategoryIntegrity, "", kv...)
}

// OnBalanceDiscrepancy implements plugin.OnBalanceDiscrepancy.
func (e *Extension) OnBalanceDiscrepancy(ctx context.Context, r *integrity.Reconciliation) error {
	return e.record(ctx, ActionBalanceDiscrepancy, SeverityCritical, OutcomeFailure,
		ResourceHolder, r.Holder.String(), CategoryIntegrity, "",
		"expected", r.Expected,
		"actual", r.Actual,
		"discrepancy", r.Discrepancy,
	)
}

// OnAuditCompleted implements plugin.OnAuditCompleted.
func (e *Extension) OnAuditCompleted(ctx context.Context, a *integrity.Audit) error {
	outcome, severity := OutcomeSuccess, SeverityInfo
	if !a.OK() {
		outcome, severity = OutcomePartial, SeverityError
	}
	return e.record(ctx, ActionAuditCompleted, severity, outcome,
		ResourceChain, "", CategoryIntegrity, "",
		"checked", a.Chain.Checked,
		"invalid_count", a.Chain.InvalidCount,
		"holders", a.Holders,
		"unbalanced", len(a.Unbalanced),
		"elapsed_ms", a.Elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
