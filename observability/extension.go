// Package observability provides a metrics extension for tally that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/integrity"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnEntryAppended      = (*MetricsExtension)(nil)
	_ plugin.OnEscrowAllocated    = (*MetricsExtension)(nil)
	_ plugin.OnEscrowCredited     = (*MetricsExtension)(nil)
	_ plugin.OnEscrowClaimed      = (*MetricsExtension)(nil)
	_ plugin.OnPayoutRequested    = (*MetricsExtension)(nil)
	_ plugin.OnPayoutProcessing   = (*MetricsExtension)(nil)
	_ plugin.OnPayoutCompleted    = (*MetricsExtension)(nil)
	_ plugin.OnPayoutRejected     = (*MetricsExtension)(nil)
	_ plugin.OnChainBroken        = (*MetricsExtension)(nil)
	_ plugin.OnBalanceDiscrepancy = (*MetricsExtension)(nil)
	_ plugin.OnAuditCompleted     = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a tally plugin to automatically track ledger metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	EntriesAppended Counter
	TipsAppended    Counter
	RefundsAppended Counter
	TopUpsAppended  Counter
	PayOutsAppended Counter
	EntryAmount     Histogram

	// Escrow metrics
	EscrowAllocated     Counter
	EscrowCredited      Counter
	EscrowClaims        Counter
	EscrowClaimedAmount Histogram

	// Payout metrics
	PayoutRequested  Counter
	PayoutProcessing Counter
	PayoutCompleted  Counter
	PayoutRejected   Counter
	PayoutAmount     Histogram

	// Integrity metrics
	ChainBreaks          Counter
	InvalidEntries       Counter
	BalanceDiscrepancies Counter
	AuditsCompleted      Counter
	AuditLatency         Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions, or NewPrometheusFactory standalone.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Ledger metrics
		EntriesAppended: factory.Counter("tally.entries.appended"),
		TipsAppended:    factory.Counter("tally.entries.tip"),
		RefundsAppended: factory.Counter("tally.entries.refund"),
		TopUpsAppended:  factory.Counter("tally.entries.top_up"),
		PayOutsAppended: factory.Counter("tally.entries.pay_out"),
		EntryAmount:     factory.Histogram("tally.entries.amount"),

		// Escrow metrics
		EscrowAllocated:     factory.Counter("tally.escrow.allocated"),
		EscrowCredited:      factory.Counter("tally.escrow.credited"),
		EscrowClaims:        factory.Counter("tally.escrow.claims"),
		EscrowClaimedAmount: factory.Histogram("tally.escrow.claimed_amount"),

		// Payout metrics
		PayoutRequested:  factory.Counter("tally.payout.requested"),
		PayoutProcessing: factory.Counter("tally.payout.processing"),
		PayoutCompleted:  factory.Counter("tally.payout.completed"),
		PayoutRejected:   factory.Counter("tally.payout.rejected"),
		PayoutAmount:     factory.Histogram("tally.payout.amount"),

		// Integrity metrics
		ChainBreaks:          factory.Counter("tally.integrity.chain_breaks"),
		InvalidEntries:       factory.Counter("tally.integrity.invalid_entries"),
		BalanceDiscrepancies: factory.Counter("tally.integrity.balance_discrepancies"),
		AuditsCompleted:      factory.Counter("tally.integrity.audits"),
		AuditLatency:         factory.Histogram("tally.integrity.audit.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnEntryAppended implements plugin.OnEntryAppended.
func (m *MetricsExtension) OnEntryAppended(_ context.Context, e *entry.Entry) error {
	m.EntriesAppended.Inc()
	m.EntryAmount.Observe(float64(e.Amount))

	switch e.Type {
	case entry.TypeTip:
		m.TipsAppended.Inc()
	case entry.TypeRefund:
		m.RefundsAppended.Inc()
	case entry.TypeTopUp:
		m.TopUpsAppended.Inc()
	case entry.TypePayOut:
		m.PayOutsAppended.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Escrow hooks
// ──────────────────────────────────────────────────

// OnEscrowAllocated implements plugin.OnEscrowAllocated.
func (m *MetricsExtension) OnEscrowAllocated(_ context.Context, _ *escrow.Allocation) error {
	m.EscrowAllocated.Inc()
	return nil
}

// OnEscrowCredited implements plugin.OnEscrowCredited.
func (m *MetricsExtension) OnEscrowCredited(_ context.Context, _ *escrow.HistoryEntry) error {
	m.EscrowCredited.Inc()
	return nil
}

// OnEscrowClaimed implements plugin.OnEscrowClaimed.
func (m *MetricsExtension) OnEscrowClaimed(_ context.Context, _ string, res *escrow.MatchResult) error {
	m.EscrowClaims.Add(float64(res.Count))
	m.EscrowClaimedAmount.Observe(float64(res.TotalAmount))
	return nil
}

// ──────────────────────────────────────────────────
// Payout hooks
// ──────────────────────────────────────────────────

// OnPayoutRequested implements plugin.OnPayoutRequested.
func (m *MetricsExtension) OnPayoutRequested(_ context.Context, _ *payout.Request) error {
	m.PayoutRequested.Inc()
	return nil
}

// OnPayoutProcessing implements plugin.OnPayoutProcessing.
func (m *MetricsExtension) OnPayoutProcessing(_ context.Context, _ *payout.Request) error {
	m.PayoutProcessing.Inc()
	return nil
}

// OnPayoutCompleted implements plugin.OnPayoutCompleted.
func (m *MetricsExtension) OnPayoutCompleted(_ context.Context, r *payout.Request, _ *entry.Entry) error {
	m.PayoutCompleted.Inc()
	m.PayoutAmount.Observe(float64(r.RequestedAmount))
	return nil
}

// OnPayoutRejected implements plugin.OnPayoutRejected.
func (m *MetricsExtension) OnPayoutRejected(_ context.Context, _ *payout.Request) error {
	m.PayoutRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Integrity hooks
// ──────────────────────────────────────────────────

// OnChainBroken implements plugin.OnChainBroken.
func (m *MetricsExtension) OnChainBroken(_ context.Context, r *integrity.Report) error {
	m.ChainBreaks.Inc()
	m.InvalidEntries.Add(float64(r.InvalidCount))
	return nil
}

// OnBalanceDiscrepancy implements plugin.OnBalanceDiscrepancy.
func (m *MetricsExtension) OnBalanceDiscrepancy(_ context.Context, _ *integrity.Reconciliation) error {
	m.BalanceDiscrepancies.Inc()
	return nil
}

// OnAuditCompleted implements plugin.OnAuditCompleted.
func (m *MetricsExtension) OnAuditCompleted(_ context.Context, a *integrity.Audit) error {
	m.AuditsCompleted.Inc()
	m.AuditLatency.Observe(float64(a.Elapsed.Milliseconds()))
	return nil
}
