package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/integrity"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnShutdown           = (*Extension)(nil)
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
)

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger for the extension.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithSource sets the source field stamped on every event.
func WithSource(source string) Option {
	return func(e *Extension) {
		e.source = source
	}
}

// WithEvents restricts publishing to the given event types.
func WithEvents(types ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(types))
		for _, t := range types {
			e.enabled[t] = true
		}
	}
}

// Extension publishes tally lifecycle events through a Publisher.
type Extension struct {
	publisher Publisher
	source    string
	enabled   map[string]bool // nil = all enabled
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Extension publishing through p.
func New(p Publisher, opts ...Option) *Extension {
	e := &Extension{
		publisher: p,
		source:    "tally",
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "notify" }

// OnShutdown closes the publisher.
func (e *Extension) OnShutdown(_ context.Context) error {
	return e.publisher.Close()
}

// OnEntryAppended implements plugin.OnEntryAppended.
func (e *Extension) OnEntryAppended(ctx context.Context, en *entry.Entry) error {
	return e.publish(ctx, EventEntryAppended, strconv.FormatInt(en.Sequence, 10), en.UserID, en)
}

// OnEscrowAllocated implements plugin.OnEscrowAllocated.
func (e *Extension) OnEscrowAllocated(ctx context.Context, a *escrow.Allocation) error {
	return e.publish(ctx, EventEscrowAllocated, a.ID.String(), a.ArtistKey, a)
}

// OnEscrowCredited implements plugin.OnEscrowCredited.
func (e *Extension) OnEscrowCredited(ctx context.Context, h *escrow.HistoryEntry) error {
	return e.publish(ctx, EventEscrowCredited, h.ID.String(), h.UserID, h)
}

// OnEscrowClaimed implements plugin.OnEscrowClaimed.
func (e *Extension) OnEscrowClaimed(ctx context.Context, userID string, res *escrow.MatchResult) error {
	return e.publish(ctx, EventEscrowClaimed, userID, userID, res)
}

// OnPayoutRequested implements plugin.OnPayoutRequested.
func (e *Extension) OnPayoutRequested(ctx context.Context, r *payout.Request) error {
	return e.publish(ctx, EventPayoutRequested, r.ID.String(), r.UserID, r)
}

// OnPayoutProcessing implements plugin.OnPayoutProcessing.
func (e *Extension) OnPayoutProcessing(ctx context.Context, r *payout.Request) error {
	return e.publish(ctx, EventPayoutProcessing, r.ID.String(), r.UserID, r)
}

// OnPayoutCompleted implements plugin.OnPayoutCompleted.
func (e *Extension) OnPayoutCompleted(ctx context.Context, r *payout.Request, en *entry.Entry) error {
	data := struct {
		Request *payout.Request `json:"request"`
		Entry   *entry.Entry    `json:"entry"`
	}{r, en}
	return e.publish(ctx, EventPayoutCompleted, r.ID.String(), r.UserID, data)
}

// OnPayoutRejected implements plugin.OnPayoutRejected.
func (e *Extension) OnPayoutRejected(ctx context.Context, r *payout.Request) error {
	return e.publish(ctx, EventPayoutRejected, r.ID.String(), r.UserID, r)
}

// OnChainBroken implements plugin.OnChainBroken.
func (e *Extension) OnChainBroken(ctx context.Context, r *integrity.Report) error {
	return e.publish(ctx, EventChainBroken, fmt.Sprintf("%d-%d", r.From, r.To), "chain", r)
}

// OnBalanceDiscrepancy implements plugin.OnBalanceDiscrepancy.
func (e *Extension) OnBalanceDiscrepancy(ctx context.Context, r *integrity.Reconciliation) error {
	return e.publish(ctx, EventBalanceDiscrepancy, r.Holder.String(), r.Holder.String(), r)
}

func (e *Extension) publish(ctx context.Context, eventType, subject, key string, data any) error {
	if e.enabled != nil && !e.enabled[eventType] {
		return nil
	}

	payload, err := json.Marshal(Event{
		Type:       eventType,
		Source:     e.source,
		Subject:    subject,
		OccurredAt: e.now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", eventType, err)
	}

	if err := e.publisher.Publish(ctx, eventType, payload, key); err != nil {
		e.logger.Warn("notify: failed to publish event",
			"event", eventType,
			"subject", subject,
			"error", err,
		)
		return err
	}
	return nil
}
