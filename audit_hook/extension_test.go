package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/tally"
	audithook "github.com/xraph/tally/audit_hook"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/store/memory"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) Record(_ context.Context, e *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Action
	}
	return out
}

func newAuditedLedger(t *testing.T, rec audithook.Recorder, opts ...audithook.Option) *tally.Ledger {
	t.Helper()
	l := tally.New(memory.New(), tally.WithPlugin(audithook.New(rec, opts...)))
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func TestRecordsPayoutRejection(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	l := newAuditedLedger(t, rec)

	if _, err := l.CreditArtist(ctx, escrow.CreditInput{UserID: "artist", Amount: 4000}); err != nil {
		t.Fatal(err)
	}
	req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist", Amount: 3300})
	if err != nil {
		t.Fatal(err)
	}
	_, err = l.SettlePayout(ctx, payout.SettleInput{
		RequestID:   req.ID,
		Decision:    payout.DecisionReject,
		ProcessedBy: "ops",
		Notes:       "bank details missing",
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		audithook.ActionEscrowCredited,
		audithook.ActionPayoutRequested,
		audithook.ActionPayoutRejected,
	}
	got := rec.actions()
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("actions[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	last := rec.events[len(rec.events)-1]
	if last.ResourceID != req.ID.String() {
		t.Errorf("ResourceID = %s, want %s", last.ResourceID, req.ID)
	}
	if last.Reason != "bank details missing" || last.Outcome != audithook.OutcomeFailure {
		t.Errorf("reason/outcome = %q/%q", last.Reason, last.Outcome)
	}
}

func TestActionFilters(t *testing.T) {
	tests := []struct {
		name string
		opt  audithook.Option
		want int
	}{
		{"all", nil, 2},
		{"enabled only", audithook.WithEnabledActions(audithook.ActionEntryAppended), 2},
		{"disabled", audithook.WithDisabledActions(audithook.ActionEntryAppended), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &captured{}
			var opts []audithook.Option
			if tt.opt != nil {
				opts = append(opts, tt.opt)
			}
			l := newAuditedLedger(t, rec, opts...)

			ctx := context.Background()
			if _, err := l.AppendTransaction(ctx, entry.TopUp{UserID: "u1", Amount: 500}); err != nil {
				t.Fatal(err)
			}
			if _, err := l.AppendTransaction(ctx, entry.TopUp{UserID: "u1", Amount: 500}); err != nil {
				t.Fatal(err)
			}

			if got := len(rec.actions()); got != tt.want {
				t.Errorf("recorded %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestRecorderFailureDoesNotFailAppend(t *testing.T) {
	failing := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("audit sink down")
	})
	l := newAuditedLedger(t, failing)

	e, err := l.AppendTransaction(context.Background(), entry.TopUp{UserID: "u1", Amount: 100})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if e.Sequence != 0 {
		t.Errorf("sequence = %d, want 0", e.Sequence)
	}
}
