package observability_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/tally"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/observability"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/store/memory"
)

func TestMetricsFollowLedgerActivity(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	l := tally.New(memory.New(),
		tally.WithPlugin(metrics),
		tally.WithPayoutPolicy(payout.Policy{FirstPayoutThreshold: 500, SubsequentPayoutInterval: 500, MinimumPayout: 100}),
	)
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Stop() }()

	if _, err := l.AppendTransaction(ctx, entry.TopUp{UserID: "fan", Amount: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.AppendTransaction(ctx, entry.Tip{UserID: "fan", Amount: 400, Refs: entry.Refs{MediaID: "m1"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CreditArtist(ctx, escrow.CreditInput{UserID: "artist", Amount: 600}); err != nil {
		t.Fatal(err)
	}
	req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.SettlePayout(ctx, payout.SettleInput{RequestID: req.ID, Decision: payout.DecisionComplete, ProcessedBy: "ops"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		c    observability.Counter
		want float64
	}{
		{"entries", metrics.EntriesAppended, 3},
		{"top ups", metrics.TopUpsAppended, 1},
		{"tips", metrics.TipsAppended, 1},
		{"pay outs", metrics.PayOutsAppended, 1},
		{"escrow credited", metrics.EscrowCredited, 1},
		{"payout requested", metrics.PayoutRequested, 1},
		{"payout completed", metrics.PayoutCompleted, 1},
		{"payout rejected", metrics.PayoutRejected, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := tt.c.(prometheus.Counter)
			if !ok {
				t.Fatalf("counter is %T, want prometheus.Counter", tt.c)
			}
			if got := testutil.ToFloat64(c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := observability.NewPrometheusFactory(reg).Counter("tally.test.events")
	b := observability.NewPrometheusFactory(reg).Counter("tally.test.events")
	a.Inc()
	b.Inc()

	n, err := testutil.GatherAndCount(reg, "tally_test_events_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("registered series = %d, want 1", n)
	}
	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 2 {
		t.Errorf("counter = %v, want 2", got)
	}
}
