package tally_test

import (
	"context"
	"log"
	"log/slog"
	"testing"

	"github.com/xraph/tally"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/types"
)

// TestDocumentationExamples verifies that the package documentation examples run.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		l := tally.New(store, tally.WithLogger(slog.Default()))

		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop()

		if _, err := l.AppendTransaction(ctx, entry.TopUp{UserID: "u1", Amount: 1000}); err != nil {
			t.Fatal(err)
		}
		tip, err := l.AppendTransaction(ctx, entry.Tip{
			UserID: "u1",
			Amount: 250,
			Refs:   entry.Refs{MediaID: "m1"},
		})
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Tip %d left a balance of %s\n", tip.Sequence, tally.Pence(tip.UserBalancePost))

		report, err := l.VerifyAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !report.OK() {
			t.Fatalf("chain broken: %+v", report)
		}

		rec, err := l.ReconcileHolder(ctx, tally.UserHolder("u1"))
		if err != nil {
			t.Fatal(err)
		}
		if !rec.IsBalanced {
			t.Fatalf("discrepancy: %+v", rec)
		}
	})

	t.Run("EscrowAndPayoutExample", func(t *testing.T) {
		ctx := context.Background()
		l := tally.New(memory.New())
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop()

		if _, err := l.AllocateEscrow(ctx, escrow.AllocateInput{ArtistName: "Sigur Rós", Amount: 3500}); err != nil {
			t.Fatal(err)
		}
		res, err := l.MatchUnknownArtist(ctx, "artist_1", "sigur ros", escrow.MatchCriteria{})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Matched || res.TotalAmount != 3500 {
			t.Fatalf("match = %+v", res)
		}

		req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist_1"})
		if err != nil {
			t.Fatal(err)
		}
		done, err := l.SettlePayout(ctx, payout.SettleInput{
			RequestID:   req.ID,
			Decision:    payout.DecisionComplete,
			ProcessedBy: "ops",
		})
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Paid out %s\n", tally.Pence(done.RequestedAmount))
	})

	t.Run("PenceExamples", func(t *testing.T) {
		p := types.Pence(3300)
		if p.String() != "£33.00" || p.Major() != "33.00" {
			t.Errorf("formatting = %s / %s", p.String(), p.Major())
		}
		if types.Sum(1000, -50).String() != "£9.50" {
			t.Errorf("sum = %s", types.Sum(1000, -50))
		}
	})
}
