package tally_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/tally"
	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/store/memory"
)

func credit(t *testing.T, l *tally.Ledger, user string, amounts ...int64) {
	t.Helper()
	for _, amt := range amounts {
		if _, err := l.CreditArtist(context.Background(), escrow.CreditInput{UserID: user, Amount: amt}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPayoutEligibilityShortfall(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	credit(t, l, "artist", 2000)

	_, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist"})
	var inel *tally.IneligibleError
	if !errors.As(err, &inel) {
		t.Fatalf("err = %v, want IneligibleError", err)
	}
	if !errors.Is(err, tally.ErrIneligibleForPayout) {
		t.Error("IneligibleError must match ErrIneligibleForPayout")
	}
	if inel.Shortfall != 1300 || inel.Required != 3300 || !inel.FirstPayout {
		t.Fatalf("ineligible = %+v, want shortfall 1300 of 3300", inel)
	}

	el, err := l.CheckEligibility(ctx, "artist")
	if err != nil || el.Eligible || el.Shortfall != 1300 {
		t.Fatalf("eligibility = %+v, %v", el, err)
	}

	credit(t, l, "artist", 1300)

	req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist"})
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != payout.StatusPending || req.RequestedAmount != 3300 {
		t.Fatalf("request = %+v", req)
	}
}

func TestRequestPayoutLimits(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	credit(t, l, "artist", 3500)

	tests := []struct {
		name   string
		amount int64
		want   error
	}{
		{"negative", -10, tally.ErrInvalidAmount},
		{"below minimum", 99, tally.ErrBelowMinimum},
		{"exceeds balance", 3501, tally.ErrExceedsBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist", Amount: tt.amount})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "nobody"}); !errors.Is(err, tally.ErrHolderNotFound) {
		t.Errorf("unknown user: err = %v", err)
	}

	if _, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist", Amount: 1000}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist", Amount: 1000}); !errors.Is(err, tally.ErrDuplicateOpenRequest) {
		t.Fatalf("second open request: err = %v", err)
	}
}

func TestSettlePayoutClaimsFIFO(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, tally.WithPayoutPolicy(payout.Policy{
		FirstPayoutThreshold:     1000,
		SubsequentPayoutInterval: 500,
		MinimumPayout:            100,
	}))

	mustAppend(t, l, entry.TopUp{UserID: "artist", Amount: 250})
	credit(t, l, "artist", 500, 300, 700)

	req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist", Amount: 800, Method: "bank"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.MarkProcessing(ctx, req.ID, "ops"); err != nil {
		t.Fatal(err)
	}

	done, err := l.SettlePayout(ctx, payout.SettleInput{RequestID: req.ID, Decision: payout.DecisionComplete, ProcessedBy: "ops"})
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != payout.StatusCompleted || done.EntrySequence == nil || done.ProcessedAt == nil {
		t.Fatalf("request = %+v", done)
	}
	if len(done.ClaimedHistory) != 2 {
		t.Fatalf("claimed %d history lines, want 2", len(done.ClaimedHistory))
	}

	pending, err := l.ListEscrowHistory(ctx, "artist", escrow.HistoryListOpts{Status: escrow.HistoryPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Amount != 700 {
		t.Fatalf("pending after payout = %+v, want only the 700 line", pending)
	}
	claimed, err := l.ListEscrowHistory(ctx, "artist", escrow.HistoryListOpts{Status: escrow.HistoryClaimed})
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 || claimed[0].Amount != 500 || claimed[1].Amount != 300 || claimed[0].PayoutID != req.ID {
		t.Fatalf("claimed = %+v, want the 500 and 300 lines", claimed)
	}

	a, err := l.GetAccount(ctx, "artist")
	if err != nil {
		t.Fatal(err)
	}
	if a.ArtistEscrowBalance != 700 || a.LastPayoutTotalEarned != 1500 || a.Balance != 250 {
		t.Fatalf("account = %+v", a)
	}

	e, err := l.GetEntry(ctx, *done.EntrySequence)
	if err != nil {
		t.Fatal(err)
	}
	if e.Type != entry.TypePayOut || e.Amount != 800 || e.UserBalancePost != 250 {
		t.Fatalf("payout entry = %+v", e)
	}

	report, err := l.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Fatalf("chain invalid after payout: %+v", report)
	}
	rec, err := l.ReconcileHolder(ctx, entry.User("artist"))
	if err != nil || !rec.IsBalanced {
		t.Fatalf("reconcile = %+v, %v", rec, err)
	}

	// The baseline moved: only escrow earned after this payout counts now.
	el, err := l.CheckEligibility(ctx, "artist")
	if err != nil {
		t.Fatal(err)
	}
	if el.FirstPayout || el.Eligible || el.Shortfall != 500 {
		t.Fatalf("eligibility after payout = %+v", el)
	}
}

func TestPayoutStateTransitions(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	credit(t, l, "artist", 4000)

	req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist", Amount: 3300})
	if err != nil {
		t.Fatal(err)
	}

	rejected, err := l.SettlePayout(ctx, payout.SettleInput{RequestID: req.ID, Decision: payout.DecisionReject, ProcessedBy: "ops", Notes: "details mismatch"})
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != payout.StatusRejected || rejected.Notes != "details mismatch" {
		t.Fatalf("request = %+v", rejected)
	}

	a, err := l.GetAccount(ctx, "artist")
	if err != nil {
		t.Fatal(err)
	}
	if a.ArtistEscrowBalance != 4000 {
		t.Errorf("rejection moved escrow: %d", a.ArtistEscrowBalance)
	}
	if n, _ := l.Store().CountEntries(ctx); n != 0 {
		t.Errorf("rejection appended %d entries", n)
	}

	var terr *tally.TransitionError
	_, err = l.SettlePayout(ctx, payout.SettleInput{RequestID: req.ID, Decision: payout.DecisionComplete})
	if !errors.As(err, &terr) || terr.Current != payout.StatusRejected {
		t.Fatalf("complete after reject: err = %v", err)
	}
	if _, err := l.MarkProcessing(ctx, req.ID, "ops"); !errors.Is(err, tally.ErrInvalidStateTransition) {
		t.Fatalf("processing after reject: err = %v", err)
	}
	if _, err := l.SettlePayout(ctx, payout.SettleInput{RequestID: req.ID, Decision: "maybe"}); !errors.Is(err, tally.ErrInvalidInput) {
		t.Fatalf("unknown decision: err = %v", err)
	}

	// A rejected request no longer blocks a new one.
	next, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.MarkProcessing(ctx, next.ID, "ops"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.MarkProcessing(ctx, next.ID, "ops"); !errors.Is(err, tally.ErrInvalidStateTransition) {
		t.Fatalf("processing twice: err = %v", err)
	}
}

func TestConcurrentSettlementDebitsOnce(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, tally.WithAppendRetry(100, 0))
	credit(t, l, "artist", 4000)

	req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist"})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.SettlePayout(ctx, payout.SettleInput{RequestID: req.ID, Decision: payout.DecisionComplete})
		}()
	}
	wg.Wait()

	var ok, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, tally.ErrInvalidStateTransition), errors.Is(err, tally.ErrInsufficientBalanceRace):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || lost != 1 {
		t.Fatalf("ok=%d lost=%d, want exactly one settlement", ok, lost)
	}

	a, err := l.GetAccount(ctx, "artist")
	if err != nil {
		t.Fatal(err)
	}
	if a.ArtistEscrowBalance != 0 {
		t.Fatalf("escrow = %d, want 0", a.ArtistEscrowBalance)
	}
	if n, _ := l.Store().CountEntries(ctx); n != 1 {
		t.Fatalf("entries = %d, want one PAY_OUT", n)
	}
}

// staleEscrow reports escrow balances as they stood before a concurrent
// payout took the drained amount.
type staleEscrow struct {
	*memory.Store
	drained int64
}

func (s *staleEscrow) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	a, err := s.Store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	a.ArtistEscrowBalance += s.drained
	return a, nil
}

func TestSettlePayoutLosesDrainedBalance(t *testing.T) {
	ctx := context.Background()
	s := &staleEscrow{Store: memory.New()}
	l := tally.New(s)
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Stop() }()

	credit(t, l, "artist", 3500)
	s.drained = 1000

	req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist"})
	if err != nil {
		t.Fatal(err)
	}
	if req.RequestedAmount != 4500 {
		t.Fatalf("requested = %d, want 4500", req.RequestedAmount)
	}

	_, err = l.SettlePayout(ctx, payout.SettleInput{RequestID: req.ID, Decision: payout.DecisionComplete, ProcessedBy: "ops"})
	if !errors.Is(err, tally.ErrInsufficientBalanceRace) {
		t.Fatalf("err = %v, want ErrInsufficientBalanceRace", err)
	}

	got, err := l.GetPayoutRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != payout.StatusPending || got.EntrySequence != nil {
		t.Fatalf("request = %+v, want it still pending", got)
	}
	if n, _ := l.Store().CountEntries(ctx); n != 0 {
		t.Fatalf("entries = %d, want no PAY_OUT", n)
	}

	s.drained = 0
	a, err := l.GetAccount(ctx, "artist")
	if err != nil {
		t.Fatal(err)
	}
	if a.ArtistEscrowBalance != 3500 {
		t.Fatalf("escrow = %d, want 3500 untouched", a.ArtistEscrowBalance)
	}
}

func TestSettlePayoutSkipsLineThatDoesNotFit(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, tally.WithPayoutPolicy(payout.Policy{
		FirstPayoutThreshold:     1000,
		SubsequentPayoutInterval: 500,
		MinimumPayout:            100,
	}))

	credit(t, l, "artist", 500, 700, 300)

	req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: "artist", Amount: 800})
	if err != nil {
		t.Fatal(err)
	}
	done, err := l.SettlePayout(ctx, payout.SettleInput{RequestID: req.ID, Decision: payout.DecisionComplete, ProcessedBy: "ops"})
	if err != nil {
		t.Fatal(err)
	}
	if len(done.ClaimedHistory) != 2 {
		t.Fatalf("claimed %d lines, want the 500 and 300 lines", len(done.ClaimedHistory))
	}

	pending, err := l.ListEscrowHistory(ctx, "artist", escrow.HistoryListOpts{Status: escrow.HistoryPending})
	if err != nil {
		t.Fatal(err)
	}
	a, err := l.GetAccount(ctx, "artist")
	if err != nil {
		t.Fatal(err)
	}
	var sum int64
	for _, h := range pending {
		sum += h.Amount
	}
	if len(pending) != 1 || pending[0].Amount != 700 || sum != a.ArtistEscrowBalance {
		t.Fatalf("pending = %d lines summing %d, escrow %d; want the 700 line only", len(pending), sum, a.ArtistEscrowBalance)
	}
}
