package tally_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/hashchain"
	"github.com/xraph/tally/integrity"
	"github.com/xraph/tally/store/memory"
)

type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func newLedger(t *testing.T, opts ...tally.Option) (*tally.Ledger, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]tally.Option{tally.WithClock(newClock().Now)}, opts...)
	l := tally.New(s, opts...)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l, s
}

func mustAppend(t *testing.T, l *tally.Ledger, in entry.Intent) *entry.Entry {
	t.Helper()
	e, err := l.AppendTransaction(context.Background(), in)
	if err != nil {
		t.Fatalf("append %s: %v", in.Type(), err)
	}
	return e
}

func tip(user, media string, amount int64) entry.Tip {
	return entry.Tip{UserID: user, Amount: amount, Refs: entry.Refs{MediaID: media}}
}

func TestAppendBuildsLinkedChain(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	first := mustAppend(t, l, entry.TopUp{UserID: "u1", Amount: 1000})
	second := mustAppend(t, l, tip("u1", "m1", 300))
	third := mustAppend(t, l, entry.Refund{UserID: "u1", Amount: 100, Refs: entry.Refs{MediaID: "m1"}})

	if first.Sequence != 0 || second.Sequence != 1 || third.Sequence != 2 {
		t.Fatalf("sequences = %d,%d,%d", first.Sequence, second.Sequence, third.Sequence)
	}
	if first.PrevHash != hashchain.Genesis {
		t.Errorf("first entry PrevHash = %s, want genesis", first.PrevHash)
	}
	if second.PrevHash != first.Hash || third.PrevHash != second.Hash {
		t.Error("entries are not linked to their predecessors")
	}
	if third.Timestamp.Before(second.Timestamp) || second.Timestamp.Before(first.Timestamp) {
		t.Error("timestamps must not decrease")
	}

	if first.UserBalancePost != 1000 || second.UserBalancePost != 700 || third.UserBalancePost != 800 {
		t.Errorf("wallet posts = %d,%d,%d", first.UserBalancePost, second.UserBalancePost, third.UserBalancePost)
	}
	if second.MediaAggregatePost != 300 || third.MediaAggregatePost != 200 {
		t.Errorf("media posts = %d,%d", second.MediaAggregatePost, third.MediaAggregatePost)
	}

	a, err := l.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if a.Balance != 800 {
		t.Errorf("wallet = %d, want 800", a.Balance)
	}

	report, err := l.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() || report.Checked != 3 {
		t.Fatalf("report = %+v", report)
	}

	byHash, err := l.GetEntryByHash(ctx, second.Hash)
	if err != nil || byHash.Sequence != 1 {
		t.Fatalf("GetEntryByHash = %+v, %v", byHash, err)
	}
}

func TestAppendValidation(t *testing.T) {
	l, _ := newLedger(t)
	mustAppend(t, l, entry.TopUp{UserID: "u1", Amount: 100})

	tests := []struct {
		name   string
		intent entry.Intent
		want   error
	}{
		{"nil intent", nil, tally.ErrInvalidInput},
		{"zero amount", entry.TopUp{UserID: "u1"}, tally.ErrInvalidAmount},
		{"negative amount", tip("u1", "m1", -5), tally.ErrInvalidAmount},
		{"missing user", entry.TopUp{Amount: 10}, tally.ErrInvalidInput},
		{"tip without media", entry.Tip{UserID: "u1", Amount: 10}, tally.ErrInvalidInput},
		{"payout through append", entry.PayOut{UserID: "u1", Amount: 10}, tally.ErrUnsupportedIntent},
		{"tip beyond wallet", tip("u1", "m1", 101), tally.ErrInsufficientFunds},
		{"refund beyond aggregate", entry.Refund{UserID: "u1", Amount: 10, Refs: entry.Refs{MediaID: "m1"}}, tally.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.AppendTransaction(context.Background(), tt.intent)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	n, err := l.Store().CountEntries(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("rejected appends must not write: count=%d err=%v", n, err)
	}
}

func TestWalletRefundWithoutMedia(t *testing.T) {
	l, _ := newLedger(t)
	mustAppend(t, l, entry.TopUp{UserID: "u1", Amount: 300})

	e := mustAppend(t, l, entry.Refund{UserID: "u1", Amount: 120})
	if e.MediaID != "" || e.MediaAggregatePost != 0 {
		t.Fatalf("refund entry = %+v, want no media reference", e)
	}
	if e.UserBalancePost != 420 {
		t.Fatalf("wallet post = %d, want 420", e.UserBalancePost)
	}

	rec, err := l.ReconcileHolder(context.Background(), tally.UserHolder("u1"))
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsBalanced || rec.Actual != 420 {
		t.Fatalf("reconciliation = %+v", rec)
	}
}

func TestConcurrentAppendsAreGapless(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, tally.WithAppendRetry(1000, 0))

	const workers = 16
	const perWorker = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("u%d", w%4)
			for range perWorker {
				if _, err := l.AppendTransaction(ctx, entry.TopUp{UserID: user, Amount: 10}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append failed: %v", err)
	}

	entries, err := l.ListEntries(ctx, entry.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != workers*perWorker {
		t.Fatalf("got %d entries, want %d", len(entries), workers*perWorker)
	}
	for i, e := range entries {
		if e.Sequence != int64(i) {
			t.Fatalf("entry %d has sequence %d", i, e.Sequence)
		}
	}

	report, err := l.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Fatalf("chain invalid after concurrent appends: %+v", report)
	}

	unbalanced, checked, err := l.ReconcileAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if checked != 4 || len(unbalanced) != 0 {
		t.Fatalf("reconcile: checked=%d unbalanced=%v", checked, unbalanced)
	}
	for u := range 4 {
		a, err := l.GetAccount(ctx, fmt.Sprintf("u%d", u))
		if err != nil {
			t.Fatal(err)
		}
		if a.Balance != workers/4*perWorker*10 {
			t.Errorf("u%d wallet = %d", u, a.Balance)
		}
	}
}

func TestBalanceConservation(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	ops := []entry.Intent{
		entry.TopUp{UserID: "alice", Amount: 5000},
		entry.TopUp{UserID: "bob", Amount: 2000},
		tip("alice", "song-1", 1200),
		tip("bob", "song-1", 800),
		tip("alice", "song-2", 450),
		entry.Refund{UserID: "bob", Amount: 300, Refs: entry.Refs{MediaID: "song-1"}},
		tip("bob", "song-2", 1000),
		entry.TopUp{UserID: "alice", Amount: 250},
	}
	for _, op := range ops {
		mustAppend(t, l, op)
	}

	var wallets, aggregates int64
	for _, user := range []string{"alice", "bob"} {
		a, err := l.GetAccount(ctx, user)
		if err != nil {
			t.Fatal(err)
		}
		wallets += a.Balance

		tail, err := l.TailFor(ctx, entry.User(user))
		if err != nil {
			t.Fatal(err)
		}
		if tail.UserBalancePost != a.Balance {
			t.Errorf("%s: tail post %d != wallet %d", user, tail.UserBalancePost, a.Balance)
		}
	}
	for _, media := range []string{"song-1", "song-2"} {
		m, err := l.GetMedia(ctx, media)
		if err != nil {
			t.Fatal(err)
		}
		aggregates += m.Aggregate

		rec, err := l.ReconcileHolder(ctx, entry.Media(media))
		if err != nil {
			t.Fatal(err)
		}
		if !rec.IsBalanced {
			t.Errorf("%s unbalanced: %+v", media, rec)
		}
	}

	// Tips and refunds move money between wallets and media; only top-ups add.
	if wallets+aggregates != 7250 {
		t.Errorf("wallets %d + aggregates %d != 7250 topped up", wallets, aggregates)
	}
	if aggregates != 1200+800+450-300+1000 {
		t.Errorf("aggregates = %d", aggregates)
	}
}

// conflictStore loses every race for the chain tail.
type conflictStore struct {
	*memory.Store
	attempts int
}

func (s *conflictStore) CommitEntry(_ context.Context, _ *entry.Entry, _ entry.Mutation) error {
	s.attempts++
	return tally.ErrConcurrentSequenceConflict
}

func TestAppendGivesUpAfterRetries(t *testing.T) {
	s := &conflictStore{Store: memory.New()}
	l := tally.New(s, tally.WithAppendRetry(4, 0))

	_, err := l.AppendTransaction(context.Background(), entry.TopUp{UserID: "u1", Amount: 10})
	if !errors.Is(err, tally.ErrLedgerWriteFailed) {
		t.Fatalf("err = %v, want ErrLedgerWriteFailed", err)
	}
	if !errors.Is(err, tally.ErrConcurrentSequenceConflict) {
		t.Errorf("err = %v should still match the conflict", err)
	}
	if s.attempts != 4 {
		t.Errorf("attempts = %d, want 4", s.attempts)
	}
}

func TestVerifyIsReadOnlyAndRepeatable(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, tally.WithVerifyPageSize(2))

	mustAppend(t, l, entry.TopUp{UserID: "u1", Amount: 900})
	for range 4 {
		mustAppend(t, l, tip("u1", "m1", 100))
	}

	first, err := l.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.VerifyAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !first.OK() || first.Checked != 5 || second.Checked != first.Checked || second.ValidCount != first.ValidCount {
		t.Fatalf("reports differ: %+v vs %+v", first, second)
	}

	sub, err := l.VerifyRange(ctx, integrity.Range{From: 2, To: 3})
	if err != nil {
		t.Fatal(err)
	}
	if sub.Checked != 2 || !sub.OK() {
		t.Fatalf("sub-range report = %+v", sub)
	}

	n, _ := l.Store().CountEntries(ctx)
	if n != 5 {
		t.Errorf("verification wrote entries: count=%d", n)
	}
}

func TestReconcileUnknownHolder(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.ReconcileHolder(context.Background(), entry.User("ghost"))
	if !errors.Is(err, tally.ErrHolderNotFound) {
		t.Fatalf("err = %v, want ErrHolderNotFound", err)
	}
}

func TestAuditScheduleValidation(t *testing.T) {
	l := tally.New(memory.New(), tally.WithAuditSchedule("not a schedule", 0))
	if err := l.Start(context.Background()); !errors.Is(err, tally.ErrInvalidInput) {
		t.Fatalf("Start err = %v, want ErrInvalidInput", err)
	}

	ok := tally.New(memory.New(), tally.WithAuditSchedule("@hourly", time.Minute))
	if err := ok.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := ok.Stop(); err != nil {
		t.Fatal(err)
	}
}
