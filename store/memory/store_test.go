package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/hashchain"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/types"
)

var epoch = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func topUp(t *testing.T, s *Store, seq int64, prev, user string, balance, amount int64) *entry.Entry {
	t.Helper()
	e := &entry.Entry{
		ID:              id.NewEntryID(),
		Sequence:        seq,
		Type:            entry.TypeTopUp,
		Amount:          amount,
		UserID:          user,
		UserBalancePost: balance + amount,
		Timestamp:       epoch.Add(time.Duration(seq) * time.Second),
	}
	e.Seal(prev)
	err := s.CommitEntry(context.Background(), e, entry.Mutation{
		UserID:       user,
		UserExpected: balance,
		UserNext:     balance + amount,
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestCommitEntryPreconditions(t *testing.T) {
	ctx := context.Background()
	s := New()

	bad := &entry.Entry{Sequence: 0, Type: entry.TypeTopUp, Amount: 1, UserID: "u1", UserBalancePost: 1, Timestamp: epoch}
	bad.Seal("not-genesis")
	if err := s.CommitEntry(ctx, bad, entry.Mutation{UserID: "u1", UserNext: 1}); !errors.Is(err, tally.ErrInvalidInput) {
		t.Fatalf("first entry off genesis: err = %v", err)
	}

	first := topUp(t, s, 0, hashchain.Genesis, "u1", 0, 100)

	tests := []struct {
		name string
		seq  int64
		prev string
		exp  int64
	}{
		{"sequence taken", 0, hashchain.Genesis, 100},
		{"sequence skipped", 2, first.Hash, 100},
		{"stale prev hash", 1, hashchain.Genesis, 100},
		{"balance moved", 1, first.Hash, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &entry.Entry{Sequence: tt.seq, Type: entry.TypeTopUp, Amount: 5, UserID: "u1", UserBalancePost: tt.exp + 5, Timestamp: epoch}
			e.Seal(tt.prev)
			err := s.CommitEntry(ctx, e, entry.Mutation{UserID: "u1", UserExpected: tt.exp, UserNext: tt.exp + 5})
			if !errors.Is(err, tally.ErrConcurrentSequenceConflict) {
				t.Fatalf("err = %v, want ErrConcurrentSequenceConflict", err)
			}
		})
	}

	if n, _ := s.CountEntries(ctx); n != 1 {
		t.Fatalf("rejected commits wrote entries: count = %d", n)
	}
	a, err := s.GetAccount(ctx, "u1")
	if err != nil || a.Balance != 100 {
		t.Fatalf("account = %+v, %v", a, err)
	}
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	topUp(t, s, 0, hashchain.Genesis, "u1", 0, 100)

	e, _ := s.GetEntry(ctx, 0)
	e.Amount = 999
	again, _ := s.GetEntry(ctx, 0)
	if again.Amount != 100 {
		t.Fatal("caller mutated stored entry")
	}

	a, _ := s.GetAccount(ctx, "u1")
	a.Balance = 0
	if a2, _ := s.GetAccount(ctx, "u1"); a2.Balance != 100 {
		t.Fatal("caller mutated stored account")
	}
}

// Two open requests for one artist, each covering the whole escrow
// balance, settled at the same time. Only one may debit.
func TestSettlePayoutBalanceRace(t *testing.T) {
	ctx := context.Background()
	s := New()

	tail := topUp(t, s, 0, hashchain.Genesis, "artist", 0, 50)
	if err := s.CreditEscrow(ctx, &escrow.HistoryEntry{
		ID:          id.NewHistoryID(),
		UserID:      "artist",
		Amount:      4000,
		Status:      escrow.HistoryPending,
		AllocatedAt: epoch,
	}); err != nil {
		t.Fatal(err)
	}

	requests := make([]*payout.Request, 2)
	for i := range requests {
		r := &payout.Request{
			Entity:          types.NewEntity(),
			ID:              id.NewPayoutID(),
			UserID:          "artist",
			RequestedAmount: 4000,
			Status:          payout.StatusPending,
		}
		s.payouts[r.ID.String()] = r
		requests[i] = r
	}

	var wg sync.WaitGroup
	errs := make([]error, len(requests))
	for i, r := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := &entry.Entry{
				ID:              id.NewEntryID(),
				Sequence:        1,
				Type:            entry.TypePayOut,
				Amount:          r.RequestedAmount,
				UserID:          "artist",
				UserBalancePost: 50,
				Timestamp:       epoch.Add(time.Minute),
			}
			e.Seal(tail.Hash)
			_, errs[i] = s.SettlePayout(ctx, &payout.Settlement{
				RequestID:   r.ID,
				UserID:      "artist",
				Amount:      r.RequestedAmount,
				ProcessedAt: e.Timestamp,
				Entry:       e,
				Mutation:    entry.Mutation{UserID: "artist", UserExpected: 50, UserNext: 50},
			})
		}()
	}
	wg.Wait()

	var ok, raced int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, tally.ErrInsufficientBalanceRace):
			raced++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || raced != 1 {
		t.Fatalf("ok=%d raced=%d, want one of each", ok, raced)
	}

	a, err := s.GetAccount(ctx, "artist")
	if err != nil {
		t.Fatal(err)
	}
	if a.ArtistEscrowBalance != 0 || a.LastPayoutTotalEarned != 4000 {
		t.Fatalf("account = %+v", a)
	}
	if n, _ := s.CountEntries(ctx); n != 2 {
		t.Fatalf("entries = %d, want 2", n)
	}

	open, err := s.ListPayoutRequests(ctx, payout.ListOpts{UserID: "artist", Status: payout.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("losing request should stay pending, got %d open", len(open))
	}
}

func TestClaimAllocationOnce(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := &escrow.Allocation{
		Entity:      types.NewEntity(),
		ID:          id.NewAllocationID(),
		ArtistName:  "Echo",
		ArtistKey:   "echo",
		Amount:      300,
		AllocatedAt: epoch,
	}
	if err := s.CreateAllocation(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateAllocation(ctx, a); !errors.Is(err, tally.ErrAlreadyExists) {
		t.Fatalf("duplicate create: err = %v", err)
	}

	line := func(user string) *escrow.HistoryEntry {
		return &escrow.HistoryEntry{ID: id.NewHistoryID(), UserID: user, AllocationID: a.ID, Amount: a.Amount, Status: escrow.HistoryPending, AllocatedAt: epoch}
	}
	if err := s.ClaimAllocation(ctx, a.ID, line("u1"), epoch.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.ClaimAllocation(ctx, a.ID, line("u2"), epoch.Add(time.Hour)); !errors.Is(err, tally.ErrAllocationClaimed) {
		t.Fatalf("second claim: err = %v", err)
	}
	if _, err := s.GetAccount(ctx, "u2"); !errors.Is(err, tally.ErrHolderNotFound) {
		t.Fatalf("losing claimant was credited: %v", err)
	}

	got, err := s.GetAllocation(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Claimed || got.ClaimedBy != "u1" || got.ClaimedAt == nil {
		t.Fatalf("allocation = %+v", got)
	}
	if left, _ := s.ListUnclaimedAllocations(ctx, "echo"); len(left) != 0 {
		t.Fatalf("unclaimed = %d, want 0", len(left))
	}
}
