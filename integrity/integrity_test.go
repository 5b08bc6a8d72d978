package integrity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/hashchain"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/integrity"
)

// sliceLedger serves entries from a slice so tests can tamper with rows.
type sliceLedger struct {
	entries  []*entry.Entry
	accounts map[string]*account.Account
	media    map[string]*account.Media
	calls    int
}

var errUnknown = errors.New("unknown holder")

func (s *sliceLedger) ListEntries(_ context.Context, opts entry.ListOpts) ([]*entry.Entry, error) {
	s.calls++
	var out []*entry.Entry
	for _, e := range s.entries {
		if e.Sequence < opts.From || e.Sequence > opts.To {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *sliceLedger) GetAccount(_ context.Context, userID string) (*account.Account, error) {
	if a, ok := s.accounts[userID]; ok {
		return a, nil
	}
	return nil, errUnknown
}

func (s *sliceLedger) GetMedia(_ context.Context, mediaID string) (*account.Media, error) {
	if m, ok := s.media[mediaID]; ok {
		return m, nil
	}
	return nil, errUnknown
}

func (s *sliceLedger) HolderTail(_ context.Context, h entry.Holder) (*entry.Entry, error) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Touches(h) {
			return s.entries[i], nil
		}
	}
	return nil, nil
}

// chain builds n sealed top-ups of 100 for one user.
func chain(n int) *sliceLedger {
	s := &sliceLedger{accounts: map[string]*account.Account{}, media: map[string]*account.Media{}}
	prev := hashchain.Genesis
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := range n {
		e := entry.TopUp{UserID: "u1", Amount: 100}.Draft()
		e.ID = id.NewEntryID()
		e.Sequence = int64(i)
		e.Timestamp = ts.Add(time.Duration(i) * time.Second)
		e.UserBalancePost = int64(i+1) * 100
		e.Seal(prev)
		prev = e.Hash
		s.entries = append(s.entries, &e)
	}
	s.accounts["u1"] = &account.Account{UserID: "u1", Balance: int64(n) * 100}
	return s
}

func kinds(r *integrity.Report) map[integrity.AnomalyKind][]int64 {
	out := map[integrity.AnomalyKind][]int64{}
	for _, a := range r.Anomalies {
		out[a.Kind] = append(out[a.Kind], a.Sequence)
	}
	return out
}

func TestVerifyValidChain(t *testing.T) {
	s := chain(25)
	v := integrity.NewVerifier(s, 7)

	r, err := v.Verify(context.Background(), integrity.Full())
	if err != nil {
		t.Fatal(err)
	}
	if !r.OK() || r.Checked != 25 || r.ValidCount != 25 || r.FirstBreak != nil {
		t.Fatalf("report = %+v, want 25 valid entries", r)
	}
	if s.calls < 4 {
		t.Errorf("expected paged reads, got %d calls", s.calls)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	s := chain(10)
	s.entries[4].Amount = 999
	v := integrity.NewVerifier(s, 0)

	first, err := v.Verify(context.Background(), integrity.Full())
	if err != nil {
		t.Fatal(err)
	}
	second, err := v.Verify(context.Background(), integrity.Full())
	if err != nil {
		t.Fatal(err)
	}
	if first.Checked != second.Checked || first.InvalidCount != second.InvalidCount ||
		*first.FirstBreak != *second.FirstBreak || len(first.Anomalies) != len(second.Anomalies) {
		t.Fatalf("reports differ:\n%+v\n%+v", first, second)
	}
}

func TestVerifyDetectsFieldTamper(t *testing.T) {
	s := chain(10)
	s.entries[4].Amount = 5000

	r, err := integrity.NewVerifier(s, 3).Verify(context.Background(), integrity.Full())
	if err != nil {
		t.Fatal(err)
	}
	if r.OK() || r.FirstBreak == nil || *r.FirstBreak != 4 {
		t.Fatalf("report = %+v, want first break at 4", r)
	}
	if r.InvalidCount != 1 {
		t.Errorf("InvalidCount = %d, want 1", r.InvalidCount)
	}
	if got := kinds(r)[integrity.AnomalyHashMismatch]; len(got) != 1 || got[0] != 4 {
		t.Errorf("hash mismatches at %v, want [4]", got)
	}
}

func TestVerifyDetectsRehashedEntry(t *testing.T) {
	s := chain(10)
	e := s.entries[4]
	e.Amount = 5000
	e.Seal(e.PrevHash)

	r, err := integrity.NewVerifier(s, 0).Verify(context.Background(), integrity.Full())
	if err != nil {
		t.Fatal(err)
	}
	// Entry 4 is self-consistent again; its successor's link is not.
	if *r.FirstBreak != 5 || r.InvalidCount != 1 {
		t.Fatalf("report = %+v, want only entry 5 invalid", r)
	}
	if got := kinds(r)[integrity.AnomalyPrevHashMismatch]; len(got) != 1 || got[0] != 5 {
		t.Errorf("prev hash mismatches at %v, want [5]", got)
	}
}

func TestVerifyDetectsGap(t *testing.T) {
	s := chain(6)
	s.entries = append(s.entries[:3], s.entries[4:]...)

	r, err := integrity.NewVerifier(s, 0).Verify(context.Background(), integrity.Full())
	if err != nil {
		t.Fatal(err)
	}
	k := kinds(r)
	if len(k[integrity.AnomalySequenceGap]) != 1 || k[integrity.AnomalySequenceGap][0] != 4 {
		t.Errorf("sequence gaps at %v, want [4]", k[integrity.AnomalySequenceGap])
	}
	if len(k[integrity.AnomalyMissingPredecessor]) != 1 {
		t.Errorf("missing predecessor anomalies = %v", k[integrity.AnomalyMissingPredecessor])
	}
	if *r.FirstBreak != 4 || r.InvalidCount != 1 {
		t.Errorf("report = %+v, want only entry 4 invalid", r)
	}
}

func TestVerifyGenesis(t *testing.T) {
	s := chain(3)
	s.entries[0].PrevHash = "ff"

	r, err := integrity.NewVerifier(s, 0).Verify(context.Background(), integrity.Full())
	if err != nil {
		t.Fatal(err)
	}
	if got := kinds(r)[integrity.AnomalyGenesisMismatch]; len(got) != 1 || got[0] != 0 {
		t.Errorf("genesis mismatches at %v, want [0]", got)
	}
}

func TestVerifySubRange(t *testing.T) {
	s := chain(20)
	s.entries[2].Amount = 1

	r, err := integrity.NewVerifier(s, 4).Verify(context.Background(), integrity.Range{From: 10, To: 14})
	if err != nil {
		t.Fatal(err)
	}
	if !r.OK() || r.Checked != 5 {
		t.Fatalf("report = %+v, want 5 valid entries", r)
	}
}

func TestVerifyDetectsTimestampRegression(t *testing.T) {
	s := chain(4)
	e := s.entries[2]
	e.Timestamp = s.entries[1].Timestamp.Add(-time.Minute)
	e.Seal(e.PrevHash)
	s.entries[3].Seal(e.Hash)

	r, err := integrity.NewVerifier(s, 0).Verify(context.Background(), integrity.Full())
	if err != nil {
		t.Fatal(err)
	}
	if got := kinds(r)[integrity.AnomalyTimestampRegression]; len(got) != 1 || got[0] != 2 {
		t.Errorf("timestamp regressions at %v, want [2]", got)
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	s := chain(3)
	r := integrity.NewReconciler(s)

	rec, err := r.Reconcile(ctx, entry.User("u1"))
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsBalanced || rec.Expected != 300 || rec.Actual != 300 || *rec.TailSequence != 2 {
		t.Fatalf("reconciliation = %+v", rec)
	}

	s.accounts["u1"].Balance = 250
	rec, err = r.Reconcile(ctx, entry.User("u1"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.IsBalanced || rec.Discrepancy != -50 {
		t.Fatalf("reconciliation = %+v, want discrepancy -50", rec)
	}
}

func TestReconcileWithoutEntries(t *testing.T) {
	s := chain(0)
	s.media["m1"] = &account.Media{MediaID: "m1"}

	rec, err := integrity.NewReconciler(s).Reconcile(context.Background(), entry.Media("m1"))
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsBalanced || rec.Expected != 0 || rec.TailSequence != nil {
		t.Fatalf("reconciliation = %+v", rec)
	}
}

func TestReconcileUnknownHolder(t *testing.T) {
	_, err := integrity.NewReconciler(chain(1)).Reconcile(context.Background(), entry.User("nobody"))
	if !errors.Is(err, errUnknown) {
		t.Fatalf("err = %v, want the store's lookup error", err)
	}
}
