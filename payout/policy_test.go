package payout_test

import (
	"testing"
	"time"

	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/payout"
)

func TestEvaluate(t *testing.T) {
	p := payout.DefaultPolicy()

	tests := []struct {
		name      string
		total     int64
		last      int64
		eligible  bool
		first     bool
		shortfall int64
	}{
		{"first below threshold", 2000, 0, false, true, 1300},
		{"first at threshold", 3300, 0, true, true, 0},
		{"first above threshold", 5000, 0, true, true, 0},
		{"subsequent below interval", 4000, 3300, false, false, 300},
		{"subsequent at interval", 4300, 3300, true, false, 0},
		{"nothing earned since payout", 3300, 3300, false, false, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := p.Evaluate(tt.total, tt.last)
			if el.Eligible != tt.eligible {
				t.Errorf("Eligible = %v, want %v", el.Eligible, tt.eligible)
			}
			if el.FirstPayout != tt.first {
				t.Errorf("FirstPayout = %v, want %v", el.FirstPayout, tt.first)
			}
			if el.Shortfall != tt.shortfall {
				t.Errorf("Shortfall = %d, want %d", el.Shortfall, tt.shortfall)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to payout.Status
		ok       bool
	}{
		{payout.StatusPending, payout.StatusProcessing, true},
		{payout.StatusPending, payout.StatusCompleted, true},
		{payout.StatusProcessing, payout.StatusCompleted, true},
		{payout.StatusProcessing, payout.StatusRejected, true},
		{payout.StatusProcessing, payout.StatusPending, false},
		{payout.StatusCompleted, payout.StatusRejected, false},
		{payout.StatusRejected, payout.StatusProcessing, false},
		{payout.StatusCompleted, payout.StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := payout.CanTransition(tt.from, tt.to); got != tt.ok {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
		})
	}
}

func history(amounts ...int64) []*escrow.HistoryEntry {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*escrow.HistoryEntry, len(amounts))
	for i, a := range amounts {
		out[i] = &escrow.HistoryEntry{
			ID:          id.NewHistoryID(),
			Amount:      a,
			Status:      escrow.HistoryPending,
			AllocatedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func amounts(hs []*escrow.HistoryEntry) []int64 {
	out := make([]int64, len(hs))
	for i, h := range hs {
		out[i] = h.Amount
	}
	return out
}

func TestSelectFIFO(t *testing.T) {
	tests := []struct {
		name    string
		pending []int64
		amount  int64
		want    []int64
	}{
		{"oldest whole entries", []int64{500, 300, 700}, 800, []int64{500, 300}},
		{"exact total", []int64{500, 300, 700}, 1500, []int64{500, 300, 700}},
		{"oldest does not fit", []int64{500, 300}, 400, []int64{300}},
		{"skips a misfit", []int64{500, 700, 300}, 800, []int64{500, 300}},
		{"skips a misfit then fills", []int64{500, 700, 100}, 700, []int64{500, 100}},
		{"nothing fits", []int64{500, 700}, 400, nil},
		{"nothing pending", nil, 800, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := amounts(payout.SelectFIFO(history(tt.pending...), tt.amount))
			if len(got) != len(tt.want) {
				t.Fatalf("SelectFIFO() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("SelectFIFO() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSelectFIFOOrdersByAllocation(t *testing.T) {
	hs := history(500, 300, 700)
	// Present newest first; selection must still follow allocation time.
	reversed := []*escrow.HistoryEntry{hs[2], hs[1], hs[0]}
	got := payout.SelectFIFO(reversed, 800)
	if len(got) != 2 || got[0] != hs[0] || got[1] != hs[1] {
		t.Fatalf("SelectFIFO() = %v, want the 500 and 300 lines", amounts(got))
	}
}

func TestSelectFIFOSkipsClaimed(t *testing.T) {
	hs := history(500, 300)
	hs[0].Status = escrow.HistoryClaimed
	got := payout.SelectFIFO(hs, 800)
	if len(got) != 1 || got[0] != hs[1] {
		t.Fatalf("SelectFIFO() = %v, want only the pending 300 line", amounts(got))
	}
}
