package payout

import (
	"sort"

	"github.com/xraph/tally/escrow"
)

// Default thresholds, in pence.
const (
	FirstPayoutThreshold     int64 = 3300
	SubsequentPayoutInterval int64 = 1000
	MinimumPayout            int64 = 100
)

// Policy gates payout requests.
type Policy struct {
	FirstPayoutThreshold     int64 `json:"first_payout_threshold" yaml:"first_payout_threshold" mapstructure:"first_payout_threshold"`
	SubsequentPayoutInterval int64 `json:"subsequent_payout_interval" yaml:"subsequent_payout_interval" mapstructure:"subsequent_payout_interval"`
	MinimumPayout            int64 `json:"minimum_payout" yaml:"minimum_payout" mapstructure:"minimum_payout"`
}

func DefaultPolicy() Policy {
	return Policy{
		FirstPayoutThreshold:     FirstPayoutThreshold,
		SubsequentPayoutInterval: SubsequentPayoutInterval,
		MinimumPayout:            MinimumPayout,
	}
}

// Eligibility is the outcome of evaluating an artist against a Policy.
type Eligibility struct {
	Eligible    bool  `json:"eligible"`
	FirstPayout bool  `json:"first_payout"`
	Earned      int64 `json:"earned"`
	Required    int64 `json:"required"`
	Shortfall   int64 `json:"shortfall"`
}

// Evaluate checks escrow earnings against the threshold. Before the first
// payout the lifetime total must reach FirstPayoutThreshold; afterwards the
// earnings since the last payout must reach SubsequentPayoutInterval.
func (p Policy) Evaluate(totalEarned, lastPayoutTotal int64) Eligibility {
	el := Eligibility{FirstPayout: lastPayoutTotal == 0}
	if el.FirstPayout {
		el.Earned = totalEarned
		el.Required = p.FirstPayoutThreshold
	} else {
		el.Earned = totalEarned - lastPayoutTotal
		el.Required = p.SubsequentPayoutInterval
	}
	if el.Earned < el.Required {
		el.Shortfall = el.Required - el.Earned
	}
	el.Eligible = el.Shortfall == 0
	return el
}

// SelectFIFO picks pending history lines, oldest first, whose amounts fit
// whole inside what remains of amount. A line that does not fit is skipped
// and left pending; later lines that still fit are claimed.
func SelectFIFO(pending []*escrow.HistoryEntry, amount int64) []*escrow.HistoryEntry {
	ordered := make([]*escrow.HistoryEntry, 0, len(pending))
	for _, h := range pending {
		if h.Status == escrow.HistoryPending {
			ordered = append(ordered, h)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].AllocatedAt.Equal(ordered[j].AllocatedAt) {
			return ordered[i].AllocatedAt.Before(ordered[j].AllocatedAt)
		}
		return ordered[i].ID.String() < ordered[j].ID.String()
	})

	var picked []*escrow.HistoryEntry
	remaining := amount
	for _, h := range ordered {
		if remaining <= 0 {
			break
		}
		if h.Amount > remaining {
			continue
		}
		picked = append(picked, h)
		remaining -= h.Amount
	}
	return picked
}
