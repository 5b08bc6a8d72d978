// Package integrity checks the ledger against itself: the verifier walks
// the hash chain and the reconciler compares live balances with the post
// balances recorded on entries.
package integrity

import (
	"time"

	"github.com/xraph/tally/entry"
)

// Range is an inclusive span of sequence numbers.
type Range struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Full covers the whole ledger.
func Full() Range { return Range{From: 0, To: entry.MaxSequence} }

type AnomalyKind string

const (
	AnomalyHashMismatch        AnomalyKind = "hash_mismatch"
	AnomalyPrevHashMismatch    AnomalyKind = "prev_hash_mismatch"
	AnomalyGenesisMismatch     AnomalyKind = "genesis_mismatch"
	AnomalySequenceGap         AnomalyKind = "sequence_gap"
	AnomalyMissingPredecessor  AnomalyKind = "missing_predecessor"
	AnomalyTimestampRegression AnomalyKind = "timestamp_regression"
)

type Anomaly struct {
	Sequence int64       `json:"sequence"`
	Kind     AnomalyKind `json:"kind"`
	Expected string      `json:"expected,omitempty"`
	Actual   string      `json:"actual,omitempty"`
}

// Report is the result of verifying a range. An entry with any anomaly
// counts once in InvalidCount.
type Report struct {
	From         int64     `json:"from"`
	To           int64     `json:"to"`
	Checked      int       `json:"checked"`
	ValidCount   int       `json:"valid_count"`
	InvalidCount int       `json:"invalid_count"`
	FirstBreak   *int64    `json:"first_break,omitempty"`
	Anomalies    []Anomaly `json:"anomalies,omitempty"`
}

// OK reports whether every checked entry verified.
func (r *Report) OK() bool { return r.InvalidCount == 0 }

// Reconciliation compares a holder's live balance with the post balance on
// the last entry that touched it.
type Reconciliation struct {
	Holder       entry.Holder `json:"holder"`
	Expected     int64        `json:"expected"`
	Actual       int64        `json:"actual"`
	Discrepancy  int64        `json:"discrepancy"`
	IsBalanced   bool         `json:"is_balanced"`
	TailSequence *int64       `json:"tail_sequence,omitempty"`
}

// Audit bundles a full chain verification with every unbalanced holder.
type Audit struct {
	Chain      *Report           `json:"chain"`
	Holders    int               `json:"holders"`
	Unbalanced []*Reconciliation `json:"unbalanced,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// OK reports whether the chain verified and every holder balanced.
func (a *Audit) OK() bool {
	return a.Chain.OK() && len(a.Unbalanced) == 0
}
