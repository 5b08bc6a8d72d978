package integrity

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/hashchain"
)

// DefaultPageSize is how many entries the verifier reads per store call.
const DefaultPageSize = 500

// EntryLister is the read side of the entry store the verifier needs.
type EntryLister interface {
	ListEntries(ctx context.Context, opts entry.ListOpts) ([]*entry.Entry, error)
}

// Verifier recomputes entry digests and checks their links. It only reads.
type Verifier struct {
	entries  EntryLister
	pageSize int
}

func NewVerifier(entries EntryLister, pageSize int) *Verifier {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Verifier{entries: entries, pageSize: pageSize}
}

// Verify checks every stored entry in rng. Each entry is recomputed against
// the stored hash of the entry before it, so a tampered entry is flagged
// together with the link its successor holds to it, and no further.
func (v *Verifier) Verify(ctx context.Context, rng Range) (*Report, error) {
	if rng.From < 0 {
		rng.From = 0
	}
	report := &Report{From: rng.From, To: rng.To}
	if rng.To < rng.From {
		return report, nil
	}

	// Read one entry before the range so the first link can be checked.
	cursor := rng.From
	if cursor > 0 {
		cursor--
	}

	var prev *entry.Entry
	expected := rng.From
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := v.entries.ListEntries(ctx, entry.ListOpts{From: cursor, To: rng.To, Limit: v.pageSize})
		if err != nil {
			return nil, fmt.Errorf("integrity: list entries from %d: %w", cursor, err)
		}

		for _, e := range page {
			if e.Sequence < rng.From {
				prev = e
				continue
			}
			report.record(e.Sequence, check(e, prev, expected))
			expected = e.Sequence + 1
			prev = e
		}

		if len(page) < v.pageSize || page[len(page)-1].Sequence >= rng.To {
			break
		}
		cursor = page[len(page)-1].Sequence + 1
	}

	return report, nil
}

func check(e, prev *entry.Entry, expected int64) []Anomaly {
	var out []Anomaly
	add := func(kind AnomalyKind, want, got string) {
		out = append(out, Anomaly{Sequence: e.Sequence, Kind: kind, Expected: want, Actual: got})
	}

	if e.Sequence != expected {
		add(AnomalySequenceGap, strconv.FormatInt(expected, 10), strconv.FormatInt(e.Sequence, 10))
	}

	link := e.PrevHash
	switch {
	case e.Sequence == 0:
		link = hashchain.Genesis
		if e.PrevHash != hashchain.Genesis {
			add(AnomalyGenesisMismatch, hashchain.Genesis, e.PrevHash)
		}
	case prev != nil && prev.Sequence == e.Sequence-1:
		link = prev.Hash
		if e.PrevHash != prev.Hash {
			add(AnomalyPrevHashMismatch, prev.Hash, e.PrevHash)
		}
		if e.Timestamp.Before(prev.Timestamp) {
			add(AnomalyTimestampRegression, prev.Timestamp.String(), e.Timestamp.String())
		}
	default:
		add(AnomalyMissingPredecessor, strconv.FormatInt(e.Sequence-1, 10), "")
	}

	if got := hashchain.Digest(e.Fields(), link); got != e.Hash {
		add(AnomalyHashMismatch, got, e.Hash)
	}
	return out
}

func (r *Report) record(seq int64, anomalies []Anomaly) {
	r.Checked++
	if len(anomalies) == 0 {
		r.ValidCount++
		return
	}
	r.InvalidCount++
	r.Anomalies = append(r.Anomalies, anomalies...)
	if r.FirstBreak == nil {
		s := seq
		r.FirstBreak = &s
	}
}
