package integrity

import (
	"context"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
)

// BalanceReader is the read side of the stores the reconciler needs.
type BalanceReader interface {
	GetAccount(ctx context.Context, userID string) (*account.Account, error)
	GetMedia(ctx context.Context, mediaID string) (*account.Media, error)
	HolderTail(ctx context.Context, h entry.Holder) (*entry.Entry, error)
}

// Reconciler compares live balances with the ledger.
type Reconciler struct {
	store BalanceReader
}

func NewReconciler(store BalanceReader) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile returns the comparison for h. A holder with no entries is
// expected to hold zero. Lookup errors, including an unknown holder, are
// returned unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, h entry.Holder) (*Reconciliation, error) {
	actual, err := r.liveBalance(ctx, h)
	if err != nil {
		return nil, err
	}

	tail, err := r.store.HolderTail(ctx, h)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{Holder: h, Actual: actual}
	if tail != nil {
		rec.Expected = tail.PostFor(h)
		seq := tail.Sequence
		rec.TailSequence = &seq
	}
	rec.Discrepancy = rec.Actual - rec.Expected
	rec.IsBalanced = rec.Discrepancy == 0
	return rec, nil
}

func (r *Reconciler) liveBalance(ctx context.Context, h entry.Holder) (int64, error) {
	if h.Kind == entry.HolderMedia {
		m, err := r.store.GetMedia(ctx, h.ID)
		if err != nil {
			return 0, err
		}
		return m.Aggregate, nil
	}
	a, err := r.store.GetAccount(ctx, h.ID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}
