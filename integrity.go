package tally

import (
	"context"
	"time"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/integrity"
)

// ──────────────────────────────────────────────────
// Integrity
// ──────────────────────────────────────────────────

// VerifyRange walks the chain over rng and reports every invalid entry.
// It only reads; running it twice over an unchanged ledger yields the same
// report. Broken chains are logged and dispatched to plugins.
func (l *Ledger) VerifyRange(ctx context.Context, rng integrity.Range) (*integrity.Report, error) {
	r, err := l.verifier.Verify(ctx, rng)
	if err != nil {
		return nil, err
	}

	if !r.OK() {
		l.logger.Error("ledger chain broken",
			"from", r.From,
			"to", r.To,
			"first_break", *r.FirstBreak,
			"invalid", r.InvalidCount,
			"anomalies", len(r.Anomalies),
		)
		l.plugins.EmitChainBroken(ctx, r)
	}
	return r, nil
}

// VerifyAll verifies the whole chain.
func (l *Ledger) VerifyAll(ctx context.Context) (*integrity.Report, error) {
	return l.VerifyRange(ctx, integrity.Full())
}

// ReconcileHolder compares a holder's live balance with the post balance of
// the last entry that touched it. Unknown holders fail with
// ErrHolderNotFound.
func (l *Ledger) ReconcileHolder(ctx context.Context, h entry.Holder) (*integrity.Reconciliation, error) {
	rec, err := l.reconciler.Reconcile(ctx, h)
	if err != nil {
		return nil, err
	}

	if !rec.IsBalanced {
		l.logger.Error("balance discrepancy",
			"holder", h.String(),
			"expected", rec.Expected,
			"actual", rec.Actual,
			"discrepancy", rec.Discrepancy,
		)
		l.plugins.EmitBalanceDiscrepancy(ctx, rec)
	}
	return rec, nil
}

// ReconcileAll reconciles every account and media row and returns the ones
// that do not balance, along with how many holders were checked.
func (l *Ledger) ReconcileAll(ctx context.Context) ([]*integrity.Reconciliation, int, error) {
	const pageSize = 200
	var (
		unbalanced []*integrity.Reconciliation
		checked    int
	)

	check := func(h entry.Holder) error {
		rec, err := l.ReconcileHolder(ctx, h)
		if err != nil {
			return err
		}
		checked++
		if !rec.IsBalanced {
			unbalanced = append(unbalanced, rec)
		}
		return nil
	}

	for offset := 0; ; offset += pageSize {
		page, err := l.store.ListAccounts(ctx, account.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, checked, err
		}
		for _, a := range page {
			if err := check(entry.User(a.UserID)); err != nil {
				return nil, checked, err
			}
		}
		if len(page) < pageSize {
			break
		}
	}

	for offset := 0; ; offset += pageSize {
		page, err := l.store.ListMedia(ctx, account.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, checked, err
		}
		for _, m := range page {
			if err := check(entry.Media(m.MediaID)); err != nil {
				return nil, checked, err
			}
		}
		if len(page) < pageSize {
			break
		}
	}

	return unbalanced, checked, nil
}

// RunAudit verifies the full chain and reconciles every holder.
func (l *Ledger) RunAudit(ctx context.Context) (*integrity.Audit, error) {
	start := time.Now()
	a := &integrity.Audit{StartedAt: l.now()}

	report, err := l.VerifyAll(ctx)
	if err != nil {
		return nil, err
	}
	a.Chain = report

	unbalanced, checked, err := l.ReconcileAll(ctx)
	if err != nil {
		return nil, err
	}
	a.Unbalanced = unbalanced
	a.Holders = checked
	a.Elapsed = time.Since(start)

	l.logger.Info("ledger audit completed",
		"ok", a.OK(),
		"entries", report.Checked,
		"invalid", report.InvalidCount,
		"holders", checked,
		"unbalanced", len(unbalanced),
		"elapsed_ms", a.Elapsed.Milliseconds(),
	)
	l.plugins.EmitAuditCompleted(ctx, a)
	return a, nil
}
