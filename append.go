package tally

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/hashchain"
	"github.com/xraph/tally/id"
)

// ──────────────────────────────────────────────────
// Append path
// ──────────────────────────────────────────────────

// AppendTransaction extends the chain with one TIP, REFUND or TOP_UP entry
// and moves the affected balances in the same commit. A write that loses the
// race for the tail is rebuilt on the new tail and retried; when retries run
// out the error matches both ErrLedgerWriteFailed and
// ErrConcurrentSequenceConflict.
func (l *Ledger) AppendTransaction(ctx context.Context, in entry.Intent) (*entry.Entry, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	if in.Type() == entry.TypePayOut {
		return nil, ErrUnsupportedIntent
	}

	draft := in.Draft()
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	e, err := l.commit(ctx, draft, in.Effect())
	if err != nil {
		return nil, err
	}

	l.logger.Debug("entry appended",
		"sequence", e.Sequence,
		"type", e.Type,
		"amount", e.Amount,
		"user_id", e.UserID,
	)
	l.plugins.EmitEntryAppended(ctx, e)
	return e, nil
}

func validateDraft(d entry.Entry) error {
	if !d.Type.IsValid() {
		return ValidationError{Field: "transaction_type", Message: fmt.Sprintf("unknown type %q", d.Type)}
	}
	if d.Amount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, d.Amount)
	}
	if d.UserID == "" {
		return ValidationError{Field: "user_id", Message: "required"}
	}
	if entry.RequiresMedia(d.Type) && d.MediaID == "" {
		return ValidationError{Field: "media_id", Message: fmt.Sprintf("required for %s", d.Type)}
	}
	return nil
}

// commit appends draft with retries on tail conflicts.
func (l *Ledger) commit(ctx context.Context, draft entry.Entry, eff entry.Effect) (*entry.Entry, error) {
	draft.ID = id.NewEntryID()
	return retryOnConflict(ctx, l, "append", func() (*entry.Entry, error) {
		e, m, err := l.prepare(ctx, draft, eff)
		if err != nil {
			return nil, err
		}
		if err := l.store.CommitEntry(ctx, e, m); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// prepare builds the next entry on the current tail: sequence, timestamp,
// post balances and digest, plus the balance compare-and-swap to commit
// with it.
func (l *Ledger) prepare(ctx context.Context, draft entry.Entry, eff entry.Effect) (*entry.Entry, entry.Mutation, error) {
	tail, err := l.store.LastEntry(ctx)
	if err != nil {
		return nil, entry.Mutation{}, err
	}

	e := draft
	e.Timestamp = l.now()
	prevHash := hashchain.Genesis
	if tail != nil {
		e.Sequence = tail.Sequence + 1
		prevHash = tail.Hash
		if e.Timestamp.Before(tail.Timestamp) {
			e.Timestamp = tail.Timestamp
		}
	}

	userBal, err := l.walletBalance(ctx, e.UserID)
	if err != nil {
		return nil, entry.Mutation{}, err
	}
	m := entry.Mutation{
		UserID:       e.UserID,
		UserExpected: userBal,
		UserNext:     userBal + eff.User,
	}
	if m.UserNext < 0 {
		return nil, entry.Mutation{}, fmt.Errorf("%w: wallet of %s holds %d, needs %d",
			ErrInsufficientFunds, e.UserID, userBal, -eff.User)
	}
	e.UserBalancePost = m.UserNext

	if e.MediaID != "" {
		agg, err := l.mediaAggregate(ctx, e.MediaID)
		if err != nil {
			return nil, entry.Mutation{}, err
		}
		m.MediaID = e.MediaID
		m.MediaExpected = agg
		m.MediaNext = agg + eff.Media
		if m.MediaNext < 0 {
			return nil, entry.Mutation{}, fmt.Errorf("%w: media %s aggregate holds %d, needs %d",
				ErrInsufficientFunds, e.MediaID, agg, -eff.Media)
		}
		e.MediaAggregatePost = m.MediaNext
	}

	e.Seal(prevHash)
	return &e, m, nil
}

func (l *Ledger) walletBalance(ctx context.Context, userID string) (int64, error) {
	a, err := l.store.GetAccount(ctx, userID)
	if errors.Is(err, ErrHolderNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

func (l *Ledger) mediaAggregate(ctx context.Context, mediaID string) (int64, error) {
	m, err := l.store.GetMedia(ctx, mediaID)
	if errors.Is(err, ErrHolderNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Aggregate, nil
}

// retryOnConflict runs fn until it succeeds, fails with anything other than
// a sequence conflict, or the attempt budget is spent.
func retryOnConflict[T any](ctx context.Context, l *Ledger, op string, fn func() (T, error)) (T, error) {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if l.appendBackoff > 0 {
		b = &backoff.ExponentialBackOff{
			InitialInterval:     l.appendBackoff,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         20 * l.appendBackoff,
		}
	}
	b.Reset()

	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && !errors.Is(err, ErrConcurrentSequenceConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(l.appendAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.logger.Debug("ledger write conflict, retrying",
				"op", op,
				"attempt", attempts,
				"next", next,
				"error", err,
			)
		}),
	)
	if err != nil && errors.Is(err, ErrConcurrentSequenceConflict) {
		l.logger.Warn("ledger write failed after retries",
			"op", op,
			"attempts", attempts,
			"error", err,
		)
		return res, fmt.Errorf("%w: %s gave up after %d attempts: %w", ErrLedgerWriteFailed, op, attempts, err)
	}
	return res, err
}

// ──────────────────────────────────────────────────
// Ledger reads
// ──────────────────────────────────────────────────

// GetEntry returns the entry at sequence.
func (l *Ledger) GetEntry(ctx context.Context, sequence int64) (*entry.Entry, error) {
	return l.store.GetEntry(ctx, sequence)
}

// GetEntryByHash returns the entry with the given digest.
func (l *Ledger) GetEntryByHash(ctx context.Context, hash string) (*entry.Entry, error) {
	return l.store.GetEntryByHash(ctx, hash)
}

// LastEntry returns the chain tail, or nil for an empty ledger.
func (l *Ledger) LastEntry(ctx context.Context) (*entry.Entry, error) {
	return l.store.LastEntry(ctx)
}

// ListEntries returns entries in ascending sequence order. A zero To reads
// to the tail.
func (l *Ledger) ListEntries(ctx context.Context, opts entry.ListOpts) ([]*entry.Entry, error) {
	if opts.To == 0 {
		opts.To = entry.MaxSequence
	}
	return l.store.ListEntries(ctx, opts)
}

// TailFor returns the most recent entry that touched h, or nil.
func (l *Ledger) TailFor(ctx context.Context, h entry.Holder) (*entry.Entry, error) {
	return l.store.HolderTail(ctx, h)
}

// ListHolderEntries returns the entries that touched h. A zero To reads to
// the tail.
func (l *Ledger) ListHolderEntries(ctx context.Context, h entry.Holder, opts entry.ListOpts) ([]*entry.Entry, error) {
	if opts.To == 0 {
		opts.To = entry.MaxSequence
	}
	return l.store.ListHolderEntries(ctx, h, opts)
}

// GetAccount returns a user's wallet and escrow balances.
func (l *Ledger) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	return l.store.GetAccount(ctx, userID)
}

// GetMedia returns a media item's aggregate.
func (l *Ledger) GetMedia(ctx context.Context, mediaID string) (*account.Media, error) {
	return l.store.GetMedia(ctx, mediaID)
}
