package entry

import "context"

// Store persists ledger entries. Entries are append-only: there is no
// update or delete.
type Store interface {
	// CommitEntry appends e and applies m atomically. It fails with a
	// sequence conflict when e.Sequence is taken, when e.PrevHash no longer
	// matches the tail, or when a holder balance differs from its expected
	// value. Holder rows that do not exist yet are created at zero.
	CommitEntry(ctx context.Context, e *Entry, m Mutation) error
	// LastEntry returns the tail of the ledger, or nil when it is empty.
	LastEntry(ctx context.Context) (*Entry, error)
	GetEntry(ctx context.Context, sequence int64) (*Entry, error)
	GetEntryByHash(ctx context.Context, hash string) (*Entry, error)
	ListEntries(ctx context.Context, opts ListOpts) ([]*Entry, error)
	CountEntries(ctx context.Context) (int64, error)
	// HolderTail returns the most recent entry that touched h, or nil.
	HolderTail(ctx context.Context, h Holder) (*Entry, error)
	ListHolderEntries(ctx context.Context, h Holder, opts ListOpts) ([]*Entry, error)
}
