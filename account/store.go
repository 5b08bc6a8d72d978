package account

import "context"

// Store reads balance rows. Rows are created and changed only by ledger
// commits, escrow credits and payout settlement.
type Store interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	ListAccounts(ctx context.Context, opts ListOpts) ([]*Account, error)
	GetMedia(ctx context.Context, mediaID string) (*Media, error)
	ListMedia(ctx context.Context, opts ListOpts) ([]*Media, error)
}
