// Package account holds the mutable balance rows the ledger keeps in step
// with its entries: user wallets with their artist escrow fields, and media
// aggregates.
package account

import (
	"github.com/xraph/tally/types"
)

type Account struct {
	types.Entity
	UserID                string `json:"user_id"`
	Balance               int64  `json:"balance"`
	ArtistEscrowBalance   int64  `json:"artist_escrow_balance"`
	TotalEscrowEarned     int64  `json:"total_escrow_earned"`
	LastPayoutTotalEarned int64  `json:"last_payout_total_earned"`
}

// EarnedSinceLastPayout is the escrow earned after the most recent payout.
func (a *Account) EarnedSinceLastPayout() int64 {
	return a.TotalEscrowEarned - a.LastPayoutTotalEarned
}

// HasPaidOut reports whether the account has completed at least one payout.
func (a *Account) HasPaidOut() bool {
	return a.LastPayoutTotalEarned > 0
}

type Media struct {
	types.Entity
	MediaID   string `json:"media_id"`
	Aggregate int64  `json:"aggregate"`
}

type ListOpts struct {
	Limit  int
	Offset int
}
