// Package escrow models tip proceeds held for artists: allocations waiting
// for an artist who has not signed up yet, and the per-artist history lines
// that a payout later claims.
package escrow

import (
	"time"

	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

type HistoryStatus string

const (
	HistoryPending HistoryStatus = "pending"
	HistoryClaimed HistoryStatus = "claimed"
)

// Allocation is escrow earmarked for an artist who has no verified account.
// Claimed flips from false to true exactly once.
type Allocation struct {
	types.Entity
	ID          id.AllocationID   `json:"id"`
	ArtistName  string            `json:"artist_name"`
	ArtistKey   string            `json:"artist_key"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	Amount      int64             `json:"amount"`
	MediaID     string            `json:"media_id,omitempty"`
	BidID       string            `json:"bid_id,omitempty"`
	AllocatedAt time.Time         `json:"allocated_at"`
	Claimed     bool              `json:"claimed"`
	ClaimedBy   string            `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time        `json:"claimed_at,omitempty"`
}

// HistoryEntry is one credit to an artist's escrow balance. A payout moves
// it from pending to claimed.
type HistoryEntry struct {
	ID           id.HistoryID    `json:"id"`
	UserID       string          `json:"user_id"`
	AllocationID id.AllocationID `json:"allocation_id,omitempty"`
	MediaID      string          `json:"media_id,omitempty"`
	BidID        string          `json:"bid_id,omitempty"`
	Amount       int64           `json:"amount"`
	Status       HistoryStatus   `json:"status"`
	AllocatedAt  time.Time       `json:"allocated_at"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	PayoutID     id.PayoutID     `json:"payout_id,omitempty"`
}

// AllocateInput describes escrow for an artist identified by name.
type AllocateInput struct {
	ArtistName  string
	ExternalIDs map[string]string
	Amount      int64
	MediaID     string
	BidID       string
}

// CreditInput describes escrow for a verified artist.
type CreditInput struct {
	UserID  string
	Amount  int64
	MediaID string
	BidID   string
}

// MatchResult summarizes the allocations a newly verified artist claimed.
type MatchResult struct {
	Matched     bool          `json:"matched"`
	Count       int           `json:"count"`
	TotalAmount int64         `json:"total_amount"`
	Allocations []*Allocation `json:"allocations"`
}

type HistoryListOpts struct {
	Status HistoryStatus
	Limit  int
	Offset int
}
