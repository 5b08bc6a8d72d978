// Package entry defines the immutable, hash-chained ledger entry and the
// transaction intents that produce it.
package entry

import (
	"math"
	"time"

	"github.com/xraph/tally/hashchain"
	"github.com/xraph/tally/id"
)

type TransactionType string

const (
	TypeTip    TransactionType = "TIP"
	TypeRefund TransactionType = "REFUND"
	TypeTopUp  TransactionType = "TOP_UP"
	TypePayOut TransactionType = "PAY_OUT"
)

// IsValid reports whether t is one of the four ledger transaction types.
func (t TransactionType) IsValid() bool {
	switch t {
	case TypeTip, TypeRefund, TypeTopUp, TypePayOut:
		return true
	}
	return false
}

// MaxSequence is the open upper bound for sequence ranges.
const MaxSequence int64 = math.MaxInt64

// Entry is one immutable row of the ledger. Sequence numbers start at 0 and
// are gapless; PrevHash of entry n is Hash of entry n-1.
type Entry struct {
	ID                 id.EntryID      `json:"id"`
	Sequence           int64           `json:"sequence"`
	Type               TransactionType `json:"transaction_type"`
	Amount             int64           `json:"amount"`
	UserID             string          `json:"user_id"`
	MediaID            string          `json:"media_id,omitempty"`
	PartyID            string          `json:"party_id,omitempty"`
	BidID              string          `json:"bid_id,omitempty"`
	UserBalancePost    int64           `json:"user_balance_post"`
	MediaAggregatePost int64           `json:"media_aggregate_post"`
	PrevHash           string          `json:"prev_hash"`
	Hash               string          `json:"hash"`
	Timestamp          time.Time       `json:"timestamp"`

	// Display copies. Not covered by the hash.
	Username    string `json:"username,omitempty"`
	MediaTitle  string `json:"media_title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Fields returns the hashed fields of e.
func (e *Entry) Fields() hashchain.Fields {
	return hashchain.Fields{
		EntryID:            e.ID.String(),
		Sequence:           e.Sequence,
		Type:               string(e.Type),
		Amount:             e.Amount,
		UserID:             e.UserID,
		MediaID:            e.MediaID,
		PartyID:            e.PartyID,
		BidID:              e.BidID,
		UserBalancePost:    e.UserBalancePost,
		MediaAggregatePost: e.MediaAggregatePost,
		Timestamp:          e.Timestamp,
	}
}

// Seal links e to prevHash and sets its digest.
func (e *Entry) Seal(prevHash string) {
	e.PrevHash = prevHash
	e.Hash = hashchain.Digest(e.Fields(), prevHash)
}

// Touches reports whether e moved the balance of h.
func (e *Entry) Touches(h Holder) bool {
	switch h.Kind {
	case HolderUser:
		return e.UserID == h.ID
	case HolderMedia:
		return e.MediaID != "" && e.MediaID == h.ID
	}
	return false
}

// PostFor returns the post-transaction balance e recorded for h.
func (e *Entry) PostFor(h Holder) int64 {
	if h.Kind == HolderMedia {
		return e.MediaAggregatePost
	}
	return e.UserBalancePost
}

type HolderKind string

const (
	HolderUser  HolderKind = "user"
	HolderMedia HolderKind = "media"
)

// Holder is anything whose balance is tracked by the ledger: a user wallet
// or a media item's aggregate.
type Holder struct {
	Kind HolderKind `json:"kind"`
	ID   string     `json:"id"`
}

func User(userID string) Holder { return Holder{Kind: HolderUser, ID: userID} }
func Media(mediaID string) Holder { return Holder{Kind: HolderMedia, ID: mediaID} }

func (h Holder) String() string { return string(h.Kind) + ":" + h.ID }

// ListOpts selects entries in the inclusive sequence range [From, To] in
// ascending order. Use MaxSequence for an open upper bound.
type ListOpts struct {
	From  int64
	To    int64
	Limit int
}

// Mutation is the compare-and-swap on holder balances that commits together
// with an entry. Expected values are the balances the entry was computed from.
type Mutation struct {
	UserID        string
	UserExpected  int64
	UserNext      int64
	MediaID       string
	MediaExpected int64
	MediaNext     int64
}
