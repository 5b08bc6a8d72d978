// Package hashchain computes the digests that link ledger entries.
//
// Each entry's digest covers its own hashed fields plus the digest of the
// entry before it, so altering or dropping any stored entry breaks the link
// to its successor. Fields are serialized as a JSON object with sorted keys,
// which makes the byte form independent of struct layout and field order.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Genesis is the prevHash of the entry at sequence 0.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

// Fields are the integrity-relevant values of a ledger entry. Display copies
// (username, media title, description) are deliberately absent.
type Fields struct {
	EntryID            string
	Sequence           int64
	Type               string
	Amount             int64
	UserID             string
	MediaID            string
	PartyID            string
	BidID              string
	UserBalancePost    int64
	MediaAggregatePost int64
	Timestamp          time.Time
}

// Canonical returns the canonical byte form of f linked to prevHash.
func Canonical(f Fields, prevHash string) []byte {
	doc := map[string]any{
		"entry_id":             f.EntryID,
		"sequence":             f.Sequence,
		"transaction_type":     f.Type,
		"amount":               f.Amount,
		"user_id":              f.UserID,
		"media_id":             f.MediaID,
		"party_id":             f.PartyID,
		"bid_id":               f.BidID,
		"user_balance_post":    f.UserBalancePost,
		"media_aggregate_post": f.MediaAggregatePost,
		"timestamp":            f.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":            prevHash,
	}

	b, err := json.Marshal(doc)
	if err != nil {
		// Only strings, int64s and a formatted time are marshaled.
		panic(fmt.Sprintf("hashchain: canonical encoding: %v", err))
	}
	return b
}

// Digest returns the hex-encoded SHA-256 of f chained to prevHash.
func Digest(f Fields, prevHash string) string {
	sum := sha256.Sum256(Canonical(f, prevHash))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether hash is the digest of f chained to prevHash.
func Valid(f Fields, prevHash, hash string) bool {
	return Digest(f, prevHash) == hash
}
