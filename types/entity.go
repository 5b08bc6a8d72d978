// Package types provides small value types shared across tally packages.
package types

import "time"

// Entity carries creation and update timestamps for mutable records
// (accounts, allocations, payout requests). Ledger entries do not embed it:
// they are immutable and carry their own hashed timestamp.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates a new Entity with current timestamps.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the UpdatedAt timestamp to now.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
