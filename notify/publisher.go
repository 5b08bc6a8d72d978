// Package notify publishes tally lifecycle events to a message broker.
// The Extension plugin turns hook calls into JSON events and hands them to
// a Publisher; Redis streams and Kafka topics are provided.
package notify

import (
	"context"
	"time"
)

// Event types published by the Extension.
const (
	EventEntryAppended      = "tally.entry.appended"
	EventEscrowAllocated    = "tally.escrow.allocated"
	EventEscrowCredited     = "tally.escrow.credited"
	EventEscrowClaimed      = "tally.escrow.claimed"
	EventPayoutRequested    = "tally.payout.requested"
	EventPayoutProcessing   = "tally.payout.processing"
	EventPayoutCompleted    = "tally.payout.completed"
	EventPayoutRejected     = "tally.payout.rejected"
	EventChainBroken        = "tally.integrity.chain_broken"
	EventBalanceDiscrepancy = "tally.integrity.balance_discrepancy"
)

// Publisher delivers an encoded event. key groups events that must stay
// ordered, such as all events for one user.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, key string) error
	Close() error
}

// Event is the envelope every published payload is wrapped in.
type Event struct {
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}
