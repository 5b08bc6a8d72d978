// Package payout holds payout requests and the policy that decides when an
// artist may withdraw escrow.
package payout

import (
	"time"

	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// IsOpen reports whether a request in status s still awaits settlement.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusProcessing
}

// IsTerminal reports whether s is completed or rejected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Sources returns the statuses a request may move to s from.
func Sources(s Status) []Status {
	switch s {
	case StatusProcessing:
		return []Status{StatusPending}
	case StatusCompleted, StatusRejected:
		return []Status{StatusPending, StatusProcessing}
	}
	return nil
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range Sources(to) {
		if s == from {
			return true
		}
	}
	return false
}

type Decision string

const (
	DecisionComplete Decision = "complete"
	DecisionReject   Decision = "reject"
)

type Request struct {
	types.Entity
	ID              id.PayoutID       `json:"id"`
	UserID          string            `json:"user_id"`
	RequestedAmount int64             `json:"requested_amount"`
	Method          string            `json:"method,omitempty"`
	Details         map[string]string `json:"details,omitempty"`
	Status          Status            `json:"status"`
	ProcessedBy     string            `json:"processed_by,omitempty"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	EntrySequence   *int64            `json:"entry_sequence,omitempty"`
	ClaimedHistory  []id.HistoryID    `json:"claimed_history,omitempty"`
}

// RequestInput asks for a payout. A zero Amount requests the whole escrow
// balance.
type RequestInput struct {
	UserID  string
	Amount  int64
	Method  string
	Details map[string]string
}

type SettleInput struct {
	RequestID   id.PayoutID
	Decision    Decision
	ProcessedBy string
	Notes       string
}

// Settlement is the unit of work a store applies to complete a request:
// status guard, escrow debit, PAY_OUT entry and FIFO history claim.
type Settlement struct {
	RequestID   id.PayoutID
	UserID      string
	Amount      int64
	ProcessedBy string
	Notes       string
	ProcessedAt time.Time
	Entry       *entry.Entry
	Mutation    entry.Mutation
}

type ListOpts struct {
	UserID string
	Status Status
	Limit  int
	Offset int
}
