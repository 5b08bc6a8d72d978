package postgres

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/types"
)

// ==================== Entry models ====================

// entryModel stores the timestamp as unix microseconds so the value read
// back hashes exactly as it did when the entry was sealed.
type entryModel struct {
	grove.BaseModel `grove:"table:tally_entries"`

	Sequence           int64  `grove:"sequence,pk"`
	ID                 string `grove:"id"`
	TransactionType    string `grove:"transaction_type"`
	Amount             int64  `grove:"amount"`
	UserID             string `grove:"user_id"`
	MediaID            string `grove:"media_id"`
	PartyID            string `grove:"party_id"`
	BidID              string `grove:"bid_id"`
	UserBalancePost    int64  `grove:"user_balance_post"`
	MediaAggregatePost int64  `grove:"media_aggregate_post"`
	PrevHash           string `grove:"prev_hash"`
	Hash               string `grove:"hash"`
	TimestampUS        int64  `grove:"timestamp_us"`
	Username           string `grove:"username"`
	MediaTitle         string `grove:"media_title"`
	Description        string `grove:"description"`
}

func toEntryModel(e *entry.Entry) *entryModel {
	return &entryModel{
		Sequence:           e.Sequence,
		ID:                 e.ID.String(),
		TransactionType:    string(e.Type),
		Amount:             e.Amount,
		UserID:             e.UserID,
		MediaID:            e.MediaID,
		PartyID:            e.PartyID,
		BidID:              e.BidID,
		UserBalancePost:    e.UserBalancePost,
		MediaAggregatePost: e.MediaAggregatePost,
		PrevHash:           e.PrevHash,
		Hash:               e.Hash,
		TimestampUS:        e.Timestamp.UnixMicro(),
		Username:           e.Username,
		MediaTitle:         e.MediaTitle,
		Description:        e.Description,
	}
}

func fromEntryModel(m *entryModel) (*entry.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	return &entry.Entry{
		ID:                 entryID,
		Sequence:           m.Sequence,
		Type:               entry.TransactionType(m.TransactionType),
		Amount:             m.Amount,
		UserID:             m.UserID,
		MediaID:            m.MediaID,
		PartyID:            m.PartyID,
		BidID:              m.BidID,
		UserBalancePost:    m.UserBalancePost,
		MediaAggregatePost: m.MediaAggregatePost,
		PrevHash:           m.PrevHash,
		Hash:               m.Hash,
		Timestamp:          time.UnixMicro(m.TimestampUS).UTC(),
		Username:           m.Username,
		MediaTitle:         m.MediaTitle,
		Description:        m.Description,
	}, nil
}

func fromEntryModels(models []entryModel) ([]*entry.Entry, error) {
	result := make([]*entry.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:tally_accounts"`

	UserID                string    `grove:"user_id,pk"`
	Balance               int64     `grove:"balance"`
	ArtistEscrowBalance   int64     `grove:"artist_escrow_balance"`
	TotalEscrowEarned     int64     `grove:"total_escrow_earned"`
	LastPayoutTotalEarned int64     `grove:"last_payout_total_earned"`
	CreatedAt             time.Time `grove:"created_at"`
	UpdatedAt             time.Time `grove:"updated_at"`
}

func fromAccountModel(m *accountModel) *account.Account {
	return &account.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		UserID:                m.UserID,
		Balance:               m.Balance,
		ArtistEscrowBalance:   m.ArtistEscrowBalance,
		TotalEscrowEarned:     m.TotalEscrowEarned,
		LastPayoutTotalEarned: m.LastPayoutTotalEarned,
	}
}

type mediaModel struct {
	grove.BaseModel `grove:"table:tally_media"`

	MediaID   string    `grove:"media_id,pk"`
	Aggregate int64     `grove:"aggregate"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func fromMediaModel(m *mediaModel) *account.Media {
	return &account.Media{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		MediaID:   m.MediaID,
		Aggregate: m.Aggregate,
	}
}

// ==================== Escrow models ====================

type allocationModel struct {
	grove.BaseModel `grove:"table:tally_escrow_allocations"`

	ID          string            `grove:"id,pk"`
	ArtistName  string            `grove:"artist_name"`
	ArtistKey   string            `grove:"artist_key"`
	ExternalIDs map[string]string `grove:"external_ids,type:jsonb"`
	Amount      int64             `grove:"amount"`
	MediaID     string            `grove:"media_id"`
	BidID       string            `grove:"bid_id"`
	AllocatedAt time.Time         `grove:"allocated_at"`
	Claimed     bool              `grove:"claimed"`
	ClaimedBy   string            `grove:"claimed_by"`
	ClaimedAt   *time.Time        `grove:"claimed_at"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
}

func toAllocationModel(a *escrow.Allocation) *allocationModel {
	return &allocationModel{
		ID:          a.ID.String(),
		ArtistName:  a.ArtistName,
		ArtistKey:   a.ArtistKey,
		ExternalIDs: a.ExternalIDs,
		Amount:      a.Amount,
		MediaID:     a.MediaID,
		BidID:       a.BidID,
		AllocatedAt: a.AllocatedAt,
		Claimed:     a.Claimed,
		ClaimedBy:   a.ClaimedBy,
		ClaimedAt:   a.ClaimedAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func fromAllocationModel(m *allocationModel) (*escrow.Allocation, error) {
	allocID, err := id.ParseAllocationID(m.ID)
	if err != nil {
		return nil, err
	}
	return &escrow.Allocation{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:          allocID,
		ArtistName:  m.ArtistName,
		ArtistKey:   m.ArtistKey,
		ExternalIDs: m.ExternalIDs,
		Amount:      m.Amount,
		MediaID:     m.MediaID,
		BidID:       m.BidID,
		AllocatedAt: m.AllocatedAt.UTC(),
		Claimed:     m.Claimed,
		ClaimedBy:   m.ClaimedBy,
		ClaimedAt:   utcPtr(m.ClaimedAt),
	}, nil
}

type historyModel struct {
	grove.BaseModel `grove:"table:tally_escrow_history"`

	ID           string     `grove:"id,pk"`
	UserID       string     `grove:"user_id"`
	AllocationID string     `grove:"allocation_id"`
	MediaID      string     `grove:"media_id"`
	BidID        string     `grove:"bid_id"`
	Amount       int64      `grove:"amount"`
	Status       string     `grove:"status"`
	AllocatedAt  time.Time  `grove:"allocated_at"`
	ClaimedAt    *time.Time `grove:"claimed_at"`
	PayoutID     string     `grove:"payout_id"`
}

func toHistoryModel(h *escrow.HistoryEntry) *historyModel {
	return &historyModel{
		ID:           h.ID.String(),
		UserID:       h.UserID,
		AllocationID: h.AllocationID.String(),
		MediaID:      h.MediaID,
		BidID:        h.BidID,
		Amount:       h.Amount,
		Status:       string(h.Status),
		AllocatedAt:  h.AllocatedAt,
		ClaimedAt:    h.ClaimedAt,
		PayoutID:     h.PayoutID.String(),
	}
}

func fromHistoryModel(m *historyModel) (*escrow.HistoryEntry, error) {
	historyID, err := id.ParseHistoryID(m.ID)
	if err != nil {
		return nil, err
	}
	allocID, err := parseOptional(m.AllocationID, id.ParseAllocationID)
	if err != nil {
		return nil, err
	}
	payoutID, err := parseOptional(m.PayoutID, id.ParsePayoutID)
	if err != nil {
		return nil, err
	}
	return &escrow.HistoryEntry{
		ID:           historyID,
		UserID:       m.UserID,
		AllocationID: allocID,
		MediaID:      m.MediaID,
		BidID:        m.BidID,
		Amount:       m.Amount,
		Status:       escrow.HistoryStatus(m.Status),
		AllocatedAt:  m.AllocatedAt.UTC(),
		ClaimedAt:    utcPtr(m.ClaimedAt),
		PayoutID:     payoutID,
	}, nil
}

// ==================== Payout models ====================

type payoutModel struct {
	grove.BaseModel `grove:"table:tally_payout_requests"`

	ID              string            `grove:"id,pk"`
	UserID          string            `grove:"user_id"`
	RequestedAmount int64             `grove:"requested_amount"`
	Method          string            `grove:"method"`
	Details         map[string]string `grove:"details,type:jsonb"`
	Status          string            `grove:"status"`
	ProcessedBy     string            `grove:"processed_by"`
	ProcessedAt     *time.Time        `grove:"processed_at"`
	Notes           string            `grove:"notes"`
	EntrySequence   *int64            `grove:"entry_sequence"`
	ClaimedHistory  json.RawMessage   `grove:"claimed_history,type:jsonb"`
	CreatedAt       time.Time         `grove:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at"`
}

func toPayoutModel(r *payout.Request) *payoutModel {
	claimed, _ := json.Marshal(r.ClaimedHistory) //nolint:errcheck // IDs always marshal
	if r.ClaimedHistory == nil {
		claimed = []byte("[]")
	}
	return &payoutModel{
		ID:              r.ID.String(),
		UserID:          r.UserID,
		RequestedAmount: r.RequestedAmount,
		Method:          r.Method,
		Details:         r.Details,
		Status:          string(r.Status),
		ProcessedBy:     r.ProcessedBy,
		ProcessedAt:     r.ProcessedAt,
		Notes:           r.Notes,
		EntrySequence:   r.EntrySequence,
		ClaimedHistory:  claimed,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func fromPayoutModel(m *payoutModel) (*payout.Request, error) {
	payoutID, err := id.ParsePayoutID(m.ID)
	if err != nil {
		return nil, err
	}

	var claimed []id.HistoryID
	if len(m.ClaimedHistory) > 0 && string(m.ClaimedHistory) != "null" {
		if err := json.Unmarshal(m.ClaimedHistory, &claimed); err != nil {
			return nil, err
		}
	}

	return &payout.Request{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:              payoutID,
		UserID:          m.UserID,
		RequestedAmount: m.RequestedAmount,
		Method:          m.Method,
		Details:         m.Details,
		Status:          payout.Status(m.Status),
		ProcessedBy:     m.ProcessedBy,
		ProcessedAt:     utcPtr(m.ProcessedAt),
		Notes:           m.Notes,
		EntrySequence:   m.EntrySequence,
		ClaimedHistory:  claimed,
	}, nil
}

// ==================== Helpers ====================

func parseOptional(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return parse(s)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
