package sqlite

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

// SQLite has no native timestamp type; every time column holds unix
// microseconds so ordering by it is numeric. JSON columns are TEXT.

// ==================== Entry models ====================

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
		TimestampUS:        micros(e.Timestamp),
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
		Timestamp:          fromMicros(m.TimestampUS),
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

	UserID                string `grove:"user_id,pk"`
	Balance               int64  `grove:"balance"`
	ArtistEscrowBalance   int64  `grove:"artist_escrow_balance"`
	TotalEscrowEarned     int64  `grove:"total_escrow_earned"`
	LastPayoutTotalEarned int64  `grove:"last_payout_total_earned"`
	CreatedAt             int64  `grove:"created_at"`
	UpdatedAt             int64  `grove:"updated_at"`
}

func fromAccountModel(m *accountModel) *account.Account {
	return &account.Account{
		Entity: types.Entity{
			CreatedAt: fromMicros(m.CreatedAt),
			UpdatedAt: fromMicros(m.UpdatedAt),
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

	MediaID   string `grove:"media_id,pk"`
	Aggregate int64  `grove:"aggregate"`
	CreatedAt int64  `grove:"created_at"`
	UpdatedAt int64  `grove:"updated_at"`
}

func fromMediaModel(m *mediaModel) *account.Media {
	return &account.Media{
		Entity: types.Entity{
			CreatedAt: fromMicros(m.CreatedAt),
			UpdatedAt: fromMicros(m.UpdatedAt),
		},
		MediaID:   m.MediaID,
		Aggregate: m.Aggregate,
	}
}

// ==================== Escrow models ====================

type allocationModel struct {
	grove.BaseModel `grove:"table:tally_escrow_allocations"`

	ID          string `grove:"id,pk"`
	ArtistName  string `grove:"artist_name"`
	ArtistKey   string `grove:"artist_key"`
	ExternalIDs string `grove:"external_ids"`
	Amount      int64  `grove:"amount"`
	MediaID     string `grove:"media_id"`
	BidID       string `grove:"bid_id"`
	AllocatedAt int64  `grove:"allocated_at"`
	Claimed     bool   `grove:"claimed"`
	ClaimedBy   string `grove:"claimed_by"`
	ClaimedAt   *int64 `grove:"claimed_at"`
	CreatedAt   int64  `grove:"created_at"`
	UpdatedAt   int64  `grove:"updated_at"`
}

func toAllocationModel(a *escrow.Allocation) *allocationModel {
	return &allocationModel{
		ID:          a.ID.String(),
		ArtistName:  a.ArtistName,
		ArtistKey:   a.ArtistKey,
		ExternalIDs: marshalMap(a.ExternalIDs),
		Amount:      a.Amount,
		MediaID:     a.MediaID,
		BidID:       a.BidID,
		AllocatedAt: micros(a.AllocatedAt),
		Claimed:     a.Claimed,
		ClaimedBy:   a.ClaimedBy,
		ClaimedAt:   microsPtr(a.ClaimedAt),
		CreatedAt:   micros(a.CreatedAt),
		UpdatedAt:   micros(a.UpdatedAt),
	}
}

func fromAllocationModel(m *allocationModel) (*escrow.Allocation, error) {
	allocID, err := id.ParseAllocationID(m.ID)
	if err != nil {
		return nil, err
	}
	externalIDs, err := unmarshalMap(m.ExternalIDs)
	if err != nil {
		return nil, err
	}
	return &escrow.Allocation{
		Entity: types.Entity{
			CreatedAt: fromMicros(m.CreatedAt),
			UpdatedAt: fromMicros(m.UpdatedAt),
		},
		ID:          allocID,
		ArtistName:  m.ArtistName,
		ArtistKey:   m.ArtistKey,
		ExternalIDs: externalIDs,
		Amount:      m.Amount,
		MediaID:     m.MediaID,
		BidID:       m.BidID,
		AllocatedAt: fromMicros(m.AllocatedAt),
		Claimed:     m.Claimed,
		ClaimedBy:   m.ClaimedBy,
		ClaimedAt:   fromMicrosPtr(m.ClaimedAt),
	}, nil
}

type historyModel struct {
	grove.BaseModel `grove:"table:tally_escrow_history"`

	ID           string `grove:"id,pk"`
	UserID       string `grove:"user_id"`
	AllocationID string `grove:"allocation_id"`
	MediaID      string `grove:"media_id"`
	BidID        string `grove:"bid_id"`
	Amount       int64  `grove:"amount"`
	Status       string `grove:"status"`
	AllocatedAt  int64  `grove:"allocated_at"`
	ClaimedAt    *int64 `grove:"claimed_at"`
	PayoutID     string `grove:"payout_id"`
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
		AllocatedAt:  micros(h.AllocatedAt),
		ClaimedAt:    microsPtr(h.ClaimedAt),
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
		AllocatedAt:  fromMicros(m.AllocatedAt),
		ClaimedAt:    fromMicrosPtr(m.ClaimedAt),
		PayoutID:     payoutID,
	}, nil
}

func fromHistoryModels(models []historyModel) ([]*escrow.HistoryEntry, error) {
	result := make([]*escrow.HistoryEntry, len(models))
	for i := range models {
		h, err := fromHistoryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = h
	}
	return result, nil
}

// ==================== Payout models ====================

type payoutModel struct {
	grove.BaseModel `grove:"table:tally_payout_requests"`

	ID              string `grove:"id,pk"`
	UserID          string `grove:"user_id"`
	RequestedAmount int64  `grove:"requested_amount"`
	Method          string `grove:"method"`
	Details         string `grove:"details"`
	Status          string `grove:"status"`
	ProcessedBy     string `grove:"processed_by"`
	ProcessedAt     *int64 `grove:"processed_at"`
	Notes           string `grove:"notes"`
	EntrySequence   *int64 `grove:"entry_sequence"`
	ClaimedHistory  string `grove:"claimed_history"`
	CreatedAt       int64  `grove:"created_at"`
	UpdatedAt       int64  `grove:"updated_at"`
}

func toPayoutModel(r *payout.Request) *payoutModel {
	return &payoutModel{
		ID:              r.ID.String(),
		UserID:          r.UserID,
		RequestedAmount: r.RequestedAmount,
		Method:          r.Method,
		Details:         marshalMap(r.Details),
		Status:          string(r.Status),
		ProcessedBy:     r.ProcessedBy,
		ProcessedAt:     microsPtr(r.ProcessedAt),
		Notes:           r.Notes,
		EntrySequence:   r.EntrySequence,
		ClaimedHistory:  marshalIDs(r.ClaimedHistory),
		CreatedAt:       micros(r.CreatedAt),
		UpdatedAt:       micros(r.UpdatedAt),
	}
}

func fromPayoutModel(m *payoutModel) (*payout.Request, error) {
	payoutID, err := id.ParsePayoutID(m.ID)
	if err != nil {
		return nil, err
	}
	details, err := unmarshalMap(m.Details)
	if err != nil {
		return nil, err
	}
	var claimed []id.HistoryID
	if m.ClaimedHistory != "" && m.ClaimedHistory != "null" {
		if err := json.Unmarshal([]byte(m.ClaimedHistory), &claimed); err != nil {
			return nil, err
		}
	}

	return &payout.Request{
		Entity: types.Entity{
			CreatedAt: fromMicros(m.CreatedAt),
			UpdatedAt: fromMicros(m.UpdatedAt),
		},
		ID:              payoutID,
		UserID:          m.UserID,
		RequestedAmount: m.RequestedAmount,
		Method:          m.Method,
		Details:         details,
		Status:          payout.Status(m.Status),
		ProcessedBy:     m.ProcessedBy,
		ProcessedAt:     fromMicrosPtr(m.ProcessedAt),
		Notes:           m.Notes,
		EntrySequence:   m.EntrySequence,
		ClaimedHistory:  claimed,
	}, nil
}

// ==================== Helpers ====================

func micros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func microsPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	us := t.UnixMicro()
	return &us
}

func fromMicrosPtr(us *int64) *time.Time {
	if us == nil {
		return nil
	}
	t := fromMicros(*us)
	return &t
}

func marshalMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(m) //nolint:errcheck // string maps always marshal
	return string(b)
}

func unmarshalMap(s string) (map[string]string, error) {
	if s == "" || s == "{}" || s == "null" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func marshalIDs(ids []id.HistoryID) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids) //nolint:errcheck // IDs always marshal
	return string(b)
}

func parseOptional(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return parse(s)
}
