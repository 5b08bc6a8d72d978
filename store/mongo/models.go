package mongo

import (
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

// entryModel keys documents by entry ID; a unique index on sequence keeps
// the chain gapless. BSON dates hold milliseconds, so the hashed timestamp
// is kept as unix microseconds.
type entryModel struct {
	grove.BaseModel `grove:"table:tally_entries"`

	ID                 string `grove:"id,pk"                bson:"_id"`
	Sequence           int64  `grove:"sequence"             bson:"sequence"`
	TransactionType    string `grove:"transaction_type"     bson:"transaction_type"`
	Amount             int64  `grove:"amount"               bson:"amount"`
	UserID             string `grove:"user_id"              bson:"user_id"`
	MediaID            string `grove:"media_id"             bson:"media_id"`
	PartyID            string `grove:"party_id"             bson:"party_id"`
	BidID              string `grove:"bid_id"               bson:"bid_id"`
	UserBalancePost    int64  `grove:"user_balance_post"    bson:"user_balance_post"`
	MediaAggregatePost int64  `grove:"media_aggregate_post" bson:"media_aggregate_post"`
	PrevHash           string `grove:"prev_hash"            bson:"prev_hash"`
	Hash               string `grove:"hash"                 bson:"hash"`
	TimestampUS        int64  `grove:"timestamp_us"         bson:"timestamp_us"`
	Username           string `grove:"username"             bson:"username"`
	MediaTitle         string `grove:"media_title"          bson:"media_title"`
	Description        string `grove:"description"          bson:"description"`
}

func toEntryModel(e *entry.Entry) *entryModel {
	return &entryModel{
		ID:                 e.ID.String(),
		Sequence:           e.Sequence,
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

	UserID                string    `grove:"id,pk"                    bson:"_id"`
	Balance               int64     `grove:"balance"                  bson:"balance"`
	ArtistEscrowBalance   int64     `grove:"artist_escrow_balance"    bson:"artist_escrow_balance"`
	TotalEscrowEarned     int64     `grove:"total_escrow_earned"      bson:"total_escrow_earned"`
	LastPayoutTotalEarned int64     `grove:"last_payout_total_earned" bson:"last_payout_total_earned"`
	CreatedAt             time.Time `grove:"created_at"               bson:"created_at"`
	UpdatedAt             time.Time `grove:"updated_at"               bson:"updated_at"`
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

	MediaID   string    `grove:"id,pk"      bson:"_id"`
	Aggregate int64     `grove:"aggregate"  bson:"aggregate"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
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

	ID          string            `grove:"id,pk"        bson:"_id"`
	ArtistName  string            `grove:"artist_name"  bson:"artist_name"`
	ArtistKey   string            `grove:"artist_key"   bson:"artist_key"`
	ExternalIDs map[string]string `grove:"external_ids" bson:"external_ids,omitempty"`
	Amount      int64             `grove:"amount"       bson:"amount"`
	MediaID     string            `grove:"media_id"     bson:"media_id"`
	BidID       string            `grove:"bid_id"       bson:"bid_id"`
	AllocatedAt time.Time         `grove:"allocated_at" bson:"allocated_at"`
	Claimed     bool              `grove:"claimed"      bson:"claimed"`
	ClaimedBy   string            `grove:"claimed_by"   bson:"claimed_by"`
	ClaimedAt   *time.Time        `grove:"claimed_at"   bson:"claimed_at,omitempty"`
	CreatedAt   time.Time         `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"   bson:"updated_at"`
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

	ID           string     `grove:"id,pk"         bson:"_id"`
	UserID       string     `grove:"user_id"       bson:"user_id"`
	AllocationID string     `grove:"allocation_id" bson:"allocation_id"`
	MediaID      string     `grove:"media_id"      bson:"media_id"`
	BidID        string     `grove:"bid_id"        bson:"bid_id"`
	Amount       int64      `grove:"amount"        bson:"amount"`
	Status       string     `grove:"status"        bson:"status"`
	AllocatedAt  time.Time  `grove:"allocated_at"  bson:"allocated_at"`
	ClaimedAt    *time.Time `grove:"claimed_at"    bson:"claimed_at,omitempty"`
	PayoutID     string     `grove:"payout_id"     bson:"payout_id"`
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

	ID              string            `grove:"id,pk"            bson:"_id"`
	UserID          string            `grove:"user_id"          bson:"user_id"`
	RequestedAmount int64             `grove:"requested_amount" bson:"requested_amount"`
	Method          string            `grove:"method"           bson:"method"`
	Details         map[string]string `grove:"details"          bson:"details,omitempty"`
	Status          string            `grove:"status"           bson:"status"`
	ProcessedBy     string            `grove:"processed_by"     bson:"processed_by"`
	ProcessedAt     *time.Time        `grove:"processed_at"     bson:"processed_at,omitempty"`
	Notes           string            `grove:"notes"            bson:"notes"`
	EntrySequence   *int64            `grove:"entry_sequence"   bson:"entry_sequence,omitempty"`
	ClaimedHistory  []string          `grove:"claimed_history"  bson:"claimed_history"`
	CreatedAt       time.Time         `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at"       bson:"updated_at"`
}

func toPayoutModel(r *payout.Request) *payoutModel {
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
		ClaimedHistory:  historyIDStrings(r.ClaimedHistory),
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
	for _, s := range m.ClaimedHistory {
		hid, err := id.ParseHistoryID(s)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, hid)
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

func historyIDStrings(ids []id.HistoryID) []string {
	out := make([]string, len(ids))
	for i, hid := range ids {
		out[i] = hid.String()
	}
	return out
}

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
