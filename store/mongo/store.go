package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/tally"
	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/hashchain"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/payout"
	tallystore "github.com/xraph/tally/store"
)

// Collection name constants.
const (
	colEntries     = "tally_entries"
	colAccounts    = "tally_accounts"
	colMedia       = "tally_media"
	colAllocations = "tally_escrow_allocations"
	colHistory     = "tally_escrow_history"
	colPayouts     = "tally_payout_requests"
)

const openPayoutIndex = "idx_tally_payouts_open"

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM. Multi-document
// writes run in a session transaction, which requires a replica set or a
// sharded cluster.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all tally collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("%w: tally/mongo: migrate %s indexes: %w", tally.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Entry Store ====================

func (s *Store) CommitEntry(ctx context.Context, e *entry.Entry, m entry.Mutation) error {
	return s.inTx(ctx, func(tx *mongodriver.MongoTx) error {
		return commitTx(ctx, tx, e, m)
	})
}

// commitTx checks the chain tail, swaps the holder balances and inserts e.
// The unique sequence index rejects a second writer that raced to the same
// position.
func commitTx(ctx context.Context, tx *mongodriver.MongoTx, e *entry.Entry, m entry.Mutation) error {
	var tail entryModel
	tailSeq := int64(-1)
	err := tx.NewFind(&tail).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "sequence", Value: -1}}).
		Scan(ctx)
	switch {
	case err == nil:
		tailSeq = tail.Sequence
	case !isNoDocuments(err):
		return fmt.Errorf("tally/mongo: read tail: %w", err)
	}

	if e.Sequence != tailSeq+1 {
		return fmt.Errorf("%w: sequence %d taken, tail is %d", tally.ErrConcurrentSequenceConflict, e.Sequence, tailSeq)
	}
	if tailSeq < 0 {
		if e.PrevHash != hashchain.Genesis {
			return fmt.Errorf("%w: first entry must link to genesis", tally.ErrInvalidInput)
		}
	} else if e.PrevHash != tail.Hash {
		return fmt.Errorf("%w: prev hash does not match tail %d", tally.ErrConcurrentSequenceConflict, tailSeq)
	}

	if err := swapBalance(ctx, tx, (*accountModel)(nil), "balance", m.UserID, m.UserExpected, m.UserNext, e.Timestamp); err != nil {
		return err
	}
	if m.MediaID != "" {
		if err := swapBalance(ctx, tx, (*mediaModel)(nil), "aggregate", m.MediaID, m.MediaExpected, m.MediaNext, e.Timestamp); err != nil {
			return err
		}
	}

	if _, err := tx.NewInsert(toEntryModel(e)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: sequence %d taken", tally.ErrConcurrentSequenceConflict, e.Sequence)
		}
		return fmt.Errorf("tally/mongo: insert entry: %w", err)
	}
	return nil
}

// swapBalance sets field to next on the holder document while it still
// holds expected. A missing document counts as zero and is upserted; if it
// exists with another value the upsert collides on _id.
func swapBalance(ctx context.Context, tx *mongodriver.MongoTx, model any, field, holderID string, expected, next int64, at time.Time) error {
	q := tx.NewUpdate(model).
		Filter(bson.M{"_id": holderID, field: expected}).
		SetUpdate(bson.M{
			"$set":         bson.M{field: next, "updated_at": at},
			"$setOnInsert": bson.M{"created_at": at},
		})
	if expected == 0 {
		q = q.Upsert()
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s of %s moved", tally.ErrConcurrentSequenceConflict, field, holderID)
		}
		return fmt.Errorf("tally/mongo: swap %s: %w", field, err)
	}
	if res.MatchedCount() == 0 && res.UpsertedCount() == 0 {
		return fmt.Errorf("%w: %s of %s moved", tally.ErrConcurrentSequenceConflict, field, holderID)
	}
	return nil
}

func (s *Store) LastEntry(ctx context.Context) (*entry.Entry, error) {
	var m entryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "sequence", Value: -1}}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tally/mongo: last entry: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) GetEntry(ctx context.Context, sequence int64) (*entry.Entry, error) {
	return s.findEntry(ctx, bson.M{"sequence": sequence})
}

func (s *Store) GetEntryByHash(ctx context.Context, hash string) (*entry.Entry, error) {
	return s.findEntry(ctx, bson.M{"hash": hash})
}

func (s *Store) findEntry(ctx context.Context, filter bson.M) (*entry.Entry, error) {
	var m entryModel
	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrEntryNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get entry: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) ListEntries(ctx context.Context, opts entry.ListOpts) ([]*entry.Entry, error) {
	return s.listEntries(ctx, bson.M{}, opts)
}

func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	n, err := s.mdb.NewFind(new(entryModel)).Filter(bson.M{}).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tally/mongo: count entries: %w", err)
	}
	return n, nil
}

func (s *Store) HolderTail(ctx context.Context, h entry.Holder) (*entry.Entry, error) {
	var m entryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{holderField(h): h.ID}).
		Sort(bson.D{{Key: "sequence", Value: -1}}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tally/mongo: holder tail: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) ListHolderEntries(ctx context.Context, h entry.Holder, opts entry.ListOpts) ([]*entry.Entry, error) {
	return s.listEntries(ctx, bson.M{holderField(h): h.ID}, opts)
}

func (s *Store) listEntries(ctx context.Context, filter bson.M, opts entry.ListOpts) ([]*entry.Entry, error) {
	var models []entryModel

	filter["sequence"] = bson.M{"$gte": opts.From, "$lte": opts.To}
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "sequence", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list entries: %w", err)
	}
	return fromEntryModels(models)
}

// ==================== Account Store ====================

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrHolderNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get account: %w", err)
	}
	return fromAccountModel(&m), nil
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var models []accountModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list accounts: %w", err)
	}

	result := make([]*account.Account, len(models))
	for i := range models {
		result[i] = fromAccountModel(&models[i])
	}
	return result, nil
}

func (s *Store) GetMedia(ctx context.Context, mediaID string) (*account.Media, error) {
	var m mediaModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": mediaID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrHolderNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get media: %w", err)
	}
	return fromMediaModel(&m), nil
}

func (s *Store) ListMedia(ctx context.Context, opts account.ListOpts) ([]*account.Media, error) {
	var models []mediaModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list media: %w", err)
	}

	result := make([]*account.Media, len(models))
	for i := range models {
		result[i] = fromMediaModel(&models[i])
	}
	return result, nil
}

// ==================== Escrow Store ====================

func (s *Store) CreateAllocation(ctx context.Context, a *escrow.Allocation) error {
	_, err := s.mdb.NewInsert(toAllocationModel(a)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tally.ErrAlreadyExists
		}
		return fmt.Errorf("tally/mongo: create allocation: %w", err)
	}
	return nil
}

func (s *Store) GetAllocation(ctx context.Context, allocID id.AllocationID) (*escrow.Allocation, error) {
	var m allocationModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": allocID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrAllocationNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get allocation: %w", err)
	}
	return fromAllocationModel(&m)
}

func (s *Store) ListUnclaimedAllocations(ctx context.Context, artistKey string) ([]*escrow.Allocation, error) {
	var models []allocationModel

	err := s.mdb.NewFind(&models).
		Filter(bson.M{"artist_key": artistKey, "claimed": false}).
		Sort(bson.D{{Key: "allocated_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list unclaimed allocations: %w", err)
	}

	result := make([]*escrow.Allocation, len(models))
	for i := range models {
		a, err := fromAllocationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) ClaimAllocation(ctx context.Context, allocID id.AllocationID, h *escrow.HistoryEntry, at time.Time) error {
	return s.inTx(ctx, func(tx *mongodriver.MongoTx) error {
		res, err := tx.NewUpdate((*allocationModel)(nil)).
			Filter(bson.M{"_id": allocID.String(), "claimed": false}).
			Set("claimed", true).
			Set("claimed_by", h.UserID).
			Set("claimed_at", at).
			Set("updated_at", at).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("tally/mongo: claim allocation: %w", err)
		}
		if res.MatchedCount() == 0 {
			n, err := tx.NewFind(new(allocationModel)).
				Filter(bson.M{"_id": allocID.String()}).
				Count(ctx)
			if err != nil {
				return fmt.Errorf("tally/mongo: claim allocation: %w", err)
			}
			if n == 0 {
				return tally.ErrAllocationNotFound
			}
			return tally.ErrAllocationClaimed
		}
		return creditTx(ctx, tx, h, at)
	})
}

func (s *Store) CreditEscrow(ctx context.Context, h *escrow.HistoryEntry) error {
	return s.inTx(ctx, func(tx *mongodriver.MongoTx) error {
		return creditTx(ctx, tx, h, h.AllocatedAt)
	})
}

// creditTx adds h to the artist's escrow balance and lifetime total and
// records the history line.
func creditTx(ctx context.Context, tx *mongodriver.MongoTx, h *escrow.HistoryEntry, at time.Time) error {
	_, err := tx.NewUpdate((*accountModel)(nil)).
		Filter(bson.M{"_id": h.UserID}).
		SetUpdate(bson.M{
			"$inc":         bson.M{"artist_escrow_balance": h.Amount, "total_escrow_earned": h.Amount},
			"$set":         bson.M{"updated_at": at},
			"$setOnInsert": bson.M{"balance": int64(0), "last_payout_total_earned": int64(0), "created_at": at},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: credit escrow: %w", err)
	}

	if _, err := tx.NewInsert(toHistoryModel(h)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tally.ErrAlreadyExists
		}
		return fmt.Errorf("tally/mongo: insert history: %w", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, userID string, opts escrow.HistoryListOpts) ([]*escrow.HistoryEntry, error) {
	var models []historyModel

	filter := bson.M{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "allocated_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list history: %w", err)
	}
	return fromHistoryModels(models)
}

// ==================== Payout Store ====================

func (s *Store) CreatePayoutRequest(ctx context.Context, r *payout.Request) error {
	_, err := s.mdb.NewInsert(toPayoutModel(r)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), openPayoutIndex) {
				return tally.ErrDuplicateOpenRequest
			}
			return tally.ErrAlreadyExists
		}
		return fmt.Errorf("tally/mongo: create payout request: %w", err)
	}
	return nil
}

func (s *Store) GetPayoutRequest(ctx context.Context, requestID id.PayoutID) (*payout.Request, error) {
	var m payoutModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": requestID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get payout request: %w", err)
	}
	return fromPayoutModel(&m)
}

func (s *Store) ListPayoutRequests(ctx context.Context, opts payout.ListOpts) ([]*payout.Request, error) {
	var models []payoutModel

	filter := bson.M{}
	if opts.UserID != "" {
		filter["user_id"] = opts.UserID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list payout requests: %w", err)
	}

	result := make([]*payout.Request, len(models))
	for i := range models {
		r, err := fromPayoutModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) TransitionPayout(ctx context.Context, requestID id.PayoutID, to payout.Status, processedBy, notes string, at time.Time) (*payout.Request, error) {
	if to == payout.StatusCompleted {
		return nil, fmt.Errorf("%w: completion requires settlement", tally.ErrInvalidInput)
	}

	var out *payout.Request
	err := s.inTx(ctx, func(tx *mongodriver.MongoTx) error {
		r, err := findPayout(ctx, tx, requestID)
		if err != nil {
			return err
		}
		from := r.Status
		if !payout.CanTransition(from, to) {
			return &tally.TransitionError{RequestID: r.ID, Current: from, Target: to}
		}

		r.Status = to
		r.UpdatedAt = at
		if to.IsTerminal() {
			processedAt := at
			r.ProcessedBy = processedBy
			r.ProcessedAt = &processedAt
			r.Notes = notes
		}

		res, err := tx.NewUpdate((*payoutModel)(nil)).
			Filter(bson.M{"_id": r.ID.String(), "status": string(from)}).
			Set("status", string(r.Status)).
			Set("processed_by", r.ProcessedBy).
			Set("processed_at", r.ProcessedAt).
			Set("notes", r.Notes).
			Set("updated_at", at).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("tally/mongo: transition payout: %w", err)
		}
		if res.MatchedCount() == 0 {
			return &tally.TransitionError{RequestID: r.ID, Current: from, Target: to}
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SettlePayout(ctx context.Context, st *payout.Settlement) (*payout.Request, error) {
	var out *payout.Request
	err := s.inTx(ctx, func(tx *mongodriver.MongoTx) error {
		r, err := findPayout(ctx, tx, st.RequestID)
		if err != nil {
			return err
		}
		from := r.Status
		if !from.IsOpen() {
			return &tally.TransitionError{RequestID: r.ID, Current: from, Target: payout.StatusCompleted}
		}

		var acct accountModel
		err = tx.NewFind(&acct).Filter(bson.M{"_id": st.UserID}).Scan(ctx)
		if err != nil {
			if isNoDocuments(err) {
				return tally.ErrHolderNotFound
			}
			return fmt.Errorf("tally/mongo: read account: %w", err)
		}
		if acct.ArtistEscrowBalance < st.Amount {
			return tally.ErrInsufficientBalanceRace
		}

		res, err := tx.NewUpdate((*accountModel)(nil)).
			Filter(bson.M{
				"_id":                   st.UserID,
				"artist_escrow_balance": acct.ArtistEscrowBalance,
				"total_escrow_earned":   acct.TotalEscrowEarned,
			}).
			Set("artist_escrow_balance", acct.ArtistEscrowBalance-st.Amount).
			Set("last_payout_total_earned", acct.TotalEscrowEarned).
			Set("updated_at", st.ProcessedAt).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("tally/mongo: debit escrow: %w", err)
		}
		if res.MatchedCount() == 0 {
			return tally.ErrInsufficientBalanceRace
		}

		if err := commitTx(ctx, tx, st.Entry, st.Mutation); err != nil {
			return err
		}

		var pendingModels []historyModel
		err = tx.NewFind(&pendingModels).
			Filter(bson.M{"user_id": st.UserID, "status": string(escrow.HistoryPending)}).
			Sort(bson.D{{Key: "allocated_at", Value: 1}, {Key: "_id", Value: 1}}).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("tally/mongo: read pending history: %w", err)
		}
		pending, err := fromHistoryModels(pendingModels)
		if err != nil {
			return err
		}

		claimedAt := st.ProcessedAt
		picked := payout.SelectFIFO(pending, st.Amount)
		claimed := make([]id.HistoryID, 0, len(picked))
		for _, h := range picked {
			_, err := tx.NewUpdate((*historyModel)(nil)).
				Filter(bson.M{"_id": h.ID.String()}).
				Set("status", string(escrow.HistoryClaimed)).
				Set("claimed_at", claimedAt).
				Set("payout_id", r.ID.String()).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("tally/mongo: claim history: %w", err)
			}
			claimed = append(claimed, h.ID)
		}

		seq := st.Entry.Sequence
		r.Status = payout.StatusCompleted
		r.ProcessedBy = st.ProcessedBy
		r.ProcessedAt = &claimedAt
		r.Notes = st.Notes
		r.EntrySequence = &seq
		r.ClaimedHistory = claimed
		r.UpdatedAt = st.ProcessedAt

		res, err = tx.NewUpdate((*payoutModel)(nil)).
			Filter(bson.M{"_id": r.ID.String(), "status": string(from)}).
			Set("status", string(r.Status)).
			Set("processed_by", r.ProcessedBy).
			Set("processed_at", claimedAt).
			Set("notes", r.Notes).
			Set("entry_sequence", seq).
			Set("claimed_history", historyIDStrings(claimed)).
			Set("updated_at", claimedAt).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("tally/mongo: complete payout: %w", err)
		}
		if res.MatchedCount() == 0 {
			return &tally.TransitionError{RequestID: r.ID, Current: from, Target: payout.StatusCompleted}
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func findPayout(ctx context.Context, tx *mongodriver.MongoTx, requestID id.PayoutID) (*payout.Request, error) {
	var m payoutModel
	err := tx.NewFind(&m).
		Filter(bson.M{"_id": requestID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tally.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get payout request: %w", err)
	}
	return fromPayoutModel(&m)
}

// ==================== Helpers ====================

// inTx runs fn in a session transaction, aborting on error. Write
// conflicts between concurrent transactions surface as
// tally.ErrConcurrentSequenceConflict so the caller can retry.
func (s *Store) inTx(ctx context.Context, fn func(tx *mongodriver.MongoTx) error) error {
	raw, err := s.mdb.GroveTx(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("tally/mongo: begin: %w", err)
	}
	tx, ok := raw.(*mongodriver.MongoTx)
	if !ok {
		return fmt.Errorf("tally/mongo: unexpected transaction type %T", raw)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback() //nolint:errcheck // the fn error wins
		return transientAsConflict(err)
	}
	if err := tx.Commit(); err != nil {
		return transientAsConflict(fmt.Errorf("tally/mongo: commit: %w", err))
	}
	return nil
}

func transientAsConflict(err error) error {
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%w: %w", tally.ErrConcurrentSequenceConflict, err)
	}
	return err
}

func holderField(h entry.Holder) string {
	if h.Kind == entry.HolderMedia {
		return "media_id"
	}
	return "user_id"
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all tally collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEntries: {
			{
				Keys:    bson.D{{Key: "sequence", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "hash", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "sequence", Value: -1}}},
			{Keys: bson.D{{Key: "media_id", Value: 1}, {Key: "sequence", Value: -1}}},
		},
		colAccounts: {},
		colMedia:    {},
		colAllocations: {
			{Keys: bson.D{{Key: "artist_key", Value: 1}, {Key: "claimed", Value: 1}, {Key: "allocated_at", Value: 1}}},
		},
		colHistory: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}, {Key: "allocated_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "allocation_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"allocation_id": bson.M{"$gt": ""}}),
			},
		},
		colPayouts: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(openPayoutIndex).
					SetPartialFilterExpression(bson.M{"status": bson.M{"$in": bson.A{
						string(payout.StatusPending), string(payout.StatusProcessing),
					}}}),
			},
		},
	}
}
