package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tally"
	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/hashchain"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/payout"
	tallystore "github.com/xraph/tally/store"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM. SQLite allows
// one writer at a time; a transaction that loses the write lock reports
// tally.ErrConcurrentSequenceConflict so the ledger retries it.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("%w: tally/sqlite: create migration executor: %w", tally.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: tally/sqlite: %w", tally.ErrMigrationFailed, err)
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
	return s.inTx(ctx, tally.ErrConcurrentSequenceConflict, func(tx *sqlitedriver.SqliteTx) error {
		return commitTx(ctx, tx, e, m)
	})
}

func commitTx(ctx context.Context, tx *sqlitedriver.SqliteTx, e *entry.Entry, m entry.Mutation) error {
	tailSeq := int64(-1)
	var tailHash string
	err := tx.NewRaw(`SELECT sequence, hash FROM tally_entries ORDER BY sequence DESC LIMIT 1`).
		Scan(ctx, &tailSeq, &tailHash)
	if err != nil && !isNoRows(err) {
		return err
	}

	if e.Sequence != tailSeq+1 {
		return fmt.Errorf("%w: sequence %d taken, tail is %d", tally.ErrConcurrentSequenceConflict, e.Sequence, tailSeq)
	}
	if tailSeq < 0 {
		if e.PrevHash != hashchain.Genesis {
			return fmt.Errorf("%w: first entry must link to genesis", tally.ErrInvalidInput)
		}
	} else if e.PrevHash != tailHash {
		return fmt.Errorf("%w: prev hash does not match tail %d", tally.ErrConcurrentSequenceConflict, tailSeq)
	}

	at := micros(e.Timestamp)
	if err := swapBalance(ctx, tx, "tally_accounts", "user_id", "balance", m.UserID, m.UserExpected, m.UserNext, at); err != nil {
		return err
	}
	if m.MediaID != "" {
		if err := swapBalance(ctx, tx, "tally_media", "media_id", "aggregate", m.MediaID, m.MediaExpected, m.MediaNext, at); err != nil {
			return err
		}
	}

	if _, err := tx.NewInsert(toEntryModel(e)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sequence %d taken", tally.ErrConcurrentSequenceConflict, e.Sequence)
		}
		return err
	}
	return nil
}

func swapBalance(ctx context.Context, tx *sqlitedriver.SqliteTx, table, key, column, holderID string, expected, next, at int64) error {
	res, err := tx.NewRaw(
		fmt.Sprintf(`UPDATE %s SET %s = ?, updated_at = ? WHERE %s = ? AND %s = ?`, table, column, key, column),
		next, at, holderID, expected,
	).Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	if expected == 0 {
		res, err = tx.NewRaw(
			fmt.Sprintf(`INSERT INTO %s (%s, %s, created_at, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT (%s) DO NOTHING`, table, key, column, key),
			holderID, next, at, at,
		).Exec(ctx)
		if err != nil {
			return err
		}
		if rows, err = res.RowsAffected(); err != nil {
			return err
		}
		if rows == 1 {
			return nil
		}
	}
	return fmt.Errorf("%w: %s of %s moved", tally.ErrConcurrentSequenceConflict, column, holderID)
}

func (s *Store) LastEntry(ctx context.Context) (*entry.Entry, error) {
	m := new(entryModel)
	err := s.sdb.NewSelect(m).
		OrderExpr("sequence DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) GetEntry(ctx context.Context, sequence int64) (*entry.Entry, error) {
	m := new(entryModel)
	err := s.sdb.NewSelect(m).
		Where("sequence = ?", sequence).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrEntryNotFound
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) GetEntryByHash(ctx context.Context, hash string) (*entry.Entry, error) {
	m := new(entryModel)
	err := s.sdb.NewSelect(m).
		Where("hash = ?", hash).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrEntryNotFound
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) ListEntries(ctx context.Context, opts entry.ListOpts) ([]*entry.Entry, error) {
	var models []entryModel
	q := s.sdb.NewSelect(&models).
		Where("sequence >= ?", opts.From).
		Where("sequence <= ?", opts.To).
		OrderExpr("sequence ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromEntryModels(models)
}

func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.sdb.NewRaw(`SELECT COUNT(*) FROM tally_entries`).Scan(ctx, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) HolderTail(ctx context.Context, h entry.Holder) (*entry.Entry, error) {
	m := new(entryModel)
	err := s.sdb.NewSelect(m).
		Where(holderColumn(h)+" = ?", h.ID).
		OrderExpr("sequence DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) ListHolderEntries(ctx context.Context, h entry.Holder, opts entry.ListOpts) ([]*entry.Entry, error) {
	var models []entryModel
	q := s.sdb.NewSelect(&models).
		Where(holderColumn(h)+" = ?", h.ID).
		Where("sequence >= ?", opts.From).
		Where("sequence <= ?", opts.To).
		OrderExpr("sequence ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromEntryModels(models)
}

// ==================== Account Store ====================

func (s *Store) GetAccount(ctx context.Context, userID string) (*account.Account, error) {
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrHolderNotFound
		}
		return nil, err
	}
	return fromAccountModel(m), nil
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var models []accountModel
	q := s.sdb.NewSelect(&models).OrderExpr("user_id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*account.Account, len(models))
	for i := range models {
		result[i] = fromAccountModel(&models[i])
	}
	return result, nil
}

func (s *Store) GetMedia(ctx context.Context, mediaID string) (*account.Media, error) {
	m := new(mediaModel)
	err := s.sdb.NewSelect(m).
		Where("media_id = ?", mediaID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrHolderNotFound
		}
		return nil, err
	}
	return fromMediaModel(m), nil
}

func (s *Store) ListMedia(ctx context.Context, opts account.ListOpts) ([]*account.Media, error) {
	var models []mediaModel
	q := s.sdb.NewSelect(&models).OrderExpr("media_id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*account.Media, len(models))
	for i := range models {
		result[i] = fromMediaModel(&models[i])
	}
	return result, nil
}

// ==================== Escrow Store ====================

func (s *Store) CreateAllocation(ctx context.Context, a *escrow.Allocation) error {
	_, err := s.sdb.NewInsert(toAllocationModel(a)).Exec(ctx)
	if isUniqueViolation(err) {
		return tally.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetAllocation(ctx context.Context, allocID id.AllocationID) (*escrow.Allocation, error) {
	m := new(allocationModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", allocID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrAllocationNotFound
		}
		return nil, err
	}
	return fromAllocationModel(m)
}

func (s *Store) ListUnclaimedAllocations(ctx context.Context, artistKey string) ([]*escrow.Allocation, error) {
	var models []allocationModel
	err := s.sdb.NewSelect(&models).
		Where("artist_key = ?", artistKey).
		Where("claimed = 0").
		OrderExpr("allocated_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	return s.inTx(ctx, tally.ErrStoreBusy, func(tx *sqlitedriver.SqliteTx) error {
		res, err := tx.NewRaw(`
			UPDATE tally_escrow_allocations
			SET claimed = 1, claimed_by = ?, claimed_at = ?, updated_at = ?
			WHERE id = ? AND claimed = 0
		`, h.UserID, micros(at), micros(at), allocID.String()).Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			var n int64
			if err := tx.NewRaw(`SELECT COUNT(*) FROM tally_escrow_allocations WHERE id = ?`, allocID.String()).
				Scan(ctx, &n); err != nil {
				return err
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
	return s.inTx(ctx, tally.ErrStoreBusy, func(tx *sqlitedriver.SqliteTx) error {
		return creditTx(ctx, tx, h, h.AllocatedAt)
	})
}

func creditTx(ctx context.Context, tx *sqlitedriver.SqliteTx, h *escrow.HistoryEntry, at time.Time) error {
	_, err := tx.NewRaw(`
		INSERT INTO tally_accounts (user_id, artist_escrow_balance, total_escrow_earned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			artist_escrow_balance = artist_escrow_balance + excluded.artist_escrow_balance,
			total_escrow_earned = total_escrow_earned + excluded.total_escrow_earned,
			updated_at = excluded.updated_at
	`, h.UserID, h.Amount, h.Amount, micros(at), micros(at)).Exec(ctx)
	if err != nil {
		return err
	}
	_, err = tx.NewInsert(toHistoryModel(h)).Exec(ctx)
	return err
}

func (s *Store) ListHistory(ctx context.Context, userID string, opts escrow.HistoryListOpts) ([]*escrow.HistoryEntry, error) {
	var models []historyModel
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	q = q.OrderExpr("allocated_at ASC, id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromHistoryModels(models)
}

// ==================== Payout Store ====================

func (s *Store) CreatePayoutRequest(ctx context.Context, r *payout.Request) error {
	_, err := s.sdb.NewInsert(toPayoutModel(r)).Exec(ctx)
	if err != nil {
		var se *sqlite.Error
		if errors.As(err, &se) {
			switch se.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
				return tally.ErrAlreadyExists
			case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				return tally.ErrDuplicateOpenRequest
			}
		}
		return err
	}
	return nil
}

func (s *Store) GetPayoutRequest(ctx context.Context, requestID id.PayoutID) (*payout.Request, error) {
	return getPayout(ctx, s.sdb.NewSelect, requestID)
}

func (s *Store) ListPayoutRequests(ctx context.Context, opts payout.ListOpts) ([]*payout.Request, error) {
	var models []payoutModel
	q := s.sdb.NewSelect(&models)

	if opts.UserID != "" {
		q = q.Where("user_id = ?", opts.UserID)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	err := s.inTx(ctx, tally.ErrStoreBusy, func(tx *sqlitedriver.SqliteTx) error {
		r, err := getPayout(ctx, tx.NewSelect, requestID)
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
		// The status guard in the WHERE clause catches a writer that
		// moved the request after it was read.
		res, err := tx.NewRaw(`
			UPDATE tally_payout_requests
			SET status = ?, processed_by = ?, processed_at = ?, notes = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(r.Status), r.ProcessedBy, microsPtr(r.ProcessedAt), r.Notes, micros(at), r.ID.String(), string(from)).Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
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
	err := s.inTx(ctx, tally.ErrConcurrentSequenceConflict, func(tx *sqlitedriver.SqliteTx) error {
		r, err := getPayout(ctx, tx.NewSelect, st.RequestID)
		if err != nil {
			return err
		}
		if !r.Status.IsOpen() {
			return &tally.TransitionError{RequestID: r.ID, Current: r.Status, Target: payout.StatusCompleted}
		}

		res, err := tx.NewRaw(`
			UPDATE tally_accounts
			SET artist_escrow_balance = artist_escrow_balance - ?,
				last_payout_total_earned = total_escrow_earned,
				updated_at = ?
			WHERE user_id = ? AND artist_escrow_balance >= ?
		`, st.Amount, micros(st.ProcessedAt), st.UserID, st.Amount).Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			var n int64
			if err := tx.NewRaw(`SELECT COUNT(*) FROM tally_accounts WHERE user_id = ?`, st.UserID).
				Scan(ctx, &n); err != nil {
				return err
			}
			if n == 0 {
				return tally.ErrHolderNotFound
			}
			return tally.ErrInsufficientBalanceRace
		}

		if err := commitTx(ctx, tx, st.Entry, st.Mutation); err != nil {
			return err
		}

		var pendingModels []historyModel
		err = tx.NewSelect(&pendingModels).
			Where("user_id = ?", st.UserID).
			Where("status = ?", string(escrow.HistoryPending)).
			OrderExpr("allocated_at ASC, id ASC").
			Scan(ctx)
		if err != nil {
			return err
		}
		pending, err := fromHistoryModels(pendingModels)
		if err != nil {
			return err
		}

		claimedAt := st.ProcessedAt
		picked := payout.SelectFIFO(pending, st.Amount)
		claimed := make([]id.HistoryID, 0, len(picked))
		for _, h := range picked {
			_, err := tx.NewRaw(`
				UPDATE tally_escrow_history SET status = ?, claimed_at = ?, payout_id = ? WHERE id = ?
			`, string(escrow.HistoryClaimed), micros(claimedAt), r.ID.String(), h.ID.String()).Exec(ctx)
			if err != nil {
				return err
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

		_, err = tx.NewRaw(`
			UPDATE tally_payout_requests
			SET status = ?, processed_by = ?, processed_at = ?, notes = ?,
				entry_sequence = ?, claimed_history = ?, updated_at = ?
			WHERE id = ?
		`, string(r.Status), r.ProcessedBy, micros(claimedAt), r.Notes, seq, marshalIDs(claimed), micros(claimedAt), r.ID.String()).Exec(ctx)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getPayout(ctx context.Context, newSelect func(...any) *sqlitedriver.SelectQuery, requestID id.PayoutID) (*payout.Request, error) {
	m := new(payoutModel)
	err := newSelect(m).
		Where("id = ?", requestID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrPayoutNotFound
		}
		return nil, err
	}
	return fromPayoutModel(m)
}

// ==================== Helpers ====================

// inTx runs fn in a transaction, rolling back on error. A busy or locked
// database means another writer holds the lock; that failure is wrapped
// with onBusy so chain writes retry as conflicts and other writes report
// ErrStoreBusy.
func (s *Store) inTx(ctx context.Context, onBusy error, fn func(tx *sqlitedriver.SqliteTx) error) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return wrapBusy(err, onBusy)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback() //nolint:errcheck // the fn error wins
		return wrapBusy(err, onBusy)
	}
	return wrapBusy(tx.Commit(), onBusy)
}

func wrapBusy(err, onBusy error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %w", onBusy, err)
	}
	return err
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

func holderColumn(h entry.Holder) string {
	if h.Kind == entry.HolderMedia {
		return "media_id"
	}
	return "user_id"
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
