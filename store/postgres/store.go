package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
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

// Store implements store.Store using PostgreSQL via Grove ORM. Every
// write that touches the chain or a balance runs in one transaction and
// guards its preconditions with conditional statements, so a lost race
// surfaces as tally.ErrConcurrentSequenceConflict rather than a bad row.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("%w: tally/postgres: create migration executor: %w", tally.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: tally/postgres: %w", tally.ErrMigrationFailed, err)
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
	return s.inTx(ctx, func(tx *pgdriver.PgTx) error {
		return commitTx(ctx, tx, e, m)
	})
}

// commitTx checks the chain tail, swaps the holder balances and inserts e.
// A concurrent writer that inserted the same sequence first makes the
// insert fail on the primary key, which is reported as a conflict.
func commitTx(ctx context.Context, tx *pgdriver.PgTx, e *entry.Entry, m entry.Mutation) error {
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

	if err := swapBalance(ctx, tx, "tally_accounts", "user_id", "balance", m.UserID, m.UserExpected, m.UserNext, e.Timestamp); err != nil {
		return err
	}
	if m.MediaID != "" {
		if err := swapBalance(ctx, tx, "tally_media", "media_id", "aggregate", m.MediaID, m.MediaExpected, m.MediaNext, e.Timestamp); err != nil {
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

// swapBalance sets column to next where it still holds expected. A missing
// row counts as zero and is created.
func swapBalance(ctx context.Context, tx *pgdriver.PgTx, table, key, column, holderID string, expected, next int64, at time.Time) error {
	res, err := tx.NewRaw(
		fmt.Sprintf(`UPDATE %s SET %s = $1, updated_at = $2 WHERE %s = $3 AND %s = $4`, table, column, key, column),
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
			fmt.Sprintf(`INSERT INTO %s (%s, %s, created_at, updated_at) VALUES ($1, $2, $3, $3) ON CONFLICT (%s) DO NOTHING`, table, key, column, key),
			holderID, next, at,
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
	err := s.pg.NewSelect(m).
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
	err := s.pg.NewSelect(m).
		Where("sequence = $1", sequence).
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
	err := s.pg.NewSelect(m).
		Where("hash = $1", hash).
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
	q := s.pg.NewSelect(&models).
		Where("sequence >= $1", opts.From).
		Where("sequence <= $2", opts.To).
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
	if err := s.pg.NewRaw(`SELECT COUNT(*) FROM tally_entries`).Scan(ctx, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) HolderTail(ctx context.Context, h entry.Holder) (*entry.Entry, error) {
	m := new(entryModel)
	err := s.pg.NewSelect(m).
		Where(holderColumn(h)+" = $1", h.ID).
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
	q := s.pg.NewSelect(&models).
		Where(holderColumn(h)+" = $1", h.ID).
		Where("sequence >= $2", opts.From).
		Where("sequence <= $3", opts.To).
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
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
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
	q := s.pg.NewSelect(&models).OrderExpr("user_id ASC")
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
	err := s.pg.NewSelect(m).
		Where("media_id = $1", mediaID).
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
	q := s.pg.NewSelect(&models).OrderExpr("media_id ASC")
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
	_, err := s.pg.NewInsert(toAllocationModel(a)).Exec(ctx)
	if isUniqueViolation(err) {
		return tally.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetAllocation(ctx context.Context, allocID id.AllocationID) (*escrow.Allocation, error) {
	m := new(allocationModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", allocID.String()).
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
	err := s.pg.NewSelect(&models).
		Where("artist_key = $1", artistKey).
		Where("NOT claimed").
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
	return s.inTx(ctx, func(tx *pgdriver.PgTx) error {
		res, err := tx.NewRaw(`
			UPDATE tally_escrow_allocations
			SET claimed = TRUE, claimed_by = $1, claimed_at = $2, updated_at = $2
			WHERE id = $3 AND NOT claimed
		`, h.UserID, at, allocID.String()).Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			var exists bool
			if err := tx.NewRaw(`SELECT EXISTS (SELECT 1 FROM tally_escrow_allocations WHERE id = $1)`, allocID.String()).
				Scan(ctx, &exists); err != nil {
				return err
			}
			if !exists {
				return tally.ErrAllocationNotFound
			}
			return tally.ErrAllocationClaimed
		}
		return creditTx(ctx, tx, h, at)
	})
}

func (s *Store) CreditEscrow(ctx context.Context, h *escrow.HistoryEntry) error {
	return s.inTx(ctx, func(tx *pgdriver.PgTx) error {
		return creditTx(ctx, tx, h, h.AllocatedAt)
	})
}

// creditTx adds h to the artist's escrow balance and lifetime total and
// records the history line.
func creditTx(ctx context.Context, tx *pgdriver.PgTx, h *escrow.HistoryEntry, at time.Time) error {
	_, err := tx.NewRaw(`
		INSERT INTO tally_accounts (user_id, artist_escrow_balance, total_escrow_earned, created_at, updated_at)
		VALUES ($1, $2, $2, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			artist_escrow_balance = tally_accounts.artist_escrow_balance + EXCLUDED.artist_escrow_balance,
			total_escrow_earned = tally_accounts.total_escrow_earned + EXCLUDED.total_escrow_earned,
			updated_at = EXCLUDED.updated_at
	`, h.UserID, h.Amount, at).Exec(ctx)
	if err != nil {
		return err
	}
	_, err = tx.NewInsert(toHistoryModel(h)).Exec(ctx)
	return err
}

func (s *Store) ListHistory(ctx context.Context, userID string, opts escrow.HistoryListOpts) ([]*escrow.HistoryEntry, error) {
	var models []historyModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)
	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
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

// ==================== Payout Store ====================

func (s *Store) CreatePayoutRequest(ctx context.Context, r *payout.Request) error {
	_, err := s.pg.NewInsert(toPayoutModel(r)).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "idx_tally_payouts_open" {
				return tally.ErrDuplicateOpenRequest
			}
			return tally.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetPayoutRequest(ctx context.Context, requestID id.PayoutID) (*payout.Request, error) {
	m := new(payoutModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", requestID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tally.ErrPayoutNotFound
		}
		return nil, err
	}
	return fromPayoutModel(m)
}

func (s *Store) ListPayoutRequests(ctx context.Context, opts payout.ListOpts) ([]*payout.Request, error) {
	var models []payoutModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.UserID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("user_id = $%d", argIdx), opts.UserID)
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
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
	err := s.inTx(ctx, func(tx *pgdriver.PgTx) error {
		r, err := lockPayout(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !payout.CanTransition(r.Status, to) {
			return &tally.TransitionError{RequestID: r.ID, Current: r.Status, Target: to}
		}

		r.Status = to
		r.UpdatedAt = at
		if to.IsTerminal() {
			processedAt := at
			r.ProcessedBy = processedBy
			r.ProcessedAt = &processedAt
			r.Notes = notes
		}
		_, err = tx.NewRaw(`
			UPDATE tally_payout_requests
			SET status = $1, processed_by = $2, processed_at = $3, notes = $4, updated_at = $5
			WHERE id = $6
		`, string(r.Status), r.ProcessedBy, r.ProcessedAt, r.Notes, at, r.ID.String()).Exec(ctx)
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

func (s *Store) SettlePayout(ctx context.Context, st *payout.Settlement) (*payout.Request, error) {
	var out *payout.Request
	err := s.inTx(ctx, func(tx *pgdriver.PgTx) error {
		r, err := lockPayout(ctx, tx, st.RequestID)
		if err != nil {
			return err
		}
		if !r.Status.IsOpen() {
			return &tally.TransitionError{RequestID: r.ID, Current: r.Status, Target: payout.StatusCompleted}
		}

		res, err := tx.NewRaw(`
			UPDATE tally_accounts
			SET artist_escrow_balance = artist_escrow_balance - $1,
				last_payout_total_earned = total_escrow_earned,
				updated_at = $2
			WHERE user_id = $3 AND artist_escrow_balance >= $1
		`, st.Amount, st.ProcessedAt, st.UserID).Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			var exists bool
			if err := tx.NewRaw(`SELECT EXISTS (SELECT 1 FROM tally_accounts WHERE user_id = $1)`, st.UserID).
				Scan(ctx, &exists); err != nil {
				return err
			}
			if !exists {
				return tally.ErrHolderNotFound
			}
			return tally.ErrInsufficientBalanceRace
		}

		if err := commitTx(ctx, tx, st.Entry, st.Mutation); err != nil {
			return err
		}

		var pendingModels []historyModel
		err = tx.NewSelect(&pendingModels).
			Where("user_id = $1", st.UserID).
			Where("status = $2", string(escrow.HistoryPending)).
			OrderExpr("allocated_at ASC, id ASC").
			ForUpdate().
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
				UPDATE tally_escrow_history SET status = $1, claimed_at = $2, payout_id = $3 WHERE id = $4
			`, string(escrow.HistoryClaimed), claimedAt, r.ID.String(), h.ID.String()).Exec(ctx)
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

		claimedJSON, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		_, err = tx.NewRaw(`
			UPDATE tally_payout_requests
			SET status = $1, processed_by = $2, processed_at = $3, notes = $4,
				entry_sequence = $5, claimed_history = $6, updated_at = $3
			WHERE id = $7
		`, string(r.Status), r.ProcessedBy, claimedAt, r.Notes, seq, string(claimedJSON), r.ID.String()).Exec(ctx)
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

// lockPayout reads a request and holds its row until the transaction ends.
func lockPayout(ctx context.Context, tx *pgdriver.PgTx, requestID id.PayoutID) (*payout.Request, error) {
	m := new(payoutModel)
	err := tx.NewSelect(m).
		Where("id = $1", requestID.String()).
		ForUpdate().
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

const uniqueViolation = "23505"

// inTx runs fn in a read-committed transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *pgdriver.PgTx) error) error {
	tx, err := s.pg.BeginTxQuery(ctx, &driver.TxOptions{IsolationLevel: driver.LevelReadCommitted})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback() //nolint:errcheck // the fn error wins
		return err
	}
	return tx.Commit()
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
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
