// Package memory provides an in-process store.Store for tests and
// single-node development. A single mutex serializes writers, so every
// compare-and-swap the backends perform inside a transaction is a plain
// check-then-set here.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/account"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/hashchain"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Ledger storage; index == sequence
	entries []*entry.Entry
	byHash  map[string]int64

	// Balance rows
	accounts map[string]*account.Account
	media    map[string]*account.Media

	// Escrow storage
	allocations map[string]*escrow.Allocation
	history     map[string][]*escrow.HistoryEntry

	// Payout storage
	payouts map[string]*payout.Request
}

func New() *Store {
	return &Store{
		entries:     make([]*entry.Entry, 0),
		byHash:      make(map[string]int64),
		accounts:    make(map[string]*account.Account),
		media:       make(map[string]*account.Media),
		allocations: make(map[string]*escrow.Allocation),
		history:     make(map[string][]*escrow.HistoryEntry),
		payouts:     make(map[string]*payout.Request),
	}
}

// ==================== Entry Store ====================

func (s *Store) CommitEntry(_ context.Context, e *entry.Entry, m entry.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkCommit(e, m); err != nil {
		return err
	}
	s.applyCommit(e, m)
	return nil
}

// checkCommit verifies the tail and balance preconditions of a commit
// without writing anything.
func (s *Store) checkCommit(e *entry.Entry, m entry.Mutation) error {
	next := int64(len(s.entries))
	if e.Sequence != next {
		return fmt.Errorf("%w: sequence %d taken, tail is %d", tally.ErrConcurrentSequenceConflict, e.Sequence, next-1)
	}
	if next == 0 {
		if e.PrevHash != hashchain.Genesis {
			return fmt.Errorf("%w: first entry must link to genesis", tally.ErrInvalidInput)
		}
	} else if tail := s.entries[next-1]; e.PrevHash != tail.Hash {
		return fmt.Errorf("%w: prev hash does not match tail %d", tally.ErrConcurrentSequenceConflict, tail.Sequence)
	}

	if got := s.balanceOf(m.UserID); got != m.UserExpected {
		return fmt.Errorf("%w: balance of user %s moved", tally.ErrConcurrentSequenceConflict, m.UserID)
	}
	if m.MediaID != "" {
		var got int64
		if row, ok := s.media[m.MediaID]; ok {
			got = row.Aggregate
		}
		if got != m.MediaExpected {
			return fmt.Errorf("%w: aggregate of media %s moved", tally.ErrConcurrentSequenceConflict, m.MediaID)
		}
	}
	return nil
}

func (s *Store) applyCommit(e *entry.Entry, m entry.Mutation) {
	cp := *e
	s.entries = append(s.entries, &cp)
	s.byHash[cp.Hash] = cp.Sequence

	acct := s.ensureAccount(m.UserID, cp.Timestamp)
	acct.Balance = m.UserNext
	acct.UpdatedAt = cp.Timestamp

	if m.MediaID != "" {
		row, ok := s.media[m.MediaID]
		if !ok {
			row = &account.Media{MediaID: m.MediaID}
			row.CreatedAt = cp.Timestamp
			s.media[m.MediaID] = row
		}
		row.Aggregate = m.MediaNext
		row.UpdatedAt = cp.Timestamp
	}
}

func (s *Store) LastEntry(_ context.Context) (*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	cp := *s.entries[len(s.entries)-1]
	return &cp, nil
}

func (s *Store) GetEntry(_ context.Context, sequence int64) (*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sequence < 0 || sequence >= int64(len(s.entries)) {
		return nil, tally.ErrEntryNotFound
	}
	cp := *s.entries[sequence]
	return &cp, nil
}

func (s *Store) GetEntryByHash(_ context.Context, hash string) (*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq, ok := s.byHash[hash]
	if !ok {
		return nil, tally.ErrEntryNotFound
	}
	cp := *s.entries[seq]
	return &cp, nil
}

func (s *Store) ListEntries(_ context.Context, opts entry.ListOpts) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*entry.Entry, 0)
	for seq := max(opts.From, 0); seq < int64(len(s.entries)) && seq <= opts.To; seq++ {
		cp := *s.entries[seq]
		result = append(result, &cp)
		if opts.Limit > 0 && len(result) == opts.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CountEntries(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.entries)), nil
}

func (s *Store) HolderTail(_ context.Context, h entry.Holder) (*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Touches(h) {
			cp := *s.entries[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) ListHolderEntries(_ context.Context, h entry.Holder, opts entry.ListOpts) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*entry.Entry, 0)
	for seq := max(opts.From, 0); seq < int64(len(s.entries)) && seq <= opts.To; seq++ {
		if !s.entries[seq].Touches(h) {
			continue
		}
		cp := *s.entries[seq]
		result = append(result, &cp)
		if opts.Limit > 0 && len(result) == opts.Limit {
			break
		}
	}
	return result, nil
}

// ==================== Account Store ====================

func (s *Store) GetAccount(_ context.Context, userID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[userID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, tally.ErrHolderNotFound
}

func (s *Store) ListAccounts(_ context.Context, opts account.ListOpts) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(s.accounts))
	result := make([]*account.Account, 0, len(keys))
	for _, k := range keys {
		cp := *s.accounts[k]
		result = append(result, &cp)
	}
	return paginate(result, opts.Limit, opts.Offset), nil
}

func (s *Store) GetMedia(_ context.Context, mediaID string) (*account.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.media[mediaID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, tally.ErrHolderNotFound
}

func (s *Store) ListMedia(_ context.Context, opts account.ListOpts) ([]*account.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(s.media))
	result := make([]*account.Media, 0, len(keys))
	for _, k := range keys {
		cp := *s.media[k]
		result = append(result, &cp)
	}
	return paginate(result, opts.Limit, opts.Offset), nil
}

func (s *Store) balanceOf(userID string) int64 {
	if a, ok := s.accounts[userID]; ok {
		return a.Balance
	}
	return 0
}

func (s *Store) ensureAccount(userID string, at time.Time) *account.Account {
	a, ok := s.accounts[userID]
	if !ok {
		a = &account.Account{UserID: userID}
		a.CreatedAt = at
		a.UpdatedAt = at
		s.accounts[userID] = a
	}
	return a
}

// ==================== Escrow Store ====================

func (s *Store) CreateAllocation(_ context.Context, a *escrow.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.allocations[a.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	s.allocations[a.ID.String()] = copyAllocation(a)
	return nil
}

func (s *Store) GetAllocation(_ context.Context, allocID id.AllocationID) (*escrow.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.allocations[allocID.String()]; ok {
		return copyAllocation(a), nil
	}
	return nil, tally.ErrAllocationNotFound
}

func (s *Store) ListUnclaimedAllocations(_ context.Context, artistKey string) ([]*escrow.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*escrow.Allocation, 0)
	for _, a := range s.allocations {
		if !a.Claimed && a.ArtistKey == artistKey {
			result = append(result, copyAllocation(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AllocatedAt.Equal(result[j].AllocatedAt) {
			return result[i].AllocatedAt.Before(result[j].AllocatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *Store) ClaimAllocation(_ context.Context, allocID id.AllocationID, h *escrow.HistoryEntry, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.allocations[allocID.String()]
	if !ok {
		return tally.ErrAllocationNotFound
	}
	if a.Claimed {
		return tally.ErrAllocationClaimed
	}

	claimedAt := at
	a.Claimed = true
	a.ClaimedBy = h.UserID
	a.ClaimedAt = &claimedAt
	a.UpdatedAt = at

	s.creditLocked(h, at)
	return nil
}

func (s *Store) CreditEscrow(_ context.Context, h *escrow.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creditLocked(h, h.AllocatedAt)
	return nil
}

func (s *Store) creditLocked(h *escrow.HistoryEntry, at time.Time) {
	acct := s.ensureAccount(h.UserID, at)
	acct.ArtistEscrowBalance += h.Amount
	acct.TotalEscrowEarned += h.Amount
	acct.UpdatedAt = at

	cp := *h
	s.history[h.UserID] = append(s.history[h.UserID], &cp)
}

func (s *Store) ListHistory(_ context.Context, userID string, opts escrow.HistoryListOpts) ([]*escrow.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*escrow.HistoryEntry, 0)
	for _, h := range s.history[userID] {
		if opts.Status == "" || h.Status == opts.Status {
			cp := *h
			result = append(result, &cp)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].AllocatedAt.Before(result[j].AllocatedAt)
	})
	return paginate(result, opts.Limit, opts.Offset), nil
}

// ==================== Payout Store ====================

func (s *Store) CreatePayoutRequest(_ context.Context, r *payout.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payouts[r.ID.String()]; exists {
		return tally.ErrAlreadyExists
	}
	for _, existing := range s.payouts {
		if existing.UserID == r.UserID && existing.Status.IsOpen() {
			return tally.ErrDuplicateOpenRequest
		}
	}
	s.payouts[r.ID.String()] = copyRequest(r)
	return nil
}

func (s *Store) GetPayoutRequest(_ context.Context, requestID id.PayoutID) (*payout.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.payouts[requestID.String()]; ok {
		return copyRequest(r), nil
	}
	return nil, tally.ErrPayoutNotFound
}

func (s *Store) ListPayoutRequests(_ context.Context, opts payout.ListOpts) ([]*payout.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payout.Request, 0)
	for _, r := range s.payouts {
		if opts.UserID != "" && r.UserID != opts.UserID {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		result = append(result, copyRequest(r))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return paginate(result, opts.Limit, opts.Offset), nil
}

func (s *Store) TransitionPayout(_ context.Context, requestID id.PayoutID, to payout.Status, processedBy, notes string, at time.Time) (*payout.Request, error) {
	if to == payout.StatusCompleted {
		return nil, fmt.Errorf("%w: completion requires settlement", tally.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.payouts[requestID.String()]
	if !ok {
		return nil, tally.ErrPayoutNotFound
	}
	if !payout.CanTransition(r.Status, to) {
		return nil, &tally.TransitionError{RequestID: r.ID, Current: r.Status, Target: to}
	}

	r.Status = to
	r.UpdatedAt = at
	if to.IsTerminal() {
		processedAt := at
		r.ProcessedBy = processedBy
		r.ProcessedAt = &processedAt
		r.Notes = notes
	}
	return copyRequest(r), nil
}

func (s *Store) SettlePayout(_ context.Context, st *payout.Settlement) (*payout.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.payouts[st.RequestID.String()]
	if !ok {
		return nil, tally.ErrPayoutNotFound
	}
	if !r.Status.IsOpen() {
		return nil, &tally.TransitionError{RequestID: r.ID, Current: r.Status, Target: payout.StatusCompleted}
	}

	acct, ok := s.accounts[st.UserID]
	if !ok {
		return nil, tally.ErrHolderNotFound
	}
	if acct.ArtistEscrowBalance < st.Amount {
		return nil, tally.ErrInsufficientBalanceRace
	}
	if err := s.checkCommit(st.Entry, st.Mutation); err != nil {
		return nil, err
	}

	acct.ArtistEscrowBalance -= st.Amount
	acct.LastPayoutTotalEarned = acct.TotalEscrowEarned
	s.applyCommit(st.Entry, st.Mutation)

	claimedAt := st.ProcessedAt
	picked := payout.SelectFIFO(s.history[st.UserID], st.Amount)
	claimed := make([]id.HistoryID, 0, len(picked))
	for _, h := range picked {
		h.Status = escrow.HistoryClaimed
		h.ClaimedAt = &claimedAt
		h.PayoutID = r.ID
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
	return copyRequest(r), nil
}

// ==================== Lifecycle ====================

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}

// Helper functions
func paginate[T any](items []T, limit, offset int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func copyAllocation(a *escrow.Allocation) *escrow.Allocation {
	cp := *a
	cp.ExternalIDs = maps.Clone(a.ExternalIDs)
	if a.ClaimedAt != nil {
		t := *a.ClaimedAt
		cp.ClaimedAt = &t
	}
	return &cp
}

func copyRequest(r *payout.Request) *payout.Request {
	cp := *r
	cp.Details = maps.Clone(r.Details)
	cp.ClaimedHistory = slices.Clone(r.ClaimedHistory)
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		cp.ProcessedAt = &t
	}
	if r.EntrySequence != nil {
		seq := *r.EntrySequence
		cp.EntrySequence = &seq
	}
	return &cp
}
