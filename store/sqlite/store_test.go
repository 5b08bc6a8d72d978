package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/tally"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/hashchain"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/store/sqlite"
	"github.com/xraph/tally/types"
)

var epoch = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx, "file:"+path); err != nil {
		t.Fatal(err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		t.Fatal(err)
	}
	s := sqlite.New(db)
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

// lockWriter holds the database write lock from a separate connection until
// the test ends.
func lockWriter(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		_ = conn.Close()
		_ = db.Close()
	})
}

func TestBusyWritesReportTheirCause(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tally.db")
	s := openStore(t, path)

	a := &escrow.Allocation{
		Entity:      types.NewEntity(),
		ID:          id.NewAllocationID(),
		ArtistName:  "Echo",
		ArtistKey:   "echo",
		Amount:      300,
		AllocatedAt: epoch,
	}
	if err := s.CreateAllocation(ctx, a); err != nil {
		t.Fatal(err)
	}

	lockWriter(t, path)

	line := &escrow.HistoryEntry{ID: id.NewHistoryID(), UserID: "u1", AllocationID: a.ID, Amount: a.Amount, Status: escrow.HistoryPending, AllocatedAt: epoch}
	err := s.ClaimAllocation(ctx, a.ID, line, epoch.Add(time.Hour))
	if !errors.Is(err, tally.ErrStoreBusy) || errors.Is(err, tally.ErrConcurrentSequenceConflict) {
		t.Fatalf("claim under lock: err = %v, want ErrStoreBusy", err)
	}
	if !tally.IsRetryable(err) {
		t.Errorf("busy claim should be retryable: %v", err)
	}

	e := &entry.Entry{
		ID:              id.NewEntryID(),
		Type:            entry.TypeTopUp,
		Amount:          100,
		UserID:          "u1",
		UserBalancePost: 100,
		Timestamp:       epoch,
	}
	e.Seal(hashchain.Genesis)
	err = s.CommitEntry(ctx, e, entry.Mutation{UserID: "u1", UserNext: 100})
	if !errors.Is(err, tally.ErrConcurrentSequenceConflict) {
		t.Fatalf("commit under lock: err = %v, want ErrConcurrentSequenceConflict", err)
	}
}
