// Package tally provides a tamper-evident ledger for tipping, artist escrow
// and payouts.
//
// Tally is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - An append-only, hash-chained ledger with gapless sequence numbers
//   - Optimistic appends that retry on a lost race for the chain tail
//   - Escrow for artists who have not signed up yet, claimed at most once
//   - A payout workflow with threshold eligibility and FIFO escrow claims
//   - Chain verification and balance reconciliation, on demand or on a cron
//   - PostgreSQL, SQLite and MongoDB stores via Grove, plus an in-memory store
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/tally"
//	    "github.com/xraph/tally/entry"
//	    "github.com/xraph/tally/store/memory"
//	)
//
//	l := tally.New(memory.New())
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	_, err := l.AppendTransaction(ctx, entry.TopUp{UserID: "u1", Amount: 1000})
//	_, err = l.AppendTransaction(ctx, entry.Tip{
//	    UserID: "u1",
//	    Amount: 250,
//	    Refs:   entry.Refs{MediaID: "m1"},
//	})
//
// # The Chain
//
// Every entry stores the SHA-256 digest of its own hashed fields together
// with the digest of the entry before it. The first entry links to a
// sixty-four zero genesis value. Any edit to a stored entry, or any removed
// entry, changes a digest that its successor no longer matches:
//
//	report, err := l.VerifyAll(ctx)
//	if !report.OK() {
//	    // report.FirstBreak, report.Anomalies
//	}
//
// Each entry also records the post-transaction wallet balance of its user
// and aggregate of its media item, so live balances can be reconciled:
//
//	rec, err := l.ReconcileHolder(ctx, tally.UserHolder("u1"))
//
// # Escrow and Payouts
//
// Proceeds for an artist without an account are allocated under the
// artist's normalized name and claimed when that artist verifies:
//
//	l.AllocateEscrow(ctx, escrow.AllocateInput{ArtistName: "Sigur Rós", Amount: 500})
//	res, err := l.MatchUnknownArtist(ctx, userID, "sigur ros", escrow.MatchCriteria{})
//
// Artists withdraw escrow once lifetime earnings reach the first payout
// threshold (£33.00 by default), then every further £10.00 earned:
//
//	req, err := l.RequestPayout(ctx, payout.RequestInput{UserID: userID})
//	done, err := l.SettlePayout(ctx, payout.SettleInput{
//	    RequestID: req.ID,
//	    Decision:  payout.DecisionComplete,
//	})
//
// All amounts are integer pence.
//
// # TypeID
//
// Records use TypeID identifiers:
//
//	lent_01h2xcejqtf2nbrexx3vqjhp41  // Ledger entry
//	ealc_01h2xcejqtf2nbrexx3vqjhp41  // Escrow allocation
//	esch_01h455vb4pex5vsknk084sn02q  // Escrow history line
//	pout_01h455vb4pex5vsknk084sn02q  // Payout request
package tally
