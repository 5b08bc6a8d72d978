package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the tally store.
var Migrations = migrate.NewGroup("tally")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tally_entries",
			Version: "20250501000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_entries (
    sequence             BIGINT PRIMARY KEY CHECK (sequence >= 0),
    id                   TEXT NOT NULL UNIQUE,
    transaction_type     TEXT NOT NULL,
    amount               BIGINT NOT NULL CHECK (amount > 0),
    user_id              TEXT NOT NULL,
    media_id             TEXT NOT NULL DEFAULT '',
    party_id             TEXT NOT NULL DEFAULT '',
    bid_id               TEXT NOT NULL DEFAULT '',
    user_balance_post    BIGINT NOT NULL,
    media_aggregate_post BIGINT NOT NULL DEFAULT 0,
    prev_hash            TEXT NOT NULL,
    hash                 TEXT NOT NULL UNIQUE,
    timestamp_us         BIGINT NOT NULL,
    username             TEXT NOT NULL DEFAULT '',
    media_title          TEXT NOT NULL DEFAULT '',
    description          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tally_entries_user ON tally_entries (user_id, sequence DESC);
CREATE INDEX IF NOT EXISTS idx_tally_entries_media ON tally_entries (media_id, sequence DESC) WHERE media_id != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_entries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_balances",
			Version: "20250501000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_accounts (
    user_id                  TEXT PRIMARY KEY,
    balance                  BIGINT NOT NULL DEFAULT 0,
    artist_escrow_balance    BIGINT NOT NULL DEFAULT 0 CHECK (artist_escrow_balance >= 0),
    total_escrow_earned      BIGINT NOT NULL DEFAULT 0,
    last_payout_total_earned BIGINT NOT NULL DEFAULT 0,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tally_media (
    media_id   TEXT PRIMARY KEY,
    aggregate  BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tally_media;
DROP TABLE IF EXISTS tally_accounts;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_escrow",
			Version: "20250501000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_escrow_allocations (
    id           TEXT PRIMARY KEY,
    artist_name  TEXT NOT NULL,
    artist_key   TEXT NOT NULL,
    external_ids JSONB NOT NULL DEFAULT '{}',
    amount       BIGINT NOT NULL CHECK (amount > 0),
    media_id     TEXT NOT NULL DEFAULT '',
    bid_id       TEXT NOT NULL DEFAULT '',
    allocated_at TIMESTAMPTZ NOT NULL,
    claimed      BOOLEAN NOT NULL DEFAULT FALSE,
    claimed_by   TEXT NOT NULL DEFAULT '',
    claimed_at   TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_alloc_unclaimed ON tally_escrow_allocations (artist_key, allocated_at) WHERE NOT claimed;

CREATE TABLE IF NOT EXISTS tally_escrow_history (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    allocation_id TEXT NOT NULL DEFAULT '',
    media_id      TEXT NOT NULL DEFAULT '',
    bid_id        TEXT NOT NULL DEFAULT '',
    amount        BIGINT NOT NULL CHECK (amount > 0),
    status        TEXT NOT NULL DEFAULT 'pending',
    allocated_at  TIMESTAMPTZ NOT NULL,
    claimed_at    TIMESTAMPTZ,
    payout_id     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tally_history_user ON tally_escrow_history (user_id, status, allocated_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_history_allocation ON tally_escrow_history (allocation_id) WHERE allocation_id != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS tally_escrow_history;
DROP TABLE IF EXISTS tally_escrow_allocations;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_tally_payout_requests",
			Version: "20250501000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tally_payout_requests (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    requested_amount BIGINT NOT NULL CHECK (requested_amount > 0),
    method           TEXT NOT NULL DEFAULT '',
    details          JSONB NOT NULL DEFAULT '{}',
    status           TEXT NOT NULL DEFAULT 'pending',
    processed_by     TEXT NOT NULL DEFAULT '',
    processed_at     TIMESTAMPTZ,
    notes            TEXT NOT NULL DEFAULT '',
    entry_sequence   BIGINT,
    claimed_history  JSONB NOT NULL DEFAULT '[]',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_tally_payouts_user ON tally_payout_requests (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tally_payouts_status ON tally_payout_requests (status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tally_payouts_open ON tally_payout_requests (user_id) WHERE status IN ('pending', 'processing');
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS tally_payout_requests`)
				return err
			},
		},
	)
}
