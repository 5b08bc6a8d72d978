package extension

import (
	"time"

	"github.com/xraph/tally"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/store"
)

// Option configures the tally Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a tally.Option through to the underlying engine.
func WithLedgerOption(opt tally.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a tally plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, tally.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithPayoutPolicy sets the payout eligibility thresholds.
func WithPayoutPolicy(p payout.Policy) Option {
	return func(e *Extension) { e.config.Payout = p }
}

// WithAppendRetry sets how appends that lose the race for the chain tail
// are retried.
func WithAppendRetry(attempts uint, backoff time.Duration) Option {
	return func(e *Extension) {
		e.config.AppendAttempts = attempts
		e.config.AppendBackoff = backoff
	}
}

// WithAuditSchedule runs a background integrity audit on the given cron spec.
func WithAuditSchedule(spec string, timeout time.Duration) Option {
	return func(e *Extension) {
		e.config.AuditSchedule = spec
		e.config.AuditTimeout = timeout
	}
}

// WithHookTimeout bounds each plugin call.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.HookTimeout = d }
}

// WithGroveDatabase sets the name of the grove.DB to resolve from the DI container.
// The extension will auto-construct the appropriate store backend (postgres/sqlite/mongo)
// based on the grove driver type. Pass an empty string to use the default (unnamed) grove.DB.
func WithGroveDatabase(name string) Option {
	return func(e *Extension) {
		e.config.GroveDatabase = name
		e.useGrove = true
	}
}
