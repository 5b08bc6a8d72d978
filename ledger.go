package tally

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/tally/integrity"
	"github.com/xraph/tally/payout"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/store"
)

// Ledger is the tally engine: the append path of the hash chain, escrow
// allocation and matching, the payout workflow, and integrity auditing.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	verifier   *integrity.Verifier
	reconciler *integrity.Reconciler

	// Background auditor
	mu        sync.Mutex
	scheduler *cron.Cron

	// Configuration
	policy         payout.Policy
	appendAttempts uint
	appendBackoff  time.Duration
	verifyPageSize int
	auditSchedule  string
	auditTimeout   time.Duration
	skipMigrate    bool
	clock          func() time.Time
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:          s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		policy:         payout.DefaultPolicy(),
		appendAttempts: 10,
		appendBackoff:  5 * time.Millisecond,
		verifyPageSize: integrity.DefaultPageSize,
		auditTimeout:   5 * time.Minute,
		clock:          time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.verifier = integrity.NewVerifier(s, l.verifyPageSize)
	l.reconciler = integrity.NewReconciler(s)

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithHookTimeout bounds each plugin call.
func WithHookTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.plugins.WithTimeout(d)
	}
}

// WithPayoutPolicy replaces the payout thresholds.
func WithPayoutPolicy(p payout.Policy) Option {
	return func(l *Ledger) {
		l.policy = p
	}
}

// WithAppendRetry configures how often a write that lost the race for the
// chain tail is retried, and the initial backoff between attempts.
func WithAppendRetry(attempts uint, backoff time.Duration) Option {
	return func(l *Ledger) {
		if attempts > 0 {
			l.appendAttempts = attempts
		}
		l.appendBackoff = backoff
	}
}

// WithVerifyPageSize sets how many entries the verifier reads per page.
func WithVerifyPageSize(n int) Option {
	return func(l *Ledger) {
		l.verifyPageSize = n
	}
}

// WithAuditSchedule runs a full audit on a cron schedule while the ledger
// is started, e.g. "@hourly" or "0 3 * * *".
func WithAuditSchedule(spec string, timeout time.Duration) Option {
	return func(l *Ledger) {
		l.auditSchedule = spec
		if timeout > 0 {
			l.auditTimeout = timeout
		}
	}
}

// WithoutMigrate makes Start skip store migrations, for deployments that
// manage the schema out of band.
func WithoutMigrate() Option {
	return func(l *Ledger) {
		l.skipMigrate = true
	}
}

// WithClock overrides the wall clock used for entry and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = now
	}
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Policy returns the active payout policy.
func (l *Ledger) Policy() payout.Policy { return l.policy }

// Start migrates the store, initializes plugins and starts the scheduled
// auditor when one is configured.
func (l *Ledger) Start(ctx context.Context) error {
	if !l.skipMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	// Initialize plugins
	l.plugins.EmitInit(ctx, l)

	if err := l.startAuditor(); err != nil {
		return err
	}

	l.logger.Info("tally started",
		"audit_schedule", l.auditSchedule,
		"append_attempts", l.appendAttempts,
		"first_payout_threshold", l.policy.FirstPayoutThreshold,
	)

	return nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	l.stopAuditor()

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// now returns the current time in UTC at the precision every backend can
// store exactly.
func (l *Ledger) now() time.Time {
	return l.clock().UTC().Truncate(time.Microsecond)
}
