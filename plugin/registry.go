package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/integrity"
	"github.com/xraph/tally/payout"
)

// DefaultHookTimeout bounds a single plugin call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onEntryAppended      []OnEntryAppended
	onEscrowAllocated    []OnEscrowAllocated
	onEscrowCredited     []OnEscrowCredited
	onEscrowClaimed      []OnEscrowClaimed
	onPayoutRequested    []OnPayoutRequested
	onPayoutProcessing   []OnPayoutProcessing
	onPayoutCompleted    []OnPayoutCompleted
	onPayoutRejected     []OnPayoutRejected
	payoutGates          []PayoutGate
	onChainBroken        []OnChainBroken
	onBalanceDiscrepancy []OnBalanceDiscrepancy
	onAuditCompleted     []OnAuditCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnEntryAppended); ok {
		r.onEntryAppended = append(r.onEntryAppended, v)
		hooks = append(hooks, "OnEntryAppended")
	}
	if v, ok := p.(OnEscrowAllocated); ok {
		r.onEscrowAllocated = append(r.onEscrowAllocated, v)
		hooks = append(hooks, "OnEscrowAllocated")
	}
	if v, ok := p.(OnEscrowCredited); ok {
		r.onEscrowCredited = append(r.onEscrowCredited, v)
		hooks = append(hooks, "OnEscrowCredited")
	}
	if v, ok := p.(OnEscrowClaimed); ok {
		r.onEscrowClaimed = append(r.onEscrowClaimed, v)
		hooks = append(hooks, "OnEscrowClaimed")
	}
	if v, ok := p.(OnPayoutRequested); ok {
		r.onPayoutRequested = append(r.onPayoutRequested, v)
		hooks = append(hooks, "OnPayoutRequested")
	}
	if v, ok := p.(OnPayoutProcessing); ok {
		r.onPayoutProcessing = append(r.onPayoutProcessing, v)
		hooks = append(hooks, "OnPayoutProcessing")
	}
	if v, ok := p.(OnPayoutCompleted); ok {
		r.onPayoutCompleted = append(r.onPayoutCompleted, v)
		hooks = append(hooks, "OnPayoutCompleted")
	}
	if v, ok := p.(OnPayoutRejected); ok {
		r.onPayoutRejected = append(r.onPayoutRejected, v)
		hooks = append(hooks, "OnPayoutRejected")
	}
	if v, ok := p.(PayoutGate); ok {
		r.payoutGates = append(r.payoutGates, v)
		hooks = append(hooks, "PayoutGate")
	}
	if v, ok := p.(OnChainBroken); ok {
		r.onChainBroken = append(r.onChainBroken, v)
		hooks = append(hooks, "OnChainBroken")
	}
	if v, ok := p.(OnBalanceDiscrepancy); ok {
		r.onBalanceDiscrepancy = append(r.onBalanceDiscrepancy, v)
		hooks = append(hooks, "OnBalanceDiscrepancy")
	}
	if v, ok := p.(OnAuditCompleted); ok {
		r.onAuditCompleted = append(r.onAuditCompleted, v)
		hooks = append(hooks, "OnAuditCompleted")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in the snapshot list. Failures are logged
// and never reach the caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list *[]T, fn func(T) error) {
	r.mu.RLock()
	plugins := *list
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l interface{}) {
	emit(ctx, r, "OnInit", &r.onInit, func(p OnInit) error { return p.OnInit(ctx, l) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", &r.onShutdown, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

func (r *Registry) EmitEntryAppended(ctx context.Context, e *entry.Entry) {
	emit(ctx, r, "OnEntryAppended", &r.onEntryAppended, func(p OnEntryAppended) error {
		return p.OnEntryAppended(ctx, e)
	})
}

func (r *Registry) EmitEscrowAllocated(ctx context.Context, a *escrow.Allocation) {
	emit(ctx, r, "OnEscrowAllocated", &r.onEscrowAllocated, func(p OnEscrowAllocated) error {
		return p.OnEscrowAllocated(ctx, a)
	})
}

func (r *Registry) EmitEscrowCredited(ctx context.Context, h *escrow.HistoryEntry) {
	emit(ctx, r, "OnEscrowCredited", &r.onEscrowCredited, func(p OnEscrowCredited) error {
		return p.OnEscrowCredited(ctx, h)
	})
}

func (r *Registry) EmitEscrowClaimed(ctx context.Context, userID string, res *escrow.MatchResult) {
	emit(ctx, r, "OnEscrowClaimed", &r.onEscrowClaimed, func(p OnEscrowClaimed) error {
		return p.OnEscrowClaimed(ctx, userID, res)
	})
}

func (r *Registry) EmitPayoutRequested(ctx context.Context, req *payout.Request) {
	emit(ctx, r, "OnPayoutRequested", &r.onPayoutRequested, func(p OnPayoutRequested) error {
		return p.OnPayoutRequested(ctx, req)
	})
}

func (r *Registry) EmitPayoutProcessing(ctx context.Context, req *payout.Request) {
	emit(ctx, r, "OnPayoutProcessing", &r.onPayoutProcessing, func(p OnPayoutProcessing) error {
		return p.OnPayoutProcessing(ctx, req)
	})
}

func (r *Registry) EmitPayoutCompleted(ctx context.Context, req *payout.Request, e *entry.Entry) {
	emit(ctx, r, "OnPayoutCompleted", &r.onPayoutCompleted, func(p OnPayoutCompleted) error {
		return p.OnPayoutCompleted(ctx, req, e)
	})
}

func (r *Registry) EmitPayoutRejected(ctx context.Context, req *payout.Request) {
	emit(ctx, r, "OnPayoutRejected", &r.onPayoutRejected, func(p OnPayoutRejected) error {
		return p.OnPayoutRejected(ctx, req)
	})
}

func (r *Registry) EmitChainBroken(ctx context.Context, rep *integrity.Report) {
	emit(ctx, r, "OnChainBroken", &r.onChainBroken, func(p OnChainBroken) error {
		return p.OnChainBroken(ctx, rep)
	})
}

func (r *Registry) EmitBalanceDiscrepancy(ctx context.Context, rec *integrity.Reconciliation) {
	emit(ctx, r, "OnBalanceDiscrepancy", &r.onBalanceDiscrepancy, func(p OnBalanceDiscrepancy) error {
		return p.OnBalanceDiscrepancy(ctx, rec)
	})
}

func (r *Registry) EmitAuditCompleted(ctx context.Context, a *integrity.Audit) {
	emit(ctx, r, "OnAuditCompleted", &r.onAuditCompleted, func(p OnAuditCompleted) error {
		return p.OnAuditCompleted(ctx, a)
	})
}

// ApprovePayout asks every PayoutGate in registration order. The first
// refusal is returned; unlike event hooks, gate errors reach the caller.
func (r *Registry) ApprovePayout(ctx context.Context, req *payout.Request) error {
	r.mu.RLock()
	gates := r.payoutGates
	r.mu.RUnlock()

	for _, g := range gates {
		if err := r.callWithTimeout(ctx, g.Name(), func() error {
			return g.ApprovePayout(ctx, req)
		}); err != nil {
			return fmt.Errorf("plugin %s refused payout: %w", g.Name(), err)
		}
	}
	return nil
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
