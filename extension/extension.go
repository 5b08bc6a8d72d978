// Package extension provides the Forge extension adapter for tally.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tally" or "tally" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/tally"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/store/mongo"
	"github.com/xraph/tally/store/postgres"
	"github.com/xraph/tally/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tally"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Tamper-evident tipping and payout ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts tally as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *tally.Ledger
	store      store.Store
	ledgerOpts []tally.Option
	useGrove   bool
}

// New creates a new tally Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *tally.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// resolves the store, initializes the engine, and registers it in the
// DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil && (e.useGrove || e.config.GroveDatabase != "") {
		s, err := e.resolveGroveStore(fapp)
		if err != nil {
			return err
		}
		e.store = s
	}

	// Use memory store if no store was provided or resolved.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = tally.New(e.store, e.buildLedgerOpts()...)

	return vessel.Provide(fapp.Container(), func() (*tally.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("tally: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tally: store not initialized")
	}
	return e.store.Ping(ctx)
}

// resolveGroveStore looks up the configured grove.DB and builds the store
// matching its driver.
func (e *Extension) resolveGroveStore(fapp forge.App) (store.Store, error) {
	var (
		db  *grove.DB
		err error
	)
	if e.config.GroveDatabase != "" {
		db, err = vessel.InjectNamed[*grove.DB](fapp.Container(), e.config.GroveDatabase)
	} else {
		db, err = vessel.Inject[*grove.DB](fapp.Container())
	}
	if err != nil {
		return nil, fmt.Errorf("tally: resolve grove database %q: %w", e.config.GroveDatabase, err)
	}

	s, err := storeFor(db)
	if err != nil {
		return nil, err
	}

	e.Logger().Debug("tally: using grove store",
		forge.F("database", e.config.GroveDatabase),
		forge.F("driver", db.Driver().Name()),
	)
	return s, nil
}

// storeFor picks the store backend for db's driver.
func storeFor(db *grove.DB) (store.Store, error) {
	switch name := db.Driver().Name(); name {
	case "pg":
		return postgres.New(db), nil
	case "sqlite":
		return sqlite.New(db), nil
	case "mongo":
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("tally: unsupported grove driver %q", name)
	}
}

// buildLedgerOpts constructs tally.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []tally.Option {
	cfg := e.config
	opts := make([]tally.Option, 0, len(e.ledgerOpts)+5)

	opts = append(opts,
		tally.WithPayoutPolicy(cfg.Payout),
		tally.WithAppendRetry(cfg.AppendAttempts, cfg.AppendBackoff),
		tally.WithVerifyPageSize(cfg.VerifyPageSize),
		tally.WithHookTimeout(cfg.HookTimeout),
	)

	if cfg.AuditSchedule != "" {
		opts = append(opts, tally.WithAuditSchedule(cfg.AuditSchedule, cfg.AuditTimeout))
	}

	if cfg.DisableMigrate {
		opts = append(opts, tally.WithoutMigrate())
	}

	// Pass-through options go last so they win over config.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tally: configuration is required but not found in config files; " +
				"ensure 'extensions.tally' or 'tally' key exists in your config")
		}

		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tally: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("first_payout_threshold", e.config.Payout.FirstPayoutThreshold),
		forge.F("subsequent_payout_interval", e.config.Payout.SubsequentPayoutInterval),
		forge.F("minimum_payout", e.config.Payout.MinimumPayout),
		forge.F("append_attempts", e.config.AppendAttempts),
		forge.F("audit_schedule", e.config.AuditSchedule),
		forge.F("grove_database", e.config.GroveDatabase),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.tally", "tally"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("tally: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("tally: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Payout.FirstPayoutThreshold == 0 {
		cfg.Payout.FirstPayoutThreshold = defaults.Payout.FirstPayoutThreshold
	}
	if cfg.Payout.SubsequentPayoutInterval == 0 {
		cfg.Payout.SubsequentPayoutInterval = defaults.Payout.SubsequentPayoutInterval
	}
	if cfg.Payout.MinimumPayout == 0 {
		cfg.Payout.MinimumPayout = defaults.Payout.MinimumPayout
	}
	if cfg.AppendAttempts == 0 {
		cfg.AppendAttempts = defaults.AppendAttempts
	}
	if cfg.AppendBackoff == 0 {
		cfg.AppendBackoff = defaults.AppendBackoff
	}
	if cfg.VerifyPageSize == 0 {
		cfg.VerifyPageSize = defaults.VerifyPageSize
	}
	if cfg.AuditTimeout == 0 {
		cfg.AuditTimeout = defaults.AuditTimeout
	}
	if cfg.HookTimeout == 0 {
		cfg.HookTimeout = defaults.HookTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.AuditSchedule == "" {
		yamlConfig.AuditSchedule = programmaticConfig.AuditSchedule
	}
	if yamlConfig.GroveDatabase == "" {
		yamlConfig.GroveDatabase = programmaticConfig.GroveDatabase
	}

	// Numeric fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.Payout.FirstPayoutThreshold == 0 {
		yamlConfig.Payout.FirstPayoutThreshold = programmaticConfig.Payout.FirstPayoutThreshold
	}
	if yamlConfig.Payout.SubsequentPayoutInterval == 0 {
		yamlConfig.Payout.SubsequentPayoutInterval = programmaticConfig.Payout.SubsequentPayoutInterval
	}
	if yamlConfig.Payout.MinimumPayout == 0 {
		yamlConfig.Payout.MinimumPayout = programmaticConfig.Payout.MinimumPayout
	}
	if yamlConfig.AppendAttempts == 0 {
		yamlConfig.AppendAttempts = programmaticConfig.AppendAttempts
	}
	if yamlConfig.AppendBackoff == 0 {
		yamlConfig.AppendBackoff = programmaticConfig.AppendBackoff
	}
	if yamlConfig.VerifyPageSize == 0 {
		yamlConfig.VerifyPageSize = programmaticConfig.VerifyPageSize
	}
	if yamlConfig.AuditTimeout == 0 {
		yamlConfig.AuditTimeout = programmaticConfig.AuditTimeout
	}
	if yamlConfig.HookTimeout == 0 {
		yamlConfig.HookTimeout = programmaticConfig.HookTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
