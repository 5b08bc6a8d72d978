package extension

import (
	"time"

	"github.com/xraph/tally/payout"
)

// Config holds the tally extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tally" or "tally" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Payout holds the eligibility thresholds, in pence.
	Payout payout.Policy `json:"payout" mapstructure:"payout" yaml:"payout"`

	// AppendAttempts bounds how often a write that lost the race for the
	// chain tail is retried (default: 10).
	AppendAttempts uint `json:"append_attempts" mapstructure:"append_attempts" yaml:"append_attempts"`

	// AppendBackoff is the initial wait between append retries (default: 5ms).
	AppendBackoff time.Duration `json:"append_backoff" mapstructure:"append_backoff" yaml:"append_backoff"`

	// VerifyPageSize is how many entries the verifier reads per page
	// (default: 500).
	VerifyPageSize int `json:"verify_page_size" mapstructure:"verify_page_size" yaml:"verify_page_size"`

	// AuditSchedule is a cron spec for the background integrity audit,
	// e.g. "@hourly". Empty disables it.
	AuditSchedule string `json:"audit_schedule" mapstructure:"audit_schedule" yaml:"audit_schedule"`

	// AuditTimeout bounds one scheduled audit run (default: 5m).
	AuditTimeout time.Duration `json:"audit_timeout" mapstructure:"audit_timeout" yaml:"audit_timeout"`

	// HookTimeout bounds each plugin call (default: 5s).
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// GroveDatabase is the name of a grove.DB registered in the DI container.
	// When set, the extension resolves this named database and auto-constructs
	// the appropriate store based on the driver type (pg/sqlite/mongo).
	// When empty and WithGroveDatabase was called, the default (unnamed) DB is used.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Payout:         payout.DefaultPolicy(),
		AppendAttempts: 10,
		AppendBackoff:  5 * time.Millisecond,
		VerifyPageSize: 500,
		AuditTimeout:   5 * time.Minute,
		HookTimeout:    5 * time.Second,
	}
}
