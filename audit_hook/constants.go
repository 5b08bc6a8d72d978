package audithook

// Action constants for audit events.
const (
	// Ledger actions
	ActionEntryAppended = "entry.appended"

	// Escrow actions
	ActionEscrowAllocated = "escrow.allocated"
	ActionEscrowCredited  = "escrow.credited"
	ActionEscrowClaimed   = "escrow.claimed"

	// Payout actions
	ActionPayoutRequested  = "payout.requested"
	ActionPayoutProcessing = "payout.processing"
	ActionPayoutCompleted  = "payout.completed"
	ActionPayoutRejected   = "payout.rejected"

	// Integrity actions
	ActionChainBroken        = "chain.broken"
	ActionBalanceDiscrepancy = "balance.discrepancy"
	ActionAuditCompleted     = "audit.completed"
)

// Resource constants for audit events.
const (
	ResourceEntry      = "entry"
	ResourceAllocation = "allocation"
	ResourceEscrow     = "escrow"
	ResourcePayout     = "payout"
	ResourceChain      = "chain"
	ResourceHolder     = "holder"
)

// Category constants for audit events.
const (
	CategoryLedger    = "ledger"
	CategoryEscrow    = "escrow"
	CategoryPayment   = "payment"
	CategoryIntegrity = "integrity"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
