package constants

// Registration status
const (
	RegistrationStatusActive    = "active"
	RegistrationStatusCancelled = "cancelled"
)

// Group status
const (
	GroupStatusActive    = "active"
	GroupStatusCancelled = "cancelled"
)

// Payment settlement status
const (
	PaymentStatusPending           = "pending"
	PaymentStatusConfirmed         = "confirmed"
	PaymentStatusPartiallyRefunded = "partially_refunded"
	PaymentStatusRefunded          = "refunded"
)

// Refund record status
const (
	RefundStatusRequested = "requested"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
)

// Registration option status
const (
	OptionStatusConfirmed = "confirmed"
	OptionStatusCancelled = "cancelled"
)

// Ledger movement kinds
const (
	MovementPayment       = "payment"
	MovementRefund        = "refund"
	MovementFeeAdjustment = "fee_adjustment"
	MovementPayout        = "payout"
)

// Refund policy tiers, named by the lower bound of their days-before-event band.
const (
	TierT30Plus = "T30+"
	TierT15     = "T15"
	TierT7      = "T7"
	TierT3      = "T3"
	TierT0      = "T0"
)

// Machine-readable conflict codes surfaced to callers.
const (
	ConflictTeamPayment     = "team_payment"
	ConflictAlreadyRefunded = "already_refunded"
	ConflictNothingToRefund = "nothing_to_refund"
	ConflictNoRefundAllowed = "no_refund_allowed"
)

// SettlementCurrency is the single settlement currency. All amounts are integer
// minor units (cents) of this currency.
const SettlementCurrency = "EUR"

// Service token scopes.
const (
	ScopeBilling = "billing"
	ScopeFeeSync = "fee_sync"
)

// Async task type names.
const (
	TaskRefundEmail     = "refund:email"
	TaskRefundReconcile = "refund:reconcile"
	TaskInvoiceEmail    = "invoice:email"
)

// Queue names.
const (
	QueueDefault  = "default"
	QueueCritical = "critical"
)
