package audithook

// Action constants for audit events.
const (
	// Credit actions
	ActionCreditAdded    = "credit.added"
	ActionCreditDeducted = "credit.deducted"
	ActionCreditsExpired = "credit.expired"

	// Coupon actions
	ActionCouponIssued   = "coupon.issued"
	ActionCouponRedeemed = "coupon.redeemed"
	ActionCouponDeleted  = "coupon.deleted"
	ActionCouponsCleaned = "coupon.cleaned"

	// Token actions
	ActionTokenIssued   = "token.issued"
	ActionTokenResolved = "token.resolved"
)

// Resource constants for audit events.
const (
	ResourceCredit = "credit"
	ResourceCoupon = "coupon"
	ResourceToken  = "token"
)

// Category constants for audit events.
const (
	CategoryLedger   = "ledger"
	CategoryCoupon   = "coupon"
	CategorySecurity = "security"
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
