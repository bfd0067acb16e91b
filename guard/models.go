package guard

import (
	"time"

	"github.com/gr8r/credits/id"
)

// Action names for rate-limited operations. Rules are keyed by action.
type Action string

const (
	ActionCouponApply    Action = "coupon_apply"
	ActionCouponGenerate Action = "coupon_generate"
	ActionAdminActions   Action = "admin_actions"
	ActionSecurityCheck  Action = "security_check"
)

// Event names written to the security log.
const (
	EventRateLimitExceeded      = "rate_limit_exceeded"
	EventUnauthorizedApply      = "unauthorized_coupon_apply"
	EventInvalidCouponRequest   = "invalid_coupon_request"
	EventInvalidCouponFormat    = "invalid_coupon_format"
	EventIPBlocked              = "ip_blocked"
	EventIPUnblocked            = "ip_unblocked"
	EventCouponCreated          = "coupon_created"
	EventCouponApplied          = "coupon_applied"
	EventCouponDeleted          = "coupon_deleted"
	EventCreditAdded            = "credit_added"
	EventCreditDeducted         = "credit_deducted"
	EventCreditsExpired         = "credits_expired"
	EventTokenIssued            = "auto_apply_token_issued"
	EventTokenResolved          = "auto_apply_token_resolved"
	EventUnauthorizedBalanceReq = "unauthorized_balance_request"
)

// abuseEvents are the events that count toward the per-IP auto-block
// window.
var abuseEvents = []string{
	EventRateLimitExceeded,
	EventUnauthorizedApply,
	EventInvalidCouponRequest,
	EventInvalidCouponFormat,
}

// LogEntry is one append-only row in the security log.
type LogEntry struct {
	ID      id.SecurityEventID `json:"id"`
	Time    time.Time          `json:"time"`
	UserID  int64              `json:"user_id"`
	IP      string             `json:"ip"`
	Event   string             `json:"event"`
	Details string             `json:"details,omitempty"`
}

// Rule is a sliding-window rate limit: at most Limit requests per Window
// for each (action, client) pair.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// defaultRules mirror the shipped per-action limits. Unknown actions
// fall back to defaultRule.
var defaultRules = map[Action]Rule{
	ActionCouponApply:    {Limit: 10, Window: 60 * time.Second},
	ActionCouponGenerate: {Limit: 5, Window: 300 * time.Second},
	ActionAdminActions:   {Limit: 50, Window: 60 * time.Second},
	ActionSecurityCheck:  {Limit: 20, Window: 60 * time.Second},
}

var defaultRule = Rule{Limit: 10, Window: 60 * time.Second}
