// Package audithook bridges credits lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend
// on any particular backend. Callers inject a RecorderFunc adapter that
// bridges to their audit sink at wiring time — typically the guard
// package's security log.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/ledger"
	"github.com/gr8r/credits/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin           = (*Extension)(nil)
	_ plugin.OnCreditAdded    = (*Extension)(nil)
	_ plugin.OnCreditDeducted = (*Extension)(nil)
	_ plugin.OnCreditsExpired = (*Extension)(nil)
	_ plugin.OnCouponIssued   = (*Extension)(nil)
	_ plugin.OnCouponRedeemed = (*Extension)(nil)
	_ plugin.OnCouponDeleted  = (*Extension)(nil)
	_ plugin.OnCouponsCleaned = (*Extension)(nil)
	_ plugin.OnTokenIssued    = (*Extension)(nil)
	_ plugin.OnTokenResolved  = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	UserID     int64          `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credits lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Credit lifecycle hooks
// ──────────────────────────────────────────────────

// OnCreditAdded implements plugin.OnCreditAdded.
func (e *Extension) OnCreditAdded(ctx context.Context, v interface{}) error {
	t, _ := v.(*ledger.Transaction)
	return e.record(ctx, ActionCreditAdded, SeverityInfo, OutcomeSuccess,
		ResourceCredit, transactionID(t), transactionUser(t), CategoryLedger, nil,
		"event", "credit_added",
		"amount", transactionAmount(t),
	)
}

// OnCreditDeducted implements plugin.OnCreditDeducted.
func (e *Extension) OnCreditDeducted(ctx context.Context, v interface{}) error {
	t, _ := v.(*ledger.Transaction)
	return e.record(ctx, ActionCreditDeducted, SeverityInfo, OutcomeSuccess,
		ResourceCredit, transactionID(t), transactionUser(t), CategoryLedger, nil,
		"event", "credit_deducted",
		"amount", transactionAmount(t),
	)
}

// OnCreditsExpired implements plugin.OnCreditsExpired.
func (e *Extension) OnCreditsExpired(ctx context.Context, count int, total interface{}) error {
	return e.record(ctx, ActionCreditsExpired, SeverityInfo, OutcomeSuccess,
		ResourceCredit, "", 0, CategoryLedger, nil,
		"event", "credits_expired",
		"lines", count,
		"total", fmt.Sprintf("%v", total),
	)
}

// ──────────────────────────────────────────────────
// Coupon lifecycle hooks
// ──────────────────────────────────────────────────

// OnCouponIssued implements plugin.OnCouponIssued.
func (e *Extension) OnCouponIssued(ctx context.Context, v interface{}) error {
	c, _ := v.(*coupon.Coupon)
	return e.record(ctx, ActionCouponIssued, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, couponCode(c), couponUser(c), CategoryCoupon, nil,
		"event", "coupon_issued",
	)
}

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (e *Extension) OnCouponRedeemed(ctx context.Context, v interface{}) error {
	c, _ := v.(*coupon.Coupon)
	return e.record(ctx, ActionCouponRedeemed, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, couponCode(c), couponUser(c), CategoryCoupon, nil,
		"event", "coupon_redeemed",
	)
}

// OnCouponDeleted implements plugin.OnCouponDeleted.
func (e *Extension) OnCouponDeleted(ctx context.Context, code string) error {
	return e.record(ctx, ActionCouponDeleted, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, code, 0, CategoryCoupon, nil,
		"event", "coupon_deleted",
	)
}

// OnCouponsCleaned implements plugin.OnCouponsCleaned.
func (e *Extension) OnCouponsCleaned(ctx context.Context, count int64) error {
	return e.record(ctx, ActionCouponsCleaned, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, "", 0, CategoryCoupon, nil,
		"event", "coupons_cleaned",
		"count", count,
	)
}

// ──────────────────────────────────────────────────
// Token lifecycle hooks
// ──────────────────────────────────────────────────

// OnTokenIssued implements plugin.OnTokenIssued.
func (e *Extension) OnTokenIssued(ctx context.Context, v interface{}) error {
	t, _ := v.(*coupon.AutoApplyToken)
	return e.record(ctx, ActionTokenIssued, SeverityInfo, OutcomeSuccess,
		ResourceToken, tokenID(t), tokenUser(t), CategorySecurity, nil,
		"event", "token_issued",
	)
}

// OnTokenResolved implements plugin.OnTokenResolved.
func (e *Extension) OnTokenResolved(ctx context.Context, v interface{}) error {
	t, _ := v.(*coupon.AutoApplyToken)
	return e.record(ctx, ActionTokenResolved, SeverityInfo, OutcomeSuccess,
		ResourceToken, tokenID(t), tokenUser(t), CategorySecurity, nil,
		"event", "token_resolved",
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func transactionID(t *ledger.Transaction) string {
	if t == nil {
		return ""
	}
	return t.ID.String()
}

func transactionUser(t *ledger.Transaction) int64 {
	if t == nil {
		return 0
	}
	return t.CreatedBy
}

func transactionAmount(t *ledger.Transaction) string {
	if t == nil {
		return ""
	}
	return t.Amount.String()
}

func couponCode(c *coupon.Coupon) string {
	if c == nil {
		return ""
	}
	return c.Code
}

func couponUser(c *coupon.Coupon) int64 {
	if c == nil {
		return 0
	}
	return c.UserID
}

func tokenID(t *coupon.AutoApplyToken) string {
	if t == nil {
		return ""
	}
	return t.ID.String()
}

func tokenUser(t *coupon.AutoApplyToken) int64 {
	if t == nil {
		return 0
	}
	return t.UserID
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID string,
	userID int64,
	category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		UserID:     userID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
