// Package plugin provides an extensible plugin system for the credits
// engines. Plugins can hook into various lifecycle events to extend
// functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Credit lifecycle hooks
// ──────────────────────────────────────────────────

// OnCreditAdded is called when credit is granted to an account.
type OnCreditAdded interface {
	Plugin
	OnCreditAdded(ctx context.Context, txn interface{}) error
}

// OnCreditDeducted is called when credit is consumed from an account.
type OnCreditDeducted interface {
	Plugin
	OnCreditDeducted(ctx context.Context, txn interface{}) error
}

// OnCreditsExpired is called after an expiry sweep writes offsetting
// debits for lapsed credit lines.
type OnCreditsExpired interface {
	Plugin
	OnCreditsExpired(ctx context.Context, count int, total interface{}) error
}

// ──────────────────────────────────────────────────
// Coupon lifecycle hooks
// ──────────────────────────────────────────────────

// OnCouponIssued is called when a new coupon is created.
type OnCouponIssued interface {
	Plugin
	OnCouponIssued(ctx context.Context, c interface{}) error
}

// OnCouponRedeemed is called when a coupon is successfully redeemed.
type OnCouponRedeemed interface {
	Plugin
	OnCouponRedeemed(ctx context.Context, c interface{}) error
}

// OnCouponDeleted is called when a coupon is deleted.
type OnCouponDeleted interface {
	Plugin
	OnCouponDeleted(ctx context.Context, code string) error
}

// OnCouponsCleaned is called after a cleanup pass removes expired
// unused coupons.
type OnCouponsCleaned interface {
	Plugin
	OnCouponsCleaned(ctx context.Context, count int64) error
}

// ──────────────────────────────────────────────────
// Auto-apply token hooks
// ──────────────────────────────────────────────────

// OnTokenIssued is called when an auto-apply token is issued.
type OnTokenIssued interface {
	Plugin
	OnTokenIssued(ctx context.Context, token interface{}) error
}

// OnTokenResolved is called when an auto-apply token is resolved to its
// coupon.
type OnTokenResolved interface {
	Plugin
	OnTokenResolved(ctx context.Context, token interface{}) error
}

// ──────────────────────────────────────────────────
// Coupon validators
// ──────────────────────────────────────────────────

// CouponValidator provides custom coupon validation logic, run after
// the built-in checks during validation and redemption.
type CouponValidator interface {
	Plugin
	ValidateCoupon(ctx context.Context, c interface{}) error
}

// ──────────────────────────────────────────────────
// Code generators
// ──────────────────────────────────────────────────

// CodeGenerator provides a custom coupon code scheme.
type CodeGenerator interface {
	Plugin
	GeneratorName() string
	GenerateCode(userID, vendorID int64, sessionID string) (string, error)
}
