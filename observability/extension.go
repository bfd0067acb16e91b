// Package observability provides a metrics extension for the credits
// engine that records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/gr8r/credits/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin           = (*MetricsExtension)(nil)
	_ plugin.OnInit           = (*MetricsExtension)(nil)
	_ plugin.OnCreditAdded    = (*MetricsExtension)(nil)
	_ plugin.OnCreditDeducted = (*MetricsExtension)(nil)
	_ plugin.OnCreditsExpired = (*MetricsExtension)(nil)
	_ plugin.OnCouponIssued   = (*MetricsExtension)(nil)
	_ plugin.OnCouponRedeemed = (*MetricsExtension)(nil)
	_ plugin.OnCouponDeleted  = (*MetricsExtension)(nil)
	_ plugin.OnCouponsCleaned = (*MetricsExtension)(nil)
	_ plugin.OnTokenIssued    = (*MetricsExtension)(nil)
	_ plugin.OnTokenResolved  = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an engine plugin to automatically track credit metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Credit metrics
	CreditAdded        Counter
	CreditDeducted     Counter
	CreditExpiredLines Counter
	ExpirySweepSize    Histogram

	// Coupon metrics
	CouponIssued   Counter
	CouponRedeemed Counter
	CouponDeleted  Counter
	CouponsCleaned Counter

	// Token metrics
	TokenIssued   Counter
	TokenResolved Counter

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Credit metrics
		CreditAdded:        factory.Counter("credits.credit.added"),
		CreditDeducted:     factory.Counter("credits.credit.deducted"),
		CreditExpiredLines: factory.Counter("credits.credit.expired_lines"),
		ExpirySweepSize:    factory.Histogram("credits.expiry.sweep_size"),

		// Coupon metrics
		CouponIssued:   factory.Counter("credits.coupon.issued"),
		CouponRedeemed: factory.Counter("credits.coupon.redeemed"),
		CouponDeleted:  factory.Counter("credits.coupon.deleted"),
		CouponsCleaned: factory.Counter("credits.coupon.cleaned"),

		// Token metrics
		TokenIssued:   factory.Counter("credits.token.issued"),
		TokenResolved: factory.Counter("credits.token.resolved"),

		// Error metrics
		StoreErrors:  factory.Counter("credits.store.errors"),
		PluginErrors: factory.Counter("credits.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Credit lifecycle hooks
// ──────────────────────────────────────────────────

// OnCreditAdded implements plugin.OnCreditAdded.
func (m *MetricsExtension) OnCreditAdded(_ context.Context, _ interface{}) error {
	m.CreditAdded.Inc()
	return nil
}

// OnCreditDeducted implements plugin.OnCreditDeducted.
func (m *MetricsExtension) OnCreditDeducted(_ context.Context, _ interface{}) error {
	m.CreditDeducted.Inc()
	return nil
}

// OnCreditsExpired implements plugin.OnCreditsExpired.
func (m *MetricsExtension) OnCreditsExpired(_ context.Context, count int, _ interface{}) error {
	m.CreditExpiredLines.Add(float64(count))
	m.ExpirySweepSize.Observe(float64(count))
	return nil
}

// ──────────────────────────────────────────────────
// Coupon lifecycle hooks
// ──────────────────────────────────────────────────

// OnCouponIssued implements plugin.OnCouponIssued.
func (m *MetricsExtension) OnCouponIssued(_ context.Context, _ interface{}) error {
	m.CouponIssued.Inc()
	return nil
}

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (m *MetricsExtension) OnCouponRedeemed(_ context.Context, _ interface{}) error {
	m.CouponRedeemed.Inc()
	return nil
}

// OnCouponDeleted implements plugin.OnCouponDeleted.
func (m *MetricsExtension) OnCouponDeleted(_ context.Context, _ string) error {
	m.CouponDeleted.Inc()
	return nil
}

// OnCouponsCleaned implements plugin.OnCouponsCleaned.
func (m *MetricsExtension) OnCouponsCleaned(_ context.Context, count int64) error {
	m.CouponsCleaned.Add(float64(count))
	return nil
}

// ──────────────────────────────────────────────────
// Token lifecycle hooks
// ──────────────────────────────────────────────────

// OnTokenIssued implements plugin.OnTokenIssued.
func (m *MetricsExtension) OnTokenIssued(_ context.Context, _ interface{}) error {
	m.TokenIssued.Inc()
	return nil
}

// OnTokenResolved implements plugin.OnTokenResolved.
func (m *MetricsExtension) OnTokenResolved(_ context.Context, _ interface{}) error {
	m.TokenResolved.Inc()
	return nil
}
