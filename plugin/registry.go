package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit           []OnInit
	onShutdown       []OnShutdown
	onCreditAdded    []OnCreditAdded
	onCreditDeducted []OnCreditDeducted
	onCreditsExpired []OnCreditsExpired
	onCouponIssued   []OnCouponIssued
	onCouponRedeemed []OnCouponRedeemed
	onCouponDeleted  []OnCouponDeleted
	onCouponsCleaned []OnCouponsCleaned
	onTokenIssued    []OnTokenIssued
	onTokenResolved  []OnTokenResolved
	couponValidators []CouponValidator
	codeGenerators   map[string]CodeGenerator
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:         slog.Default(),
		codeGenerators: make(map[string]CodeGenerator),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
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

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnCreditAdded); ok {
		r.onCreditAdded = append(r.onCreditAdded, v)
	}
	if v, ok := p.(OnCreditDeducted); ok {
		r.onCreditDeducted = append(r.onCreditDeducted, v)
	}
	if v, ok := p.(OnCreditsExpired); ok {
		r.onCreditsExpired = append(r.onCreditsExpired, v)
	}
	if v, ok := p.(OnCouponIssued); ok {
		r.onCouponIssued = append(r.onCouponIssued, v)
	}
	if v, ok := p.(OnCouponRedeemed); ok {
		r.onCouponRedeemed = append(r.onCouponRedeemed, v)
	}
	if v, ok := p.(OnCouponDeleted); ok {
		r.onCouponDeleted = append(r.onCouponDeleted, v)
	}
	if v, ok := p.(OnCouponsCleaned); ok {
		r.onCouponsCleaned = append(r.onCouponsCleaned, v)
	}
	if v, ok := p.(OnTokenIssued); ok {
		r.onTokenIssued = append(r.onTokenIssued, v)
	}
	if v, ok := p.(OnTokenResolved); ok {
		r.onTokenResolved = append(r.onTokenResolved, v)
	}
	if v, ok := p.(CouponValidator); ok {
		r.couponValidators = append(r.couponValidators, v)
	}
	if v, ok := p.(CodeGenerator); ok {
		r.codeGenerators[v.GeneratorName()] = v
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnCreditAdded)(nil)).Elem(), "OnCreditAdded")
	checkInterface(reflect.TypeOf((*OnCreditDeducted)(nil)).Elem(), "OnCreditDeducted")
	checkInterface(reflect.TypeOf((*OnCreditsExpired)(nil)).Elem(), "OnCreditsExpired")
	checkInterface(reflect.TypeOf((*OnCouponIssued)(nil)).Elem(), "OnCouponIssued")
	checkInterface(reflect.TypeOf((*OnCouponRedeemed)(nil)).Elem(), "OnCouponRedeemed")
	checkInterface(reflect.TypeOf((*OnTokenIssued)(nil)).Elem(), "OnTokenIssued")
	checkInterface(reflect.TypeOf((*CouponValidator)(nil)).Elem(), "CouponValidator")
	checkInterface(reflect.TypeOf((*CodeGenerator)(nil)).Elem(), "CodeGenerator")

	return interfaces
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

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditAdded emits a credit added event.
func (r *Registry) EmitCreditAdded(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onCreditAdded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditAdded(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnCreditAdded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditDeducted emits a credit deducted event.
func (r *Registry) EmitCreditDeducted(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onCreditDeducted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditDeducted(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnCreditDeducted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsExpired emits a credits expired event.
func (r *Registry) EmitCreditsExpired(ctx context.Context, count int, total interface{}) {
	r.mu.RLock()
	plugins := r.onCreditsExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsExpired(ctx, count, total)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsExpired failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCouponIssued emits a coupon issued event.
func (r *Registry) EmitCouponIssued(ctx context.Context, c interface{}) {
	r.mu.RLock()
	plugins := r.onCouponIssued
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCouponIssued(ctx, c)
		}); err != nil {
			r.logger.Warn("plugin OnCouponIssued failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCouponRedeemed emits a coupon redeemed event.
func (r *Registry) EmitCouponRedeemed(ctx context.Context, c interface{}) {
	r.mu.RLock()
	plugins := r.onCouponRedeemed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCouponRedeemed(ctx, c)
		}); err != nil {
			r.logger.Warn("plugin OnCouponRedeemed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCouponDeleted emits a coupon deleted event.
func (r *Registry) EmitCouponDeleted(ctx context.Context, code string) {
	r.mu.RLock()
	plugins := r.onCouponDeleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCouponDeleted(ctx, code)
		}); err != nil {
			r.logger.Warn("plugin OnCouponDeleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCouponsCleaned emits a coupons cleaned event.
func (r *Registry) EmitCouponsCleaned(ctx context.Context, count int64) {
	r.mu.RLock()
	plugins := r.onCouponsCleaned
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCouponsCleaned(ctx, count)
		}); err != nil {
			r.logger.Warn("plugin OnCouponsCleaned failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTokenIssued emits a token issued event.
func (r *Registry) EmitTokenIssued(ctx context.Context, token interface{}) {
	r.mu.RLock()
	plugins := r.onTokenIssued
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTokenIssued(ctx, token)
		}); err != nil {
			r.logger.Warn("plugin OnTokenIssued failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTokenResolved emits a token resolved event.
func (r *Registry) EmitTokenResolved(ctx context.Context, token interface{}) {
	r.mu.RLock()
	plugins := r.onTokenResolved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTokenResolved(ctx, token)
		}); err != nil {
			r.logger.Warn("plugin OnTokenResolved failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// GetCouponValidators returns all registered coupon validators.
func (r *Registry) GetCouponValidators() []CouponValidator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]CouponValidator, len(r.couponValidators))
	copy(result, r.couponValidators)
	return result
}

// GetCodeGenerator returns a code generator by name.
func (r *Registry) GetCodeGenerator(name string) CodeGenerator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codeGenerators[name]
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the credit pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
