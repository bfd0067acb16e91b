// Package guard provides rate limiting, abuse detection and the security
// audit log for the credits system.
//
// Guard is an explicitly constructed component: callers build one with
// New and inject it wherever request screening is needed. It defines
// local LogStore and CounterStore interfaces so the package does not
// depend on any concrete backend — the unified store satisfies LogStore,
// and counters can live in memory or Redis.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/gr8r/credits/id"
)

// ErrBlocked is returned for requests from a block-listed IP.
var ErrBlocked = errors.New("guard: ip blocked")

// ThrottledError reports a rate-limit hit and when to retry.
type ThrottledError struct {
	Action     Action
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("guard: rate limit exceeded for %s, retry after %s", e.Action, e.RetryAfter)
}

// IsThrottled reports whether err is a rate-limit hit.
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}

// LogStore is the persistence interface for the security log and the
// IP block list. The unified store satisfies it.
type LogStore interface {
	AppendSecurityEvent(ctx context.Context, e *LogEntry) error
	CountSecurityEvents(ctx context.Context, ip string, events []string, since time.Time) (int64, error)
	PruneSecurityEvents(ctx context.Context, before time.Time) (int64, error)
	BlockIP(ctx context.Context, ip string, at time.Time) error
	UnblockIP(ctx context.Context, ip string) error
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
}

// CounterStore tracks sliding-window request counts per key.
type CounterStore interface {
	// Incr increments the counter for key, starting a fresh window of
	// the given length if none is active, and returns the new count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Guard screens requests: per-action rate limits, a per-IP abuse counter
// with automatic block-listing, and the append-only security log.
type Guard struct {
	logs     LogStore
	counters CounterStore
	logger   *slog.Logger

	rules          map[Action]Rule
	blockThreshold int64
	blockWindow    time.Duration
	logRetention   time.Duration
}

// New creates a Guard backed by the given log and counter stores.
func New(logs LogStore, counters CounterStore, opts ...Option) *Guard {
	g := &Guard{
		logs:           logs,
		counters:       counters,
		logger:         slog.Default(),
		rules:          make(map[Action]Rule, len(defaultRules)),
		blockThreshold: 10,
		blockWindow:    6 * time.Hour,
		logRetention:   30 * 24 * time.Hour,
	}
	for a, r := range defaultRules {
		g.rules[a] = r
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithRule overrides the rate limit for an action.
func WithRule(action Action, limit int64, window time.Duration) Option {
	return func(g *Guard) { g.rules[action] = Rule{Limit: limit, Window: window} }
}

// WithBlockPolicy overrides the auto-block threshold and window.
// An IP is block-listed once it exceeds threshold abuse events within
// the window.
func WithBlockPolicy(threshold int64, window time.Duration) Option {
	return func(g *Guard) {
		g.blockThreshold = threshold
		g.blockWindow = window
	}
}

// WithLogRetention overrides how long security log entries are kept.
func WithLogRetention(d time.Duration) Option {
	return func(g *Guard) { g.logRetention = d }
}

// CheckRateLimit enforces the sliding-window limit for one action and
// client. It returns a ThrottledError on a hit and records the event.
//
// Counter backend failures fail open: the request is allowed and a
// warning is logged. A throttling layer outage must not take coupon
// redemption down with it.
func (g *Guard) CheckRateLimit(ctx context.Context, action Action, clientID string) error {
	rule, ok := g.rules[action]
	if !ok {
		rule = defaultRule
	}

	key := string(action) + ":" + clientID
	count, err := g.counters.Incr(ctx, key, rule.Window)
	if err != nil {
		g.logger.Warn("rate limit check failed, allowing request",
			"action", action,
			"client", clientID,
			"error", err,
		)
		return nil
	}

	if count > rule.Limit {
		g.RecordEvent(ctx, EventRateLimitExceeded,
			fmt.Sprintf("action=%s count=%d limit=%d", action, count, rule.Limit),
			0, clientID)
		return &ThrottledError{Action: action, RetryAfter: rule.Window}
	}
	return nil
}

// RecordEvent appends a security log entry. Abuse events additionally
// count toward the per-IP rolling window; exceeding the threshold
// block-lists the IP until an operator unblocks it.
//
// Logging is best-effort: a failing log store never fails the caller's
// request.
func (g *Guard) RecordEvent(ctx context.Context, event, details string, userID int64, ip string) {
	entry := &LogEntry{
		ID:      id.NewSecurityEventID(),
		Time:    time.Now().UTC(),
		UserID:  userID,
		IP:      ip,
		Event:   event,
		Details: details,
	}
	if err := g.logs.AppendSecurityEvent(ctx, entry); err != nil {
		g.logger.Warn("failed to append security event",
			"event", event,
			"ip", ip,
			"error", err,
		)
		return
	}

	if ip != "" && isAbuseEvent(event) {
		g.maybeBlock(ctx, ip)
	}
}

func isAbuseEvent(event string) bool {
	for _, e := range abuseEvents {
		if e == event {
			return true
		}
	}
	return false
}

func (g *Guard) maybeBlock(ctx context.Context, ip string) {
	since := time.Now().UTC().Add(-g.blockWindow)
	count, err := g.logs.CountSecurityEvents(ctx, ip, abuseEvents, since)
	if err != nil {
		g.logger.Warn("failed to count abuse events", "ip", ip, "error", err)
		return
	}
	if count <= g.blockThreshold {
		return
	}

	if err := g.logs.BlockIP(ctx, ip, time.Now().UTC()); err != nil {
		g.logger.Error("failed to block ip", "ip", ip, "error", err)
		return
	}
	g.logger.Warn("ip block-listed for repeated abuse",
		"ip", ip,
		"events", count,
		"window", g.blockWindow,
	)
	g.RecordEvent(ctx, EventIPBlocked,
		fmt.Sprintf("auto-blocked after %d abuse events", count),
		0, "")
}

// IsBlocked reports whether an IP is on the block list.
// Lookup failures fail open.
func (g *Guard) IsBlocked(ctx context.Context, ip string) bool {
	blocked, err := g.logs.IsIPBlocked(ctx, ip)
	if err != nil {
		g.logger.Warn("block list lookup failed, allowing request", "ip", ip, "error", err)
		return false
	}
	return blocked
}

// Unblock removes an IP from the block list. Blocks are persistent and
// only lift through this call.
func (g *Guard) Unblock(ctx context.Context, ip string) error {
	if err := g.logs.UnblockIP(ctx, ip); err != nil {
		return err
	}
	g.RecordEvent(ctx, EventIPUnblocked, "manual unblock", 0, ip)
	return nil
}

// PruneLogs drops security log entries older than the retention window.
func (g *Guard) PruneLogs(ctx context.Context) (int64, error) {
	before := time.Now().UTC().Add(-g.logRetention)
	return g.logs.PruneSecurityEvents(ctx, before)
}

var codePattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// ValidateCouponCodeFormat checks the shape of a coupon code before any
// lookup: the "GR8R" prefix, 10 to 50 characters, uppercase
// alphanumerics only. It never touches storage.
func ValidateCouponCodeFormat(code string) bool {
	if len(code) < 10 || len(code) > 50 {
		return false
	}
	if code[:4] != "GR8R" {
		return false
	}
	return codePattern.MatchString(code)
}
