package guard_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gr8r/credits/guard"
	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/store/memory"
)

type failingCounters struct{}

func (failingCounters) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("counter backend down")
}

type failingLogs struct{}

func (failingLogs) AppendSecurityEvent(context.Context, *guard.LogEntry) error { return nil }
func (failingLogs) CountSecurityEvents(context.Context, string, []string, time.Time) (int64, error) {
	return 0, errors.New("log backend down")
}
func (failingLogs) PruneSecurityEvents(context.Context, time.Time) (int64, error) { return 0, nil }
func (failingLogs) BlockIP(context.Context, string, time.Time) error             { return nil }
func (failingLogs) UnblockIP(context.Context, string) error                      { return nil }
func (failingLogs) IsIPBlocked(context.Context, string) (bool, error) {
	return false, errors.New("log backend down")
}

func TestCheckRateLimit(t *testing.T) {
	g := guard.New(memory.New(), guard.NewMemoryCounters(),
		guard.WithRule(guard.ActionCouponApply, 3, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.CheckRateLimit(ctx, guard.ActionCouponApply, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	err := g.CheckRateLimit(ctx, guard.ActionCouponApply, "10.0.0.1")
	if !guard.IsThrottled(err) {
		t.Fatalf("got %v, want ThrottledError", err)
	}
	var te *guard.ThrottledError
	if errors.As(err, &te) && te.RetryAfter != time.Minute {
		t.Errorf("retry after: got %s, want 1m", te.RetryAfter)
	}

	// Another client has its own window.
	if err := g.CheckRateLimit(ctx, guard.ActionCouponApply, "10.0.0.2"); err != nil {
		t.Errorf("other client throttled: %v", err)
	}
}

func TestCheckRateLimitFailsOpen(t *testing.T) {
	g := guard.New(memory.New(), failingCounters{})

	if err := g.CheckRateLimit(context.Background(), guard.ActionCouponApply, "10.0.0.1"); err != nil {
		t.Fatalf("counter outage must not refuse requests: %v", err)
	}
}

func TestIsBlockedFailsOpen(t *testing.T) {
	g := guard.New(failingLogs{}, guard.NewMemoryCounters())

	if g.IsBlocked(context.Background(), "10.0.0.1") {
		t.Fatal("lookup outage must not block requests")
	}
}

func TestRepeatedAbuseBlocksIP(t *testing.T) {
	st := memory.New()
	g := guard.New(st, guard.NewMemoryCounters())
	ctx := context.Background()

	const ip = "203.0.113.9"
	for i := 0; i < 12; i++ {
		g.RecordEvent(ctx, guard.EventInvalidCouponFormat, "garbage code", 0, ip)
	}

	if !g.IsBlocked(ctx, ip) {
		t.Fatal("ip should be block-listed after repeated abuse")
	}

	// Blocks only lift manually.
	if err := g.Unblock(ctx, ip); err != nil {
		t.Fatal(err)
	}
	if g.IsBlocked(ctx, ip) {
		t.Fatal("ip should be clear after manual unblock")
	}
}

func TestBenignEventsNeverBlock(t *testing.T) {
	st := memory.New()
	g := guard.New(st, guard.NewMemoryCounters())
	ctx := context.Background()

	const ip = "203.0.113.10"
	for i := 0; i < 50; i++ {
		g.RecordEvent(ctx, guard.EventCouponApplied, "ok", 7, ip)
	}

	if g.IsBlocked(ctx, ip) {
		t.Fatal("successful applies must not trip the block list")
	}
}

func TestRecordEventAppendsLog(t *testing.T) {
	st := memory.New()
	g := guard.New(st, guard.NewMemoryCounters())

	g.RecordEvent(context.Background(), guard.EventCouponApplied, "code applied", 7, "10.0.0.1")

	entries := st.EventsFor("10.0.0.1")
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Event != guard.EventCouponApplied || e.UserID != 7 || e.Details != "code applied" {
		t.Errorf("entry: %+v", e)
	}
}

func TestPruneLogs(t *testing.T) {
	st := memory.New()
	g := guard.New(st, guard.NewMemoryCounters(), guard.WithLogRetention(time.Hour))
	ctx := context.Background()

	old := &guard.LogEntry{
		ID:    id.NewSecurityEventID(),
		Time:  time.Now().UTC().Add(-2 * time.Hour),
		IP:    "10.0.0.1",
		Event: guard.EventCouponApplied,
	}
	if err := st.AppendSecurityEvent(ctx, old); err != nil {
		t.Fatal(err)
	}
	g.RecordEvent(ctx, guard.EventCouponApplied, "recent", 7, "10.0.0.1")

	n, err := g.PruneLogs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned: got %d, want 1", n)
	}
	if len(st.EventsFor("10.0.0.1")) != 1 {
		t.Error("recent entry must survive the prune")
	}
}

func TestValidateCouponCodeFormat(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"Valid", "GR8R73G1234ABC456", true},
		{"MinLength", "GR8R123456", true},
		{"TooShort", "GR8R12345", false},
		{"TooLong", "GR8R" + strings.Repeat("A", 47), false},
		{"WrongPrefix", "SAVE73G1234ABC456", false},
		{"Lowercase", "GR8R73g1234abc456", false},
		{"Punctuation", "GR8R73G1234-BC456", false},
		{"Empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := guard.ValidateCouponCodeFormat(tt.code); got != tt.want {
				t.Errorf("%q: got %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}
