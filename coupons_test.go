package credits_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gr8r/credits"
	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/guard"
	"github.com/gr8r/credits/types"
)

func offer(user, vendor int64) credits.CouponOffer {
	return credits.CouponOffer{
		UserID:    user,
		VendorID:  vendor,
		Kind:      coupon.DiscountFixed,
		Value:     types.Whole(15),
		CreatedBy: 1,
	}
}

func TestIssueCouponValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		offer credits.CouponOffer
		want  error
	}{
		{"MissingUser", credits.CouponOffer{VendorID: 3, Value: types.Whole(10)}, credits.ErrMissingParams},
		{"MissingVendor", credits.CouponOffer{UserID: 7, Value: types.Whole(10)}, credits.ErrMissingParams},
		{"ZeroValue", credits.CouponOffer{UserID: 7, VendorID: 3}, credits.ErrMissingParams},
		{"NegativeValue", credits.CouponOffer{UserID: 7, VendorID: 3, Value: types.Whole(10).Neg()}, credits.ErrInvalidDiscount},
		{"PercentOverFull", credits.CouponOffer{UserID: 7, VendorID: 3, Kind: coupon.DiscountPercent, Value: types.Whole(150)}, credits.ErrInvalidDiscount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.IssueCoupon(ctx, tt.offer); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIssueCouponCodeShape(t *testing.T) {
	e := newTestEngine(t)

	c, err := e.IssueCoupon(context.Background(), offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(c.Code, "GR8R") {
		t.Errorf("code %q missing prefix", c.Code)
	}
	if !guard.ValidateCouponCodeFormat(c.Code) {
		t.Errorf("generated code %q fails format validation", c.Code)
	}
	if c.Used {
		t.Error("new coupon must not be marked used")
	}
	if c.ExpiresAt.IsZero() {
		t.Error("default expiry was not applied")
	}
}

func TestIssueCouponUnknownUser(t *testing.T) {
	known := func(ctx context.Context, userID int64) (bool, error) {
		return userID == 7, nil
	}
	e := newTestEngine(t, credits.WithUserDirectory(userDirectoryFunc(known)))

	if _, err := e.IssueCoupon(context.Background(), offer(8, 3)); !errors.Is(err, credits.ErrInvalidUser) {
		t.Fatalf("got %v, want ErrInvalidUser", err)
	}
	if _, err := e.IssueCoupon(context.Background(), offer(7, 3)); err != nil {
		t.Fatalf("known user: %v", err)
	}
}

type userDirectoryFunc func(ctx context.Context, userID int64) (bool, error)

func (f userDirectoryFunc) UserExists(ctx context.Context, userID int64) (bool, error) {
	return f(ctx, userID)
}

func TestValidateCouponOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.ValidateCoupon(ctx, "GR8RNOSUCHCODE", 7); !errors.Is(err, credits.ErrCouponNotFound) {
		t.Errorf("unknown code: got %v, want ErrCouponNotFound", err)
	}

	// An expired coupon reports expiry even when it was also used and
	// belongs to someone else.
	o := offer(7, 3)
	o.ExpiresAt = time.Now().UTC().Add(50 * time.Millisecond)
	c, err := e.IssueCoupon(ctx, o)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RedeemCoupon(ctx, c.Code, 7); err != nil {
		t.Fatal(err)
	}
	time.Sleep(80 * time.Millisecond)

	if _, err := e.ValidateCoupon(ctx, c.Code, 42); !errors.Is(err, credits.ErrCouponExpired) {
		t.Errorf("expired+used+wrong user: got %v, want ErrCouponExpired", err)
	}

	// A live used coupon reports prior use before ownership.
	c2, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RedeemCoupon(ctx, c2.Code, 7); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ValidateCoupon(ctx, c2.Code, 42); !errors.Is(err, credits.ErrCouponAlreadyUsed) {
		t.Errorf("used+wrong user: got %v, want ErrCouponAlreadyUsed", err)
	}

	// A live unused coupon for another user reports ownership.
	c3, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ValidateCoupon(ctx, c3.Code, 42); !errors.Is(err, credits.ErrCouponWrongUser) {
		t.Errorf("wrong user: got %v, want ErrCouponWrongUser", err)
	}
}

func TestRedeemCouponExactlyOnce(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	c, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}

	const attempts = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.RedeemCoupon(ctx, c.Code, 7); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners: got %d, want exactly 1", wins)
	}
}

func TestRedeemCouponSetsUsedAt(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	c, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}
	redeemed, err := e.RedeemCoupon(ctx, c.Code, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !redeemed.Used || redeemed.UsedAt == nil {
		t.Errorf("redeemed coupon not marked used: %+v", redeemed)
	}

	if _, err := e.RedeemCoupon(ctx, c.Code, 7); !errors.Is(err, credits.ErrCouponAlreadyUsed) {
		t.Errorf("second redeem: got %v, want ErrCouponAlreadyUsed", err)
	}
}

func TestAttachOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	c, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.AttachOrder(ctx, c.Code, "order-5005"); err != nil {
		t.Fatal(err)
	}

	got, err := e.ValidateCoupon(ctx, c.Code, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got.OrderRef != "order-5005" {
		t.Errorf("order ref: got %q, want order-5005", got.OrderRef)
	}
}

func TestCouponStats(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// Two live, one redeemed, one expired, all for vendor 3; one more
	// for another vendor.
	for i := 0; i < 2; i++ {
		if _, err := e.IssueCoupon(ctx, offer(7, 3)); err != nil {
			t.Fatal(err)
		}
	}
	used, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RedeemCoupon(ctx, used.Code, 7); err != nil {
		t.Fatal(err)
	}
	o := offer(7, 3)
	o.ExpiresAt = time.Now().UTC().Add(-time.Second)
	if _, err := e.IssueCoupon(ctx, o); err != nil {
		t.Fatal(err)
	}
	if _, err := e.IssueCoupon(ctx, offer(7, 9)); err != nil {
		t.Fatal(err)
	}

	stats, err := e.CouponStats(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 4 || stats.Used != 1 || stats.Expired != 1 || stats.Active != 2 {
		t.Errorf("vendor stats: got %+v", stats)
	}

	all, err := e.CouponStats(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 5 {
		t.Errorf("global total: got %d, want 5", all.Total)
	}
}

func TestCleanupExpiredCoupons(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	o := offer(7, 3)
	o.ExpiresAt = time.Now().UTC().Add(50 * time.Millisecond)
	expired, err := e.IssueCoupon(ctx, o)
	if err != nil {
		t.Fatal(err)
	}

	// A redeemed coupon past its expiry stays: it is part of the
	// purchase record.
	o2 := offer(7, 3)
	o2.ExpiresAt = time.Now().UTC().Add(50 * time.Millisecond)
	redeemed, err := e.IssueCoupon(ctx, o2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RedeemCoupon(ctx, redeemed.Code, 7); err != nil {
		t.Fatal(err)
	}

	live, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(80 * time.Millisecond)

	n, err := e.CleanupExpiredCoupons(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleaned: got %d, want 1", n)
	}

	if _, err := e.ValidateCoupon(ctx, expired.Code, 7); !errors.Is(err, credits.ErrCouponNotFound) {
		t.Errorf("expired coupon should be gone: got %v", err)
	}
	if _, err := e.ValidateCoupon(ctx, redeemed.Code, 7); errors.Is(err, credits.ErrCouponNotFound) {
		t.Error("redeemed coupon must survive cleanup")
	}
	if _, err := e.ValidateCoupon(ctx, live.Code, 7); err != nil {
		t.Errorf("live coupon: %v", err)
	}
}

func TestAutoApplyTokenRoundTrip(t *testing.T) {
	e := newTestEngine(t, credits.WithBaseURL("https://shop.example.com/"))
	ctx := context.Background()

	c, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}

	token, err := e.IssueAutoApplyToken(ctx, c.Code, 7)
	if err != nil {
		t.Fatal(err)
	}
	url := e.CouponURL(token)
	want := "https://shop.example.com/apply?token=" + token.ID.String()
	if url != want {
		t.Errorf("url: got %q, want %q", url, want)
	}

	resolved, err := e.ResolveToken(ctx, token.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Code != c.Code {
		t.Errorf("resolved code: got %q, want %q", resolved.Code, c.Code)
	}

	// Tokens are single use.
	if _, err := e.ResolveToken(ctx, token.ID.String()); !errors.Is(err, credits.ErrCouponAlreadyUsed) {
		t.Errorf("second resolve: got %v, want ErrCouponAlreadyUsed", err)
	}
}

func TestResolveTokenGarbage(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.ResolveToken(context.Background(), "not-a-token"); !errors.Is(err, credits.ErrTokenNotFound) {
		t.Fatalf("got %v, want ErrTokenNotFound", err)
	}
}

func TestAutoApplyTokenExpires(t *testing.T) {
	e := newTestEngine(t, credits.WithTokenTTL(50*time.Millisecond))
	ctx := context.Background()

	c, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}
	token, err := e.IssueAutoApplyToken(ctx, c.Code, 7)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(80 * time.Millisecond)

	if _, err := e.ResolveToken(ctx, token.ID.String()); !errors.Is(err, credits.ErrCouponExpired) {
		t.Errorf("expired token: got %v, want ErrCouponExpired", err)
	}

	n, err := e.CleanupExpiredTokens(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleaned tokens: got %d, want 1", n)
	}
}

func TestAutoApplyCandidates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	o := offer(7, 3)
	o.SessionID = "sess42"
	mine, err := e.IssueCoupon(ctx, o)
	if err != nil {
		t.Fatal(err)
	}

	other := offer(8, 3)
	other.SessionID = "sess42"
	if _, err := e.IssueCoupon(ctx, other); err != nil {
		t.Fatal(err)
	}

	got, err := e.AutoApplyCandidates(ctx, "sess42", 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Code != mine.Code {
		t.Errorf("candidates: got %d, want just %q", len(got), mine.Code)
	}

	anon, err := e.AutoApplyCandidates(ctx, "sess42", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(anon) != 2 {
		t.Errorf("anonymous candidates: got %d, want 2", len(anon))
	}

	none, err := e.AutoApplyCandidates(ctx, "", 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("empty session: got %d candidates, want 0", len(none))
	}
}

func TestDeleteCoupon(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	c, err := e.IssueCoupon(ctx, offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteCoupon(ctx, c.Code); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteCoupon(ctx, c.Code); !errors.Is(err, credits.ErrCouponNotFound) {
		t.Errorf("double delete: got %v, want ErrCouponNotFound", err)
	}
}

type upperCaseGenerator struct{ calls int }

func (g *upperCaseGenerator) Name() string          { return "fixed-code" }
func (g *upperCaseGenerator) GeneratorName() string { return "fixed-code" }

func (g *upperCaseGenerator) GenerateCode(userID, vendorID int64, sessionID string) (string, error) {
	g.calls++
	return "GR8RCUSTOMCODE01", nil
}

func TestCodeGeneratorPlugin(t *testing.T) {
	gen := &upperCaseGenerator{}
	e := newTestEngine(t,
		credits.WithPlugin(gen),
		credits.WithCodeGenerator("fixed-code"),
	)

	c, err := e.IssueCoupon(context.Background(), offer(7, 3))
	if err != nil {
		t.Fatal(err)
	}
	if c.Code != "GR8RCUSTOMCODE01" || gen.calls == 0 {
		t.Errorf("custom generator not used: code=%q calls=%d", c.Code, gen.calls)
	}
}
