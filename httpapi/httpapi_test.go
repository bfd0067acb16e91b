package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gr8r/credits"
	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/guard"
	"github.com/gr8r/credits/httpapi"
	"github.com/gr8r/credits/store/memory"
	"github.com/gr8r/credits/types"
)

const adminToken = "test-admin-token"

type fixture struct {
	engine *credits.Engine
	store  *memory.Store
	guard  *guard.Guard
	srv    *httptest.Server
}

func newFixture(t *testing.T, guardOpts ...guard.Option) *fixture {
	t.Helper()

	st := memory.New()
	e := credits.New(st, credits.WithSweepInterval(0))
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Stop() })

	g := guard.New(st, guard.NewMemoryCounters(), guardOpts...)
	api := httpapi.NewServer(e, g,
		httpapi.WithAdminToken(adminToken),
		httpapi.WithDBHealth(st),
	)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &fixture{engine: e, store: st, guard: g, srv: srv}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind       string `json:"kind"`
		Message    string `json:"message"`
		RetryAfter int64  `json:"retry_after"`
	} `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, *response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var out response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decoding %s %s: %v", method, path, err)
	}
	return res.StatusCode, &out
}

func asAdmin(userID int64) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + adminToken,
		"X-User-ID":     fmt.Sprintf("%d", userID),
	}
}

func asUser(userID int64) map[string]string {
	return map[string]string{"X-User-ID": fmt.Sprintf("%d", userID)}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	status, out := f.do(t, http.MethodGet, "/health", nil, nil)
	if status != http.StatusOK || !out.Success {
		t.Fatalf("health: status=%d success=%v", status, out.Success)
	}
	status, out = f.do(t, http.MethodGet, "/health/db", nil, nil)
	if status != http.StatusOK || !out.Success {
		t.Fatalf("db health: status=%d success=%v", status, out.Success)
	}
}

func TestAddCreditRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	body := map[string]interface{}{
		"user_id": 7, "vendor_id": 3, "service_type": "design", "amount": "50",
	}
	status, out := f.do(t, http.MethodPost, "/api/credits/add", body, asUser(7))
	if status != http.StatusUnauthorized || out.Error == nil || out.Error.Kind != "unauthorized" {
		t.Fatalf("without token: status=%d out=%+v", status, out)
	}

	status, _ = f.do(t, http.MethodPost, "/api/credits/add", body, asAdmin(1))
	if status != http.StatusCreated {
		t.Fatalf("with token: status=%d", status)
	}
}

func TestBalanceFlow(t *testing.T) {
	f := newFixture(t)

	add := map[string]interface{}{
		"user_id": 7, "vendor_id": 3, "service_type": "design", "amount": "50",
	}
	if status, _ := f.do(t, http.MethodPost, "/api/credits/add", add, asAdmin(1)); status != http.StatusCreated {
		t.Fatalf("add: status=%d", status)
	}

	status, out := f.do(t, http.MethodGet, "/api/balance?user=7&vendor=3&service=design", nil, asUser(7))
	if status != http.StatusOK {
		t.Fatalf("balance: status=%d", status)
	}
	var data struct {
		Available types.Amount `json:"available"`
		Total     types.Amount `json:"total"`
	}
	if err := json.Unmarshal(out.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Available != types.Whole(50) || data.Total != types.Whole(50) {
		t.Errorf("balance: got %+v", data)
	}

	// Someone else's balance is off limits without the admin token.
	status, out = f.do(t, http.MethodGet, "/api/balance?user=7&vendor=3&service=design", nil, asUser(8))
	if status != http.StatusForbidden || out.Error == nil {
		t.Fatalf("foreign balance: status=%d out=%+v", status, out)
	}
}

func TestDeductInsufficientEnvelope(t *testing.T) {
	f := newFixture(t)

	add := map[string]interface{}{
		"user_id": 7, "vendor_id": 3, "service_type": "design", "amount": "20",
	}
	if status, _ := f.do(t, http.MethodPost, "/api/credits/add", add, asAdmin(1)); status != http.StatusCreated {
		t.Fatal("add failed")
	}

	deduct := map[string]interface{}{
		"user_id": 7, "vendor_id": 3, "service_type": "design", "amount": "30",
	}
	status, out := f.do(t, http.MethodPost, "/api/credits/deduct", deduct, asAdmin(1))
	if status != http.StatusPaymentRequired {
		t.Fatalf("status: got %d, want 402", status)
	}
	if out.Error == nil || out.Error.Kind != "insufficient_credits" {
		t.Fatalf("error: %+v", out.Error)
	}
}

func TestRedeemFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.engine.IssueCoupon(ctx, credits.CouponOffer{
		UserID: 7, VendorID: 3, Kind: coupon.DiscountFixed, Value: types.Whole(15),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Anonymous redeem is refused.
	status, _ := f.do(t, http.MethodPost, "/api/coupons/redeem", map[string]string{"code": c.Code}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("anonymous: status=%d", status)
	}

	// Garbage codes are rejected before lookup and logged as abuse.
	status, out := f.do(t, http.MethodPost, "/api/coupons/redeem", map[string]string{"code": "lowercase!"}, asUser(7))
	if status != http.StatusBadRequest || out.Error.Kind != "invalid_coupon_format" {
		t.Fatalf("garbage code: status=%d out=%+v", status, out)
	}

	status, out = f.do(t, http.MethodPost, "/api/coupons/redeem", map[string]string{"code": c.Code}, asUser(7))
	if status != http.StatusOK || !out.Success {
		t.Fatalf("redeem: status=%d out=%+v", status, out)
	}

	// The single use is spent.
	status, out = f.do(t, http.MethodPost, "/api/coupons/redeem", map[string]string{"code": c.Code}, asUser(7))
	if status != http.StatusConflict || out.Error.Kind != "coupon_already_used" {
		t.Fatalf("second redeem: status=%d out=%+v", status, out)
	}
}

func TestRedeemRateLimited(t *testing.T) {
	f := newFixture(t, guard.WithRule(guard.ActionCouponApply, 2, time.Minute))

	for i := 0; i < 2; i++ {
		status, _ := f.do(t, http.MethodPost, "/api/coupons/redeem",
			map[string]string{"code": "GR8RNOSUCHCODE"}, asUser(7))
		if status == http.StatusTooManyRequests {
			t.Fatalf("request %d throttled early", i+1)
		}
	}

	status, out := f.do(t, http.MethodPost, "/api/coupons/redeem",
		map[string]string{"code": "GR8RNOSUCHCODE"}, asUser(7))
	if status != http.StatusTooManyRequests {
		t.Fatalf("status: got %d, want 429", status)
	}
	if out.Error == nil || out.Error.Kind != "rate_limited" || out.Error.RetryAfter != 60 {
		t.Fatalf("error: %+v", out.Error)
	}
}

func TestBlockedIPRefused(t *testing.T) {
	f := newFixture(t)

	if err := f.store.BlockIP(context.Background(), "127.0.0.1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	status, out := f.do(t, http.MethodGet, "/health", nil, nil)
	if status != http.StatusForbidden || out.Error == nil || out.Error.Kind != "blocked" {
		t.Fatalf("blocked ip: status=%d out=%+v", status, out)
	}
}

func TestIssueListDeleteCoupon(t *testing.T) {
	f := newFixture(t)

	issue := map[string]interface{}{
		"user_id": 7, "vendor_id": 3, "kind": "fixed", "value": "15",
	}
	status, out := f.do(t, http.MethodPost, "/api/coupons", issue, asAdmin(1))
	if status != http.StatusCreated {
		t.Fatalf("issue: status=%d out=%+v", status, out)
	}
	var issued coupon.Coupon
	if err := json.Unmarshal(out.Data, &issued); err != nil {
		t.Fatal(err)
	}

	status, out = f.do(t, http.MethodGet, "/api/coupons?user=7", nil, asUser(7))
	if status != http.StatusOK {
		t.Fatalf("list: status=%d", status)
	}
	var list []*coupon.Coupon
	if err := json.Unmarshal(out.Data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Code != issued.Code {
		t.Fatalf("list: %+v", list)
	}

	status, _ = f.do(t, http.MethodDelete, "/api/coupons/"+issued.Code, nil, asAdmin(1))
	if status != http.StatusOK {
		t.Fatalf("delete: status=%d", status)
	}
	status, out = f.do(t, http.MethodDelete, "/api/coupons/"+issued.Code, nil, asAdmin(1))
	if status != http.StatusNotFound || out.Error.Kind != "not_found" {
		t.Fatalf("double delete: status=%d out=%+v", status, out)
	}
}

func TestCouponStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.engine.IssueCoupon(ctx, credits.CouponOffer{
			UserID: 7, VendorID: 3, Value: types.Whole(10),
		}); err != nil {
			t.Fatal(err)
		}
	}

	status, out := f.do(t, http.MethodGet, "/api/coupons/stats?vendor=3", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("stats: status=%d", status)
	}
	var stats coupon.Stats
	if err := json.Unmarshal(out.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Active != 3 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestApplyTokenEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.engine.IssueCoupon(ctx, credits.CouponOffer{
		UserID: 7, VendorID: 3, Value: types.Whole(15),
	})
	if err != nil {
		t.Fatal(err)
	}
	token, err := f.engine.IssueAutoApplyToken(ctx, c.Code, 7)
	if err != nil {
		t.Fatal(err)
	}

	status, out := f.do(t, http.MethodGet, "/apply?token="+token.ID.String(), nil, nil)
	if status != http.StatusOK {
		t.Fatalf("apply: status=%d out=%+v", status, out)
	}
	var got coupon.Coupon
	if err := json.Unmarshal(out.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Code != c.Code {
		t.Errorf("resolved code: got %q, want %q", got.Code, c.Code)
	}

	status, out = f.do(t, http.MethodGet, "/apply?token="+token.ID.String(), nil, nil)
	if status != http.StatusConflict || out.Error.Kind != "coupon_already_used" {
		t.Fatalf("second resolve: status=%d out=%+v", status, out)
	}
}
