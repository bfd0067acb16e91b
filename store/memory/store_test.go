package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gr8r/credits"
	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/ledger"
	"github.com/gr8r/credits/types"
)

func testCoupon(code string) *coupon.Coupon {
	return &coupon.Coupon{
		Entity:    types.NewEntity(),
		ID:        id.NewCouponID(),
		Code:      code,
		UserID:    7,
		VendorID:  3,
		Kind:      coupon.DiscountFixed,
		Value:     types.Whole(15),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
}

func TestCreateCouponDuplicateCode(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateCoupon(ctx, testCoupon("GR8RDUPLICATE1")); err != nil {
		t.Fatal(err)
	}
	err := s.CreateCoupon(ctx, testCoupon("GR8RDUPLICATE1"))
	if !errors.Is(err, credits.ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
}

func TestMarkCouponUsedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateCoupon(ctx, testCoupon("GR8RCASCHECK1")); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkCouponUsed(ctx, "GR8RCASCHECK1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	err := s.MarkCouponUsed(ctx, "GR8RCASCHECK1", time.Now().UTC())
	if !errors.Is(err, credits.ErrCouponAlreadyUsed) {
		t.Fatalf("second mark: got %v, want ErrCouponAlreadyUsed", err)
	}

	err = s.MarkCouponUsed(ctx, "GR8RNOSUCHCODE", time.Now().UTC())
	if !errors.Is(err, credits.ErrCouponNotFound) {
		t.Fatalf("unknown code: got %v, want ErrCouponNotFound", err)
	}
}

func TestReturnedCouponsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateCoupon(ctx, testCoupon("GR8RCOPYCHECK1")); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCoupon(ctx, "GR8RCOPYCHECK1")
	if err != nil {
		t.Fatal(err)
	}
	got.Used = true
	got.Code = "mutated"

	again, err := s.GetCoupon(ctx, "GR8RCOPYCHECK1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Used || again.Code != "GR8RCOPYCHECK1" {
		t.Error("mutating a returned coupon must not change the stored one")
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	account, err := s.GetOrCreateAccount(ctx, 7, 3, "design")
	if err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		txn := &ledger.Transaction{
			Entity:    types.Entity{CreatedAt: at, UpdatedAt: at},
			ID:        id.NewTransactionID(),
			AccountID: account.ID,
			Kind:      ledger.KindCredit,
			Amount:    types.Whole(10),
		}
		if err := s.CreateCredit(ctx, txn); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, txn.ID.String())
	}

	txns, err := s.ListTransactions(ctx, account.ID, ledger.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 3 {
		t.Fatalf("transactions: got %d, want 3", len(txns))
	}
	if txns[0].ID.String() != ids[2] || txns[2].ID.String() != ids[0] {
		t.Error("transactions must list newest first")
	}
}
