package credits_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/gr8r/credits"
	"github.com/gr8r/credits/coupon"
	"github.com/gr8r/credits/store/memory"
	"github.com/gr8r/credits/types"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation compile and behave as described.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Initialize the engine
		e := credits.New(store,
			credits.WithLogger(slog.Default()),
			credits.WithSweepInterval(time.Hour),
			credits.WithBalanceCacheTTL(time.Minute),
		)

		// Start the engine
		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()

		// Grant credit after a purchase
		txn, err := e.AddCredit(ctx, credits.CreditGrant{
			UserID:      42,
			VendorID:    7,
			ServiceType: "design",
			Amount:      types.Whole(50), // 50.00 credits
			Reference:   "order-1001",
			CreatedBy:   1,
		})
		if err != nil {
			t.Fatal(err)
		}
		if txn.Amount != types.Whole(50) {
			t.Errorf("grant amount: got %s", txn.Amount)
		}

		// Spend some of it
		if _, err := e.DeductCredit(ctx, credits.CreditCharge{
			UserID:      42,
			VendorID:    7,
			ServiceType: "design",
			Amount:      types.Whole(20),
			Reference:   "job-88",
			CreatedBy:   42,
		}); err != nil {
			t.Fatal(err)
		}

		// Check what is left
		available, err := e.AvailableBalance(ctx, 42, 7, "design")
		if err != nil {
			t.Fatal(err)
		}
		if available != types.Whole(30) {
			t.Errorf("available: got %s, want %s", available, types.Whole(30))
		}

		// Issue a coupon and redeem it
		c, err := e.IssueCoupon(ctx, credits.CouponOffer{
			UserID:   42,
			VendorID: 7,
			Kind:     coupon.DiscountPercent,
			Value:    types.Whole(10), // 10% off
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.RedeemCoupon(ctx, c.Code, 42); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("AmountExamples", func(t *testing.T) {
		// Amounts are integer hundredths of a credit.
		if types.Whole(50) != types.Credits(5000) {
			t.Error("Whole(50) should equal Credits(5000)")
		}
		parsed, err := types.ParseAmount("30.50")
		if err != nil {
			t.Fatal(err)
		}
		if parsed != types.Credits(3050) {
			t.Errorf("ParseAmount: got %d", parsed)
		}
	})
}
