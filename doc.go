// Package credits provides a marketplace credit and coupon engine for Go
// applications.
//
// Credits is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - Append-only credit ledger with per-(user, vendor, service) accounts
//   - Oldest-first consumption of expiring credit lines
//   - Automatic expiry sweeps that reverse lapsed credit
//   - Single-use, time-boxed coupons bound to a user, vendor, and session
//   - Auto-apply links backed by short-lived tokens
//   - Rate limiting, abuse tracking, and IP blocking via the guard package
//   - Pluggable lifecycle hooks for audit and metrics
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/gr8r/credits"
//	    "github.com/gr8r/credits/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.Open(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create engine
//	eng := credits.New(store)
//
//	// Start the engine (runs migrations, begins background workers)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Credit is granted and consumed per (user, vendor, service) account:
//
//	eng.AddCredit(ctx, credits.CreditGrant{
//	    UserID:   42,
//	    VendorID: 7,
//	    Amount:   credits.Whole(50),
//	    ExpiresAt: &expiry,
//	})
//
//	eng.DeductCredit(ctx, credits.CreditCharge{
//	    UserID:   42,
//	    VendorID: 7,
//	    Amount:   credits.Whole(30),
//	})
//
// Every balance is the signed sum of an append-only transaction history.
// Nothing is ever updated in place: expiry writes an offsetting debit, and
// each debit records which credit lines it drew from.
//
// Coupons are single-use discounts bound to a user:
//
//	c, err := eng.IssueCoupon(ctx, credits.CouponOffer{
//	    UserID:   42,
//	    VendorID: 7,
//	    Kind:     coupon.DiscountPercent,
//	    Value:    credits.Whole(10), // 10%
//	})
//
//	redeemed, err := eng.RedeemCoupon(ctx, c.Code, 42)
//
// Of any number of concurrent redemption attempts on the same code,
// exactly one succeeds.
//
// # Amounts
//
// All monetary calculations use integer arithmetic to avoid floating-point
// precision issues. The Amount type represents credit in hundredths, so
// credits.Whole(50) is 50.00 credits. Percentage discounts use the same
// scale: credits.Whole(100) is 100%.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	txn_01h2xcejqtf2nbrexx3vqjhp41   // Transaction ID
//	cpn_01h455vb4pex5vsknk084sn02q   // Coupon ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package credits
