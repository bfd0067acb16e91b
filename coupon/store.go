package coupon

import (
	"context"
	"time"

	"github.com/gr8r/credits/id"
)

// Store is the persistence interface for coupons and auto-apply tokens.
//
// MarkCouponUsed and MarkTokenUsed are compare-and-set operations: the
// update is guarded on the row still being unused, and a lost race
// reports ErrCouponAlreadyUsed. The code column is unique; duplicate
// creates report ErrAlreadyExists.
type Store interface {
	CreateCoupon(ctx context.Context, c *Coupon) error
	GetCoupon(ctx context.Context, code string) (*Coupon, error)
	GetCouponByID(ctx context.Context, couponID id.CouponID) (*Coupon, error)
	ListCouponsByUser(ctx context.Context, userID int64, opts ListOpts) ([]*Coupon, error)
	ListCouponsByVendor(ctx context.Context, vendorID int64, opts ListOpts) ([]*Coupon, error)
	ListCouponsBySession(ctx context.Context, sessionID string, opts ListOpts) ([]*Coupon, error)
	MarkCouponUsed(ctx context.Context, code string, usedAt time.Time) error
	SetCouponOrderRef(ctx context.Context, code, orderRef string) error
	DeleteCoupon(ctx context.Context, code string) error

	// DeleteExpiredCoupons removes unused coupons past their expiry.
	// Redeemed coupons are kept for reporting.
	DeleteExpiredCoupons(ctx context.Context, now time.Time) (int64, error)

	// CouponStats counts coupons by state. vendorID 0 means all vendors.
	CouponStats(ctx context.Context, vendorID int64, now time.Time) (*Stats, error)

	CreateToken(ctx context.Context, t *AutoApplyToken) error
	GetToken(ctx context.Context, tokenID id.TokenID) (*AutoApplyToken, error)
	MarkTokenUsed(ctx context.Context, tokenID id.TokenID, usedAt time.Time) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}
