// Package coupon defines the single-use coupon and auto-apply token models.
package coupon

import (
	"time"

	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/types"
)

// CodePrefix starts every generated coupon code.
const CodePrefix = "GR8R"

// DiscountKind distinguishes fixed-amount from percentage discounts.
type DiscountKind string

const (
	// DiscountFixed takes Value off the order total.
	DiscountFixed DiscountKind = "fixed"
	// DiscountPercent takes Value percent off, where Value is expressed
	// in hundredths (types.Credits(10000) == 100%).
	DiscountPercent DiscountKind = "percentage"
)

// Coupon is a single-use, time-boxed discount bound to a specific user
// and vendor, and optionally to a session.
type Coupon struct {
	types.Entity
	ID        id.CouponID `json:"id"`
	Code      string      `json:"code"`
	UserID    int64       `json:"user_id"`
	VendorID  int64       `json:"vendor_id"`
	SessionID string      `json:"session_id,omitempty"`

	Kind  DiscountKind `json:"kind"`
	Value types.Amount `json:"value"`

	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	OrderRef  string     `json:"order_ref,omitempty"`

	CreatedBy int64             `json:"created_by"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the coupon's validity window has passed.
func (c *Coupon) Expired(now time.Time) bool {
	return types.Expired(&c.ExpiresAt, now)
}

// Discount applies the coupon to an order total.
func (c *Coupon) Discount(total types.Amount) types.Amount {
	if c.Kind == DiscountPercent {
		return types.PercentOf(total, c.Value)
	}
	return c.Value.Min(total)
}

// AutoApplyToken is a one-time exchange token for a coupon, embedded in
// shareable links. The token string is its TypeID ("tok_...").
type AutoApplyToken struct {
	types.Entity
	ID        id.TokenID  `json:"id"`
	CouponID  id.CouponID `json:"coupon_id"`
	UserID    int64       `json:"user_id"`
	VendorID  int64       `json:"vendor_id"`
	SessionID string      `json:"session_id,omitempty"`

	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Expired reports whether the token's validity window has passed.
func (t *AutoApplyToken) Expired(now time.Time) bool {
	return types.Expired(&t.ExpiresAt, now)
}

// Stats summarizes coupon usage, optionally scoped to one vendor.
type Stats struct {
	Total   int64 `json:"total" db:"total"`
	Used    int64 `json:"used" db:"used"`
	Active  int64 `json:"active" db:"active"`
	Expired int64 `json:"expired" db:"expired"` // unused and past expiry
}

// ListOpts controls coupon listings.
type ListOpts struct {
	IncludeUsed bool
	Limit       int
	Offset      int
}
