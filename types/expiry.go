package types

import "time"

// Expired reports whether an optional expiry timestamp has passed at the
// given instant. A nil expiry never expires.
//
// Every expiry decision in Credits goes through this helper so that
// "expired" means the same thing for credit lines, coupons and tokens.
func Expired(at *time.Time, now time.Time) bool {
	if at == nil {
		return false
	}
	return !at.After(now)
}
