// Package types provides common types used across Credits.
package types

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Amount represents a credit value in hundredths of a credit.
// All arithmetic is integer-only — no floating point.
//
// Examples:
//   - Credits(5000) = 50.00 credits
//   - ParseAmount("30.50") = Credits(3050)
//
// The same representation is used for percentage discounts, where
// Credits(10000) means 100%.
type Amount int64

// Credits creates an Amount from hundredths of a credit.
func Credits(hundredths int64) Amount { return Amount(hundredths) }

// Whole creates an Amount from whole credits.
func Whole(credits int64) Amount { return Amount(credits * 100) }

// ParseAmount parses a decimal string like "50", "50.5" or "50.25"
// into an Amount. At most two fractional digits are accepted.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("types: parse amount: empty string")
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("types: parse amount %q: more than two fractional digits", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("types: parse amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("types: parse amount %q: %w", s, err)
	}

	v := Amount(w*100 + f)
	if neg {
		v = -v
	}
	return v, nil
}

// MustParseAmount is like ParseAmount but panics on error.
// Use for hardcoded values.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Arithmetic operations

// Add adds two Amount values.
func (a Amount) Add(other Amount) Amount { return a + other }

// Sub subtracts another Amount value.
func (a Amount) Sub(other Amount) Amount { return a - other }

// Neg returns the negative of the Amount.
func (a Amount) Neg() Amount { return -a }

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// Min returns the smaller of two Amount values.
func (a Amount) Min(other Amount) Amount {
	if a < other {
		return a
	}
	return other
}

// PercentOf returns pct of base, where pct is expressed in hundredths
// (Credits(10000) == 100%). Uses integer division, truncating toward zero.
func PercentOf(base, pct Amount) Amount {
	return Amount(int64(base) * int64(pct) / 10000)
}

// Comparison methods

// IsZero returns true if the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// IsPositive returns true if the amount is greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// IsNegative returns true if the amount is less than zero.
func (a Amount) IsNegative() bool { return a < 0 }

// String returns the decimal representation, e.g. "50.00" for Credits(5000).
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount as its raw hundredths value.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(a), 10)), nil
}

// UnmarshalJSON accepts either a raw integer (hundredths) or a quoted
// decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if strings.ContainsRune(s, '.') {
		parsed, err := ParseAmount(s)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("types: unmarshal amount %q: %w", s, err)
	}
	*a = Amount(v)
	return nil
}

// Value implements driver.Valuer for database storage.
func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

// Scan implements sql.Scanner for database retrieval.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*a = Amount(v)
		return nil
	case []byte:
		parsed, err := ParseAmount(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case string:
		parsed, err := ParseAmount(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	default:
		return fmt.Errorf("types: cannot scan %T into Amount", src)
	}
}

// Sum calculates the sum of multiple Amount values.
func Sum(values ...Amount) Amount {
	var total Amount
	for _, v := range values {
		total += v
	}
	return total
}
