// Package money provides cent-exact ZAR amounts.
//
// Amounts travel over the wire and through the database as decimal
// strings ("900.00") and are held in memory as integer cents, so no
// escrow arithmetic ever goes through floating point.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Rand is a ZAR amount in cents.
type Rand int64

// Zero is the zero amount.
const Zero Rand = 0

// Parse converts a decimal string ("900", "900.5", "900.00") into cents.
// A leading "R" and surrounding whitespace are tolerated. More than two
// fractional digits, signs, and empty strings are rejected.
func Parse(s string) (Rand, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R")
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q has sub-cent precision", ErrInvalidAmount, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	var cents int64
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		cents = cents*10 + int64(c-'0')
		if cents < 0 {
			return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
		}
	}
	return Rand(cents), nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) Rand {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// FromCents wraps a raw cent count.
func FromCents(c int64) Rand { return Rand(c) }

// Cents returns the raw cent count.
func (r Rand) Cents() int64 { return int64(r) }

// IsZero reports whether the amount is exactly zero.
func (r Rand) IsZero() bool { return r == 0 }

// IsPositive reports whether the amount is greater than zero.
func (r Rand) IsPositive() bool { return r > 0 }

// Add returns r + other.
func (r Rand) Add(other Rand) Rand { return r + other }

// SubFloored returns r - other, floored at zero. Balance arithmetic never
// drives a counter negative.
func (r Rand) SubFloored(other Rand) Rand {
	if other >= r {
		return 0
	}
	return r - other
}

// String formats the amount as a plain decimal, e.g. "900.00".
func (r Rand) String() string {
	neg := r < 0
	c := int64(r)
	if neg {
		c = -c
	}
	s := fmt.Sprintf("%d.%02d", c/100, c%100)
	if neg {
		return "-" + s
	}
	return s
}

// MarshalJSON encodes the amount as a decimal string.
func (r Rand) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts either a decimal string or a bare JSON number.
func (r *Rand) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Provider payloads sometimes carry amounts as numbers.
		var f json.Number
		if err := json.Unmarshal(data, &f); err != nil {
			return ErrInvalidAmount
		}
		s = f.String()
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
