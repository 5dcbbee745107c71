// Package amount implements arithmetic on human-readable decimal-string
// token amounts. Balances are stored as decimal strings, so every operation
// parses, computes exactly with big.Rat, and re-renders without float error.
package amount

import (
	"fmt"
	"math/big"
	"strings"
)

// Parse validates s as a non-negative decimal number.
func Parse(s string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	return r, nil
}

// Add returns a + b.
func Add(a, b string) (string, error) {
	ra, err := Parse(a)
	if err != nil {
		return "", err
	}
	rb, err := Parse(b)
	if err != nil {
		return "", err
	}
	return Format(new(big.Rat).Add(ra, rb)), nil
}

// Sub returns a - b, failing if the result would be negative.
func Sub(a, b string) (string, error) {
	ra, err := Parse(a)
	if err != nil {
		return "", err
	}
	rb, err := Parse(b)
	if err != nil {
		return "", err
	}
	diff := new(big.Rat).Sub(ra, rb)
	if diff.Sign() < 0 {
		return "", fmt.Errorf("amount underflow: %s - %s", a, b)
	}
	return Format(diff), nil
}

// Cmp compares two decimal strings: -1 if a < b, 0 if equal, 1 if a > b.
func Cmp(a, b string) (int, error) {
	ra, err := Parse(a)
	if err != nil {
		return 0, err
	}
	rb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return ra.Cmp(rb), nil
}

// FromRaw converts raw integer token units into a decimal string using the
// token's decimals, e.g. 2000000 with 6 decimals -> "2".
func FromRaw(raw *big.Int, decimals uint8) string {
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return Format(new(big.Rat).SetFrac(new(big.Int).Set(raw), denom))
}

// ToRaw converts a decimal string into raw integer token units, truncating
// anything below one raw unit.
func ToRaw(s string, decimals uint8) (*big.Int, error) {
	r, err := Parse(s)
	if err != nil {
		return nil, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

// Format renders a rational as a plain decimal string with no trailing
// zeros, matching how balances are presented to clients.
func Format(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	// 30 fractional digits is far beyond any ERC-20 precision (max 18).
	s := r.FloatString(30)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
