// Package fixedpoint implements the scaled-integer arithmetic shared by the
// lending modules. Every rate and ratio is an integer multiplied by Scale and
// every operation truncates toward zero so rounding can never create value.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional decimal digits carried by scaled values.
const Decimals = 18

var (
	// ErrDivisionByZero is returned when a scaled division has a zero divisor.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	// ErrInvalidDecimal is returned when a decimal string cannot be parsed.
	ErrInvalidDecimal = errors.New("fixedpoint: invalid decimal")

	// Scale is 10^Decimals, the fixed-point unit. Callers must not mutate it.
	Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	hundred = big.NewInt(100)
)

// One returns a fresh copy of the scaled representation of 1.
func One() *big.Int { return new(big.Int).Set(Scale) }

// MulScaled returns a*b/Scale truncated toward zero.
func MulScaled(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, Scale)
}

// DivScaled returns a*Scale/b truncated toward zero.
func DivScaled(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if a == nil {
		return big.NewInt(0), nil
	}
	numerator := new(big.Int).Mul(a, Scale)
	return numerator.Quo(numerator, b), nil
}

// MulDiv returns a*b/d truncated toward zero.
func MulDiv(a, b, d *big.Int) (*big.Int, error) {
	if d == nil || d.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if a == nil || b == nil {
		return big.NewInt(0), nil
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, d), nil
}

// FromInt scales an integer quantity, e.g. FromInt(2) is 2.0.
func FromInt(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), Scale)
}

// FromPercent converts an integer percentage into a scaled fraction, so
// FromPercent(5) is 0.05.
func FromPercent(p uint64) *big.Int {
	scaled := new(big.Int).Mul(new(big.Int).SetUint64(p), Scale)
	return scaled.Quo(scaled, hundred)
}

// FromDecimal parses a decimal string such as "1.5" into its scaled integer.
// Digits beyond Decimals places are truncated toward zero.
func FromDecimal(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidDecimal)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, trimmed)
	}
	return d.Shift(Decimals).Truncate(0).BigInt(), nil
}

// MustDecimal is FromDecimal for compile-time constants. It panics on
// malformed input.
func MustDecimal(value string) *big.Int {
	v, err := FromDecimal(value)
	if err != nil {
		panic(err)
	}
	return v
}

// ToDecimal renders a scaled integer as a decimal string without trailing
// zeros, e.g. 1500000000000000000 becomes "1.5".
func ToDecimal(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -Decimals).String()
}

// ParseAmount parses a non-scaled integer amount expressed in base units.
// Fractional inputs are rejected.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidDecimal)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, trimmed)
	}
	return amount, nil
}

// FitsUint256 reports whether x is non-negative and representable in 256
// bits, the width of ERC20 balances.
func FitsUint256(x *big.Int) bool {
	if x == nil || x.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(x)
	return !overflow
}
