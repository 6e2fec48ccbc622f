// Package amount provides the exact integer arithmetic used by the pool
// ledger. Every value is an unsigned 256-bit integer; every addition,
// subtraction and multiplication is checked and fails with
// ErrArithmeticOverflow instead of wrapping.
//
// Token amounts never touch float64. Records and API payloads convert to
// shopspring/decimal at the edges.
package amount

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	// ErrArithmeticOverflow is returned when an operation would overflow
	// 256 bits or go below zero.
	ErrArithmeticOverflow = errors.New("amount: arithmetic overflow")

	// ErrDivisionByZero is returned by MulDiv and Div for a zero divisor.
	ErrDivisionByZero = errors.New("amount: division by zero")

	// ErrInvalidAmount is returned when parsing a malformed amount.
	ErrInvalidAmount = errors.New("amount: invalid amount")
)

// Precision is the fixed-point scale of the reward-per-share accumulator.
var Precision = *uint256.NewInt(1_000_000_000_000_000_000)

// Zero is the additive identity. Handy for comparisons.
var Zero uint256.Int

// New returns v as a 256-bit value.
func New(v uint64) uint256.Int {
	return *uint256.NewInt(v)
}

// Add returns x + y.
func Add(x, y uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, overflow := z.AddOverflow(&x, &y); overflow {
		return Zero, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Sub returns x - y. Underflow is reported as ErrArithmeticOverflow.
func Sub(x, y uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, underflow := z.SubOverflow(&x, &y); underflow {
		return Zero, fmt.Errorf("%w: %s - %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// Mul returns x * y.
func Mul(x, y uint256.Int) (uint256.Int, error) {
	var z uint256.Int
	if _, overflow := z.MulOverflow(&x, &y); overflow {
		return Zero, fmt.Errorf("%w: %s * %s", ErrArithmeticOverflow, x.Dec(), y.Dec())
	}
	return z, nil
}

// MulDiv returns floor(x * y / d). The product is carried in 512 bits so
// only the quotient has to fit.
func MulDiv(x, y, d uint256.Int) (uint256.Int, error) {
	if d.IsZero() {
		return Zero, ErrDivisionByZero
	}
	var z uint256.Int
	if _, overflow := z.MulDivOverflow(&x, &y, &d); overflow {
		return Zero, fmt.Errorf("%w: %s * %s / %s", ErrArithmeticOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// Div returns floor(x / y).
func Div(x, y uint256.Int) (uint256.Int, error) {
	if y.IsZero() {
		return Zero, ErrDivisionByZero
	}
	var z uint256.Int
	z.Div(&x, &y)
	return z, nil
}

// AddSeconds returns t + d for unix-second timestamps.
func AddSeconds(t, d uint64) (uint64, error) {
	sum, carry := bits.Add64(t, d, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d seconds", ErrArithmeticOverflow, t, d)
	}
	return sum, nil
}

// SubSeconds returns t - d for unix-second timestamps.
func SubSeconds(t, d uint64) (uint64, error) {
	diff, borrow := bits.Sub64(t, d, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%w: %d - %d seconds", ErrArithmeticOverflow, t, d)
	}
	return diff, nil
}

// Parse reads a non-negative base-10 integer such as "1000000".
func Parse(s string) (uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return *v, nil
}

// FromDecimal converts a whole, non-negative decimal.
func FromDecimal(d decimal.Decimal) (uint256.Int, error) {
	if d.IsNegative() || !d.IsInteger() {
		return Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, d.String())
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return Zero, fmt.Errorf("%w: %s", ErrArithmeticOverflow, d.String())
	}
	return *v, nil
}

// ToDecimal converts x for records and JSON payloads.
func ToDecimal(x uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x.ToBig(), 0)
}
