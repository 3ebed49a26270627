// Package fixedpoint implements the factor arithmetic used for every amount
// the distributor moves. Values are unsigned 256-bit integers, factors are
// expressed in units of PrecisionUnit and every division truncates toward zero.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

var (
	// PrecisionUnit is the fixed-point base, 10^30.
	PrecisionUnit = uint256.MustFromDecimal("1000000000000000000000000000000")

	ErrDivideByZero                = errors.New("division by zero")
	ErrOverflow                    = errors.New("arithmetic overflow")
	ErrArithmeticInvariantViolated = errors.New("arithmetic invariant violated")
)

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// MulDiv returns value*numerator/denominator. The product is computed on 512
// bits so only a quotient that does not fit in 256 bits overflows.
func MulDiv(value, numerator, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivideByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(value, numerator, denominator)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// ApplyFactor returns value*factor/PrecisionUnit.
func ApplyFactor(value, factor *uint256.Int) (*uint256.Int, error) {
	return MulDiv(value, factor, PrecisionUnit)
}

// ToFactor returns value*PrecisionUnit/divisor. With a USD value and a token
// price it yields the token amount.
func ToFactor(value, divisor *uint256.Int) (*uint256.Int, error) {
	return MulDiv(value, PrecisionUnit, divisor)
}

func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sum adds all values, failing on overflow.
func Sum(values ...*uint256.Int) (*uint256.Int, error) {
	total := Zero()
	for _, v := range values {
		var err error
		if total, err = Add(total, v); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// Sub returns a-b and fails if the result would be negative.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrArithmeticInvariantViolated
	}
	return z, nil
}

// SubFloor returns max(0, a-b).
func SubFloor(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return Zero()
	}
	return new(uint256.Int).Sub(a, b)
}

// Delta returns the signed difference a-b.
func Delta(a, b *uint256.Int) *big.Int {
	return new(big.Int).Sub(a.ToBig(), b.ToBig())
}

// ToUnsigned converts a signed value that must be non-negative.
func ToUnsigned(v *big.Int) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, ErrArithmeticInvariantViolated
	}
	z, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Abs converts the magnitude of a signed value.
func Abs(v *big.Int) (*uint256.Int, error) {
	return ToUnsigned(new(big.Int).Abs(v))
}

func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// ParseAmount parses a decimal string, the empty string being zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return Zero(), nil
	}
	return uint256.FromDecimal(s)
}

// Factor builds a factor from a numerator over a denominator, eg. Factor(1, 100)
// is one percent.
func Factor(numerator, denominator uint64) *uint256.Int {
	f, err := MulDiv(uint256.NewInt(numerator), PrecisionUnit, uint256.NewInt(denominator))
	if err != nil {
		panic(err)
	}
	return f
}

const precisionDigits = 30

// ParseFactor parses a decimal fraction, eg. "0.99" or "1", into a factor.
// Digits past the precision are rejected.
func ParseFactor(s string) (*uint256.Int, error) {
	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("invalid factor %q", s)
	}
	if len(fracPart) > precisionDigits {
		return nil, fmt.Errorf("factor %q exceeds %d decimals", s, precisionDigits)
	}
	if intPart == "" {
		intPart = "0"
	}
	digits := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", precisionDigits-len(fracPart)), "0")
	if digits == "" {
		return Zero(), nil
	}
	f, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid factor %q: %w", s, err)
	}
	return f, nil
}

// FormatFactor renders a factor as a decimal fraction without trailing zeros.
func FormatFactor(f *uint256.Int) string {
	if f == nil {
		return "0"
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(f, PrecisionUnit, r)
	if r.IsZero() {
		return q.Dec()
	}
	frac := r.Dec()
	frac = strings.Repeat("0", precisionDigits-len(frac)) + frac
	return q.Dec() + "." + strings.TrimRight(frac, "0")
}
