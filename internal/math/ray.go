package math

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Fixed-point units. Indexes and rates are ray (27 decimals), prices and
// token values are wad (18 decimals), governance parameters are basis points.
var (
	Ray = uint256.MustFromDecimal("1000000000000000000000000000") // 1e27
	Wad = uint256.MustFromDecimal("1000000000000000000")          // 1e18
)

// MaxBps is the basis-point denominator (100%).
const MaxBps uint64 = 10_000

var bpsUnit = uint256.NewInt(MaxBps)

// RayMul returns a*b/RAY with truncating (floor) division.
// Truncation always errs in favor of the protocol: at most 1 unit of
// precision is lost per operation and never minted.
// Panics if a*b overflows 256 bits — an overflow here means corrupted
// state, not a recoverable condition.
func RayMul(a, b *uint256.Int) *uint256.Int {
	return mulDiv(a, b, Ray)
}

// RayDiv returns a*RAY/b with truncating division. Panics on b == 0.
func RayDiv(a, b *uint256.Int) *uint256.Int {
	return mulDiv(a, Ray, b)
}

// WadMul returns a*b/WAD with truncating division.
func WadMul(a, b *uint256.Int) *uint256.Int {
	return mulDiv(a, b, Wad)
}

// WadDiv returns a*WAD/b with truncating division. Panics on b == 0.
func WadDiv(a, b *uint256.Int) *uint256.Int {
	return mulDiv(a, Wad, b)
}

// mulDiv computes a*b/denom, panicking loudly on overflow or zero denom.
func mulDiv(a, b, denom *uint256.Int) *uint256.Int {
	if denom.IsZero() {
		panic("FATAL: fixed-point division by zero")
	}
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		panic(fmt.Sprintf("FATAL: fixed-point overflow: %s * %s", a.Dec(), b.Dec()))
	}
	return z.Div(z, denom)
}

// RayPow raises a ray-scaled base to an integer exponent by fast
// exponentiation (square-and-multiply), used for compounding an interest
// rate over elapsed time. RayPow(x, 0) == RAY.
func RayPow(base *uint256.Int, exp uint64) *uint256.Int {
	result := Ray.Clone()
	b := base.Clone()
	for exp > 0 {
		if exp&1 == 1 {
			result = RayMul(result, b)
		}
		exp >>= 1
		if exp > 0 {
			b = RayMul(b, b)
		}
	}
	return result
}

// ZeroFloorSub returns a-b, floored at zero. Used pervasively where a
// subtrahend may legitimately exceed the minuend due to rounding.
func ZeroFloorSub(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// PercentMul returns a*bps/10000 with truncating division.
func PercentMul(a *uint256.Int, bps uint64) *uint256.Int {
	return mulDiv(a, uint256.NewInt(bps), bpsUnit)
}

// WeightedAvg interpolates between x and y: ((10000-bps)*x + bps*y)/10000.
// bps == 0 returns x, bps == 10000 returns y. Panics if bps > 10000.
func WeightedAvg(x, y *uint256.Int, bps uint64) *uint256.Int {
	if bps > MaxBps {
		panic(fmt.Sprintf("FATAL: weight %d exceeds %d bps", bps, MaxBps))
	}
	left, overflow := new(uint256.Int).MulOverflow(x, uint256.NewInt(MaxBps-bps))
	if overflow {
		panic("FATAL: fixed-point overflow in WeightedAvg")
	}
	right, overflow := new(uint256.Int).MulOverflow(y, uint256.NewInt(bps))
	if overflow {
		panic("FATAL: fixed-point overflow in WeightedAvg")
	}
	sum, overflow := left.AddOverflow(left, right)
	if overflow {
		panic("FATAL: fixed-point overflow in WeightedAvg")
	}
	return sum.Div(sum, bpsUnit)
}
