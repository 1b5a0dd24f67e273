package math_test

import (
	"testing"

	fpmath "peerlend/internal/math"

	"github.com/holiman/uint256"
)

func ray(dec string) *uint256.Int {
	return uint256.MustFromDecimal(dec)
}

// ============================================================================
// Test: RayMul / RayDiv
// ============================================================================

func TestRayMul_Identity(t *testing.T) {
	a := ray("123456789000000000000000000") // 0.123... ray
	got := fpmath.RayMul(a, fpmath.Ray)
	if !got.Eq(a) {
		t.Errorf("RayMul(a, RAY): got %s, want %s", got.Dec(), a.Dec())
	}
}

func TestRayMul_Truncates(t *testing.T) {
	// 3 * (RAY/2) / RAY = 1.5 -> truncated to 1
	a := uint256.NewInt(3)
	half := new(uint256.Int).Div(fpmath.Ray, uint256.NewInt(2))
	got := fpmath.RayMul(a, half)
	if got.Uint64() != 1 {
		t.Errorf("expected floor to 1, got %s", got.Dec())
	}
}

func TestRayDiv_Inverse(t *testing.T) {
	a := ray("5000000000000000000000000000") // 5 ray
	b := ray("2000000000000000000000000000") // 2 ray
	got := fpmath.RayDiv(a, b)
	want := ray("2500000000000000000000000000") // 2.5 ray
	if !got.Eq(want) {
		t.Errorf("RayDiv: got %s, want %s", got.Dec(), want.Dec())
	}
}

func TestRayDiv_ByZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on division by zero")
		}
	}()
	fpmath.RayDiv(uint256.NewInt(1), new(uint256.Int))
}

func TestRayMul_OverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overflow")
		}
	}()
	huge := new(uint256.Int).Not(new(uint256.Int)) // max uint256
	fpmath.RayMul(huge, huge)
}

// ============================================================================
// Test: RayPow
// ============================================================================

func TestRayPow_ZeroExponent(t *testing.T) {
	base := ray("1000000010000000000000000000")
	got := fpmath.RayPow(base, 0)
	if !got.Eq(fpmath.Ray) {
		t.Errorf("x^0: got %s, want RAY", got.Dec())
	}
}

func TestRayPow_One(t *testing.T) {
	base := ray("1000000010000000000000000000")
	got := fpmath.RayPow(base, 1)
	if !got.Eq(base) {
		t.Errorf("x^1: got %s, want %s", got.Dec(), base.Dec())
	}
}

func TestRayPow_Squares(t *testing.T) {
	two := new(uint256.Int).Mul(fpmath.Ray, uint256.NewInt(2))
	got := fpmath.RayPow(two, 10)
	want := new(uint256.Int).Mul(fpmath.Ray, uint256.NewInt(1024))
	if !got.Eq(want) {
		t.Errorf("2^10: got %s, want %s", got.Dec(), want.Dec())
	}
}

func TestRayPow_CompoundingMonotone(t *testing.T) {
	// (1 + r)^n must be non-decreasing in n for r >= 0.
	rate := ray("1000000001000000000000000000") // 1 + 1e-9 per unit
	prev := fpmath.RayPow(rate, 1)
	for n := uint64(2); n <= 64; n *= 2 {
		cur := fpmath.RayPow(rate, n)
		if cur.Lt(prev) {
			t.Fatalf("compounding decreased at n=%d: %s < %s", n, cur.Dec(), prev.Dec())
		}
		prev = cur
	}
}

// ============================================================================
// Test: ZeroFloorSub / Min / bps helpers
// ============================================================================

func TestZeroFloorSub(t *testing.T) {
	cases := []struct {
		a, b, want uint64
	}{
		{10, 3, 7},
		{3, 10, 0},
		{5, 5, 0},
		{0, 1, 0},
	}
	for _, tc := range cases {
		got := fpmath.ZeroFloorSub(uint256.NewInt(tc.a), uint256.NewInt(tc.b))
		if got.Uint64() != tc.want {
			t.Errorf("ZeroFloorSub(%d,%d): got %s, want %d", tc.a, tc.b, got.Dec(), tc.want)
		}
	}
}

func TestMin_ReturnsCopy(t *testing.T) {
	a := uint256.NewInt(5)
	b := uint256.NewInt(9)
	got := fpmath.Min(a, b)
	if got.Uint64() != 5 {
		t.Fatalf("Min: got %s", got.Dec())
	}
	got.SetUint64(100)
	if a.Uint64() != 5 {
		t.Error("Min must not alias its argument")
	}
}

func TestPercentMul(t *testing.T) {
	a := uint256.NewInt(10_000)
	if got := fpmath.PercentMul(a, 2_500); got.Uint64() != 2_500 {
		t.Errorf("25%% of 10000: got %s", got.Dec())
	}
	if got := fpmath.PercentMul(a, 0); !got.IsZero() {
		t.Errorf("0%%: got %s", got.Dec())
	}
	if got := fpmath.PercentMul(a, 10_000); got.Uint64() != 10_000 {
		t.Errorf("100%%: got %s", got.Dec())
	}
}

func TestWeightedAvg_Endpoints(t *testing.T) {
	x := uint256.NewInt(100)
	y := uint256.NewInt(300)

	if got := fpmath.WeightedAvg(x, y, 0); got.Uint64() != 100 {
		t.Errorf("bps=0: got %s, want x", got.Dec())
	}
	if got := fpmath.WeightedAvg(x, y, fpmath.MaxBps); got.Uint64() != 300 {
		t.Errorf("bps=10000: got %s, want y", got.Dec())
	}
	if got := fpmath.WeightedAvg(x, y, 5_000); got.Uint64() != 200 {
		t.Errorf("bps=5000: got %s, want midpoint", got.Dec())
	}
}

func TestWeightedAvg_Bounded(t *testing.T) {
	// For any weight the result sits between x and y.
	x := uint256.NewInt(7)
	y := uint256.NewInt(91)
	for bps := uint64(0); bps <= fpmath.MaxBps; bps += 137 {
		got := fpmath.WeightedAvg(x, y, bps)
		if got.Lt(x) || got.Gt(y) {
			t.Fatalf("bps=%d: %s outside [%s,%s]", bps, got.Dec(), x.Dec(), y.Dec())
		}
	}
}
