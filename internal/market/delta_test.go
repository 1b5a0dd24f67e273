package market_test

import (
	"testing"

	"peerlend/internal/market"
	fpmath "peerlend/internal/math"

	"github.com/holiman/uint256"
)

func amount(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), fpmath.Wad)
}

// ============================================================================
// Test: absorb
// ============================================================================

func TestDelta_AbsorbBorrowDelta_Bounded(t *testing.T) {
	_, m := newTestMarket(t)
	d := market.NewDelta()
	d.GrowBorrowDelta(m, amount(100))
	d.AddP2PBorrow(m, amount(100))

	matched := d.AbsorbBorrowDelta(m, amount(40))
	if !matched.Eq(amount(40)) {
		t.Errorf("matched %s, want 40", matched.Dec())
	}
	remaining := fpmath.RayMul(d.P2PBorrowDelta, m.PoolBorrowIndex)
	if !remaining.Eq(amount(60)) {
		t.Errorf("remaining delta %s, want 60", remaining.Dec())
	}
}

func TestDelta_AbsorbBorrowDelta_CappedByDelta(t *testing.T) {
	_, m := newTestMarket(t)
	d := market.NewDelta()
	d.GrowBorrowDelta(m, amount(30))
	d.AddP2PBorrow(m, amount(30))

	matched := d.AbsorbBorrowDelta(m, amount(100))
	if !matched.Eq(amount(30)) {
		t.Errorf("matched %s, want the whole 30 delta", matched.Dec())
	}
	if !d.P2PBorrowDelta.IsZero() {
		t.Errorf("delta should be fully consumed, got %s", d.P2PBorrowDelta.Dec())
	}
}

func TestDelta_AbsorbSupplyDelta_CappedByPoolLiquidity(t *testing.T) {
	_, m := newTestMarket(t)
	d := market.NewDelta()
	d.GrowSupplyDelta(m, amount(100))
	d.AddP2PSupply(m, amount(100))

	matched := d.AbsorbSupplyDelta(m, amount(25), amount(80))
	if !matched.Eq(amount(25)) {
		t.Errorf("matched %s, want pool-liquidity bound 25", matched.Dec())
	}
}

func TestDelta_AbsorbFromEmptyDeltaIsZero(t *testing.T) {
	_, m := newTestMarket(t)
	d := market.NewDelta()
	if matched := d.AbsorbBorrowDelta(m, amount(10)); !matched.IsZero() {
		t.Errorf("matched %s from empty delta", matched.Dec())
	}
	if matched := d.AbsorbSupplyDelta(m, amount(10), amount(10)); !matched.IsZero() {
		t.Errorf("matched %s from empty delta", matched.Dec())
	}
}

// ============================================================================
// Test: matched-amount floor guards and invariant
// ============================================================================

func TestDelta_SubFloorsAtZero(t *testing.T) {
	_, m := newTestMarket(t)
	d := market.NewDelta()
	d.AddP2PSupply(m, amount(10))

	// Rounding may ask to remove slightly more than is recorded.
	d.SubP2PSupply(m, amount(11))
	if !d.P2PSupplyAmount.IsZero() {
		t.Errorf("supply amount should floor at zero, got %s", d.P2PSupplyAmount.Dec())
	}

	d.SubP2PBorrow(m, amount(1))
	if !d.P2PBorrowAmount.IsZero() {
		t.Errorf("borrow amount should floor at zero, got %s", d.P2PBorrowAmount.Dec())
	}
}

func TestDelta_InvariantDeltaNeverExceedsMatched(t *testing.T) {
	_, m := newTestMarket(t)
	d := market.NewDelta()

	d.AddP2PBorrow(m, amount(50))
	d.GrowBorrowDelta(m, amount(50))
	if err := d.CheckInvariant(m); err != nil {
		t.Errorf("delta equal to matched amount is legal: %v", err)
	}

	d.GrowBorrowDelta(m, amount(1))
	if err := d.CheckInvariant(m); err == nil {
		t.Error("delta above matched amount must violate the invariant")
	}
}

func TestDelta_CloneIsDeep(t *testing.T) {
	_, m := newTestMarket(t)
	d := market.NewDelta()
	d.AddP2PSupply(m, amount(5))

	c := d.Clone()
	c.AddP2PSupply(m, amount(100))
	if d.P2PSupplyAmount.Eq(c.P2PSupplyAmount) {
		t.Error("clone shares state with original")
	}
}
