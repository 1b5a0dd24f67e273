package market

import (
	"fmt"

	fpmath "peerlend/internal/math"

	"github.com/holiman/uint256"
)

// Delta tracks the one-sided peer-to-peer liquidity a market carries.
//
// P2PSupplyDelta / P2PBorrowDelta are denominated in pool-index units: the
// amount of matched liquidity currently fronted by the pool because a
// counterparty exited unilaterally and could not be fully re-matched.
// P2PSupplyAmount / P2PBorrowAmount are denominated in peer-to-peer index
// units: the total recorded as matched on each side.
//
// Absorb/Grow touch only the deltas; the engine adjusts the matched
// amounts through Add/Sub alongside the balance mutations they mirror.
type Delta struct {
	P2PSupplyDelta  *uint256.Int
	P2PBorrowDelta  *uint256.Int
	P2PSupplyAmount *uint256.Int
	P2PBorrowAmount *uint256.Int
}

func NewDelta() *Delta {
	return &Delta{
		P2PSupplyDelta:  new(uint256.Int),
		P2PBorrowDelta:  new(uint256.Int),
		P2PSupplyAmount: new(uint256.Int),
		P2PBorrowAmount: new(uint256.Int),
	}
}

// Equal reports whether both ledgers hold the same four amounts.
func (d *Delta) Equal(o *Delta) bool {
	return d.P2PSupplyDelta.Eq(o.P2PSupplyDelta) &&
		d.P2PBorrowDelta.Eq(o.P2PBorrowDelta) &&
		d.P2PSupplyAmount.Eq(o.P2PSupplyAmount) &&
		d.P2PBorrowAmount.Eq(o.P2PBorrowAmount)
}

// Clone deep-copies the delta ledger (used by the engine's op journal).
func (d *Delta) Clone() *Delta {
	return &Delta{
		P2PSupplyDelta:  d.P2PSupplyDelta.Clone(),
		P2PBorrowDelta:  d.P2PBorrowDelta.Clone(),
		P2PSupplyAmount: d.P2PSupplyAmount.Clone(),
		P2PBorrowAmount: d.P2PBorrowAmount.Clone(),
	}
}

// Restore copies every field of src into d in place.
func (d *Delta) Restore(src *Delta) {
	d.P2PSupplyDelta = src.P2PSupplyDelta.Clone()
	d.P2PBorrowDelta = src.P2PBorrowDelta.Clone()
	d.P2PSupplyAmount = src.P2PSupplyAmount.Clone()
	d.P2PBorrowAmount = src.P2PBorrowAmount.Clone()
}

// AbsorbSupplyDelta consumes supply-side delta to serve up to desired
// underlying, additionally bounded by the pool's withdrawable liquidity.
// Returns the underlying amount matched from the delta.
func (d *Delta) AbsorbSupplyDelta(m *Market, poolAvailable, desired *uint256.Int) *uint256.Int {
	if d.P2PSupplyDelta.IsZero() || desired.IsZero() {
		return new(uint256.Int)
	}
	matched := fpmath.Min(fpmath.RayMul(d.P2PSupplyDelta, m.PoolSupplyIndex), fpmath.Min(desired, poolAvailable))
	d.P2PSupplyDelta = fpmath.ZeroFloorSub(d.P2PSupplyDelta, fpmath.RayDiv(matched, m.PoolSupplyIndex))
	return matched
}

// AbsorbBorrowDelta consumes borrow-side delta to serve up to desired
// underlying. Returns the underlying amount matched from the delta.
func (d *Delta) AbsorbBorrowDelta(m *Market, desired *uint256.Int) *uint256.Int {
	if d.P2PBorrowDelta.IsZero() || desired.IsZero() {
		return new(uint256.Int)
	}
	matched := fpmath.Min(fpmath.RayMul(d.P2PBorrowDelta, m.PoolBorrowIndex), desired)
	d.P2PBorrowDelta = fpmath.ZeroFloorSub(d.P2PBorrowDelta, fpmath.RayDiv(matched, m.PoolBorrowIndex))
	return matched
}

// GrowSupplyDelta parks uncovered underlying as supply-side delta after an
// unmatch step ran out of counterparties or budget.
func (d *Delta) GrowSupplyDelta(m *Market, uncovered *uint256.Int) {
	if uncovered.IsZero() {
		return
	}
	d.P2PSupplyDelta = new(uint256.Int).Add(d.P2PSupplyDelta, fpmath.RayDiv(uncovered, m.PoolSupplyIndex))
}

// GrowBorrowDelta parks uncovered underlying as borrow-side delta.
func (d *Delta) GrowBorrowDelta(m *Market, uncovered *uint256.Int) {
	if uncovered.IsZero() {
		return
	}
	d.P2PBorrowDelta = new(uint256.Int).Add(d.P2PBorrowDelta, fpmath.RayDiv(uncovered, m.PoolBorrowIndex))
}

// AddP2PSupply records newly matched supply (underlying) in p2p units.
func (d *Delta) AddP2PSupply(m *Market, underlying *uint256.Int) {
	d.P2PSupplyAmount = new(uint256.Int).Add(d.P2PSupplyAmount, fpmath.RayDiv(underlying, m.P2PSupplyIndex))
}

// SubP2PSupply removes unmatched supply (underlying) from the matched
// total, flooring at zero so a rounding error can never drive it negative.
func (d *Delta) SubP2PSupply(m *Market, underlying *uint256.Int) {
	d.P2PSupplyAmount = fpmath.ZeroFloorSub(d.P2PSupplyAmount, fpmath.RayDiv(underlying, m.P2PSupplyIndex))
}

// AddP2PBorrow records newly matched borrow (underlying) in p2p units.
func (d *Delta) AddP2PBorrow(m *Market, underlying *uint256.Int) {
	d.P2PBorrowAmount = new(uint256.Int).Add(d.P2PBorrowAmount, fpmath.RayDiv(underlying, m.P2PBorrowIndex))
}

// SubP2PBorrow removes unmatched borrow (underlying), floored at zero.
func (d *Delta) SubP2PBorrow(m *Market, underlying *uint256.Int) {
	d.P2PBorrowAmount = fpmath.ZeroFloorSub(d.P2PBorrowAmount, fpmath.RayDiv(underlying, m.P2PBorrowIndex))
}

// CheckInvariant verifies that neither delta exceeds the matched amount it
// is the uncovered fraction of, both expressed in underlying.
func (d *Delta) CheckInvariant(m *Market) error {
	supplyDelta := fpmath.RayMul(d.P2PSupplyDelta, m.PoolSupplyIndex)
	supplyAmount := fpmath.RayMul(d.P2PSupplyAmount, m.P2PSupplyIndex)
	if supplyDelta.Gt(supplyAmount) {
		return fmt.Errorf("supply delta %s exceeds matched supply %s", supplyDelta.Dec(), supplyAmount.Dec())
	}
	borrowDelta := fpmath.RayMul(d.P2PBorrowDelta, m.PoolBorrowIndex)
	borrowAmount := fpmath.RayMul(d.P2PBorrowAmount, m.P2PBorrowIndex)
	if borrowDelta.Gt(borrowAmount) {
		return fmt.Errorf("borrow delta %s exceeds matched borrow %s", borrowDelta.Dec(), borrowAmount.Dec())
	}
	return nil
}
