package market

import (
	fpmath "peerlend/internal/math"

	"github.com/holiman/uint256"
)

// PoolSnapshot is the pool collaborator's view of a market at refresh time:
// the pool's own ray indexes and its per-second ray rates.
type PoolSnapshot struct {
	SupplyIndex         *uint256.Int
	BorrowIndex         *uint256.Int
	SupplyRatePerSecond *uint256.Int
	BorrowRatePerSecond *uint256.Int
}

// IndexUpdate reports the indexes after a refresh.
type IndexUpdate struct {
	P2PSupplyIndex  *uint256.Int
	P2PBorrowIndex  *uint256.Int
	PoolSupplyIndex *uint256.Int
	PoolBorrowIndex *uint256.Int
}

// P2PRates derives the peer-to-peer per-second rates from the pool's rates.
//
// The mean pool rate is a cursor-weighted interpolation between the pool
// supply and borrow rates (cursor 5000 bps = simple average). The reserve
// factor then moves each p2p rate back toward its pool rate, carving out
// the protocol fee spread:
//
//	p2pSupplyRate = mean - reserveFactor*(mean - poolSupplyRate)
//	p2pBorrowRate = mean + reserveFactor*(poolBorrowRate - mean)
//
// For any reserve factor and cursor in [0, 10000] this preserves
// poolSupplyRate <= p2pSupplyRate <= p2pBorrowRate <= poolBorrowRate.
// Pool rates are clamped to supply <= borrow first so a misbehaving pool
// cannot invert the ordering.
func P2PRates(poolSupplyRate, poolBorrowRate *uint256.Int, reserveFactorBps, cursorBps uint64) (supplyRate, borrowRate *uint256.Int) {
	supply := poolSupplyRate
	if supply.Gt(poolBorrowRate) {
		supply = poolBorrowRate
	}

	mean := fpmath.WeightedAvg(supply, poolBorrowRate, cursorBps)

	supplyRate = fpmath.ZeroFloorSub(mean, fpmath.PercentMul(fpmath.ZeroFloorSub(mean, supply), reserveFactorBps))
	borrowRate = new(uint256.Int).Add(mean, fpmath.PercentMul(fpmath.ZeroFloorSub(poolBorrowRate, mean), reserveFactorBps))
	return supplyRate, borrowRate
}

// UpdateIndexes recomputes the market's peer-to-peer indexes as a function
// of elapsed time, the pool's current rates and the delta ledger, and
// mirrors the pool's own indexes. It is idempotent within a timestamp: a
// second call at the same time is a no-op and returns false.
//
// Each p2p index compounds by (1 + rate)^elapsed, weighted by the delta:
// the delta-covered share of the matched amount sits on the pool and
// accrues at the pool index's growth rate, so that share of the p2p index
// grows at the pool rate too. Keeping both sides of the ledger growing in
// lockstep is what preserves delta <= matched amount over time.
func (m *Market) UpdateIndexes(snap PoolSnapshot, d *Delta, now int64) (IndexUpdate, bool) {
	if now <= m.LastUpdate {
		return IndexUpdate{}, false
	}
	elapsed := uint64(now - m.LastUpdate)

	p2pSupplyRate, p2pBorrowRate := P2PRates(
		snap.SupplyRatePerSecond, snap.BorrowRatePerSecond,
		m.ReserveFactorBps, m.P2PIndexCursorBps,
	)

	poolSupplyGrowth := fpmath.RayDiv(snap.SupplyIndex, m.PoolSupplyIndex)
	poolBorrowGrowth := fpmath.RayDiv(snap.BorrowIndex, m.PoolBorrowIndex)

	supplyGrowth := fpmath.RayPow(new(uint256.Int).Add(fpmath.Ray, p2pSupplyRate), elapsed)
	borrowGrowth := fpmath.RayPow(new(uint256.Int).Add(fpmath.Ray, p2pBorrowRate), elapsed)

	supplyGrowth = deltaWeightedGrowth(d.P2PSupplyDelta, d.P2PSupplyAmount,
		m.PoolSupplyIndex, m.P2PSupplyIndex, supplyGrowth, poolSupplyGrowth)
	borrowGrowth = deltaWeightedGrowth(d.P2PBorrowDelta, d.P2PBorrowAmount,
		m.PoolBorrowIndex, m.P2PBorrowIndex, borrowGrowth, poolBorrowGrowth)

	m.P2PSupplyIndex = fpmath.RayMul(m.P2PSupplyIndex, supplyGrowth)
	m.P2PBorrowIndex = fpmath.RayMul(m.P2PBorrowIndex, borrowGrowth)
	m.PoolSupplyIndex = snap.SupplyIndex.Clone()
	m.PoolBorrowIndex = snap.BorrowIndex.Clone()
	m.LastUpdate = now

	return IndexUpdate{
		P2PSupplyIndex:  m.P2PSupplyIndex.Clone(),
		P2PBorrowIndex:  m.P2PBorrowIndex.Clone(),
		PoolSupplyIndex: m.PoolSupplyIndex.Clone(),
		PoolBorrowIndex: m.PoolBorrowIndex.Clone(),
	}, true
}

// deltaWeightedGrowth blends a p2p growth factor with the pool's growth
// factor in proportion to the share of the matched amount the delta
// covers, both valued in underlying at the pre-update indexes. A delta
// covering the whole matched amount makes the p2p index track the pool
// index exactly.
func deltaWeightedGrowth(delta, amount, poolIndex, p2pIndex, p2pGrowth, poolGrowth *uint256.Int) *uint256.Int {
	if delta.IsZero() || amount.IsZero() {
		return p2pGrowth
	}
	share := fpmath.RayDiv(fpmath.RayMul(delta, poolIndex), fpmath.RayMul(amount, p2pIndex))
	if share.Gt(fpmath.Ray) {
		share = fpmath.Ray.Clone()
	}
	return new(uint256.Int).Add(
		fpmath.RayMul(fpmath.ZeroFloorSub(fpmath.Ray, share), p2pGrowth),
		fpmath.RayMul(share, poolGrowth),
	)
}
