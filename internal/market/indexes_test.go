package market_test

import (
	"testing"

	"peerlend/internal/market"
	fpmath "peerlend/internal/math"

	"github.com/holiman/uint256"
)

// perSecondRay converts an annualized percentage into a rough per-second
// ray rate for test inputs. Precision does not matter here; ordering does.
func perSecondRay(annualPct uint64) *uint256.Int {
	r := new(uint256.Int).Mul(fpmath.Ray, uint256.NewInt(annualPct))
	r.Div(r, uint256.NewInt(100))
	return r.Div(r, uint256.NewInt(31_536_000))
}

func poolSnap(supplyPct, borrowPct uint64) market.PoolSnapshot {
	return market.PoolSnapshot{
		SupplyIndex:         fpmath.Ray.Clone(),
		BorrowIndex:         fpmath.Ray.Clone(),
		SupplyRatePerSecond: perSecondRay(supplyPct),
		BorrowRatePerSecond: perSecondRay(borrowPct),
	}
}

// ============================================================================
// Test: rate ordering invariant
// ============================================================================

func TestP2PRates_OrderingHoldsAcrossParameterSpace(t *testing.T) {
	poolSupply := perSecondRay(2)
	poolBorrow := perSecondRay(8)

	for reserve := uint64(0); reserve <= fpmath.MaxBps; reserve += 500 {
		for cursor := uint64(0); cursor <= fpmath.MaxBps; cursor += 500 {
			p2pSupply, p2pBorrow := market.P2PRates(poolSupply, poolBorrow, reserve, cursor)

			if p2pSupply.Lt(poolSupply) {
				t.Fatalf("reserve=%d cursor=%d: p2pSupply %s < poolSupply %s",
					reserve, cursor, p2pSupply.Dec(), poolSupply.Dec())
			}
			if p2pBorrow.Lt(p2pSupply) {
				t.Fatalf("reserve=%d cursor=%d: p2pBorrow %s < p2pSupply %s",
					reserve, cursor, p2pBorrow.Dec(), p2pSupply.Dec())
			}
			if p2pBorrow.Gt(poolBorrow) {
				t.Fatalf("reserve=%d cursor=%d: p2pBorrow %s > poolBorrow %s",
					reserve, cursor, p2pBorrow.Dec(), poolBorrow.Dec())
			}
		}
	}
}

func TestP2PRates_DefaultCursorIsSimpleAverage(t *testing.T) {
	supply := uint256.NewInt(100)
	borrow := uint256.NewInt(300)

	p2pSupply, p2pBorrow := market.P2PRates(supply, borrow, 0, 5_000)
	if p2pSupply.Uint64() != 200 || p2pBorrow.Uint64() != 200 {
		t.Errorf("zero reserve, cursor=50%%: got supply=%s borrow=%s, want 200/200",
			p2pSupply.Dec(), p2pBorrow.Dec())
	}
}

func TestP2PRates_FullReserveFactorCollapsesToPoolRates(t *testing.T) {
	supply := uint256.NewInt(100)
	borrow := uint256.NewInt(300)

	p2pSupply, p2pBorrow := market.P2PRates(supply, borrow, fpmath.MaxBps, 5_000)
	if p2pSupply.Uint64() != 100 {
		t.Errorf("reserve=100%%: p2pSupply=%s, want pool supply rate", p2pSupply.Dec())
	}
	if p2pBorrow.Uint64() != 300 {
		t.Errorf("reserve=100%%: p2pBorrow=%s, want pool borrow rate", p2pBorrow.Dec())
	}
}

func TestP2PRates_InvertedPoolRatesClamped(t *testing.T) {
	// Pool reporting supply > borrow must not break the ordering.
	p2pSupply, p2pBorrow := market.P2PRates(uint256.NewInt(500), uint256.NewInt(100), 1_000, 5_000)
	if p2pSupply.Gt(p2pBorrow) {
		t.Errorf("ordering broken under inverted pool rates: %s > %s", p2pSupply.Dec(), p2pBorrow.Dec())
	}
}

// ============================================================================
// Test: index updates
// ============================================================================

func newTestMarket(t *testing.T) (*market.Store, *market.Market) {
	t.Helper()
	s := market.NewStore()
	m, err := s.Create("DAI", 0, 5_000, 1_000)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return s, m
}

func TestUpdateIndexes_IdempotentWithinTimestamp(t *testing.T) {
	_, m := newTestMarket(t)
	snap := poolSnap(2, 8)

	if _, updated := m.UpdateIndexes(snap, market.NewDelta(), 2_000); !updated {
		t.Fatal("first update should apply")
	}
	before := m.P2PSupplyIndex.Clone()

	if _, updated := m.UpdateIndexes(snap, market.NewDelta(), 2_000); updated {
		t.Error("second update at same timestamp must be a no-op")
	}
	if !m.P2PSupplyIndex.Eq(before) {
		t.Error("index changed on idempotent update")
	}
}

func TestUpdateIndexes_Monotone(t *testing.T) {
	_, m := newTestMarket(t)
	snap := poolSnap(2, 8)

	prevSupply := m.P2PSupplyIndex.Clone()
	prevBorrow := m.P2PBorrowIndex.Clone()

	for now := int64(2_000); now <= 100_000; now += 7_919 {
		m.UpdateIndexes(snap, market.NewDelta(), now)
		if m.P2PSupplyIndex.Lt(prevSupply) || m.P2PBorrowIndex.Lt(prevBorrow) {
			t.Fatalf("index decreased at t=%d", now)
		}
		prevSupply = m.P2PSupplyIndex.Clone()
		prevBorrow = m.P2PBorrowIndex.Clone()
	}
}

func TestUpdateIndexes_MirrorsPoolIndexes(t *testing.T) {
	_, m := newTestMarket(t)
	snap := poolSnap(2, 8)
	snap.SupplyIndex = uint256.MustFromDecimal("1100000000000000000000000000")
	snap.BorrowIndex = uint256.MustFromDecimal("1200000000000000000000000000")

	m.UpdateIndexes(snap, market.NewDelta(), 5_000)
	if !m.PoolSupplyIndex.Eq(snap.SupplyIndex) || !m.PoolBorrowIndex.Eq(snap.BorrowIndex) {
		t.Error("pool indexes not mirrored on refresh")
	}
}

func TestUpdateIndexes_BorrowGrowsAtLeastAsFastAsSupply(t *testing.T) {
	_, m := newTestMarket(t)
	// Non-zero reserve factor widens the spread.
	m.ReserveFactorBps = 1_500
	snap := poolSnap(3, 12)

	m.UpdateIndexes(snap, market.NewDelta(), 1_000_000)
	if m.P2PBorrowIndex.Lt(m.P2PSupplyIndex) {
		t.Errorf("borrow index %s fell below supply index %s",
			m.P2PBorrowIndex.Dec(), m.P2PSupplyIndex.Dec())
	}
}

func TestUpdateIndexes_StaleTimestampRejected(t *testing.T) {
	_, m := newTestMarket(t)
	if _, updated := m.UpdateIndexes(poolSnap(2, 8), market.NewDelta(), 500); updated {
		t.Error("update older than LastUpdate must be a no-op")
	}
}

// ============================================================================
// Test: delta-weighted index growth
// ============================================================================

// A delta covering the whole matched amount sits entirely on the pool, so
// the p2p index must track the pool index exactly and the delta stays
// covered no matter how far the pool index runs ahead of the p2p rates.
func TestUpdateIndexes_FullDeltaTracksPoolIndex(t *testing.T) {
	s, m := newTestMarket(t)
	d, _ := s.Delta("DAI")
	d.P2PBorrowAmount = uint256.NewInt(100_000)
	d.P2PBorrowDelta = uint256.NewInt(100_000)

	snap := poolSnap(2, 8)
	snap.BorrowIndex = uint256.MustFromDecimal("1200000000000000000000000000") // 1.2 ray

	m.UpdateIndexes(snap, d, 1_000_000)

	if !m.P2PBorrowIndex.Eq(snap.BorrowIndex) {
		t.Errorf("p2p borrow index %s did not track pool borrow index %s",
			m.P2PBorrowIndex.Dec(), snap.BorrowIndex.Dec())
	}
	if err := d.CheckInvariant(m); err != nil {
		t.Errorf("delta invariant broken after accrual: %v", err)
	}
}

// A delta covering half the matched amount blends the growth factors:
// the index lands strictly between the pure p2p compound and the pool
// index, and the invariant holds on both sides.
func TestUpdateIndexes_PartialDeltaBlendsGrowth(t *testing.T) {
	_, pureM := newTestMarket(t)

	s, m := newTestMarket(t)
	d, _ := s.Delta("DAI")
	d.P2PBorrowAmount = uint256.NewInt(100_000)
	d.P2PBorrowDelta = uint256.NewInt(50_000)
	d.P2PSupplyAmount = uint256.NewInt(80_000)
	d.P2PSupplyDelta = uint256.NewInt(20_000)

	snap := poolSnap(2, 8)
	snap.SupplyIndex = uint256.MustFromDecimal("1050000000000000000000000000") // 1.05 ray
	snap.BorrowIndex = uint256.MustFromDecimal("1200000000000000000000000000") // 1.2 ray

	pureM.UpdateIndexes(snap, market.NewDelta(), 1_000_000)
	m.UpdateIndexes(snap, d, 1_000_000)

	if !m.P2PBorrowIndex.Gt(pureM.P2PBorrowIndex) {
		t.Errorf("delta-weighted borrow index %s not above pure p2p index %s",
			m.P2PBorrowIndex.Dec(), pureM.P2PBorrowIndex.Dec())
	}
	if !m.P2PBorrowIndex.Lt(snap.BorrowIndex) {
		t.Errorf("delta-weighted borrow index %s not below pool index %s",
			m.P2PBorrowIndex.Dec(), snap.BorrowIndex.Dec())
	}
	if !m.P2PSupplyIndex.Gt(pureM.P2PSupplyIndex) {
		t.Errorf("delta-weighted supply index %s not above pure p2p index %s",
			m.P2PSupplyIndex.Dec(), pureM.P2PSupplyIndex.Dec())
	}
	if err := d.CheckInvariant(m); err != nil {
		t.Errorf("delta invariant broken after accrual: %v", err)
	}
}
