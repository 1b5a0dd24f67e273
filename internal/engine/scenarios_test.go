package engine_test

import (
	"testing"

	"peerlend/internal/engine"
	fpmath "peerlend/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ============================================================================
// Scenario: first supplier lands on the pool
// ============================================================================

func TestScenario_SoleSupplierStaysOnPool(t *testing.T) {
	v := newEnv(t)
	v.createMarket("DAI", 0, 5_000)
	v.mint(alice, "DAI", 100)

	v.supply(alice, "DAI", 100, 10)

	bal := v.eng.UserBalanceOf(alice, "DAI")
	eq(t, bal.SupplyOnPool, amt(100), "supply on pool")
	eq(t, bal.SupplyInP2P, new(uint256.Int), "supply in p2p")
	eq(t, v.pool.AvailableLiquidity("DAI"), amt(100), "pool liquidity")
	eq(t, v.book.Balance("DAI", alice), new(uint256.Int), "wallet drained")

	if head, ok := v.eng.Head("DAI", engine.PoolSuppliers); !ok || head != alice {
		t.Errorf("pool supplier head: got (%v,%v)", head, ok)
	}
}

// ============================================================================
// Scenario: a borrower fully matches the waiting supplier
// ============================================================================

func TestScenario_BorrowMatchesSupplier(t *testing.T) {
	v := newEnv(t)
	v.createMarket("DAI", 0, 5_000)
	v.createMarket("WETH", 0, 5_000)
	v.mint(alice, "DAI", 100)
	v.supply(alice, "DAI", 100, 10)
	v.mint(bob, "WETH", 200)
	v.supply(bob, "WETH", 200, 10)

	v.borrow(bob, "DAI", 100, 10)

	aliceBal := v.eng.UserBalanceOf(alice, "DAI")
	eq(t, aliceBal.SupplyInP2P, amt(100), "supplier matched")
	eq(t, aliceBal.SupplyOnPool, new(uint256.Int), "supplier off pool")
	bobBal := v.eng.UserBalanceOf(bob, "DAI")
	eq(t, bobBal.BorrowInP2P, amt(100), "borrower matched")
	eq(t, bobBal.BorrowOnPool, new(uint256.Int), "borrower off pool")

	// The matched flow funds itself: the supplier's deposit is withdrawn
	// to pay the borrower, so the pool holds no residue either way.
	eq(t, v.pool.AvailableLiquidity("DAI"), new(uint256.Int), "pool liquidity")
	eq(t, v.pool.Debt("DAI"), new(uint256.Int), "pool debt")

	d, _ := v.eng.MarketDeltas("DAI")
	eq(t, d.P2PSupplyAmount, amt(100), "matched supply total")
	eq(t, d.P2PBorrowAmount, amt(100), "matched borrow total")
	eq(t, v.book.Balance("DAI", bob), amt(100), "borrower received funds")

	if _, ok := v.eng.Head("DAI", engine.PoolSuppliers); ok {
		t.Error("pool supplier list should be empty")
	}
	if head, ok := v.eng.Head("DAI", engine.P2PSuppliers); !ok || head != alice {
		t.Errorf("p2p supplier head: got (%v,%v)", head, ok)
	}
}

// ============================================================================
// Scenario: a zero-budget exit leaves a borrow delta instead of demoting
// ============================================================================

func TestScenario_WithdrawWithoutBudgetGrowsBorrowDelta(t *testing.T) {
	v := newEnv(t)
	v.createMarket("DAI", 0, 5_000)
	v.createMarket("WETH", 0, 5_000)
	v.pool.SeedLiquidity("DAI", amt(1_000))
	v.mint(alice, "DAI", 100)
	v.supply(alice, "DAI", 100, 10)
	v.mint(bob, "WETH", 200)
	v.supply(bob, "WETH", 200, 10)
	v.borrow(bob, "DAI", 100, 10)

	debtBefore := v.pool.Debt("DAI")
	withdrawn, err := v.eng.Withdraw(alice, alice, "DAI", amt(100), 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	eq(t, withdrawn, amt(100), "withdrawn in full")
	eq(t, v.book.Balance("DAI", alice), amt(100), "supplier repaid")

	// With no matching iterations allowed the engine borrows from the
	// pool on the leavers' behalf and records the debt as a delta. The
	// matched borrower is untouched.
	bobBal := v.eng.UserBalanceOf(bob, "DAI")
	eq(t, bobBal.BorrowInP2P, amt(100), "borrower still matched")
	eq(t, bobBal.BorrowOnPool, new(uint256.Int), "borrower not demoted")

	d, _ := v.eng.MarketDeltas("DAI")
	eq(t, d.P2PBorrowDelta, amt(100), "borrow delta grown")
	eq(t, d.P2PSupplyAmount, new(uint256.Int), "matched supply cleared")
	eq(t, d.P2PBorrowAmount, amt(100), "matched borrow kept")

	eq(t, new(uint256.Int).Sub(v.pool.Debt("DAI"), debtBefore), amt(100), "pool debt taken on")
}

// ============================================================================
// Scenario: matching drains borrowers largest-first until the budget runs out
// ============================================================================

func TestScenario_SupplyPromotesBorrowersLargestFirst(t *testing.T) {
	v := newEnv(t)
	v.createMarket("DAI", 0, 5_000)
	v.createMarket("WETH", 0, 5_000)
	v.pool.SeedLiquidity("DAI", amt(1_000))
	for _, u := range []struct {
		user uuid.UUID
		debt uint64
	}{{carol, 300}, {dave, 100}} {
		v.mint(u.user, "WETH", 1_000)
		v.supply(u.user, "WETH", 1_000, 10)
		v.borrow(u.user, "DAI", u.debt, 10)
	}
	debtBefore := v.pool.Debt("DAI")
	eq(t, debtBefore, amt(400), "pool debt before matching")

	v.mint(alice, "DAI", 350)
	v.supply(alice, "DAI", 350, 10)

	carolBal := v.eng.UserBalanceOf(carol, "DAI")
	eq(t, carolBal.BorrowInP2P, amt(300), "largest borrower fully promoted")
	eq(t, carolBal.BorrowOnPool, new(uint256.Int), "largest borrower off pool")
	daveBal := v.eng.UserBalanceOf(dave, "DAI")
	eq(t, daveBal.BorrowInP2P, amt(50), "second borrower partially promoted")
	eq(t, daveBal.BorrowOnPool, amt(50), "second borrower keeps remainder")

	if head, ok := v.eng.Head("DAI", engine.PoolBorrowers); !ok || head != dave {
		t.Errorf("pool borrower head: got (%v,%v), want dave", head, ok)
	}

	// Every promoted unit of debt was repaid to the pool.
	matched := new(uint256.Int).Add(carolBal.BorrowInP2P, daveBal.BorrowInP2P)
	debtPaid := new(uint256.Int).Sub(debtBefore, v.pool.Debt("DAI"))
	eq(t, debtPaid, matched, "pool debt decrease equals promoted volume")
	eq(t, matched, amt(350), "promoted volume")
}

// ============================================================================
// Scenario: supply then full withdraw is value neutral
// ============================================================================

func TestScenario_SupplyWithdrawRoundTrip(t *testing.T) {
	v := newEnv(t)
	v.createMarket("DAI", 0, 5_000)
	v.mint(alice, "DAI", 250)

	v.supply(alice, "DAI", 250, 10)
	withdrawn, err := v.eng.Withdraw(alice, alice, "DAI", maxUint(), 10)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	eq(t, withdrawn, amt(250), "withdrawn")
	eq(t, v.book.Balance("DAI", alice), amt(250), "wallet restored")
	eq(t, v.pool.AvailableLiquidity("DAI"), new(uint256.Int), "pool drained")

	d, _ := v.eng.MarketDeltas("DAI")
	eq(t, d.P2PSupplyAmount, new(uint256.Int), "no matched supply")
	eq(t, d.P2PSupplyDelta, new(uint256.Int), "no supply delta")
}

// ============================================================================
// Scenario: index accrual is idempotent within a block
// ============================================================================

func TestScenario_AccrueIndexesIdempotent(t *testing.T) {
	v := newEnv(t)
	// Roughly 3% APR expressed per second in ray units.
	rate := uint256.NewInt(951_293_759)
	v.createMarketWithRates("DAI", 1_000, 5_000, rate, new(uint256.Int).Mul(rate, uint256.NewInt(2)))
	v.mint(alice, "DAI", 100)
	v.supply(alice, "DAI", 100, 10)

	v.advance(3_600)
	if err := v.eng.AccrueIndexes("DAI"); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	first, ok := v.eng.MarketIndexes("DAI")
	if !ok {
		t.Fatal("market indexes missing")
	}
	if !first.P2PSupplyIndex.Gt(fpmath.Ray) {
		t.Errorf("p2p supply index did not grow: %s", first.P2PSupplyIndex.Dec())
	}

	if err := v.eng.AccrueIndexes("DAI"); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	second, _ := v.eng.MarketIndexes("DAI")
	eq(t, second.P2PSupplyIndex, first.P2PSupplyIndex, "p2p supply index stable")
	eq(t, second.P2PBorrowIndex, first.P2PBorrowIndex, "p2p borrow index stable")
	eq(t, second.PoolSupplyIndex, first.PoolSupplyIndex, "pool supply index stable")
	eq(t, second.PoolBorrowIndex, first.PoolBorrowIndex, "pool borrow index stable")
}

// ============================================================================
// Scenario: outstanding borrow delta accrues with the pool
// ============================================================================

// An unmatched exit leaves the whole matched amount on the borrow delta.
// The delta lives on the pool and compounds at the pool borrow rate, so a
// year later the matched total must still cover it and the next operation
// must go through.
func TestScenario_BorrowDeltaAccruesWithPoolRate(t *testing.T) {
	v := newEnv(t)
	supplyRate := uint256.MustFromDecimal("317097919837645865")  // ~1% APR per second, ray
	borrowRate := uint256.MustFromDecimal("3170979198376458650") // ~10% APR per second, ray
	v.createMarketWithRates("DAI", 1_000, 5_000, supplyRate, borrowRate)
	v.createMarket("WETH", 0, 5_000)
	v.pool.SeedLiquidity("DAI", amt(1_000))

	v.mint(alice, "DAI", 100)
	v.supply(alice, "DAI", 100, 10)
	v.mint(bob, "WETH", 200)
	v.supply(bob, "WETH", 200, 10)
	v.borrow(bob, "DAI", 100, 10)

	if _, err := v.eng.Withdraw(alice, alice, "DAI", maxUint(), 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	d, _ := v.eng.MarketDeltas("DAI")
	eq(t, d.P2PBorrowDelta, amt(100), "borrow delta after unmatched exit")

	v.advance(31_536_000)

	// This refreshes the indexes over the full year with the delta
	// outstanding before touching any balances.
	v.mint(carol, "DAI", 1)
	v.supply(carol, "DAI", 1, 10)

	d, _ = v.eng.MarketDeltas("DAI")
	idx, ok := v.eng.MarketIndexes("DAI")
	if !ok {
		t.Fatal("market indexes missing")
	}
	deltaUnderlying := fpmath.RayMul(d.P2PBorrowDelta, idx.PoolBorrowIndex)
	matchedUnderlying := fpmath.RayMul(d.P2PBorrowAmount, idx.P2PBorrowIndex)
	if deltaUnderlying.Gt(matchedUnderlying) {
		t.Errorf("borrow delta %s exceeds matched borrow %s",
			deltaUnderlying.Dec(), matchedUnderlying.Dec())
	}
	if !idx.P2PBorrowIndex.Gt(fpmath.Ray) {
		t.Errorf("p2p borrow index did not accrue: %s", idx.P2PBorrowIndex.Dec())
	}
}
