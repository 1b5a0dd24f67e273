package oracle_test

import (
	"errors"
	"testing"

	"peerlend/internal/market"
	fpmath "peerlend/internal/math"
	"peerlend/internal/oracle"
	"peerlend/internal/position"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var user = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func wad(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), fpmath.Wad)
}

type fixture struct {
	markets   *market.Store
	positions *position.Store
	static    *oracle.Static
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		markets:   market.NewStore(),
		positions: position.NewStore(),
	}
	f.static = oracle.NewStatic(f.positions, f.markets)
	return f
}

func (f *fixture) addMarket(t *testing.T, asset string, priceWad *uint256.Int, cfBps, ltBps uint64) {
	t.Helper()
	if _, err := f.markets.Create(asset, 0, 5_000, 1_700_000_000); err != nil {
		t.Fatalf("create market %s: %v", asset, err)
	}
	f.static.SetPrice(asset, priceWad)
	f.static.SetCollateralFactor(asset, cfBps)
	f.static.SetLiquidationThreshold(asset, ltBps)
}

// seat records an on-pool position directly; indexes in a fresh market
// are 1.0 ray so pool units equal underlying units.
func (f *fixture) seat(asset string, supply, borrow *uint256.Int) {
	pos := f.positions.GetOrCreate(user, asset)
	pos.Supply.OnPool.Set(supply)
	pos.Borrow.OnPool.Set(borrow)
	f.positions.Refresh(pos)
}

// ============================================================================
// Test: user liquidity valuation
// ============================================================================

func TestUserLiquidity_SumsAcrossMarkets(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "WETH", wad(2), 8_000, 9_000)
	f.addMarket(t, "DAI", fpmath.Wad, 7_000, 8_000)

	f.seat("WETH", wad(10), new(uint256.Int)) // 10 WETH @ 2.0 = 20
	f.seat("DAI", new(uint256.Int), wad(5))   // 5 DAI debt @ 1.0

	liq, err := f.static.UserLiquidity(user)
	if err != nil {
		t.Fatalf("user liquidity: %v", err)
	}

	if !liq.Collateral.Eq(wad(20)) {
		t.Errorf("collateral: got %s, want 20", liq.Collateral.Dec())
	}
	if !liq.Debt.Eq(wad(5)) {
		t.Errorf("debt: got %s, want 5", liq.Debt.Dec())
	}
	if !liq.MaxDebt.Eq(wad(16)) { // 20 * 80%
		t.Errorf("max debt: got %s, want 16", liq.MaxDebt.Dec())
	}
	if !liq.LiquidationThreshold.Eq(wad(18)) { // 20 * 90%
		t.Errorf("liquidation threshold: got %s, want 18", liq.LiquidationThreshold.Dec())
	}
}

func TestUserLiquidity_MissingPrice(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "WETH", wad(2), 8_000, 9_000)
	f.seat("WETH", wad(10), new(uint256.Int))

	f.static.SetPrice("WETH", new(uint256.Int))
	if _, err := f.static.UserLiquidity(user); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Errorf("got %v, want ErrPriceUnavailable", err)
	}
}

func TestUserLiquidity_EmptyUser(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "WETH", wad(2), 8_000, 9_000)

	liq, err := f.static.UserLiquidity(user)
	if err != nil {
		t.Fatalf("user liquidity: %v", err)
	}
	if !liq.Collateral.IsZero() || !liq.Debt.IsZero() {
		t.Errorf("expected zero liquidity, got collateral %s debt %s",
			liq.Collateral.Dec(), liq.Debt.Dec())
	}
}

// ============================================================================
// Test: seize conversion
// ============================================================================

func TestSeizeAmount_AppliesBonusAndPrices(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "DAI", fpmath.Wad, 8_000, 9_000)
	f.addMarket(t, "WETH", wad(2), 8_000, 9_000)

	// 40 DAI repaid, 10% bonus, WETH at 2.0: 40 * 1.1 / 2 = 22 WETH.
	seized, err := f.static.SeizeAmount("WETH", "DAI", wad(40))
	if err != nil {
		t.Fatalf("seize amount: %v", err)
	}
	if !seized.Eq(wad(22)) {
		t.Errorf("seized: got %s, want 22", seized.Dec())
	}

	f.static.SetLiquidationBonus(0)
	seized, err = f.static.SeizeAmount("WETH", "DAI", wad(40))
	if err != nil {
		t.Fatalf("seize amount: %v", err)
	}
	if !seized.Eq(wad(20)) {
		t.Errorf("seized without bonus: got %s, want 20", seized.Dec())
	}
}

func TestSeizeAmount_MissingPrice(t *testing.T) {
	f := newFixture(t)
	f.addMarket(t, "DAI", fpmath.Wad, 8_000, 9_000)

	if _, err := f.static.SeizeAmount("WETH", "DAI", wad(1)); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Errorf("got %v, want ErrPriceUnavailable", err)
	}
}
