package oracle

import (
	"fmt"

	"peerlend/internal/market"
	fpmath "peerlend/internal/math"
	"peerlend/internal/position"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Static is a HealthFactor and SeizeCalculator over fixed wad prices and
// per-market collateral parameters. The binary and the tests use it; a
// production deployment would stand a live price feed behind the same
// interfaces.
type Static struct {
	positions *position.Store
	markets   *market.Store

	prices map[string]*uint256.Int // underlying -> wad price in reference unit

	collateralFactorBps     map[string]uint64
	liquidationThresholdBps map[string]uint64
	liquidationBonusBps     uint64
}

func NewStatic(positions *position.Store, markets *market.Store) *Static {
	return &Static{
		positions:               positions,
		markets:                 markets,
		prices:                  make(map[string]*uint256.Int),
		collateralFactorBps:     make(map[string]uint64),
		liquidationThresholdBps: make(map[string]uint64),
		liquidationBonusBps:     1_000, // 10% default bonus
	}
}

func (s *Static) SetPrice(asset string, wadPrice *uint256.Int) {
	s.prices[asset] = wadPrice.Clone()
}

// SetCollateralFactor sets the fraction of supplied value that counts
// toward maxDebt, in basis points.
func (s *Static) SetCollateralFactor(asset string, bps uint64) {
	s.collateralFactorBps[asset] = bps
}

// SetLiquidationThreshold sets the debt level (as a fraction of supplied
// value, basis points) above which the position becomes liquidatable.
func (s *Static) SetLiquidationThreshold(asset string, bps uint64) {
	s.liquidationThresholdBps[asset] = bps
}

func (s *Static) SetLiquidationBonus(bps uint64) {
	s.liquidationBonusBps = bps
}

func (s *Static) price(asset string) (*uint256.Int, error) {
	p, ok := s.prices[asset]
	if !ok || p.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	return p, nil
}

// UserLiquidity values every market the user is a member of.
func (s *Static) UserLiquidity(user uuid.UUID) (Liquidity, error) {
	liq := Liquidity{
		Collateral:           new(uint256.Int),
		Debt:                 new(uint256.Int),
		MaxDebt:              new(uint256.Int),
		LiquidationThreshold: new(uint256.Int),
	}

	for _, mkt := range s.positions.UserMarkets(user) {
		m, ok := s.markets.Get(mkt)
		if !ok {
			continue
		}
		pos := s.positions.Get(user, mkt)
		if pos == nil {
			continue
		}
		price, err := s.price(m.Underlying)
		if err != nil {
			return Liquidity{}, err
		}

		supplied := pos.Supply.InUnderlying(m.PoolSupplyIndex, m.P2PSupplyIndex)
		borrowed := pos.Borrow.InUnderlying(m.PoolBorrowIndex, m.P2PBorrowIndex)

		supplyValue := fpmath.WadMul(supplied, price)
		debtValue := fpmath.WadMul(borrowed, price)

		liq.Collateral.Add(liq.Collateral, supplyValue)
		liq.Debt.Add(liq.Debt, debtValue)
		liq.MaxDebt.Add(liq.MaxDebt, fpmath.PercentMul(supplyValue, s.collateralFactorBps[m.Underlying]))
		liq.LiquidationThreshold.Add(liq.LiquidationThreshold, fpmath.PercentMul(supplyValue, s.liquidationThresholdBps[m.Underlying]))
	}

	return liq, nil
}

// SeizeAmount converts repaid debt into seizable collateral:
// repaid * borrowedPrice * (1 + bonus) / collateralPrice.
func (s *Static) SeizeAmount(collateralMarket, borrowedMarket string, repaid *uint256.Int) (*uint256.Int, error) {
	borrowedPrice, err := s.price(borrowedMarket)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := s.price(collateralMarket)
	if err != nil {
		return nil, err
	}

	repaidValue := fpmath.WadMul(repaid, borrowedPrice)
	withBonus := fpmath.PercentMul(repaidValue, fpmath.MaxBps+s.liquidationBonusBps)
	return fpmath.WadDiv(withBonus, collateralPrice), nil
}
