// Package oracle defines the health-factor collaborator contract: the
// engine consults it to gate borrows and withdrawals and to decide
// liquidation eligibility, never to compute prices itself.
package oracle

import (
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrPriceUnavailable is returned when a price feed yields invalid data.
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// Liquidity is a user's aggregate position valued in a common reference
// unit. The engine requires debt <= maxDebt to proceed with a borrow or
// withdraw, and debt > liquidationThreshold to allow a liquidation.
type Liquidity struct {
	Collateral           *uint256.Int
	Debt                 *uint256.Int
	MaxDebt              *uint256.Int
	LiquidationThreshold *uint256.Int
}

// HealthFactor values a user's positions.
type HealthFactor interface {
	UserLiquidity(user uuid.UUID) (Liquidity, error)
}

// SeizeCalculator converts a repaid debt amount into the collateral amount
// a liquidator may seize, bonus included.
type SeizeCalculator interface {
	SeizeAmount(collateralMarket, borrowedMarket string, repaid *uint256.Int) (*uint256.Int, error)
}
