package engine

import (
	"fmt"
	"time"

	fpmath "peerlend/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// CloseFactorBps caps how much of a borrower's debt one liquidation may
// repay.
const CloseFactorBps = 5_000

// Liquidate lets liquidator repay part of borrower's debt on
// borrowedMarket and seize collateral on collateralMarket at a bonus. The
// borrower must be past their liquidation threshold. Returns the debt
// actually repaid and the collateral actually seized.
func (e *Engine) Liquidate(liquidator, borrower uuid.UUID, borrowedMarket, collateralMarket string, amount *uint256.Int, budget uint64) (*uint256.Int, *uint256.Int, error) {
	if err := e.enter(); err != nil {
		e.markRejected("liquidate", "reentrancy")
		return nil, nil, err
	}
	defer e.exit()
	start := time.Now()

	if liquidator == uuid.Nil || borrower == uuid.Nil {
		e.markRejected("liquidate", "zero_address")
		return nil, nil, ErrAddressIsZero
	}
	if amount == nil || amount.IsZero() {
		e.markRejected("liquidate", "zero_amount")
		return nil, nil, ErrAmountIsZero
	}
	borrowed, borrowedDelta, err := e.loadMarket(borrowedMarket)
	if err != nil {
		e.markRejected("liquidate", "market_not_created")
		return nil, nil, err
	}
	collateral, collateralDelta, err := e.loadMarket(collateralMarket)
	if err != nil {
		e.markRejected("liquidate", "market_not_created")
		return nil, nil, err
	}
	if borrowed.Paused || borrowed.LiquidateBorrowPaused {
		e.markRejected("liquidate", "paused")
		return nil, nil, ErrLiquidateBorrowPaused
	}
	if collateral.Paused || collateral.LiquidateCollateralPaused {
		e.markRejected("liquidate", "paused")
		return nil, nil, ErrLiquidateCollateralPaused
	}

	debtPos := e.positions.Get(borrower, borrowedMarket)
	if debtPos == nil || !debtPos.Borrowing {
		e.markRejected("liquidate", "not_member")
		return nil, nil, ErrUserNotMember
	}
	collateralPos := e.positions.Get(borrower, collateralMarket)
	if collateralPos == nil || !collateralPos.Supplying {
		e.markRejected("liquidate", "not_member")
		return nil, nil, ErrUserNotMember
	}

	// Both markets accrue before the position is valued.
	e.refreshIndexes(borrowed)
	e.refreshIndexes(collateral)

	liq, err := e.health.UserLiquidity(borrower)
	if err != nil {
		e.markRejected("liquidate", "oracle_failed")
		return nil, nil, fmt.Errorf("%w: %v", ErrOracleFailure, err)
	}
	if !liq.Debt.Gt(liq.LiquidationThreshold) {
		e.markRejected("liquidate", "healthy")
		return nil, nil, ErrUnauthorisedLiquidate
	}

	totalDebt := debtPos.Borrow.InUnderlying(borrowed.PoolBorrowIndex, borrowed.P2PBorrowIndex)
	repaid := fpmath.Min(amount, fpmath.PercentMul(totalDebt, CloseFactorBps))
	if repaid.IsZero() {
		e.markRejected("liquidate", "zero_amount")
		return nil, nil, ErrAmountIsZero
	}

	seized, err := e.seize.SeizeAmount(collateralMarket, borrowedMarket, repaid)
	if err != nil {
		e.markRejected("liquidate", "oracle_failed")
		return nil, nil, fmt.Errorf("%w: %v", ErrOracleFailure, err)
	}
	totalCollateral := collateralPos.Supply.InUnderlying(collateral.PoolSupplyIndex, collateral.P2PSupplyIndex)
	seized = fpmath.Min(seized, totalCollateral)

	j := e.newJournal()
	j.touchMarket(borrowedMarket)
	j.touchMarket(collateralMarket)
	j.touchPosition(borrower, borrowedMarket)
	j.touchPosition(borrower, collateralMarket)

	rplan := e.repayCore(j, borrowed, borrowedDelta, debtPos, repaid, budget)
	wplan := e.withdrawCore(j, collateral, collateralDelta, collateralPos, seized, budget)

	if err := e.executeRepayPlan(borrowedMarket, rplan, liquidator, repaid); err != nil {
		j.rollback()
		e.markRejected("liquidate", "pool_failed")
		return nil, nil, err
	}
	if err := e.executeWithdrawPlan(collateralMarket, wplan, liquidator, wplan.actual); err != nil {
		// Unwind the already-committed repay side.
		if !rplan.toSupply.IsZero() {
			_, werr := e.pool.Withdraw(borrowedMarket, rplan.toSupply)
			mustCompensate("re-withdraw", werr)
		}
		if !rplan.toRepay.IsZero() {
			mustCompensate("re-borrow", e.pool.Borrow(borrowedMarket, rplan.toRepay))
		}
		e.refund(borrowedMarket, liquidator, repaid)
		j.rollback()
		e.markRejected("liquidate", "pool_failed")
		return nil, nil, err
	}

	e.checkDeltaInvariant(borrowed, borrowedDelta)
	e.checkDeltaInvariant(collateral, collateralDelta)
	e.markApplied("liquidate", start)
	e.observeDeltas(borrowedMarket, borrowedDelta)
	e.observeDeltas(collateralMarket, collateralDelta)

	e.log.Info().
		Str("borrowed_market", borrowedMarket).
		Str("collateral_market", collateralMarket).
		Stringer("borrower", borrower).
		Stringer("liquidator", liquidator).
		Str("repaid", repaid.Dec()).
		Str("seized", wplan.actual.Dec()).
		Msg("liquidation applied")

	e.sink.Emit(&Liquidated{
		BorrowedMarket:   borrowedMarket,
		CollateralMarket: collateralMarket,
		Liquidator:       liquidator,
		Borrower:         borrower,
		Repaid:           repaid.Clone(),
		Seized:           wplan.actual.Clone(),
		Timestamp:        e.clock(),
	})
	e.emitDeltaChange(j, borrowed, borrowedDelta)
	e.emitDeltaChange(j, collateral, collateralDelta)
	return repaid, wplan.actual, nil
}
