package engine

import (
	"fmt"
	"time"

	"peerlend/internal/market"
	fpmath "peerlend/internal/math"
	"peerlend/internal/position"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// repayPlan is the pool interaction a repayment resolved to: the amount
// to repay on the engine's pool debt and the amount to supply to the pool
// on behalf of demoted peer-to-peer suppliers.
type repayPlan struct {
	toRepay    *uint256.Int
	toSupply   *uint256.Int
	matched    *uint256.Int
	budgetUsed uint64
}

// spreadFee is the underlying amount of matched borrow not backed by
// matched supply. It accrues from the rate spread the reserve factor
// carves out and is skimmed during repayments instead of being repaid to
// the pool.
func spreadFee(m *market.Market, d *market.Delta) *uint256.Int {
	borrowSide := fpmath.ZeroFloorSub(
		fpmath.RayMul(d.P2PBorrowAmount, m.P2PBorrowIndex),
		fpmath.RayMul(d.P2PBorrowDelta, m.PoolBorrowIndex),
	)
	supplySide := fpmath.ZeroFloorSub(
		fpmath.RayMul(d.P2PSupplyAmount, m.P2PSupplyIndex),
		fpmath.RayMul(d.P2PSupplyDelta, m.PoolSupplyIndex),
	)
	return fpmath.ZeroFloorSub(borrowSide, supplySide)
}

// repayCore removes amount of debt from pos, draining the on-pool
// compartment first and unwinding the peer-to-peer compartment second.
// Callers must have journaled the market and position and refreshed the
// indexes. amount must not exceed the position's total debt.
func (e *Engine) repayCore(j *journal, m *market.Market, delta *market.Delta, pos *position.Position, amount *uint256.Int, budget uint64) repayPlan {
	remaining := amount.Clone()
	toRepay := new(uint256.Int)
	toSupply := new(uint256.Int)
	matched := new(uint256.Int)
	var used uint64

	onPool := fpmath.RayMul(pos.Borrow.OnPool, m.PoolBorrowIndex)
	if !onPool.IsZero() {
		fromPool := fpmath.Min(onPool, remaining)
		pos.Borrow.OnPool = fpmath.ZeroFloorSub(pos.Borrow.OnPool, fpmath.RayDiv(fromPool, m.PoolBorrowIndex))
		toRepay.Add(toRepay, fromPool)
		remaining = fpmath.ZeroFloorSub(remaining, fromPool)
	}

	unwound := fpmath.Min(fpmath.RayMul(pos.Borrow.InP2P, m.P2PBorrowIndex), remaining)
	if !unwound.IsZero() {
		pos.Borrow.InP2P = fpmath.ZeroFloorSub(pos.Borrow.InP2P, fpmath.RayDiv(unwound, m.P2PBorrowIndex))
		delta.SubP2PBorrow(m, unwound)
		need := unwound.Clone()

		fromDelta := delta.AbsorbBorrowDelta(m, need)
		toRepay.Add(toRepay, fromDelta)
		need = fpmath.ZeroFloorSub(need, fromDelta)

		// Skim the spread fee: that slice of the repayment belongs to the
		// engine, not the pool.
		fee := fpmath.Min(spreadFee(m, delta), need)
		need = fpmath.ZeroFloorSub(need, fee)

		if !m.P2PDisabled && !need.IsZero() {
			// Replace the departing borrower with pool borrowers.
			promoted, n := e.matchBorrowers(j, m, need, budget)
			used += n
			budget -= n
			delta.AddP2PBorrow(m, promoted)
			toRepay.Add(toRepay, promoted)
			matched.Add(matched, promoted)
			need = fpmath.ZeroFloorSub(need, promoted)
		}

		if !need.IsZero() {
			// Send matched suppliers back to the pool; the shortfall stays
			// matched on their books, covered by the supply delta. Either
			// way the engine supplies the remainder to the pool.
			demoted, n := e.unmatchSuppliers(j, m, need, budget)
			used += n
			delta.SubP2PSupply(m, demoted)
			delta.GrowSupplyDelta(m, fpmath.ZeroFloorSub(need, demoted))
			toSupply.Add(toSupply, need)
		}
	}

	e.positions.Refresh(pos)
	e.updateBorrowerInLists(m.Underlying, pos)
	return repayPlan{toRepay: toRepay, toSupply: toSupply, matched: matched, budgetUsed: used}
}

// executeRepayPlan pulls the repayment from the payer and performs the
// pool side. A failed leg unwinds the earlier legs before returning.
func (e *Engine) executeRepayPlan(marketID string, plan repayPlan, payer uuid.UUID, amount *uint256.Int) error {
	if err := e.tokens.Pull(marketID, payer, amount); err != nil {
		return fmt.Errorf("%w: pull %s: %v", ErrPoolCallFailed, marketID, err)
	}
	if !plan.toRepay.IsZero() {
		if _, err := e.pool.Repay(marketID, plan.toRepay); err != nil {
			e.refund(marketID, payer, amount)
			return fmt.Errorf("%w: repay %s: %v", ErrPoolCallFailed, marketID, err)
		}
	}
	if !plan.toSupply.IsZero() {
		if err := e.pool.Supply(marketID, plan.toSupply); err != nil {
			if !plan.toRepay.IsZero() {
				mustCompensate("re-borrow", e.pool.Borrow(marketID, plan.toRepay))
			}
			e.refund(marketID, payer, amount)
			return fmt.Errorf("%w: supply %s: %v", ErrPoolCallFailed, marketID, err)
		}
	}
	return nil
}

// Repay pays down up to amount of onBehalf's debt with repayer's tokens.
// Requests above the debt are clamped, so passing the maximum uint256
// clears the position. Returns the amount actually repaid.
func (e *Engine) Repay(repayer, onBehalf uuid.UUID, marketID string, amount *uint256.Int, budget uint64) (*uint256.Int, error) {
	if err := e.enter(); err != nil {
		e.markRejected("repay", "reentrancy")
		return nil, err
	}
	defer e.exit()
	start := time.Now()

	if repayer == uuid.Nil || onBehalf == uuid.Nil {
		e.markRejected("repay", "zero_address")
		return nil, ErrAddressIsZero
	}
	if amount == nil || amount.IsZero() {
		e.markRejected("repay", "zero_amount")
		return nil, ErrAmountIsZero
	}
	m, delta, err := e.loadMarket(marketID)
	if err != nil {
		e.markRejected("repay", "market_not_created")
		return nil, err
	}
	if m.Paused || m.RepayPaused {
		e.markRejected("repay", "paused")
		return nil, ErrRepayPaused
	}

	pos := e.positions.Get(onBehalf, marketID)
	if pos == nil || !pos.Borrowing {
		e.markRejected("repay", "not_member")
		return nil, ErrUserNotMember
	}

	e.refreshIndexes(m)

	total := pos.Borrow.InUnderlying(m.PoolBorrowIndex, m.P2PBorrowIndex)
	toRepay := fpmath.Min(amount, total)
	if toRepay.IsZero() {
		e.markRejected("repay", "zero_amount")
		return nil, ErrAmountIsZero
	}

	j := e.newJournal()
	j.touchMarket(marketID)
	j.touchPosition(onBehalf, marketID)

	plan := e.repayCore(j, m, delta, pos, toRepay, budget)

	if err := e.executeRepayPlan(marketID, plan, repayer, toRepay); err != nil {
		j.rollback()
		e.markRejected("repay", "pool_failed")
		return nil, err
	}

	e.checkDeltaInvariant(m, delta)
	e.markApplied("repay", start)
	e.observeMatching("repay", marketID, plan.matched, plan.toRepay, plan.budgetUsed)
	e.observeDeltas(marketID, delta)

	e.log.Debug().
		Str("market", marketID).
		Stringer("user", onBehalf).
		Str("amount", toRepay.Dec()).
		Uint64("budget_used", plan.budgetUsed).
		Msg("repay applied")

	e.sink.Emit(&Repaid{
		Market:        marketID,
		User:          onBehalf,
		Repayer:       repayer,
		Amount:        toRepay.Clone(),
		BalanceOnPool: pos.Borrow.OnPool.Clone(),
		BalanceInP2P:  pos.Borrow.InP2P.Clone(),
		Timestamp:     m.LastUpdate,
	})
	e.emitDeltaChange(j, m, delta)
	return toRepay, nil
}
