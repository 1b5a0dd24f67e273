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

// withdrawPlan is the pool interaction a withdrawal resolved to: the
// amount to withdraw from the engine's pool position and the amount to
// borrow from the pool on behalf of demoted peer-to-peer borrowers.
type withdrawPlan struct {
	toWithdraw *uint256.Int
	toBorrow   *uint256.Int
	matched    *uint256.Int
	// actual is the amount the position actually released; a pool
	// liquidity shortfall can clamp it below the request.
	actual     *uint256.Int
	budgetUsed uint64
}

// withdrawCore removes amount of supply from pos, draining the on-pool
// compartment first and unwinding the peer-to-peer compartment second.
// Callers must have journaled the market and position and refreshed the
// indexes. amount must not exceed the position's total supply.
func (e *Engine) withdrawCore(j *journal, m *market.Market, delta *market.Delta, pos *position.Position, amount *uint256.Int, budget uint64) withdrawPlan {
	remaining := amount.Clone()
	toWithdraw := new(uint256.Int)
	toBorrow := new(uint256.Int)
	matched := new(uint256.Int)
	var used uint64

	// Drain the on-pool compartment, bounded by pool liquidity.
	onPool := fpmath.RayMul(pos.Supply.OnPool, m.PoolSupplyIndex)
	if !onPool.IsZero() {
		fromPool := fpmath.Min(fpmath.Min(onPool, remaining), e.pool.AvailableLiquidity(m.Underlying))
		pos.Supply.OnPool = fpmath.ZeroFloorSub(pos.Supply.OnPool, fpmath.RayDiv(fromPool, m.PoolSupplyIndex))
		toWithdraw.Add(toWithdraw, fromPool)
		remaining = fpmath.ZeroFloorSub(remaining, fromPool)
	}

	// The rest comes out of the matched compartment, bounded by it: when
	// pool liquidity clamped the first stage the request shrinks rather
	// than borrow underlying the user never had matched.
	unwound := fpmath.Min(fpmath.RayMul(pos.Supply.InP2P, m.P2PSupplyIndex), remaining)
	remaining = fpmath.ZeroFloorSub(remaining, unwound)
	if !unwound.IsZero() {
		// The user's side is settled immediately; the stages below find
		// the underlying.
		pos.Supply.InP2P = fpmath.ZeroFloorSub(pos.Supply.InP2P, fpmath.RayDiv(unwound, m.P2PSupplyIndex))
		delta.SubP2PSupply(m, unwound)
		need := unwound.Clone()

		fromDelta := delta.AbsorbSupplyDelta(m, e.pool.AvailableLiquidity(m.Underlying), need)
		toWithdraw.Add(toWithdraw, fromDelta)
		need = fpmath.ZeroFloorSub(need, fromDelta)

		if !m.P2PDisabled && !need.IsZero() {
			// Replace the departing supplier with pool suppliers.
			promoted, n := e.matchSuppliers(j, m, need, budget)
			used += n
			budget -= n
			delta.AddP2PSupply(m, promoted)
			toWithdraw.Add(toWithdraw, promoted)
			matched.Add(matched, promoted)
			need = fpmath.ZeroFloorSub(need, promoted)
		}

		if !need.IsZero() {
			// Send matched borrowers back to the pool; whatever the budget
			// leaves unmatched is carried by the borrow delta. Either way
			// the engine borrows the remainder from the pool to pay out.
			demoted, n := e.unmatchBorrowers(j, m, need, budget)
			used += n
			// Only the demoted portion leaves the matched total; the
			// shortfall stays matched on the borrowers' books, covered by
			// the borrow delta.
			delta.SubP2PBorrow(m, demoted)
			delta.GrowBorrowDelta(m, fpmath.ZeroFloorSub(need, demoted))
			toBorrow.Add(toBorrow, need)
		}
	}

	e.positions.Refresh(pos)
	e.updateSupplierInLists(m.Underlying, pos)
	return withdrawPlan{
		toWithdraw: toWithdraw,
		toBorrow:   toBorrow,
		matched:    matched,
		actual:     fpmath.ZeroFloorSub(amount, remaining),
		budgetUsed: used,
	}
}

// executeWithdrawPlan performs the pool side of a withdrawal and pushes
// the proceeds to the receiver. A failed leg unwinds the earlier legs
// before returning.
func (e *Engine) executeWithdrawPlan(marketID string, plan withdrawPlan, receiver uuid.UUID, amount *uint256.Int) error {
	if !plan.toBorrow.IsZero() {
		if err := e.pool.Borrow(marketID, plan.toBorrow); err != nil {
			return fmt.Errorf("%w: borrow %s: %v", ErrPoolCallFailed, marketID, err)
		}
	}
	if !plan.toWithdraw.IsZero() {
		actual, err := e.pool.Withdraw(marketID, plan.toWithdraw)
		if err != nil || actual.Lt(plan.toWithdraw) {
			if actual != nil && !actual.IsZero() {
				mustCompensate("re-supply", e.pool.Supply(marketID, actual))
			}
			if !plan.toBorrow.IsZero() {
				_, rerr := e.pool.Repay(marketID, plan.toBorrow)
				mustCompensate("re-repay", rerr)
			}
			return fmt.Errorf("%w: withdraw %s: %v", ErrPoolCallFailed, marketID, err)
		}
	}
	if err := e.tokens.Push(marketID, receiver, amount); err != nil {
		if !plan.toWithdraw.IsZero() {
			mustCompensate("re-supply", e.pool.Supply(marketID, plan.toWithdraw))
		}
		if !plan.toBorrow.IsZero() {
			_, rerr := e.pool.Repay(marketID, plan.toBorrow)
			mustCompensate("re-repay", rerr)
		}
		return fmt.Errorf("%w: push %s: %v", ErrPoolCallFailed, marketID, err)
	}
	return nil
}

// Withdraw removes up to amount of user's supply and sends it to
// receiver. Requests above the position's balance are clamped, so passing
// the maximum uint256 empties the position. Returns the amount actually
// withdrawn. The operation is rejected if the remaining collateral would
// no longer cover the user's debt.
func (e *Engine) Withdraw(user, receiver uuid.UUID, marketID string, amount *uint256.Int, budget uint64) (*uint256.Int, error) {
	if err := e.enter(); err != nil {
		e.markRejected("withdraw", "reentrancy")
		return nil, err
	}
	defer e.exit()
	start := time.Now()

	if user == uuid.Nil || receiver == uuid.Nil {
		e.markRejected("withdraw", "zero_address")
		return nil, ErrAddressIsZero
	}
	if amount == nil || amount.IsZero() {
		e.markRejected("withdraw", "zero_amount")
		return nil, ErrAmountIsZero
	}
	m, delta, err := e.loadMarket(marketID)
	if err != nil {
		e.markRejected("withdraw", "market_not_created")
		return nil, err
	}
	if m.Paused || m.WithdrawPaused {
		e.markRejected("withdraw", "paused")
		return nil, ErrWithdrawPaused
	}

	pos := e.positions.Get(user, marketID)
	if pos == nil || !pos.Supplying {
		e.markRejected("withdraw", "not_member")
		return nil, ErrUserNotMember
	}

	e.refreshIndexes(m)

	total := pos.Supply.InUnderlying(m.PoolSupplyIndex, m.P2PSupplyIndex)
	toWithdraw := fpmath.Min(amount, total)
	if toWithdraw.IsZero() {
		e.markRejected("withdraw", "zero_amount")
		return nil, ErrAmountIsZero
	}

	j := e.newJournal()
	j.touchMarket(marketID)
	j.touchPosition(user, marketID)

	plan := e.withdrawCore(j, m, delta, pos, toWithdraw, budget)

	liq, err := e.health.UserLiquidity(user)
	if err != nil {
		j.rollback()
		e.markRejected("withdraw", "oracle_failed")
		return nil, fmt.Errorf("%w: %v", ErrOracleFailure, err)
	}
	if liq.Debt.Gt(liq.MaxDebt) {
		j.rollback()
		e.markRejected("withdraw", "undercollateralised")
		return nil, ErrUnauthorisedWithdraw
	}

	if err := e.executeWithdrawPlan(marketID, plan, receiver, plan.actual); err != nil {
		j.rollback()
		e.markRejected("withdraw", "pool_failed")
		return nil, err
	}

	e.checkDeltaInvariant(m, delta)
	e.markApplied("withdraw", start)
	e.observeMatching("withdraw", marketID, plan.matched, plan.toWithdraw, plan.budgetUsed)
	e.observeDeltas(marketID, delta)

	e.log.Debug().
		Str("market", marketID).
		Stringer("user", user).
		Str("amount", plan.actual.Dec()).
		Uint64("budget_used", plan.budgetUsed).
		Msg("withdraw applied")

	e.sink.Emit(&Withdrawn{
		Market:        marketID,
		User:          user,
		Receiver:      receiver,
		Amount:        plan.actual.Clone(),
		BalanceOnPool: pos.Supply.OnPool.Clone(),
		BalanceInP2P:  pos.Supply.InP2P.Clone(),
		Timestamp:     m.LastUpdate,
	})
	e.emitDeltaChange(j, m, delta)
	return plan.actual, nil
}
