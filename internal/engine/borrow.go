package engine

import (
	"fmt"
	"time"

	fpmath "peerlend/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Borrow takes amount of the market's underlying as debt for user. The
// amount is matched against the supply delta, then against pool suppliers
// up to the budget; what remains is borrowed from the pool. The operation
// is rejected if the user's resulting debt would exceed their borrowing
// capacity.
func (e *Engine) Borrow(user uuid.UUID, marketID string, amount *uint256.Int, budget uint64) error {
	if err := e.enter(); err != nil {
		e.markRejected("borrow", "reentrancy")
		return err
	}
	defer e.exit()
	start := time.Now()

	if user == uuid.Nil {
		e.markRejected("borrow", "zero_address")
		return ErrAddressIsZero
	}
	if amount == nil || amount.IsZero() {
		e.markRejected("borrow", "zero_amount")
		return ErrAmountIsZero
	}
	m, delta, err := e.loadMarket(marketID)
	if err != nil {
		e.markRejected("borrow", "market_not_created")
		return err
	}
	if m.Paused || m.BorrowPaused {
		e.markRejected("borrow", "paused")
		return ErrBorrowPaused
	}
	if !e.pool.BorrowEnabled(marketID) {
		e.markRejected("borrow", "borrow_disabled")
		return ErrBorrowingNotEnabled
	}

	e.refreshIndexes(m)

	j := e.newJournal()
	j.touchMarket(marketID)
	j.touchPosition(user, marketID)

	pos := e.positions.GetOrCreate(user, marketID)
	remaining := amount.Clone()
	toWithdraw := new(uint256.Int)
	var used uint64

	if !m.P2PDisabled {
		fromDelta := delta.AbsorbSupplyDelta(m, e.pool.AvailableLiquidity(marketID), remaining)
		toWithdraw.Add(toWithdraw, fromDelta)
		remaining = fpmath.ZeroFloorSub(remaining, fromDelta)

		promoted, n := e.matchSuppliers(j, m, remaining, budget)
		used = n
		toWithdraw.Add(toWithdraw, promoted)
		remaining = fpmath.ZeroFloorSub(remaining, promoted)

		if !toWithdraw.IsZero() {
			pos.Borrow.InP2P = new(uint256.Int).Add(pos.Borrow.InP2P, fpmath.RayDiv(toWithdraw, m.P2PBorrowIndex))
			delta.AddP2PBorrow(m, toWithdraw)
			delta.AddP2PSupply(m, promoted)
		}
	}

	if !remaining.IsZero() {
		pos.Borrow.OnPool = new(uint256.Int).Add(pos.Borrow.OnPool, fpmath.RayDiv(remaining, m.PoolBorrowIndex))
	}
	e.positions.Refresh(pos)
	e.updateBorrowerInLists(marketID, pos)

	// Capacity check runs against the mutated state so the valuation sees
	// the new debt exactly as the oracle will.
	liq, err := e.health.UserLiquidity(user)
	if err != nil {
		j.rollback()
		e.markRejected("borrow", "oracle_failed")
		return fmt.Errorf("%w: %v", ErrOracleFailure, err)
	}
	if liq.Debt.Gt(liq.MaxDebt) {
		j.rollback()
		e.markRejected("borrow", "undercollateralised")
		return ErrUnauthorisedBorrow
	}

	if !toWithdraw.IsZero() {
		actual, err := e.pool.Withdraw(marketID, toWithdraw)
		if err != nil || actual.Lt(toWithdraw) {
			if actual != nil && !actual.IsZero() {
				mustCompensate("re-supply", e.pool.Supply(marketID, actual))
			}
			j.rollback()
			e.markRejected("borrow", "pool_failed")
			return fmt.Errorf("%w: withdraw %s: %v", ErrPoolCallFailed, marketID, err)
		}
	}
	if !remaining.IsZero() {
		if err := e.pool.Borrow(marketID, remaining); err != nil {
			if !toWithdraw.IsZero() {
				mustCompensate("re-supply", e.pool.Supply(marketID, toWithdraw))
			}
			j.rollback()
			e.markRejected("borrow", "pool_failed")
			return fmt.Errorf("%w: borrow %s: %v", ErrPoolCallFailed, marketID, err)
		}
	}
	if err := e.tokens.Push(marketID, user, amount); err != nil {
		if !remaining.IsZero() {
			_, rerr := e.pool.Repay(marketID, remaining)
			mustCompensate("re-repay", rerr)
		}
		if !toWithdraw.IsZero() {
			mustCompensate("re-supply", e.pool.Supply(marketID, toWithdraw))
		}
		j.rollback()
		e.markRejected("borrow", "transfer_failed")
		return fmt.Errorf("%w: push %s: %v", ErrPoolCallFailed, marketID, err)
	}

	e.checkDeltaInvariant(m, delta)
	e.markApplied("borrow", start)
	e.observeMatching("borrow", marketID, toWithdraw, remaining, used)
	e.observeDeltas(marketID, delta)

	e.log.Debug().
		Str("market", marketID).
		Stringer("user", user).
		Str("amount", amount.Dec()).
		Str("matched", toWithdraw.Dec()).
		Str("pooled", remaining.Dec()).
		Uint64("budget_used", used).
		Msg("borrow applied")

	e.sink.Emit(&Borrowed{
		Market:        marketID,
		User:          user,
		Amount:        amount.Clone(),
		BalanceOnPool: pos.Borrow.OnPool.Clone(),
		BalanceInP2P:  pos.Borrow.InP2P.Clone(),
		Timestamp:     m.LastUpdate,
	})
	e.emitDeltaChange(j, m, delta)
	return nil
}
