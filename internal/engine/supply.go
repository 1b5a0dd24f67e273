package engine

import (
	"fmt"
	"time"

	fpmath "peerlend/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Supply pulls amount of the market's underlying from payer and credits
// the supply position of beneficiary. The amount is matched against the
// borrow delta first, then against pool borrowers up to the iteration
// budget, and whatever remains is supplied to the pool. The budget is
// taken literally; zero skips matching.
func (e *Engine) Supply(payer, beneficiary uuid.UUID, marketID string, amount *uint256.Int, budget uint64) error {
	if err := e.enter(); err != nil {
		e.markRejected("supply", "reentrancy")
		return err
	}
	defer e.exit()
	start := time.Now()

	if payer == uuid.Nil || beneficiary == uuid.Nil {
		e.markRejected("supply", "zero_address")
		return ErrAddressIsZero
	}
	if amount == nil || amount.IsZero() {
		e.markRejected("supply", "zero_amount")
		return ErrAmountIsZero
	}
	m, delta, err := e.loadMarket(marketID)
	if err != nil {
		e.markRejected("supply", "market_not_created")
		return err
	}
	if m.Paused || m.SupplyPaused {
		e.markRejected("supply", "paused")
		return ErrSupplyPaused
	}

	e.refreshIndexes(m)

	j := e.newJournal()
	j.touchMarket(marketID)
	j.touchPosition(beneficiary, marketID)

	pos := e.positions.GetOrCreate(beneficiary, marketID)
	remaining := amount.Clone()
	toRepay := new(uint256.Int)
	var used uint64

	if !m.P2PDisabled {
		// Absorb borrow-side delta before promoting live borrowers.
		fromDelta := delta.AbsorbBorrowDelta(m, remaining)
		toRepay.Add(toRepay, fromDelta)
		remaining = fpmath.ZeroFloorSub(remaining, fromDelta)

		promoted, n := e.matchBorrowers(j, m, remaining, budget)
		used = n
		toRepay.Add(toRepay, promoted)
		remaining = fpmath.ZeroFloorSub(remaining, promoted)

		if !toRepay.IsZero() {
			pos.Supply.InP2P = new(uint256.Int).Add(pos.Supply.InP2P, fpmath.RayDiv(toRepay, m.P2PSupplyIndex))
			delta.AddP2PSupply(m, toRepay)
			delta.AddP2PBorrow(m, promoted)
		}
	}

	if !remaining.IsZero() {
		pos.Supply.OnPool = new(uint256.Int).Add(pos.Supply.OnPool, fpmath.RayDiv(remaining, m.PoolSupplyIndex))
	}
	e.positions.Refresh(pos)
	e.updateSupplierInLists(marketID, pos)

	if err := e.tokens.Pull(marketID, payer, amount); err != nil {
		j.rollback()
		e.markRejected("supply", "transfer_failed")
		return fmt.Errorf("%w: pull %s: %v", ErrPoolCallFailed, marketID, err)
	}
	if !toRepay.IsZero() {
		if _, err := e.pool.Repay(marketID, toRepay); err != nil {
			j.rollback()
			e.refund(marketID, payer, amount)
			e.markRejected("supply", "pool_failed")
			return fmt.Errorf("%w: repay %s: %v", ErrPoolCallFailed, marketID, err)
		}
	}
	if !remaining.IsZero() {
		if err := e.pool.Supply(marketID, remaining); err != nil {
			if !toRepay.IsZero() {
				mustCompensate("re-borrow", e.pool.Borrow(marketID, toRepay))
			}
			j.rollback()
			e.refund(marketID, payer, amount)
			e.markRejected("supply", "pool_failed")
			return fmt.Errorf("%w: supply %s: %v", ErrPoolCallFailed, marketID, err)
		}
	}

	e.checkDeltaInvariant(m, delta)
	e.markApplied("supply", start)
	e.observeMatching("supply", marketID, toRepay, remaining, used)
	e.observeDeltas(marketID, delta)

	e.log.Debug().
		Str("market", marketID).
		Stringer("payer", payer).
		Stringer("beneficiary", beneficiary).
		Str("amount", amount.Dec()).
		Str("matched", toRepay.Dec()).
		Str("pooled", remaining.Dec()).
		Uint64("budget_used", used).
		Msg("supply applied")

	e.sink.Emit(&Supplied{
		Market:        marketID,
		User:          beneficiary,
		Payer:         payer,
		Amount:        amount.Clone(),
		BalanceOnPool: pos.Supply.OnPool.Clone(),
		BalanceInP2P:  pos.Supply.InP2P.Clone(),
		Timestamp:     m.LastUpdate,
	})
	e.emitDeltaChange(j, m, delta)
	return nil
}
