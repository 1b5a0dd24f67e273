// Package pool defines the external collaborator contracts the engine
// consumes: the underlying lending pool and the token transfer surface.
// The engine never sees further than these interfaces; the host
// environment decides what stands behind them.
package pool

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Pool is the underlying lending pool. Amounts are in the underlying
// asset's smallest unit; indexes and rates are ray fixed-point, rates per
// second.
type Pool interface {
	// Supply deposits amount into the pool.
	Supply(asset string, amount *uint256.Int) error
	// Withdraw removes up to amount and returns what was actually released.
	Withdraw(asset string, amount *uint256.Int) (*uint256.Int, error)
	// Borrow takes amount of debt against the engine's pool position.
	Borrow(asset string, amount *uint256.Int) error
	// Repay pays down pool debt and returns the amount actually applied.
	Repay(asset string, amount *uint256.Int) (*uint256.Int, error)

	SupplyIndex(asset string) *uint256.Int
	BorrowIndex(asset string) *uint256.Int
	SupplyRatePerSecond(asset string) *uint256.Int
	BorrowRatePerSecond(asset string) *uint256.Int

	// AvailableLiquidity is the amount withdrawable right now.
	AvailableLiquidity(asset string) *uint256.Int
	// BorrowEnabled reports whether the pool accepts new borrows.
	BorrowEnabled(asset string) bool
}

// Transferor moves underlying tokens between users and the engine's
// custody.
type Transferor interface {
	// Pull moves amount from the payer into engine custody.
	Pull(asset string, from uuid.UUID, amount *uint256.Int) error
	// Push moves amount from engine custody to the receiver.
	Push(asset string, to uuid.UUID, amount *uint256.Int) error
}
