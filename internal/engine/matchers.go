package engine

import (
	"peerlend/internal/market"
	fpmath "peerlend/internal/math"

	"github.com/holiman/uint256"
)

// The four matching loops below repeatedly pick the largest entry of one
// list and move liquidity between a user's on-pool and in-p2p
// compartments until the requested underlying amount is covered, the list
// empties, or the iteration budget runs out. Budget exhaustion is a valid
// outcome; the caller routes whatever is left through the pool or the
// delta ledger.
//
// Each loop re-peeks the head after every mutation instead of walking a
// frozen iterator, so reseating the current entry can never invalidate
// the traversal. Every touched counterparty is journaled first.
//
// The loops only move balances and list seats. The delta-ledger matched
// amounts are adjusted by the calling operation, which knows which side
// of the ledger each matched unit belongs to.

// matchBorrowers promotes pool borrowers into peer-to-peer, largest
// on-pool balance first. Returns the underlying amount matched and the
// budget consumed.
func (e *Engine) matchBorrowers(j *journal, m *market.Market, amount *uint256.Int, budget uint64) (*uint256.Int, uint64) {
	ls := e.listsFor(m.Underlying)
	remaining := amount.Clone()
	var used uint64

	for used < budget && !remaining.IsZero() {
		entry, ok := ls.poolBorrowers.PeekLargest()
		if !ok {
			break
		}
		used++

		pos := e.positions.Get(entry.User, m.Underlying)
		onPool := fpmath.RayMul(pos.Borrow.OnPool, m.PoolBorrowIndex)
		take := fpmath.Min(onPool, remaining)
		scaled := fpmath.RayDiv(take, m.PoolBorrowIndex)
		if scaled.IsZero() {
			break // dust too small to move at this index
		}

		j.touchPosition(entry.User, m.Underlying)
		pos.Borrow.OnPool = fpmath.ZeroFloorSub(pos.Borrow.OnPool, scaled)
		pos.Borrow.InP2P = new(uint256.Int).Add(pos.Borrow.InP2P, fpmath.RayDiv(take, m.P2PBorrowIndex))
		e.updateBorrowerInLists(m.Underlying, pos)

		remaining = fpmath.ZeroFloorSub(remaining, take)
	}
	return fpmath.ZeroFloorSub(amount, remaining), used
}

// matchSuppliers promotes pool suppliers into peer-to-peer.
func (e *Engine) matchSuppliers(j *journal, m *market.Market, amount *uint256.Int, budget uint64) (*uint256.Int, uint64) {
	ls := e.listsFor(m.Underlying)
	remaining := amount.Clone()
	var used uint64

	for used < budget && !remaining.IsZero() {
		entry, ok := ls.poolSuppliers.PeekLargest()
		if !ok {
			break
		}
		used++

		pos := e.positions.Get(entry.User, m.Underlying)
		onPool := fpmath.RayMul(pos.Supply.OnPool, m.PoolSupplyIndex)
		take := fpmath.Min(onPool, remaining)
		scaled := fpmath.RayDiv(take, m.PoolSupplyIndex)
		if scaled.IsZero() {
			break
		}

		j.touchPosition(entry.User, m.Underlying)
		pos.Supply.OnPool = fpmath.ZeroFloorSub(pos.Supply.OnPool, scaled)
		pos.Supply.InP2P = new(uint256.Int).Add(pos.Supply.InP2P, fpmath.RayDiv(take, m.P2PSupplyIndex))
		e.updateSupplierInLists(m.Underlying, pos)

		remaining = fpmath.ZeroFloorSub(remaining, take)
	}
	return fpmath.ZeroFloorSub(amount, remaining), used
}

// unmatchBorrowers demotes peer-to-peer borrowers back onto the pool.
// Returns the underlying amount demoted; the caller parks any shortfall
// in the borrow delta.
func (e *Engine) unmatchBorrowers(j *journal, m *market.Market, amount *uint256.Int, budget uint64) (*uint256.Int, uint64) {
	ls := e.listsFor(m.Underlying)
	remaining := amount.Clone()
	var used uint64

	for used < budget && !remaining.IsZero() {
		entry, ok := ls.p2pBorrowers.PeekLargest()
		if !ok {
			break
		}
		used++

		pos := e.positions.Get(entry.User, m.Underlying)
		inP2P := fpmath.RayMul(pos.Borrow.InP2P, m.P2PBorrowIndex)
		take := fpmath.Min(inP2P, remaining)
		scaled := fpmath.RayDiv(take, m.P2PBorrowIndex)
		if scaled.IsZero() {
			break
		}

		j.touchPosition(entry.User, m.Underlying)
		pos.Borrow.InP2P = fpmath.ZeroFloorSub(pos.Borrow.InP2P, scaled)
		pos.Borrow.OnPool = new(uint256.Int).Add(pos.Borrow.OnPool, fpmath.RayDiv(take, m.PoolBorrowIndex))
		e.updateBorrowerInLists(m.Underlying, pos)

		remaining = fpmath.ZeroFloorSub(remaining, take)
	}
	return fpmath.ZeroFloorSub(amount, remaining), used
}

// unmatchSuppliers demotes peer-to-peer suppliers back onto the pool.
func (e *Engine) unmatchSuppliers(j *journal, m *market.Market, amount *uint256.Int, budget uint64) (*uint256.Int, uint64) {
	ls := e.listsFor(m.Underlying)
	remaining := amount.Clone()
	var used uint64

	for used < budget && !remaining.IsZero() {
		entry, ok := ls.p2pSuppliers.PeekLargest()
		if !ok {
			break
		}
		used++

		pos := e.positions.Get(entry.User, m.Underlying)
		inP2P := fpmath.RayMul(pos.Supply.InP2P, m.P2PSupplyIndex)
		take := fpmath.Min(inP2P, remaining)
		scaled := fpmath.RayDiv(take, m.P2PSupplyIndex)
		if scaled.IsZero() {
			break
		}

		j.touchPosition(entry.User, m.Underlying)
		pos.Supply.InP2P = fpmath.ZeroFloorSub(pos.Supply.InP2P, scaled)
		pos.Supply.OnPool = new(uint256.Int).Add(pos.Supply.OnPool, fpmath.RayDiv(take, m.PoolSupplyIndex))
		e.updateSupplierInLists(m.Underlying, pos)

		remaining = fpmath.ZeroFloorSub(remaining, take)
	}
	return fpmath.ZeroFloorSub(amount, remaining), used
}
