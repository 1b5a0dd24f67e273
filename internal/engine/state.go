package engine

import (
	"sort"

	"peerlend/internal/market"
	"peerlend/internal/matching"
	"peerlend/internal/position"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// The read surface below returns deep copies and is safe to call between
// operations. It is not synchronized against an operation in flight;
// callers on other goroutines serialize against the command path.

// UserBalance is a position's four compartments in scaled units.
type UserBalance struct {
	SupplyOnPool *uint256.Int
	SupplyInP2P  *uint256.Int
	BorrowOnPool *uint256.Int
	BorrowInP2P  *uint256.Int
}

// UserBalanceOf returns the user's balances on a market, zeros if the
// user holds no position there.
func (e *Engine) UserBalanceOf(user uuid.UUID, marketID string) UserBalance {
	pos := e.positions.Get(user, marketID)
	if pos == nil {
		return UserBalance{
			SupplyOnPool: new(uint256.Int),
			SupplyInP2P:  new(uint256.Int),
			BorrowOnPool: new(uint256.Int),
			BorrowInP2P:  new(uint256.Int),
		}
	}
	return UserBalance{
		SupplyOnPool: pos.Supply.OnPool.Clone(),
		SupplyInP2P:  pos.Supply.InP2P.Clone(),
		BorrowOnPool: pos.Borrow.OnPool.Clone(),
		BorrowInP2P:  pos.Borrow.InP2P.Clone(),
	}
}

// MarketDeltas returns a copy of the market's delta ledger.
func (e *Engine) MarketDeltas(marketID string) (*market.Delta, bool) {
	d, ok := e.markets.Delta(marketID)
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// MarketIndexes returns the market's current indexes.
func (e *Engine) MarketIndexes(marketID string) (market.IndexUpdate, bool) {
	m, ok := e.markets.Get(marketID)
	if !ok {
		return market.IndexUpdate{}, false
	}
	return market.IndexUpdate{
		P2PSupplyIndex:  m.P2PSupplyIndex.Clone(),
		P2PBorrowIndex:  m.P2PBorrowIndex.Clone(),
		PoolSupplyIndex: m.PoolSupplyIndex.Clone(),
		PoolBorrowIndex: m.PoolBorrowIndex.Clone(),
	}, true
}

// Markets returns all market identifiers, sorted.
func (e *Engine) Markets() []string {
	return e.markets.IDs()
}

// AccrueIndexes refreshes a market's indexes outside of any user
// operation, for keepers that want rates current.
func (e *Engine) AccrueIndexes(marketID string) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, _, err := e.loadMarket(marketID)
	if err != nil {
		return err
	}
	e.refreshIndexes(m)
	return nil
}

// ListKind selects one of a market's four ordered structures.
type ListKind int

const (
	PoolSuppliers ListKind = iota
	P2PSuppliers
	PoolBorrowers
	P2PBorrowers
)

func (e *Engine) list(marketID string, kind ListKind) *matching.List {
	ls, ok := e.lists[marketID]
	if !ok {
		return nil
	}
	switch kind {
	case PoolSuppliers:
		return ls.poolSuppliers
	case P2PSuppliers:
		return ls.p2pSuppliers
	case PoolBorrowers:
		return ls.poolBorrowers
	case P2PBorrowers:
		return ls.p2pBorrowers
	default:
		return nil
	}
}

// Head returns the largest entry of the selected structure.
func (e *Engine) Head(marketID string, kind ListKind) (uuid.UUID, bool) {
	l := e.list(marketID, kind)
	if l == nil {
		return uuid.Nil, false
	}
	return l.Head()
}

// Next returns the entry after user in descending order.
func (e *Engine) Next(marketID string, kind ListKind, user uuid.UUID) (uuid.UUID, bool) {
	l := e.list(marketID, kind)
	if l == nil {
		return uuid.Nil, false
	}
	return l.Next(user)
}

// TotalMarketSupply sums every position's supply on a market in
// underlying units at the current indexes.
func (e *Engine) TotalMarketSupply(marketID string) (*uint256.Int, bool) {
	m, ok := e.markets.Get(marketID)
	if !ok {
		return nil, false
	}
	total := new(uint256.Int)
	for _, pos := range e.positions.All() {
		if pos.Market != marketID {
			continue
		}
		total.Add(total, pos.Supply.InUnderlying(m.PoolSupplyIndex, m.P2PSupplyIndex))
	}
	return total, true
}

// TotalMarketBorrow sums every position's debt on a market in underlying
// units at the current indexes.
func (e *Engine) TotalMarketBorrow(marketID string) (*uint256.Int, bool) {
	m, ok := e.markets.Get(marketID)
	if !ok {
		return nil, false
	}
	total := new(uint256.Int)
	for _, pos := range e.positions.All() {
		if pos.Market != marketID {
			continue
		}
		total.Add(total, pos.Borrow.InUnderlying(m.PoolBorrowIndex, m.P2PBorrowIndex))
	}
	return total, true
}

// MarketState pairs a market record with its delta ledger.
type MarketState struct {
	Market *market.Market
	Delta  *market.Delta
}

// State is the engine's complete persistent state, used by the snapshot
// layer for warm restarts.
type State struct {
	Timestamp int64
	Markets   []MarketState
	Positions []*position.Position
}

// ExportState deep-copies all state in deterministic order.
func (e *Engine) ExportState() *State {
	s := &State{Timestamp: e.clock()}
	for _, id := range e.markets.IDs() {
		m, _ := e.markets.Get(id)
		d, _ := e.markets.Delta(id)
		s.Markets = append(s.Markets, MarketState{Market: m.Clone(), Delta: d.Clone()})
	}
	positions := e.positions.All()
	sort.Slice(positions, func(i, k int) bool {
		if positions[i].Market != positions[k].Market {
			return positions[i].Market < positions[k].Market
		}
		return positions[i].UserID.String() < positions[k].UserID.String()
	})
	for _, pos := range positions {
		s.Positions = append(s.Positions, pos.Clone())
	}
	return s
}

// ImportState installs snapshot state and rebuilds the ordered
// structures. Positions are seeded in the snapshot's order, which
// ExportState made deterministic, so equal-weight ordering survives a
// restart consistently.
func (e *Engine) ImportState(s *State) {
	for _, ms := range s.Markets {
		e.markets.RestoreMarket(ms.Market, ms.Delta)
		e.lists[ms.Market.Underlying] = newMarketLists()
	}
	for _, pos := range s.Positions {
		e.positions.Set(pos)
		e.updateSupplierInLists(pos.Market, pos)
		e.updateBorrowerInLists(pos.Market, pos)
	}
}
