package engine

import (
	"peerlend/internal/market"
	"peerlend/internal/position"

	"github.com/google/uuid"
)

type posKey struct {
	user     uuid.UUID
	marketID string
}

type marketSnapshot struct {
	record *market.Market
	delta  *market.Delta
}

// journal snapshots every record an operation touches so a failure after
// state mutation can restore the exact prior state. Snapshots are taken
// once per record, before the first mutation.
type journal struct {
	e         *Engine
	markets   map[string]*marketSnapshot
	positions map[posKey]*position.Position // nil value: record was absent
}

func (e *Engine) newJournal() *journal {
	return &journal{
		e:         e,
		markets:   make(map[string]*marketSnapshot),
		positions: make(map[posKey]*position.Position),
	}
}

// touchMarket snapshots the market record and its delta ledger.
func (j *journal) touchMarket(marketID string) {
	if _, ok := j.markets[marketID]; ok {
		return
	}
	m, ok := j.e.markets.Get(marketID)
	if !ok {
		return
	}
	d, _ := j.e.markets.Delta(marketID)
	j.markets[marketID] = &marketSnapshot{record: m.Clone(), delta: d.Clone()}
}

// touchPosition snapshots a user's position in a market; a nil snapshot
// marks a record that did not exist before the operation.
func (j *journal) touchPosition(user uuid.UUID, marketID string) {
	k := posKey{user, marketID}
	if _, ok := j.positions[k]; ok {
		return
	}
	pos := j.e.positions.Get(user, marketID)
	if pos == nil {
		j.positions[k] = nil
		return
	}
	j.positions[k] = pos.Clone()
}

// rollback restores every touched record and reseats the matching-list
// entries of every touched user.
func (j *journal) rollback() {
	for id, snap := range j.markets {
		m, ok := j.e.markets.Get(id)
		if !ok {
			continue
		}
		m.Restore(snap.record)
		d, _ := j.e.markets.Delta(id)
		d.Restore(snap.delta)
	}
	for k, snap := range j.positions {
		ls := j.e.listsFor(k.marketID)
		if snap == nil {
			j.e.positions.Delete(k.user, k.marketID)
			ls.poolSuppliers.Remove(k.user)
			ls.p2pSuppliers.Remove(k.user)
			ls.poolBorrowers.Remove(k.user)
			ls.p2pBorrowers.Remove(k.user)
			continue
		}
		pos := j.e.positions.GetOrCreate(k.user, k.marketID)
		pos.Restore(snap)
		j.e.updateSupplierInLists(k.marketID, pos)
		j.e.updateBorrowerInLists(k.marketID, pos)
	}
}
