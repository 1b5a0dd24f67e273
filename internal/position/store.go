// Package position holds the per-user, per-market balance records. Each
// side (supply, borrow) is split between an on-pool compartment scaled by
// the pool index and an in-peer-to-peer compartment scaled by the p2p index.
package position

import (
	"sort"

	fpmath "peerlend/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Balance is one side of a position.
type Balance struct {
	OnPool *uint256.Int // pool-index scaled units
	InP2P  *uint256.Int // peer-to-peer index units
}

func zeroBalance() Balance {
	return Balance{OnPool: new(uint256.Int), InP2P: new(uint256.Int)}
}

// IsZero reports whether both compartments are empty.
func (b Balance) IsZero() bool {
	return b.OnPool.IsZero() && b.InP2P.IsZero()
}

// InUnderlying converts the balance to underlying units via the two indexes.
func (b Balance) InUnderlying(poolIndex, p2pIndex *uint256.Int) *uint256.Int {
	total := fpmath.RayMul(b.OnPool, poolIndex)
	return total.Add(total, fpmath.RayMul(b.InP2P, p2pIndex))
}

func (b Balance) clone() Balance {
	return Balance{OnPool: b.OnPool.Clone(), InP2P: b.InP2P.Clone()}
}

// Position is one user's record in one market. Supplying/Borrowing are the
// membership flags: set on first touch, cleared when the corresponding side
// goes back to zero.
type Position struct {
	UserID uuid.UUID
	Market string

	Supply Balance
	Borrow Balance

	Supplying bool
	Borrowing bool
}

// Clone deep-copies the position (used by the engine's op journal).
func (p *Position) Clone() *Position {
	return &Position{
		UserID:    p.UserID,
		Market:    p.Market,
		Supply:    p.Supply.clone(),
		Borrow:    p.Borrow.clone(),
		Supplying: p.Supplying,
		Borrowing: p.Borrowing,
	}
}

// Restore copies src's balances and flags into p in place.
func (p *Position) Restore(src *Position) {
	p.Supply = src.Supply.clone()
	p.Borrow = src.Borrow.clone()
	p.Supplying = src.Supplying
	p.Borrowing = src.Borrowing
}

// IsEmpty reports whether all four compartments are zero.
func (p *Position) IsEmpty() bool {
	return p.Supply.IsZero() && p.Borrow.IsZero()
}

type key struct {
	userID uuid.UUID
	market string
}

// Store is the keyed collection of positions. Mutated only by the engine
// under its one-operation-at-a-time guard; read by the health-factor
// collaborator.
type Store struct {
	positions map[key]*Position
}

func NewStore() *Store {
	return &Store{positions: make(map[key]*Position)}
}

// Get returns the existing position or nil.
func (s *Store) Get(userID uuid.UUID, market string) *Position {
	return s.positions[key{userID, market}]
}

// GetOrCreate returns the existing position or lazily creates an empty one.
func (s *Store) GetOrCreate(userID uuid.UUID, market string) *Position {
	k := key{userID, market}
	pos := s.positions[k]
	if pos == nil {
		pos = &Position{
			UserID: userID,
			Market: market,
			Supply: zeroBalance(),
			Borrow: zeroBalance(),
		}
		s.positions[k] = pos
	}
	return pos
}

// Refresh recomputes the membership flags from the balances and removes the
// record entirely once the user has left the market on both sides.
// Re-entering later re-establishes membership through GetOrCreate.
func (s *Store) Refresh(pos *Position) {
	pos.Supplying = !pos.Supply.IsZero()
	pos.Borrowing = !pos.Borrow.IsZero()
	if pos.IsEmpty() {
		delete(s.positions, key{pos.UserID, pos.Market})
	}
}

// UserMarkets returns the markets a user is a member of, sorted for
// deterministic iteration.
func (s *Store) UserMarkets(userID uuid.UUID) []string {
	var markets []string
	for k := range s.positions {
		if k.userID == userID {
			markets = append(markets, k.market)
		}
	}
	sort.Strings(markets)
	return markets
}

// All returns every position (snapshot creation, aggregate queries).
func (s *Store) All() []*Position {
	result := make([]*Position, 0, len(s.positions))
	for _, pos := range s.positions {
		result = append(result, pos)
	}
	return result
}

// Set installs a position directly (snapshot restore).
func (s *Store) Set(pos *Position) {
	s.positions[key{pos.UserID, pos.Market}] = pos
}

// Delete removes a record (operation rollback for users that had no
// position before the operation started).
func (s *Store) Delete(userID uuid.UUID, market string) {
	delete(s.positions, key{userID, market})
}
