// Package market holds the per-market accounting records: the market
// descriptor with its peer-to-peer and mirrored pool indexes, the
// governance parameters and pause flags, and the delta ledger.
package market

import (
	"errors"
	"fmt"
	"sort"

	fpmath "peerlend/internal/math"

	"github.com/holiman/uint256"
)

var (
	ErrAlreadyCreated = errors.New("market already created")
	ErrBadParameter   = errors.New("market parameter out of range")
)

// Market is one lending market, keyed by its underlying asset.
//
// P2PSupplyIndex and P2PBorrowIndex are ray-scaled exchange indexes that
// start at 1.0 ray and only ever increase. PoolSupplyIndex/PoolBorrowIndex
// mirror the underlying pool's own indexes as of the last refresh.
type Market struct {
	Underlying string

	P2PSupplyIndex  *uint256.Int
	P2PBorrowIndex  *uint256.Int
	PoolSupplyIndex *uint256.Int
	PoolBorrowIndex *uint256.Int

	// Unix seconds of the last index refresh. Indexes never update twice
	// for the same timestamp.
	LastUpdate int64

	ReserveFactorBps  uint64
	P2PIndexCursorBps uint64

	Created     bool
	Paused      bool
	P2PDisabled bool

	SupplyPaused              bool
	BorrowPaused              bool
	WithdrawPaused            bool
	RepayPaused               bool
	LiquidateCollateralPaused bool
	LiquidateBorrowPaused     bool
}

// Clone deep-copies the market record (used by the engine's op journal).
func (m *Market) Clone() *Market {
	c := *m
	c.P2PSupplyIndex = m.P2PSupplyIndex.Clone()
	c.P2PBorrowIndex = m.P2PBorrowIndex.Clone()
	c.PoolSupplyIndex = m.PoolSupplyIndex.Clone()
	c.PoolBorrowIndex = m.PoolBorrowIndex.Clone()
	return &c
}

// Restore copies every field of src into m, keeping m's identity stable for
// callers holding the pointer.
func (m *Market) Restore(src *Market) {
	*m = *src.Clone()
}

// Store is the keyed collection of markets and their delta ledgers.
// It is mutated only under the engine's one-operation-at-a-time guard,
// so it carries no lock of its own.
type Store struct {
	markets map[string]*Market
	deltas  map[string]*Delta
}

func NewStore() *Store {
	return &Store{
		markets: make(map[string]*Market),
		deltas:  make(map[string]*Delta),
	}
}

// Create registers a new market for the given underlying asset with both
// peer-to-peer indexes at 1.0 ray and the pool indexes mirrored at 1.0
// until the first refresh.
func (s *Store) Create(underlying string, reserveFactorBps, cursorBps uint64, now int64) (*Market, error) {
	if underlying == "" {
		return nil, fmt.Errorf("%w: empty underlying", ErrBadParameter)
	}
	if reserveFactorBps > fpmath.MaxBps || cursorBps > fpmath.MaxBps {
		return nil, fmt.Errorf("%w: reserveFactor=%d cursor=%d", ErrBadParameter, reserveFactorBps, cursorBps)
	}
	if _, ok := s.markets[underlying]; ok {
		return nil, ErrAlreadyCreated
	}

	m := &Market{
		Underlying:        underlying,
		P2PSupplyIndex:    fpmath.Ray.Clone(),
		P2PBorrowIndex:    fpmath.Ray.Clone(),
		PoolSupplyIndex:   fpmath.Ray.Clone(),
		PoolBorrowIndex:   fpmath.Ray.Clone(),
		LastUpdate:        now,
		ReserveFactorBps:  reserveFactorBps,
		P2PIndexCursorBps: cursorBps,
		Created:           true,
	}
	s.markets[underlying] = m
	s.deltas[underlying] = NewDelta()
	return m, nil
}

// Get returns the market record, or false if never created.
func (s *Store) Get(underlying string) (*Market, bool) {
	m, ok := s.markets[underlying]
	return m, ok
}

// Delta returns the market's delta ledger.
func (s *Store) Delta(underlying string) (*Delta, bool) {
	d, ok := s.deltas[underlying]
	return d, ok
}

// IDs returns all market identifiers in deterministic (sorted) order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetReserveFactor updates the fee spread parameter, clamped to basis points.
func (s *Store) SetReserveFactor(underlying string, bps uint64) error {
	m, ok := s.markets[underlying]
	if !ok {
		return fmt.Errorf("set reserve factor: unknown market %s", underlying)
	}
	if bps > fpmath.MaxBps {
		return fmt.Errorf("%w: reserveFactor=%d", ErrBadParameter, bps)
	}
	m.ReserveFactorBps = bps
	return nil
}

// SetIndexCursor updates the peer-to-peer rate interpolation point.
func (s *Store) SetIndexCursor(underlying string, bps uint64) error {
	m, ok := s.markets[underlying]
	if !ok {
		return fmt.Errorf("set index cursor: unknown market %s", underlying)
	}
	if bps > fpmath.MaxBps {
		return fmt.Errorf("%w: cursor=%d", ErrBadParameter, bps)
	}
	m.P2PIndexCursorBps = bps
	return nil
}

// PauseFlags is the full set of market status flags settable by governance.
type PauseFlags struct {
	Paused                    bool
	P2PDisabled               bool
	SupplyPaused              bool
	BorrowPaused              bool
	WithdrawPaused            bool
	RepayPaused               bool
	LiquidateCollateralPaused bool
	LiquidateBorrowPaused     bool
}

// SetPauseFlags replaces the market's status flags.
func (s *Store) SetPauseFlags(underlying string, f PauseFlags) error {
	m, ok := s.markets[underlying]
	if !ok {
		return fmt.Errorf("set pause flags: unknown market %s", underlying)
	}
	m.Paused = f.Paused
	m.P2PDisabled = f.P2PDisabled
	m.SupplyPaused = f.SupplyPaused
	m.BorrowPaused = f.BorrowPaused
	m.WithdrawPaused = f.WithdrawPaused
	m.RepayPaused = f.RepayPaused
	m.LiquidateCollateralPaused = f.LiquidateCollateralPaused
	m.LiquidateBorrowPaused = f.LiquidateBorrowPaused
	return nil
}

// RestoreMarket installs a market and its delta directly (snapshot restore).
func (s *Store) RestoreMarket(m *Market, d *Delta) {
	s.markets[m.Underlying] = m
	s.deltas[m.Underlying] = d
}
