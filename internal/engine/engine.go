// Package engine implements the peer-to-peer overlay matching engine. It
// owns all market, delta and position state, consults the pool, token and
// oracle collaborators through their interfaces, and applies every
// operation atomically: an operation either commits in full or leaves no
// trace.
package engine

import (
	"math/big"
	"sync/atomic"
	"time"

	"peerlend/internal/market"
	"peerlend/internal/matching"
	"peerlend/internal/observability"
	"peerlend/internal/oracle"
	"peerlend/internal/pool"
	"peerlend/internal/position"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// DefaultMatchBudget bounds counterparty iteration per operation when the
// caller passes no explicit budget.
const DefaultMatchBudget = 100

// marketLists holds the four ordered structures of one market.
type marketLists struct {
	poolSuppliers *matching.List
	p2pSuppliers  *matching.List
	poolBorrowers *matching.List
	p2pBorrowers  *matching.List
}

func newMarketLists() *marketLists {
	return &marketLists{
		poolSuppliers: matching.New(),
		p2pSuppliers:  matching.New(),
		poolBorrowers: matching.New(),
		p2pBorrowers:  matching.New(),
	}
}

// Deps carries the engine's collaborators. Markets, Positions, Pool,
// Tokens, Health and Seize are required; the rest default.
type Deps struct {
	Markets   *market.Store
	Positions *position.Store
	Pool      pool.Pool
	Tokens    pool.Transferor
	Health    oracle.HealthFactor
	Seize     oracle.SeizeCalculator

	// Clock returns the current unix time in seconds. Injected so the
	// engine itself stays deterministic. Defaults to time.Now().Unix.
	Clock func() int64

	Sink        Sink
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
	MatchBudget uint64
}

// Engine is the matching engine. All operations run one at a time under
// the entered guard; a second call while one is in flight is rejected
// with ErrReentrancy rather than queued.
type Engine struct {
	markets   *market.Store
	positions *position.Store
	pool      pool.Pool
	tokens    pool.Transferor
	health    oracle.HealthFactor
	seize     oracle.SeizeCalculator

	clock   func() int64
	sink    Sink
	log     zerolog.Logger
	metrics *observability.Metrics

	matchBudget uint64
	lists       map[string]*marketLists

	entered atomic.Bool
}

func New(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = func() int64 { return time.Now().Unix() }
	}
	if d.Sink == nil {
		d.Sink = NopSink{}
	}
	if d.MatchBudget == 0 {
		d.MatchBudget = DefaultMatchBudget
	}
	return &Engine{
		markets:     d.Markets,
		positions:   d.Positions,
		pool:        d.Pool,
		tokens:      d.Tokens,
		health:      d.Health,
		seize:       d.Seize,
		clock:       d.Clock,
		sink:        d.Sink,
		log:         d.Logger,
		metrics:     d.Metrics,
		matchBudget: d.MatchBudget,
		lists:       make(map[string]*marketLists),
	}
}

// enter acquires the single-operation guard.
func (e *Engine) enter() error {
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	return nil
}

func (e *Engine) exit() {
	e.entered.Store(false)
}

func (e *Engine) listsFor(marketID string) *marketLists {
	ls, ok := e.lists[marketID]
	if !ok {
		ls = newMarketLists()
		e.lists[marketID] = ls
	}
	return ls
}

// MatchBudget is the engine's configured default iteration budget. The
// budget argument on each operation is taken literally; zero disables
// matching for that call. Entry layers pass this default when the caller
// does not choose one.
func (e *Engine) MatchBudget() uint64 {
	return e.matchBudget
}

// updateSupplierInLists reseats the user's supply-side entries from the
// position's current scaled balances. A zero balance removes the entry.
func (e *Engine) updateSupplierInLists(marketID string, pos *position.Position) {
	ls := e.listsFor(marketID)
	ls.poolSuppliers.Update(pos.UserID, pos.Supply.OnPool)
	ls.p2pSuppliers.Update(pos.UserID, pos.Supply.InP2P)
}

// updateBorrowerInLists reseats the user's borrow-side entries.
func (e *Engine) updateBorrowerInLists(marketID string, pos *position.Position) {
	ls := e.listsFor(marketID)
	ls.poolBorrowers.Update(pos.UserID, pos.Borrow.OnPool)
	ls.p2pBorrowers.Update(pos.UserID, pos.Borrow.InP2P)
}

// refreshIndexes pulls the pool's current indexes and rates and compounds
// the market's peer-to-peer indexes up to the current clock. Idempotent
// within one timestamp.
func (e *Engine) refreshIndexes(m *market.Market) {
	snap := market.PoolSnapshot{
		SupplyIndex:         e.pool.SupplyIndex(m.Underlying),
		BorrowIndex:         e.pool.BorrowIndex(m.Underlying),
		SupplyRatePerSecond: e.pool.SupplyRatePerSecond(m.Underlying),
		BorrowRatePerSecond: e.pool.BorrowRatePerSecond(m.Underlying),
	}
	now := e.clock()
	d, _ := e.markets.Delta(m.Underlying)
	upd, changed := m.UpdateIndexes(snap, d, now)
	if !changed {
		return
	}
	if e.metrics != nil {
		e.metrics.IndexUpdates.WithLabelValues(m.Underlying).Inc()
	}
	e.sink.Emit(&IndexesUpdated{
		Market:          m.Underlying,
		P2PSupplyIndex:  upd.P2PSupplyIndex,
		P2PBorrowIndex:  upd.P2PBorrowIndex,
		PoolSupplyIndex: upd.PoolSupplyIndex,
		PoolBorrowIndex: upd.PoolBorrowIndex,
		Timestamp:       now,
	})
}

// loadMarket fetches the market and its delta ledger, rejecting markets
// that were never created.
func (e *Engine) loadMarket(marketID string) (*market.Market, *market.Delta, error) {
	m, ok := e.markets.Get(marketID)
	if !ok || !m.Created {
		return nil, nil, ErrMarketNotCreated
	}
	d, _ := e.markets.Delta(marketID)
	return m, d, nil
}

// checkDeltaInvariant panics on a violated delta invariant. A violation
// here is engine corruption, not a caller error.
func (e *Engine) checkDeltaInvariant(m *market.Market, d *market.Delta) {
	if err := d.CheckInvariant(m); err != nil {
		panic("FATAL: delta invariant violated on " + m.Underlying + ": " + err.Error())
	}
}

// refund returns pulled tokens to the payer after a failed operation.
// A failure here means custody is corrupt and the process cannot
// continue.
func (e *Engine) refund(marketID string, user uuid.UUID, amount *uint256.Int) {
	if err := e.tokens.Push(marketID, user, amount); err != nil {
		panic("FATAL: refund after failed operation: " + err.Error())
	}
}

// mustCompensate guards the inverse pool call that unwinds an earlier
// leg of a failed operation.
func mustCompensate(desc string, err error) {
	if err != nil {
		panic("FATAL: compensation failed (" + desc + "): " + err.Error())
	}
}

func (e *Engine) markApplied(op string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.OpsApplied.WithLabelValues(op).Inc()
	e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *Engine) markRejected(op, reason string) {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reason).Inc()
	}
}

// observeMatching records matched versus pool-routed volume and the
// budget consumed by one operation.
func (e *Engine) observeMatching(op, marketID string, matched, pooled *uint256.Int, used uint64) {
	if e.metrics == nil {
		return
	}
	e.metrics.MatchedVolume.WithLabelValues(marketID, op).Add(asFloat(matched))
	e.metrics.UnmatchedVolume.WithLabelValues(marketID, op).Add(asFloat(pooled))
	e.metrics.CounterpartyScans.WithLabelValues(marketID, op).Add(float64(used))
	e.metrics.BudgetUsed.WithLabelValues(op).Observe(float64(used))
}

// observeDeltas exports the market's delta ledger as approximate gauges.
func (e *Engine) observeDeltas(marketID string, d *market.Delta) {
	if e.metrics == nil {
		return
	}
	e.metrics.P2PSupplyDelta.WithLabelValues(marketID).Set(asFloat(d.P2PSupplyDelta))
	e.metrics.P2PBorrowDelta.WithLabelValues(marketID).Set(asFloat(d.P2PBorrowDelta))
	e.metrics.P2PSupplyAmount.WithLabelValues(marketID).Set(asFloat(d.P2PSupplyAmount))
	e.metrics.P2PBorrowAmount.WithLabelValues(marketID).Set(asFloat(d.P2PBorrowAmount))
}

// emitDeltaChange publishes a DeltasUpdated event when the committed
// operation left the market's delta ledger different from the journaled
// pre-operation snapshot.
func (e *Engine) emitDeltaChange(j *journal, m *market.Market, d *market.Delta) {
	snap, ok := j.markets[m.Underlying]
	if !ok || snap.delta.Equal(d) {
		return
	}
	e.sink.Emit(&DeltasUpdated{
		Market:          m.Underlying,
		P2PSupplyDelta:  d.P2PSupplyDelta.Clone(),
		P2PBorrowDelta:  d.P2PBorrowDelta.Clone(),
		P2PSupplyAmount: d.P2PSupplyAmount.Clone(),
		P2PBorrowAmount: d.P2PBorrowAmount.Clone(),
		Timestamp:       m.LastUpdate,
	})
}

// asFloat is a lossy conversion for metrics only; state math never uses it.
func asFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
