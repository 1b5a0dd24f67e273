package pool

import (
	"fmt"
	"sync"

	fpmath "peerlend/internal/math"

	"github.com/holiman/uint256"
)

// reserve is one asset's state inside the simulated pool.
type reserve struct {
	supplyIndex *uint256.Int
	borrowIndex *uint256.Int
	supplyRate  *uint256.Int // per second, ray
	borrowRate  *uint256.Int // per second, ray
	lastAccrual int64
	liquidity   *uint256.Int
	borrowCap   *uint256.Int // zero = uncapped
	borrowed    *uint256.Int
	enabled     bool
}

// SimulatedPool is a deterministic in-memory lending pool used by the
// binary and the tests. Indexes compound at fixed per-second rates against
// an injected clock; liquidity and debt are tracked per asset.
type SimulatedPool struct {
	mu       sync.Mutex
	reserves map[string]*reserve
	clock    func() int64
	book     *TokenBook

	// failNext forces the named operation ("supply", "withdraw", "borrow",
	// "repay") to fail once, for exercising the engine's rollback path.
	failNext string
}

func NewSimulatedPool(clock func() int64) *SimulatedPool {
	return &SimulatedPool{
		reserves: make(map[string]*reserve),
		clock:    clock,
	}
}

// LinkTokenBook ties pool flows to the token book's custody account so
// borrowed and withdrawn funds become pushable and deposits leave custody.
func (p *SimulatedPool) LinkTokenBook(book *TokenBook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.book = book
}

// AddReserve registers an asset with per-second ray rates.
func (p *SimulatedPool) AddReserve(asset string, supplyRate, borrowRate *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserves[asset] = &reserve{
		supplyIndex: fpmath.Ray.Clone(),
		borrowIndex: fpmath.Ray.Clone(),
		supplyRate:  supplyRate.Clone(),
		borrowRate:  borrowRate.Clone(),
		lastAccrual: p.clock(),
		liquidity:   new(uint256.Int),
		borrowCap:   new(uint256.Int),
		borrowed:    new(uint256.Int),
		enabled:     true,
	}
}

// SetBorrowEnabled toggles borrowing for an asset.
func (p *SimulatedPool) SetBorrowEnabled(asset string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		r.enabled = enabled
	}
}

// SetBorrowCap caps total pool debt for an asset (zero removes the cap).
func (p *SimulatedPool) SetBorrowCap(asset string, cap *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		r.borrowCap = cap.Clone()
	}
}

// SeedLiquidity adds liquidity owned by pool participants outside the
// engine. It bypasses the token book: these funds never were in engine
// custody.
func (p *SimulatedPool) SeedLiquidity(asset string, amount *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		r.liquidity.Add(r.liquidity, amount)
	}
}

// Debt returns the engine's outstanding pool debt for an asset.
func (p *SimulatedPool) Debt(asset string) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		return r.borrowed.Clone()
	}
	return new(uint256.Int)
}

// FailNext makes the next call of the named operation fail.
func (p *SimulatedPool) FailNext(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = op
}

func (p *SimulatedPool) get(asset string) (*reserve, error) {
	r, ok := p.reserves[asset]
	if !ok {
		return nil, fmt.Errorf("pool: unknown asset %s", asset)
	}
	p.accrue(r)
	return r, nil
}

// accrue compounds both indexes up to the current clock.
func (p *SimulatedPool) accrue(r *reserve) {
	now := p.clock()
	if now <= r.lastAccrual {
		return
	}
	elapsed := uint64(now - r.lastAccrual)
	r.supplyIndex = fpmath.RayMul(r.supplyIndex, fpmath.RayPow(new(uint256.Int).Add(fpmath.Ray, r.supplyRate), elapsed))
	r.borrowIndex = fpmath.RayMul(r.borrowIndex, fpmath.RayPow(new(uint256.Int).Add(fpmath.Ray, r.borrowRate), elapsed))
	r.lastAccrual = now
}

func (p *SimulatedPool) takeFailure(op string) error {
	if p.failNext == op {
		p.failNext = ""
		return fmt.Errorf("pool: injected %s failure", op)
	}
	return nil
}

func (p *SimulatedPool) Supply(asset string, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("supply"); err != nil {
		return err
	}
	r, err := p.get(asset)
	if err != nil {
		return err
	}
	if p.book != nil {
		if err := p.book.Deposit(asset, amount); err != nil {
			return err
		}
	}
	r.liquidity.Add(r.liquidity, amount)
	return nil
}

func (p *SimulatedPool) Withdraw(asset string, amount *uint256.Int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("withdraw"); err != nil {
		return nil, err
	}
	r, err := p.get(asset)
	if err != nil {
		return nil, err
	}
	actual := fpmath.Min(amount, r.liquidity)
	r.liquidity.Sub(r.liquidity, actual)
	if p.book != nil {
		p.book.Collect(asset, actual)
	}
	return actual, nil
}

func (p *SimulatedPool) Borrow(asset string, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("borrow"); err != nil {
		return err
	}
	r, err := p.get(asset)
	if err != nil {
		return err
	}
	if !r.enabled {
		return fmt.Errorf("pool: borrowing disabled for %s", asset)
	}
	if amount.Gt(r.liquidity) {
		return fmt.Errorf("pool: insufficient liquidity for %s borrow", asset)
	}
	newDebt := new(uint256.Int).Add(r.borrowed, amount)
	if !r.borrowCap.IsZero() && newDebt.Gt(r.borrowCap) {
		return fmt.Errorf("pool: borrow cap reached for %s", asset)
	}
	r.liquidity.Sub(r.liquidity, amount)
	r.borrowed = newDebt
	if p.book != nil {
		p.book.Collect(asset, amount)
	}
	return nil
}

func (p *SimulatedPool) Repay(asset string, amount *uint256.Int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("repay"); err != nil {
		return nil, err
	}
	r, err := p.get(asset)
	if err != nil {
		return nil, err
	}
	if p.book != nil {
		if err := p.book.Deposit(asset, amount); err != nil {
			return nil, err
		}
	}
	r.liquidity.Add(r.liquidity, amount)
	r.borrowed = fpmath.ZeroFloorSub(r.borrowed, amount)
	return amount.Clone(), nil
}

func (p *SimulatedPool) SupplyIndex(asset string) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.get(asset)
	if err != nil {
		return fpmath.Ray.Clone()
	}
	return r.supplyIndex.Clone()
}

func (p *SimulatedPool) BorrowIndex(asset string) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.get(asset)
	if err != nil {
		return fpmath.Ray.Clone()
	}
	return r.borrowIndex.Clone()
}

func (p *SimulatedPool) SupplyRatePerSecond(asset string) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		return r.supplyRate.Clone()
	}
	return new(uint256.Int)
}

func (p *SimulatedPool) BorrowRatePerSecond(asset string) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		return r.borrowRate.Clone()
	}
	return new(uint256.Int)
}

func (p *SimulatedPool) AvailableLiquidity(asset string) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		return r.liquidity.Clone()
	}
	return new(uint256.Int)
}

func (p *SimulatedPool) BorrowEnabled(asset string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reserves[asset]; ok {
		return r.enabled
	}
	return false
}
