package pool

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TokenBook is an in-memory underlying-token ledger implementing the
// Transferor contract. It tracks user wallets and the engine's custody
// balance per asset.
type TokenBook struct {
	mu      sync.Mutex
	wallets map[string]map[uuid.UUID]*uint256.Int
	custody map[string]*uint256.Int
}

func NewTokenBook() *TokenBook {
	return &TokenBook{
		wallets: make(map[string]map[uuid.UUID]*uint256.Int),
		custody: make(map[string]*uint256.Int),
	}
}

func (tb *TokenBook) wallet(asset string, user uuid.UUID) *uint256.Int {
	byUser, ok := tb.wallets[asset]
	if !ok {
		byUser = make(map[uuid.UUID]*uint256.Int)
		tb.wallets[asset] = byUser
	}
	bal, ok := byUser[user]
	if !ok {
		bal = new(uint256.Int)
		byUser[user] = bal
	}
	return bal
}

func (tb *TokenBook) custodyOf(asset string) *uint256.Int {
	bal, ok := tb.custody[asset]
	if !ok {
		bal = new(uint256.Int)
		tb.custody[asset] = bal
	}
	return bal
}

// Mint credits a user's wallet (test and simulation bootstrap).
func (tb *TokenBook) Mint(asset string, user uuid.UUID, amount *uint256.Int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	bal := tb.wallet(asset, user)
	bal.Add(bal, amount)
}

// Balance returns a copy of the user's wallet balance.
func (tb *TokenBook) Balance(asset string, user uuid.UUID) *uint256.Int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.wallet(asset, user).Clone()
}

// Pull moves amount from the payer's wallet into engine custody.
func (tb *TokenBook) Pull(asset string, from uuid.UUID, amount *uint256.Int) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	bal := tb.wallet(asset, from)
	if bal.Lt(amount) {
		return fmt.Errorf("tokenbook: %s balance %s below transfer %s", asset, bal.Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	c := tb.custodyOf(asset)
	c.Add(c, amount)
	return nil
}

// Push moves amount from engine custody to the receiver's wallet.
// Custody going negative means the engine double-spent; that is a broken
// internal invariant, not a caller error.
func (tb *TokenBook) Push(asset string, to uuid.UUID, amount *uint256.Int) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	c := tb.custodyOf(asset)
	if c.Lt(amount) {
		return fmt.Errorf("tokenbook: custody %s below transfer %s", c.Dec(), amount.Dec())
	}
	c.Sub(c, amount)
	bal := tb.wallet(asset, to)
	bal.Add(bal, amount)
	return nil
}

// Deposit moves amount out of custody (into the pool collaborator's
// hands) and Collect moves it back. The simulated wiring in cmd uses these
// to keep custody consistent with pool flows; tests that only assert user
// balances can ignore them.
func (tb *TokenBook) Deposit(asset string, amount *uint256.Int) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	c := tb.custodyOf(asset)
	if c.Lt(amount) {
		return fmt.Errorf("tokenbook: custody %s below deposit %s", c.Dec(), amount.Dec())
	}
	c.Sub(c, amount)
	return nil
}

func (tb *TokenBook) Collect(asset string, amount *uint256.Int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	c := tb.custodyOf(asset)
	c.Add(c, amount)
}
