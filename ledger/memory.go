package ledger

import (
	"context"
	"sync"

	"github.com/taskfair/taskfair"
)

// Compile-time interface check.
var _ taskfair.Ledger = (*Memory)(nil)

// Memory is a fully in-memory ledger. Safe for concurrent access.
// Intended for unit testing and development.
type Memory struct {
	mu       sync.Mutex
	balances map[taskfair.Actor]taskfair.Amount
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[taskfair.Actor]taskfair.Amount)}
}

// Mint credits an account out of thin air. Test and development funding
// only; a real ledger adapter has no equivalent.
func (l *Memory) Mint(_ context.Context, account taskfair.Actor, amount taskfair.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// Transfer moves amount between accounts in one atomic step.
func (l *Memory) Transfer(_ context.Context, from, to taskfair.Actor, amount taskfair.Amount) error {
	if !amount.Valid() {
		return taskfair.ErrInvalidStake
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return taskfair.ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// Balance returns the current balance of an account. Unknown accounts
// report zero.
func (l *Memory) Balance(_ context.Context, account taskfair.Actor) (taskfair.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}
