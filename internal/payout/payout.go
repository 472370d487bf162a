// Package payout moves collected revenue out of the platform registry.
package payout

//go:generate mockgen -source=payout.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/enterprise/risk-registry/internal/models"
)

// Transferer sends value to a recipient. A returned error means nothing moved.
type Transferer interface {
	Transfer(ctx context.Context, to models.Address, amount decimal.Decimal) error
}

// Ledger is an in-process Transferer that tracks what each recipient received.
type Ledger struct {
	mu       sync.Mutex
	balances map[models.Address]decimal.Decimal
	rejected map[models.Address]bool
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[models.Address]decimal.Decimal),
		rejected: make(map[models.Address]bool),
	}
}

func (l *Ledger) Transfer(ctx context.Context, to models.Address, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rejected[to] {
		return fmt.Errorf("recipient %s rejected transfer", to.Hex())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("transfer amount must be positive, got %s", amount)
	}
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}

// Reject makes every later transfer to who fail, or succeed again when reject is false.
func (l *Ledger) Reject(who models.Address, reject bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if reject {
		l.rejected[who] = true
		return
	}
	delete(l.rejected, who)
}

// BalanceOf returns everything transferred to who so far.
func (l *Ledger) BalanceOf(who models.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[who]
}
