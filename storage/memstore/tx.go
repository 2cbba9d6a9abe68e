package memstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-bank-rpc/bank"
)

type tx struct {
	s   *Store
	ctx context.Context

	held   []*account
	deltas map[*account]decimal.Decimal
	loans  []bank.Loan
	txs    []bank.Transaction
	done   bool
}

func (t *tx) lookup(clientID string) (*account, bool) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	a, ok := t.s.accounts[clientID]

	return a, ok
}

func (t *tx) holds(a *account) bool {
	for _, h := range t.held {
		if h == a {
			return true
		}
	}

	return false
}

func (t *tx) LockAccount(ctx context.Context, clientID string) (bank.Account, error) {
	if t.done {
		return bank.Account{}, ErrTxDone
	}

	a, ok := t.lookup(clientID)
	if !ok {
		return bank.Account{}, bank.ErrAccountNotFound
	}

	if !t.holds(a) {
		select {
		case a.lock <- struct{}{}:
			t.held = append(t.held, a)
		case <-ctx.Done():
			return bank.Account{}, ctx.Err()
		}
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	acc := a.snapshot()
	acc.Balance = acc.Balance.Add(t.deltas[a])

	return acc, nil
}

func (t *tx) Debit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if t.done {
		return decimal.Zero, ErrTxDone
	}

	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	var a *account

	for _, h := range t.held {
		if h.id == accountID {
			a = h
		}
	}

	if a == nil {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrNotLocked, accountID)
	}

	t.deltas[a] = t.deltas[a].Sub(amount)

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	return a.balance.Add(t.deltas[a]), nil
}

func (t *tx) Credit(ctx context.Context, clientID string, amount decimal.Decimal) error {
	if t.done {
		return ErrTxDone
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	a, ok := t.lookup(clientID)
	if !ok {
		return bank.ErrAccountNotFound
	}

	t.deltas[a] = t.deltas[a].Add(amount)

	return nil
}

func (t *tx) InsertLoan(_ context.Context, l bank.Loan) error {
	if t.done {
		return ErrTxDone
	}

	t.loans = append(t.loans, l)

	return nil
}

func (t *tx) InsertTransaction(_ context.Context, rec bank.Transaction) error {
	if t.done {
		return ErrTxDone
	}

	t.txs = append(t.txs, rec)

	return nil
}

// Commit applies every buffered write or none of them.
func (t *tx) Commit() error {
	if t.done {
		return ErrTxDone
	}

	defer t.finish()

	// Like database/sql, a transaction whose context has ended can only roll back.
	if err := t.ctx.Err(); err != nil {
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for a, d := range t.deltas {
		if a.balance.Add(d).IsNegative() {
			return fmt.Errorf("%w: %s", ErrNegativeBalance, a.clientID)
		}
	}

	for _, l := range t.loans {
		for _, existing := range t.s.loans {
			if existing.ID == l.ID {
				return fmt.Errorf("memstore: duplicate loan id %s", l.ID)
			}
		}
	}

	for a, d := range t.deltas {
		a.balance = a.balance.Add(d)
	}

	t.s.loans = append(t.s.loans, t.loans...)
	t.s.txs = append(t.s.txs, t.txs...)

	return nil
}

// Rollback discards buffered writes. It is a no-op once the transaction has finished.
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}

	t.finish()

	return nil
}

func (t *tx) finish() {
	t.done = true

	for _, a := range t.held {
		<-a.lock
	}

	t.held = nil
}
