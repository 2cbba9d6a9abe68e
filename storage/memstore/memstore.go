/*
Package memstore is a bank.Store kept in process memory.

It mirrors the relational semantics the service relies on. LockAccount takes an
exclusive per-account lock held until Commit or Rollback. Writes are buffered in the
transaction and applied together at commit, where a debit that would take a balance
below zero fails the whole commit like the balance check constraint does.
*/
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-bank-rpc/bank"
)

var (
	ErrDuplicateAccount = errors.New("memstore: account already exists")
	ErrNegativeBalance  = errors.New("memstore: balance would become negative")
	ErrBalanceScale     = errors.New("memstore: balance has more than 2 decimal places")
	ErrTxDone           = errors.New("memstore: transaction already finished")
	ErrNotLocked        = errors.New("memstore: account not locked by this transaction")
)

type account struct {
	id       int64
	clientID string
	balance  decimal.Decimal
	lock     chan struct{}
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*account
	nextID   int64
	loans    []bank.Loan
	txs      []bank.Transaction
}

var _ bank.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{accounts: make(map[string]*account)}
}

// CreateAccount opens an account for clientID with an initial balance.
func (s *Store) CreateAccount(clientID string, balance decimal.Decimal) (bank.Account, error) {
	if balance.IsNegative() {
		return bank.Account{}, ErrNegativeBalance
	}

	if !bank.FitsScale(balance) {
		return bank.Account{}, ErrBalanceScale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[clientID]; ok {
		return bank.Account{}, fmt.Errorf("%w: %s", ErrDuplicateAccount, clientID)
	}

	s.nextID++
	a := &account{id: s.nextID, clientID: clientID, balance: balance, lock: make(chan struct{}, 1)}
	s.accounts[clientID] = a

	return a.snapshot(), nil
}

func (a *account) snapshot() bank.Account {
	return bank.Account{ID: a.id, ClientID: a.clientID, Balance: a.balance}
}

func (s *Store) Balance(ctx context.Context, clientID string) (bank.Account, error) {
	if err := ctx.Err(); err != nil {
		return bank.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[clientID]
	if !ok {
		return bank.Account{}, bank.ErrAccountNotFound
	}

	return a.snapshot(), nil
}

// History returns up to limit rows for clientID, newest first with ties broken by id.
func (s *Store) History(ctx context.Context, clientID string, limit int) ([]bank.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []bank.Transaction

	for _, rec := range s.txs {
		if rec.ClientID == clientID {
			out = append(out, rec)
		}
	}

	slices.SortFunc(out, func(a, b bank.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(b.ID, a.ID)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// Loans returns the loans recorded for clientID in insertion order.
func (s *Store) Loans(clientID string) []bank.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []bank.Loan

	for _, l := range s.loans {
		if l.ClientID == clientID {
			out = append(out, l)
		}
	}

	return out
}

// Total returns the sum of all balances.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := decimal.Zero
	for _, a := range s.accounts {
		sum = sum.Add(a.balance)
	}

	return sum
}

func (s *Store) BeginTx(ctx context.Context) (bank.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &tx{s: s, ctx: ctx, deltas: make(map[*account]decimal.Decimal)}, nil
}
