package bank

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrAccountNotFound is returned by stores when no account has the requested client id.
var ErrAccountNotFound = errors.New("account not found")

// Store is the relational state behind the handlers.
type Store interface {
	Balance(ctx context.Context, clientID string) (Account, error)
	// History returns at most limit audit rows of the client, newest first.
	History(ctx context.Context, clientID string, limit int) ([]Transaction, error)
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is one database transaction. Implementations release every resource on Commit or
// Rollback; calling Rollback after Commit is harmless.
type Tx interface {
	// LockAccount reads the account under an exclusive row lock held until the tx ends.
	LockAccount(ctx context.Context, clientID string) (Account, error)
	// Debit subtracts amount from a locked account and returns the new balance.
	Debit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error)
	// Credit adds amount to the client's account without locking it first.
	Credit(ctx context.Context, clientID string, amount decimal.Decimal) error
	InsertLoan(ctx context.Context, l Loan) error
	InsertTransaction(ctx context.Context, t Transaction) error
	Commit() error
	Rollback() error
}
