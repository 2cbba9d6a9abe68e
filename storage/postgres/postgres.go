/*
Package postgres is the bank.Store backed by PostgreSQL through lib/pq.

Every query is parameterized. Transfers and loans run inside one database transaction;
LockAccount reads the row with SELECT ... FOR UPDATE so concurrent transfers from the
same account serialize on the row lock.
*/
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-bank-rpc/bank"
	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/retry"
)

//go:embed schema.sql
var schema string

// Config describes the connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Retry           retry.Policy
	Logger          *slog.Logger
}

// Store is the PostgreSQL bank.Store.
type Store struct {
	db *sql.DB
}

var _ bank.Store = (*Store)(nil)

// New wraps an open pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Open connects to PostgreSQL, retrying until the server answers or ctx ends.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn required: %w", berr.ErrConfigInvalid)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var db *sql.DB

	err := retry.Forever(ctx, cfg.Retry, "postgres connect", func(ctx context.Context) error {
		conn, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return err
		}

		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			return err
		}

		db = conn

		return nil
	}, retry.LogObserver(logger))
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}

	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	logger.Info("postgres connected", "max_open_conns", maxOpen)

	return New(db), nil
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}

	return nil
}

// CreateAccount opens an account, leaving an existing one untouched.
func (s *Store) CreateAccount(ctx context.Context, clientID string, balance decimal.Decimal) error {
	const q = `INSERT INTO accounts (client_id, balance) VALUES ($1, $2) ON CONFLICT (client_id) DO NOTHING`

	if !bank.FitsScale(balance) {
		return fmt.Errorf("create account %s: balance %s: %w", clientID, balance, bank.ErrAmountPrecision)
	}

	if _, err := s.db.ExecContext(ctx, q, clientID, balance); err != nil {
		return fmt.Errorf("create account %s: %w", clientID, err)
	}

	return nil
}

func (s *Store) Balance(ctx context.Context, clientID string) (bank.Account, error) {
	const q = `SELECT account_id, client_id, balance FROM accounts WHERE client_id = $1`

	return scanAccount(s.db.QueryRowContext(ctx, q, clientID))
}

func (s *Store) History(ctx context.Context, clientID string, limit int) ([]bank.Transaction, error) {
	const q = `SELECT t.transaction_id, t.account_id, a.client_id, t.type, t.amount, t.created_at
	FROM transactions t
	JOIN accounts a ON a.account_id = t.account_id
	WHERE a.client_id = $1
	ORDER BY t.created_at DESC, t.transaction_id DESC
	LIMIT $2`

	rows, err := s.db.QueryContext(ctx, q, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bank.Transaction

	for rows.Next() {
		var t bank.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.ClientID, &t.Type, &t.Amount, &t.CreatedAt); err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *Store) BeginTx(ctx context.Context) (bank.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &pgTx{tx: tx}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (bank.Account, error) {
	var a bank.Account

	err := row.Scan(&a.ID, &a.ClientID, &a.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Account{}, bank.ErrAccountNotFound
	}

	if err != nil {
		return bank.Account{}, err
	}

	return a, nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, clientID string) (bank.Account, error) {
	const q = `SELECT account_id, client_id, balance FROM accounts WHERE client_id = $1 FOR UPDATE`

	return scanAccount(t.tx.QueryRowContext(ctx, q, clientID))
}

func (t *pgTx) Debit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	const q = `UPDATE accounts SET balance = balance - $1 WHERE account_id = $2 RETURNING balance`

	var balance decimal.Decimal
	if err := t.tx.QueryRowContext(ctx, q, amount, accountID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, bank.ErrAccountNotFound
		}

		return decimal.Zero, err
	}

	return balance, nil
}

func (t *pgTx) Credit(ctx context.Context, clientID string, amount decimal.Decimal) error {
	const q = `UPDATE accounts SET balance = balance + $1 WHERE client_id = $2`

	res, err := t.tx.ExecContext(ctx, q, amount, clientID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return bank.ErrAccountNotFound
	}

	return nil
}

func (t *pgTx) InsertLoan(ctx context.Context, l bank.Loan) error {
	const q = `INSERT INTO loans (loan_id, client_id, principal, outstanding, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := t.tx.ExecContext(ctx, q, l.ID, l.ClientID, l.Principal, l.Outstanding, l.Status, l.CreatedAt)

	return err
}

func (t *pgTx) InsertTransaction(ctx context.Context, rec bank.Transaction) error {
	const q = `INSERT INTO transactions (transaction_id, account_id, type, amount, created_at)
	VALUES ($1, $2, $3, $4, $5)`

	_, err := t.tx.ExecContext(ctx, q, rec.ID, rec.AccountID, rec.Type, rec.Amount, rec.CreatedAt)

	return err
}

func (t *pgTx) Commit() error { return t.tx.Commit() }

// Rollback ignores sql.ErrTxDone so it can run unconditionally after Commit.
func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}

	return nil
}
