package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-bank-rpc/bank"
	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
	"github.com/next-trace/scg-bank-rpc/storage/postgres"
)

func newMock(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return postgres.New(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var accountCols = []string{"account_id", "client_id", "balance"}

func TestStore_Balance(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery(q("SELECT account_id, client_id, balance FROM accounts WHERE client_id = $1")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(int64(7), "alice", "120.50"))

	mock.ExpectQuery(q("FROM accounts WHERE client_id = $1")).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(accountCols))

	acc, err := store.Balance(t.Context(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(7), acc.ID)
	require.True(t, acc.Balance.Equal(decimal.RequireFromString("120.5")))

	_, err = store.Balance(t.Context(), "nobody")
	require.ErrorIs(t, err, bank.ErrAccountNotFound)
}

func TestStore_HistoryJoinsAccountsNewestFirst(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("JOIN accounts a ON a.account_id = t.account_id")).
		WithArgs("alice", 10).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "account_id", "client_id", "type", "amount", "created_at"}).
			AddRow("t2", int64(1), "alice", "transfer", "5.00", at.Add(time.Minute)).
			AddRow("t1", int64(1), "alice", "transfer", "2.00", at))

	rows, err := store.History(t.Context(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "t2", rows[0].ID)
	require.Equal(t, "alice", rows[0].ClientID)
}

func TestStore_TransferCommitsInOneTransaction(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(int64(1), "alice", "100.00"))
	mock.ExpectQuery(q("UPDATE accounts SET balance = balance - $1 WHERE account_id = $2 RETURNING balance")).
		WithArgs(decimal.RequireFromString("40"), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("60.00"))
	mock.ExpectExec(q("UPDATE accounts SET balance = balance + $1 WHERE client_id = $2")).
		WithArgs(decimal.RequireFromString("40"), "bob").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO transactions")).
		WithArgs(sqlmock.AnyArg(), int64(1), bank.TypeTransfer, decimal.RequireFromString("40"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := bank.NewService(store).Transfer(t.Context(), bank.TransferRequest{
		OriginClientID: "alice", DestinationClientID: "bob", Amount: decimal.RequireFromString("40"),
	})
	require.NoError(t, err)
	require.True(t, res.Balance.Equal(decimal.RequireFromString("60")))
}

func TestStore_TransferRollsBack(t *testing.T) {
	t.Run("insufficient funds", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(int64(1), "alice", "10.00"))
		mock.ExpectRollback()

		_, err := bank.NewService(store).Transfer(t.Context(), bank.TransferRequest{
			OriginClientID: "alice", DestinationClientID: "bob", Amount: decimal.RequireFromString("40"),
		})
		require.ErrorIs(t, err, bank.ErrInsufficientFunds)
	})

	t.Run("missing destination", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(int64(1), "alice", "100.00"))
		mock.ExpectQuery(q("RETURNING balance")).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("60.00"))
		mock.ExpectExec(q("balance = balance + $1")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := bank.NewService(store).Transfer(t.Context(), bank.TransferRequest{
			OriginClientID: "alice", DestinationClientID: "ghost", Amount: decimal.RequireFromString("40"),
		})
		require.ErrorIs(t, err, bank.ErrDestinationNotFound)
	})

	t.Run("audit insert fails", func(t *testing.T) {
		store, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(q("FOR UPDATE")).
			WillReturnRows(sqlmock.NewRows(accountCols).AddRow(int64(1), "alice", "100.00"))
		mock.ExpectQuery(q("RETURNING balance")).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("60.00"))
		mock.ExpectExec(q("balance = balance + $1")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("INSERT INTO transactions")).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := bank.NewService(store).Transfer(t.Context(), bank.TransferRequest{
			OriginClientID: "alice", DestinationClientID: "bob", Amount: decimal.RequireFromString("40"),
		})
		require.ErrorContains(t, err, "disk full")
		require.False(t, bank.IsBusiness(err))
	})
}

func TestStore_LoanInsertsAndCredits(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(int64(1), "alice", "0"))
	mock.ExpectExec(q("INSERT INTO loans")).
		WithArgs("PR20250203040506000", "alice", decimal.RequireFromString("500"), decimal.RequireFromString("500"), bank.LoanStatusActive, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("balance = balance + $1")).
		WithArgs(decimal.RequireFromString("500"), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := bank.NewService(store, bank.WithClock(func() time.Time { return at }))

	res, err := svc.IssueLoan(t.Context(), bank.LoanRequest{ClientID: "alice", Amount: decimal.RequireFromString("500")})
	require.NoError(t, err)
	require.Equal(t, "PR20250203040506000", res.LoanID)
}

func TestStore_MigrateAndCreateAccount(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS accounts")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("ON CONFLICT (client_id) DO NOTHING")).
		WithArgs("alice", decimal.RequireFromString("10")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Migrate(t.Context()))
	require.NoError(t, store.CreateAccount(t.Context(), "alice", decimal.RequireFromString("10")))
	require.ErrorIs(t, store.CreateAccount(t.Context(), "bob", decimal.RequireFromString("0.001")), bank.ErrAmountPrecision)
}

func TestStore_BeginFailure(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	_, err := store.BeginTx(t.Context())
	require.ErrorIs(t, err, sql.ErrConnDone)
}

func TestOpen_RequiresDSNAndStopsOnCancel(t *testing.T) {
	_, err := postgres.Open(t.Context(), postgres.Config{})
	require.ErrorIs(t, err, berr.ErrConfigInvalid)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err = postgres.Open(ctx, postgres.Config{DSN: "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
