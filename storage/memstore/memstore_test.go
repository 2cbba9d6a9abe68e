package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-bank-rpc/bank"
	"github.com/next-trace/scg-bank-rpc/storage/memstore"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMemstore_CommitAppliesBufferedWrites(t *testing.T) {
	s := memstore.New()
	a, _ := s.CreateAccount("a", dec("100"))
	_, _ = s.CreateAccount("b", dec("5"))

	tx, _ := s.BeginTx(t.Context())

	locked, err := tx.LockAccount(t.Context(), "a")
	if err != nil || !locked.Balance.Equal(dec("100")) || locked.ID != a.ID {
		t.Fatalf("lock: %+v %v", locked, err)
	}

	left, err := tx.Debit(t.Context(), a.ID, dec("30"))
	if err != nil || !left.Equal(dec("70")) {
		t.Fatalf("debit: %s %v", left, err)
	}

	if err := tx.Credit(t.Context(), "b", dec("30")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_ = tx.InsertTransaction(t.Context(), bank.Transaction{ID: "t1", ClientID: "a", Amount: dec("30"), CreatedAt: time.Now()})

	if got, _ := s.Balance(t.Context(), "a"); !got.Balance.Equal(dec("100")) {
		t.Fatalf("uncommitted debit visible: %s", got.Balance)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	ga, _ := s.Balance(t.Context(), "a")
	gb, _ := s.Balance(t.Context(), "b")

	if !ga.Balance.Equal(dec("70")) || !gb.Balance.Equal(dec("35")) {
		t.Fatalf("a=%s b=%s", ga.Balance, gb.Balance)
	}

	if h, _ := s.History(t.Context(), "a", 10); len(h) != 1 {
		t.Fatalf("history=%v", h)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback after commit: %v", err)
	}
}

func TestMemstore_RollbackDiscardsAndReleasesLock(t *testing.T) {
	s := memstore.New()
	a, _ := s.CreateAccount("a", dec("10"))

	tx, _ := s.BeginTx(t.Context())
	_, _ = tx.LockAccount(t.Context(), "a")
	_, _ = tx.Debit(t.Context(), a.ID, dec("10"))
	_ = tx.InsertLoan(t.Context(), bank.Loan{ID: "PR1", ClientID: "a"})
	_ = tx.Rollback()

	if got, _ := s.Balance(t.Context(), "a"); !got.Balance.Equal(dec("10")) {
		t.Fatalf("rolled back debit applied: %s", got.Balance)
	}

	if len(s.Loans("a")) != 0 {
		t.Fatalf("rolled back loan recorded")
	}

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	tx2, _ := s.BeginTx(ctx)
	if _, err := tx2.LockAccount(ctx, "a"); err != nil {
		t.Fatalf("lock not released: %v", err)
	}

	_ = tx2.Rollback()
}

func TestMemstore_LockIsExclusiveUntilTxEnds(t *testing.T) {
	s := memstore.New()
	_, _ = s.CreateAccount("a", dec("1"))

	first, _ := s.BeginTx(t.Context())
	if _, err := first.LockAccount(t.Context(), "a"); err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	second, _ := s.BeginTx(ctx)
	if _, err := second.LockAccount(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lock should block, got %v", err)
	}

	got := make(chan error, 1)

	third, _ := s.BeginTx(t.Context())
	go func() {
		_, err := third.LockAccount(t.Context(), "a")
		got <- err
	}()

	_ = first.Commit()

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("third lock: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("lock not handed over after commit")
	}

	_ = third.Rollback()
}

func TestMemstore_Errors(t *testing.T) {
	s := memstore.New()
	a, _ := s.CreateAccount("a", dec("5"))

	if _, err := s.CreateAccount("a", dec("1")); !errors.Is(err, memstore.ErrDuplicateAccount) {
		t.Fatalf("duplicate: %v", err)
	}

	if _, err := s.CreateAccount("c", dec("0.001")); !errors.Is(err, memstore.ErrBalanceScale) {
		t.Fatalf("sub-cent balance: %v", err)
	}

	if _, err := s.Balance(t.Context(), "nobody"); !errors.Is(err, bank.ErrAccountNotFound) {
		t.Fatalf("balance: %v", err)
	}

	tx, _ := s.BeginTx(t.Context())

	if _, err := tx.Debit(t.Context(), a.ID, dec("1")); !errors.Is(err, memstore.ErrNotLocked) {
		t.Fatalf("debit without lock: %v", err)
	}

	if err := tx.Credit(t.Context(), "nobody", dec("1")); !errors.Is(err, bank.ErrAccountNotFound) {
		t.Fatalf("credit: %v", err)
	}

	_, _ = tx.LockAccount(t.Context(), "a")
	_, _ = tx.Debit(t.Context(), a.ID, dec("6"))

	if err := tx.Commit(); !errors.Is(err, memstore.ErrNegativeBalance) {
		t.Fatalf("commit: %v", err)
	}

	if got, _ := s.Balance(t.Context(), "a"); !got.Balance.Equal(dec("5")) {
		t.Fatalf("failed commit changed balance: %s", got.Balance)
	}

	if err := tx.Commit(); !errors.Is(err, memstore.ErrTxDone) {
		t.Fatalf("second commit: %v", err)
	}
}

func TestMemstore_HistoryNewestFirstAndLimited(t *testing.T) {
	s := memstore.New()
	a, _ := s.CreateAccount("a", dec("100"))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		tx, _ := s.BeginTx(t.Context())
		_ = tx.InsertTransaction(t.Context(), bank.Transaction{
			ID:        string(rune('a' + i)),
			AccountID: a.ID,
			ClientID:  "a",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		_ = tx.Commit()
	}

	h, _ := s.History(t.Context(), "a", 10)
	if len(h) != 10 || h[0].ID != "l" || h[9].ID != "c" {
		t.Fatalf("history ids: first=%s last=%s n=%d", h[0].ID, h[len(h)-1].ID, len(h))
	}
}

func TestMemstore_CommitRefusedAfterContextEnds(t *testing.T) {
	s := memstore.New()
	a, _ := s.CreateAccount("a", dec("100"))
	_, _ = s.CreateAccount("b", dec("0"))

	ctx, cancel := context.WithCancel(t.Context())

	tx, _ := s.BeginTx(ctx)
	_, _ = tx.LockAccount(ctx, "a")
	_, _ = tx.Debit(ctx, a.ID, dec("40"))
	_ = tx.Credit(ctx, "b", dec("40"))

	cancel()

	if err := tx.Commit(); !errors.Is(err, context.Canceled) {
		t.Fatalf("commit after cancel: %v", err)
	}

	if got, _ := s.Balance(t.Context(), "a"); !got.Balance.Equal(dec("100")) {
		t.Fatalf("a=%s", got.Balance)
	}

	tx2, _ := s.BeginTx(t.Context())
	if _, err := tx2.LockAccount(t.Context(), "a"); err != nil {
		t.Fatalf("lock not released: %v", err)
	}

	_ = tx2.Rollback()
}

func TestMemstore_HistoryOrdersByTimeNotCommitOrder(t *testing.T) {
	s := memstore.New()
	a, _ := s.CreateAccount("a", dec("1"))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	insert := func(id string, at time.Time) {
		tx, _ := s.BeginTx(t.Context())
		_ = tx.InsertTransaction(t.Context(), bank.Transaction{ID: id, AccountID: a.ID, ClientID: "a", CreatedAt: at})
		_ = tx.Commit()
	}

	insert("newest", base.Add(time.Hour))

	for i := 0; i < 10; i++ {
		insert(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
	}

	insert("tie-a", base.Add(time.Hour))

	h, _ := s.History(t.Context(), "a", 10)
	if len(h) != 10 || h[0].ID != "tie-a" || h[1].ID != "newest" || h[2].ID != "j" {
		ids := make([]string, len(h))
		for i, r := range h {
			ids[i] = r.ID
		}

		t.Fatalf("history ids=%v", ids)
	}
}
