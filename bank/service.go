package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	cbus "github.com/next-trace/scg-bank-rpc/contract/bus"
)

// HistoryLimit is the number of audit rows a history query returns.
const HistoryLimit = 10

// Service implements the four banking operations against a Store.
type Service struct {
	store   Store
	events  EventSink
	loanIDs *LoanIDs
	now     func() time.Time
	newTxID func() string
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes committed transfers and loans to sink.
func WithEvents(sink EventSink) Option { return func(s *Service) { s.events = sink } }

// WithLogger sets the logger; nil discards.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock replaces time.Now for timestamps and loan ids.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService builds a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		now:     time.Now,
		newTxID: uuid.NewString,
	}

	for _, o := range opts {
		o(s)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	s.loanIDs = NewLoanIDs(s.now)

	return s
}

// Balance returns the client's current balance.
func (s *Service) Balance(ctx context.Context, clientID string) (BalanceResult, error) {
	acc, err := s.store.Balance(ctx, clientID)
	if errors.Is(err, ErrAccountNotFound) {
		return BalanceResult{}, ErrClientNotFound
	}

	if err != nil {
		return BalanceResult{}, fmt.Errorf("balance %s: %w", clientID, err)
	}

	return BalanceResult{ClientID: acc.ClientID, Balance: acc.Balance}, nil
}

// History returns the client's latest audit rows, newest first. Unknown clients are an
// error rather than an empty list.
func (s *Service) History(ctx context.Context, clientID string) ([]Transaction, error) {
	if _, err := s.Balance(ctx, clientID); err != nil {
		return nil, err
	}

	rows, err := s.store.History(ctx, clientID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", clientID, err)
	}

	if rows == nil {
		rows = []Transaction{}
	}

	return rows, nil
}

// IssueLoan records a loan and credits its amount in one transaction. Every loan with a
// positive amount for an existing client is approved. Loans write no audit row.
func (s *Service) IssueLoan(ctx context.Context, req LoanRequest) (res LoanResult, err error) {
	if err := checkAmount(req.Amount); err != nil {
		return res, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return res, fmt.Errorf("begin loan: %w", err)
	}

	defer s.rollbackOnError(tx, "loan", &err)

	acc, err := tx.LockAccount(ctx, req.ClientID)
	if errors.Is(err, ErrAccountNotFound) {
		return res, ErrClientNotFound
	}

	if err != nil {
		return res, fmt.Errorf("lock %s: %w", req.ClientID, err)
	}

	now := s.now().UTC()
	loan := Loan{
		ID:          s.loanIDs.Next(),
		ClientID:    acc.ClientID,
		Principal:   req.Amount,
		Outstanding: req.Amount,
		Status:      LoanStatusActive,
		CreatedAt:   now,
	}

	if err = tx.InsertLoan(ctx, loan); err != nil {
		return res, fmt.Errorf("insert loan %s: %w", loan.ID, err)
	}

	if err = tx.Credit(ctx, acc.ClientID, req.Amount); err != nil {
		return res, fmt.Errorf("credit loan %s: %w", loan.ID, err)
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("commit loan %s: %w", loan.ID, err)
	}

	s.publish(ctx, LoanIssued{LoanID: loan.ID, ClientID: loan.ClientID, Amount: loan.Principal, At: now})

	return LoanResult{
		LoanID:   loan.ID,
		ClientID: loan.ClientID,
		Amount:   loan.Principal,
		Status:   LoanApproved,
		Balance:  acc.Balance.Add(req.Amount),
	}, nil
}

// Transfer moves amount from origin to destination. The origin row is locked for the
// whole transaction so the funds check holds until commit; the destination is only
// incremented. One audit row is written, on the origin side.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (res TransferResult, err error) {
	if err := checkAmount(req.Amount); err != nil {
		return res, err
	}

	if req.OriginClientID == req.DestinationClientID {
		return res, ErrSameAccount
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return res, fmt.Errorf("begin transfer: %w", err)
	}

	defer s.rollbackOnError(tx, "transfer", &err)

	origin, err := tx.LockAccount(ctx, req.OriginClientID)
	if errors.Is(err, ErrAccountNotFound) {
		return res, ErrOriginNotFound
	}

	if err != nil {
		return res, fmt.Errorf("lock origin %s: %w", req.OriginClientID, err)
	}

	if origin.Balance.LessThan(req.Amount) {
		return res, ErrInsufficientFunds
	}

	balance, err := tx.Debit(ctx, origin.ID, req.Amount)
	if err != nil {
		return res, fmt.Errorf("debit %s: %w", req.OriginClientID, err)
	}

	err = tx.Credit(ctx, req.DestinationClientID, req.Amount)
	if errors.Is(err, ErrAccountNotFound) {
		return res, ErrDestinationNotFound
	}

	if err != nil {
		return res, fmt.Errorf("credit %s: %w", req.DestinationClientID, err)
	}

	now := s.now().UTC()
	rec := Transaction{
		ID:        s.newTxID(),
		AccountID: origin.ID,
		ClientID:  origin.ClientID,
		Type:      TypeTransfer,
		Amount:    req.Amount,
		CreatedAt: now,
	}

	if err = tx.InsertTransaction(ctx, rec); err != nil {
		return res, fmt.Errorf("insert transaction: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("commit transfer: %w", err)
	}

	res = TransferResult{
		TransactionID:       rec.ID,
		OriginClientID:      req.OriginClientID,
		DestinationClientID: req.DestinationClientID,
		Amount:              req.Amount,
		Balance:             balance,
	}

	s.publish(ctx, TransferCompleted{
		TransactionID:       rec.ID,
		OriginClientID:      req.OriginClientID,
		DestinationClientID: req.DestinationClientID,
		Amount:              req.Amount,
		OriginBalance:       balance,
		At:                  now,
	})

	return res, nil
}

func checkAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNonPositiveAmount
	}

	if !FitsScale(d) {
		return ErrAmountPrecision
	}

	return nil
}

func (s *Service) rollbackOnError(tx Tx, op string, err *error) {
	if *err == nil {
		return
	}

	if rbErr := tx.Rollback(); rbErr != nil {
		s.logger.Error("rollback failed", "op", op, "err", rbErr)
	}
}

func (s *Service) publish(ctx context.Context, e cbus.DomainEvent) {
	if s.events == nil {
		return
	}

	if err := s.events.PublishDomain(ctx, e); err != nil {
		s.logger.Warn("domain event not published", "event", fmt.Sprintf("%T", e), "err", err)
	}
}

// IsBusiness reports whether err is a rejection the caller should see verbatim.
func IsBusiness(err error) bool {
	var be Error
	return errors.As(err, &be)
}
