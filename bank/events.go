package bank

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	cbus "github.com/next-trace/scg-bank-rpc/contract/bus"
	"github.com/next-trace/scg-bank-rpc/servicebus"
)

// Integration topics.
const (
	TopicTransferCompleted = "bank.transfer.completed"
	TopicLoanIssued        = "bank.loan.issued"
)

// TransferCompleted is raised after a transfer commits.
type TransferCompleted struct {
	TransactionID       string          `json:"transaction_id"`
	OriginClientID      string          `json:"origin_client_id"`
	DestinationClientID string          `json:"destination_client_id"`
	Amount              decimal.Decimal `json:"amount"`
	OriginBalance       decimal.Decimal `json:"origin_balance"`
	At                  time.Time       `json:"at"`
}

func (TransferCompleted) Topic() string { return TopicTransferCompleted }

// LoanIssued is raised after a loan commits.
type LoanIssued struct {
	LoanID   string          `json:"loan_id"`
	ClientID string          `json:"client_id"`
	Amount   decimal.Decimal `json:"amount"`
	At       time.Time       `json:"at"`
}

func (LoanIssued) Topic() string { return TopicLoanIssued }

// EventSink receives domain events once their transaction has committed.
// *servicebus.Bus satisfies it.
type EventSink interface {
	PublishDomain(ctx context.Context, e cbus.DomainEvent) error
}

// ForwardEvents makes b republish both bank events as integration events keyed by the
// client they concern, so a partitioned log keeps each client's events in order.
func ForwardEvents(b *servicebus.Bus) error {
	if err := servicebus.Forward(b, func(e TransferCompleted) (cbus.IntegrationEvent, cbus.PublishOptions) {
		return e, cbus.PublishOptions{Key: e.OriginClientID}
	}); err != nil {
		return err
	}

	return servicebus.Forward(b, func(e LoanIssued) (cbus.IntegrationEvent, cbus.PublishOptions) {
		return e, cbus.PublishOptions{Key: e.ClientID}
	})
}
