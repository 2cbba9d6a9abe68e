package bank

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types recorded in the audit trail.
const TypeTransfer = "transfer"

// LoanStatusActive is the status of every newly issued loan.
const LoanStatusActive = "active"

// MoneyScale is the number of decimal places stored for every amount and balance.
const MoneyScale = 2

// FitsScale reports whether d can be stored without rounding.
func FitsScale(d decimal.Decimal) bool { return d.Equal(d.Round(MoneyScale)) }

// Account is one client's balance. ClientID is unique; ID is the store's internal key.
type Account struct {
	ID       int64
	ClientID string
	Balance  decimal.Decimal
}

// Loan is created once per loan request and never changes afterwards.
type Loan struct {
	ID          string
	ClientID    string
	Principal   decimal.Decimal
	Outstanding decimal.Decimal
	Status      string
	CreatedAt   time.Time
}

// Transaction is an append-only audit row. Transfers record only the origin side.
type Transaction struct {
	ID        string          `json:"transaction_id"`
	AccountID int64           `json:"account_id"`
	ClientID  string          `json:"client_id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"timestamp"`
}
