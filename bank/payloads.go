package bank

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// BalanceRequest is the payload of a balance query.
type BalanceRequest struct {
	ClientID string `json:"client_id" validate:"required"`
}

// HistoryRequest is the payload of a history query.
type HistoryRequest struct {
	ClientID string `json:"client_id" validate:"required"`
}

// LoanRequest asks for a loan of Amount to be credited to ClientID.
type LoanRequest struct {
	ClientID string          `json:"client_id" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

// TransferRequest moves Amount from the origin account to the destination account.
type TransferRequest struct {
	OriginClientID      string          `json:"origin_client_id" validate:"required"`
	DestinationClientID string          `json:"destination_client_id" validate:"required"`
	Amount              decimal.Decimal `json:"amount"`
}

// BalanceResult is the reply to a balance query.
type BalanceResult struct {
	ClientID string          `json:"client_id"`
	Balance  decimal.Decimal `json:"balance"`
}

// LoanResult reports an approved loan and the balance after crediting it.
type LoanResult struct {
	LoanID   string          `json:"loan_id"`
	ClientID string          `json:"client_id"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
	Balance  decimal.Decimal `json:"balance"`
}

// LoanApproved is the status reported for every loan, since loans are never declined.
const LoanApproved = "approved"

// TransferResult reports a committed transfer. Balance is the origin's new balance.
type TransferResult struct {
	TransactionID       string          `json:"transaction_id"`
	OriginClientID      string          `json:"origin_client_id"`
	DestinationClientID string          `json:"destination_client_id"`
	Amount              decimal.Decimal `json:"amount"`
	Balance             decimal.Decimal `json:"balance"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// check validates a decoded payload. Field problems come back as a single Error naming
// the offending fields by their JSON names.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}

	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, f.Field()+" is "+f.Tag())
	}

	return Error("invalid request: " + strings.Join(msgs, ", "))
}
