package bank

// Error is a business rejection. Its text is sent to the caller as the ERROR message,
// and bank.Client turns such messages back into Error values.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrClientNotFound      Error = "client not found"
	ErrOriginNotFound      Error = "origin client not found"
	ErrDestinationNotFound Error = "destination client not found"
	ErrInsufficientFunds   Error = "insufficient funds"
	ErrNonPositiveAmount   Error = "amount must be positive"
	ErrAmountPrecision     Error = "amount must have at most 2 decimal places"
	ErrSameAccount         Error = "origin and destination must differ"
)
