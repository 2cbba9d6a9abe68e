package rpc

// Routing keys served by the bank service.
const (
	KeyBalanceQuery    = "balance.query"
	KeyHistoryQuery    = "history.query"
	KeyLoanRequest     = "loan.request"
	KeyTransferRequest = "transfer.request"
)

// KeyIdentityQuery resolves a national id to the registered person.
const KeyIdentityQuery = "identity.query"

// Defaults for the request topology shared by clients and servers.
const (
	DefaultExchange = "bank.rpc"
	DefaultQueue    = "bank.requests"
)

// HeaderCorrelationID carries the correlation id on transports without a native property for it.
const HeaderCorrelationID = "Correlation-Id"
