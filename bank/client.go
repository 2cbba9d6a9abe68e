package bank

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/next-trace/scg-bank-rpc/contract/rpc"
)

// Caller is the blocking call primitive; *rpcclient.Client implements it.
type Caller interface {
	Call(ctx context.Context, routingKey string, payload any, timeout time.Duration) (rpc.Response, error)
}

// Client is a typed front for the banking routing keys. ERROR replies come back as
// Error values, so errors.Is(err, ErrInsufficientFunds) works on the caller's side.
type Client struct {
	caller  Caller
	timeout time.Duration
}

// NewClient wraps c. A zero timeout leaves the choice to c.
func NewClient(c Caller, timeout time.Duration) *Client {
	return &Client{caller: c, timeout: timeout}
}

// Balance queries the client's balance.
func (c *Client) Balance(ctx context.Context, clientID string) (BalanceResult, error) {
	var out BalanceResult
	err := c.call(ctx, rpc.KeyBalanceQuery, BalanceRequest{ClientID: clientID}, &out)

	return out, err
}

// History fetches the client's latest transfers, newest first.
func (c *Client) History(ctx context.Context, clientID string) ([]Transaction, error) {
	var out []Transaction
	err := c.call(ctx, rpc.KeyHistoryQuery, HistoryRequest{ClientID: clientID}, &out)

	return out, err
}

// RequestLoan asks for a loan credited to clientID.
func (c *Client) RequestLoan(ctx context.Context, clientID string, amount decimal.Decimal) (LoanResult, error) {
	var out LoanResult
	err := c.call(ctx, rpc.KeyLoanRequest, LoanRequest{ClientID: clientID, Amount: amount}, &out)

	return out, err
}

// Transfer moves amount from origin to destination.
func (c *Client) Transfer(ctx context.Context, origin, destination string, amount decimal.Decimal) (TransferResult, error) {
	var out TransferResult
	err := c.call(ctx, rpc.KeyTransferRequest, TransferRequest{
		OriginClientID:      origin,
		DestinationClientID: destination,
		Amount:              amount,
	}, &out)

	return out, err
}

func (c *Client) call(ctx context.Context, key string, in, out any) error {
	resp, err := c.caller.Call(ctx, key, in, c.timeout)
	if err != nil {
		return err
	}

	if !resp.IsOK() {
		return Error(resp.Message)
	}

	return resp.Decode(out)
}
