package bank

import (
	"context"
	"errors"

	"github.com/next-trace/scg-bank-rpc/contract/rpc"
	"github.com/next-trace/scg-bank-rpc/rpcserver"
)

// MsgInvalidPayload answers requests whose body is not the expected JSON object.
const MsgInvalidPayload = "invalid request payload"

// Register binds the four banking routing keys on d.
func Register(d *rpcserver.Dispatcher, svc *Service) error {
	routes := []struct {
		key string
		h   rpcserver.HandlerFunc
	}{
		{rpc.KeyBalanceQuery, handle(func(ctx context.Context, in BalanceRequest) (BalanceResult, error) {
			return svc.Balance(ctx, in.ClientID)
		})},
		{rpc.KeyHistoryQuery, handle(func(ctx context.Context, in HistoryRequest) ([]Transaction, error) {
			return svc.History(ctx, in.ClientID)
		})},
		{rpc.KeyLoanRequest, handle(svc.IssueLoan)},
		{rpc.KeyTransferRequest, handle(svc.Transfer)},
	}

	for _, r := range routes {
		if err := d.Handle(r.key, r.h); err != nil {
			return err
		}
	}

	return nil
}

// handle decodes and validates the payload, runs fn and maps its outcome: business
// errors become ERROR replies, anything else is left to the dispatcher.
func handle[In, Out any](fn func(context.Context, In) (Out, error)) rpcserver.HandlerFunc {
	return func(ctx context.Context, req rpc.Request) (rpc.Response, error) {
		var in In
		if err := req.Decode(&in); err != nil {
			return rpc.Fail(MsgInvalidPayload), nil
		}

		if err := check(in); err != nil {
			return reject(err)
		}

		out, err := fn(ctx, in)
		if err != nil {
			return reject(err)
		}

		return rpc.OK(out)
	}
}

func reject(err error) (rpc.Response, error) {
	var be Error
	if errors.As(err, &be) {
		return rpc.Fail(string(be)), nil
	}

	return rpc.Response{}, err
}
