package identity

import (
	"context"
	"errors"

	"github.com/next-trace/scg-bank-rpc/contract/rpc"
	"github.com/next-trace/scg-bank-rpc/rpcserver"
)

// ERROR messages sent for rejected lookups.
const (
	MsgInvalidPayload = "invalid request payload"
	MsgInvalidDNI     = "dni must be 8 digits"
	MsgNotFound       = "person not found"
)

// Register binds the identity query on d.
func Register(d *rpcserver.Dispatcher, dir Directory) error {
	return d.Handle(rpc.KeyIdentityQuery, func(ctx context.Context, req rpc.Request) (rpc.Response, error) {
		var in Request
		if err := req.Decode(&in); err != nil {
			return rpc.Fail(MsgInvalidPayload), nil
		}

		if err := validate.Struct(in); err != nil {
			return rpc.Fail(MsgInvalidDNI), nil
		}

		p, err := dir.Lookup(ctx, in.DNI)
		if errors.Is(err, ErrNotFound) {
			return rpc.Fail(MsgNotFound), nil
		}

		if err != nil {
			return rpc.Response{}, err
		}

		return rpc.OK(p)
	})
}
