package identity

import (
	"context"
	"errors"
	"time"

	"github.com/next-trace/scg-bank-rpc/contract/rpc"
)

// Caller is the blocking call primitive; *rpcclient.Client implements it.
type Caller interface {
	Call(ctx context.Context, routingKey string, payload any, timeout time.Duration) (rpc.Response, error)
}

// Client queries the identity service. An unknown DNI comes back as ErrNotFound.
type Client struct {
	caller  Caller
	timeout time.Duration
}

// NewClient wraps c. A zero timeout leaves the choice to c.
func NewClient(c Caller, timeout time.Duration) *Client {
	return &Client{caller: c, timeout: timeout}
}

// Lookup returns the person registered under dni.
func (c *Client) Lookup(ctx context.Context, dni string) (Person, error) {
	resp, err := c.caller.Call(ctx, rpc.KeyIdentityQuery, Request{DNI: dni}, c.timeout)
	if err != nil {
		return Person{}, err
	}

	if !resp.IsOK() {
		if resp.Message == MsgNotFound {
			return Person{}, ErrNotFound
		}

		return Person{}, errors.New("identity: " + resp.Message)
	}

	var p Person

	return p, resp.Decode(&p)
}
