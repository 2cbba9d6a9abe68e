package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	berr "github.com/next-trace/scg-bank-rpc/contract/errors"
)

// Status is the outcome carried by every Response.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// Response is the JSON body published back to a caller's reply destination.
// Data is set on OK, Message on ERROR.
type Response struct {
	Status  Status          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OK builds a successful response carrying v as data.
func OK(v any) (Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Response{}, fmt.Errorf("encode response data: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return Response{Status: StatusOK, Data: b}, nil
}

// Fail builds an ERROR response with a human readable message.
func Fail(msg string) Response {
	return Response{Status: StatusError, Message: msg}
}

// IsOK reports whether the response status is OK.
func (r Response) IsOK() bool { return r.Status == StatusOK }

// Decode unmarshals the response data into v.
func (r Response) Decode(v any) error {
	if !r.IsOK() {
		return fmt.Errorf("decode %s response: %s", r.Status, r.Message)
	}

	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return nil
}

// Encode serializes the response body.
func (r Response) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return b, nil
}

// DecodeResponse parses a reply body.
func DecodeResponse(body []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return r, nil
}
