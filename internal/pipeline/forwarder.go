package pipeline

import (
	"context"
	"encoding/json"
)

// Caller issues JSON-RPC calls to the upstream node. *rpc.Client satisfies it.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Forwarder relays requests verbatim to the upstream node.
type Forwarder struct {
	upstream Caller
}

// NewForwarder creates a Forwarder using upstream.
func NewForwarder(upstream Caller) *Forwarder {
	return &Forwarder{upstream: upstream}
}

// Handle forwards req and returns the raw upstream result.
func (f *Forwarder) Handle(ctx context.Context, req *Request) (Result, error) {
	params, err := req.PositionalParams()
	if err != nil {
		return Result{}, err
	}
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}

	var result json.RawMessage
	if err := f.upstream.CallContext(ctx, &result, req.Method, args...); err != nil {
		return Result{}, err
	}
	return Ok(result), nil
}
