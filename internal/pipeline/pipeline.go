// Package pipeline composes JSON-RPC handlers. Each handler either produces
// a result, fails, or passes the request on to the next one.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrMethodNotHandled is returned when every handler passed.
var ErrMethodNotHandled = errors.New("method not handled")

// ErrInvalidParams marks requests whose params cannot be decoded.
var ErrInvalidParams = errors.New("invalid params")

// Request is a JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// PositionalParams splits the params array. Absent params yield nil.
func (r *Request) PositionalParams() ([]json.RawMessage, error) {
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return nil, errors.Wrap(ErrInvalidParams, "params must be an array")
	}
	return params, nil
}

// Result is the outcome of a handler that did not fail.
type Result struct {
	passed bool
	value  interface{}
}

// Pass defers the request to the next handler.
func Pass() Result { return Result{passed: true} }

// Ok completes the request with value.
func Ok(value interface{}) Result { return Result{value: value} }

// Passed reports whether the handler deferred.
func (r Result) Passed() bool { return r.passed }

// Value is the result of a completed request.
func (r Result) Value() interface{} { return r.value }

// Handler is one stage of the pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (Result, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (Result, error) {
	return f(ctx, req)
}

// Chain runs handlers in order and falls back to a terminal handler.
type Chain struct {
	handlers []Handler
	final    Handler
}

// NewChain creates a Chain that tries handlers first and final last.
func NewChain(final Handler, handlers ...Handler) *Chain {
	return &Chain{handlers: handlers, final: final}
}

// Handle returns the value of the first handler that does not pass.
func (c *Chain) Handle(ctx context.Context, req *Request) (interface{}, error) {
	for _, h := range c.handlers {
		res, err := h.Handle(ctx, req)
		if err != nil {
			return nil, err
		}
		if !res.Passed() {
			return res.Value(), nil
		}
	}
	if c.final != nil {
		res, err := c.final.Handle(ctx, req)
		if err != nil {
			return nil, err
		}
		if !res.Passed() {
			return res.Value(), nil
		}
	}
	return nil, errors.Wrapf(ErrMethodNotHandled, "%s", req.Method)
}
