package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	method string
	args   []interface{}
	result string
	err    error
}

func (f *fakeCaller) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	f.method = method
	f.args = args
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.result), result)
}

func passing(calls *int) Handler {
	return HandlerFunc(func(context.Context, *Request) (Result, error) {
		*calls++
		return Pass(), nil
	})
}

func TestChainFirstResultWins(t *testing.T) {
	var passed, later int
	chain := NewChain(nil,
		passing(&passed),
		HandlerFunc(func(context.Context, *Request) (Result, error) { return Ok("first"), nil }),
		passing(&later),
	)

	v, err := chain.Handle(context.Background(), &Request{Method: "eth_accounts"})
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.Equal(t, 1, passed)
	assert.Equal(t, 0, later)
}

func TestChainStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var later int
	chain := NewChain(nil,
		HandlerFunc(func(context.Context, *Request) (Result, error) { return Result{}, boom }),
		passing(&later),
	)

	_, err := chain.Handle(context.Background(), &Request{Method: "eth_call"})
	assert.Equal(t, boom, err)
	assert.Equal(t, 0, later)
}

func TestChainAllPass(t *testing.T) {
	var calls int
	chain := NewChain(passing(&calls), passing(&calls))

	_, err := chain.Handle(context.Background(), &Request{Method: "eth_foo"})
	assert.True(t, errors.Is(err, ErrMethodNotHandled))
	assert.Equal(t, 2, calls)
}

func TestForwarderRelaysParams(t *testing.T) {
	upstream := &fakeCaller{result: `"0x10"`}
	chain := NewChain(NewForwarder(upstream))

	v, err := chain.Handle(context.Background(), &Request{
		Method: "eth_getBalance",
		Params: json.RawMessage(`["0x00000000000000000000000000000000000000aa","latest"]`),
	})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x10"`), v)
	assert.Equal(t, "eth_getBalance", upstream.method)
	require.Len(t, upstream.args, 2)
	assert.Equal(t, json.RawMessage(`"latest"`), upstream.args[1])
}

func TestForwarderWithoutParams(t *testing.T) {
	upstream := &fakeCaller{result: `"0x1"`}
	v, err := NewChain(NewForwarder(upstream)).Handle(context.Background(), &Request{Method: "eth_chainId"})
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x1"`), v)
	assert.Empty(t, upstream.args)
}

func TestForwarderRejectsObjectParams(t *testing.T) {
	upstream := &fakeCaller{}
	_, err := NewForwarder(upstream).Handle(context.Background(), &Request{
		Method: "eth_call",
		Params: json.RawMessage(`{"to":"0x01"}`),
	})
	assert.True(t, errors.Is(err, ErrInvalidParams))
	assert.Empty(t, upstream.method)
}

func TestForwarderPropagatesUpstreamError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewForwarder(&fakeCaller{err: boom}).Handle(context.Background(), &Request{Method: "eth_blockNumber"})
	assert.Equal(t, boom, err)
}
