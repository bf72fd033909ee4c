package txparams

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrUpstreamQuery is matched by every *QueryError.
var ErrUpstreamQuery = errors.New("upstream query failed")

// QueryError reports a failed side-channel query to the upstream node.
type QueryError struct {
	Method string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUpstreamQuery, e.Method, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Is(target error) bool { return target == ErrUpstreamQuery }

// Caller issues JSON-RPC calls to the upstream node. *rpc.Client satisfies it.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Completer fills gas price, nonce and gas limit from the upstream node.
// Nothing is cached: every call queries afresh.
type Completer struct {
	upstream Caller
}

// NewCompleter creates a Completer using upstream.
func NewCompleter(upstream Caller) *Completer {
	return &Completer{upstream: upstream}
}

// Complete returns a copy of args with the missing fields populated.
// Fields the caller set are never overwritten.
func (c *Completer) Complete(ctx context.Context, args TxArgs) (TxArgs, error) {
	logger := zerolog.Ctx(ctx)

	if args.GasPrice == nil {
		var gasPrice hexutil.Big
		if err := c.call(ctx, &gasPrice, "eth_gasPrice"); err != nil {
			return TxArgs{}, err
		}
		args.GasPrice = &gasPrice
	}

	if args.Nonce == nil {
		var nonce hexutil.Uint64
		if err := c.call(ctx, &nonce, "eth_getTransactionCount", args.Sender(), "pending"); err != nil {
			return TxArgs{}, err
		}
		args.Nonce = &nonce
		logger.Debug().Str("from", args.Sender().Hex()).Uint64("nonce", uint64(nonce)).Msg("Fetched pending nonce")
	}

	if args.Gas == nil {
		var gas hexutil.Uint64
		if err := c.call(ctx, &gas, "eth_estimateGas", estimateArgs(args)); err != nil {
			return TxArgs{}, err
		}
		args.Gas = &gas
	}

	return args, nil
}

func (c *Completer) call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if err := c.upstream.CallContext(ctx, result, method, params...); err != nil {
		return &QueryError{Method: method, Err: err}
	}
	return nil
}

// estimateArgs drops fields that are not part of a call object.
func estimateArgs(args TxArgs) TxArgs {
	args.Gas = nil
	args.ChainID = nil
	return args
}
