package middleware

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xueqianLu/txsigner/internal/metrics"
	"github.com/xueqianLu/txsigner/internal/nonce"
	"github.com/xueqianLu/txsigner/internal/pipeline"
	"github.com/xueqianLu/txsigner/internal/signer"
	"github.com/xueqianLu/txsigner/internal/txparams"
)

const (
	methodSendTransaction = "eth_sendTransaction"
	methodSignTransaction = "eth_signTransaction"
	methodAccounts        = "eth_accounts"
	methodPersonalSign    = "personal_sign"
	methodSign            = "eth_sign"
)

// Errors returned by Signing.Handle.
var (
	ErrInvalidSender      = errors.New("invalid sender address")
	ErrNotImplemented     = errors.New("not implemented")
	ErrMessageDataMissing = errors.New("message data missing")
)

// SignedTransaction is the result of eth_signTransaction.
type SignedTransaction struct {
	Raw hexutil.Bytes      `json:"raw"`
	Tx  *types.Transaction `json:"tx"`
}

// SigningConfig wires the collaborators of Signing.
type SigningConfig struct {
	Registry   *signer.Registry
	Assembler  *signer.Assembler
	Completer  *txparams.Completer
	Serializer *nonce.Serializer
	Upstream   txparams.Caller
	ChainID    *big.Int
	Metrics    *metrics.Metrics
}

// Signing signs and submits transactions for locally managed senders.
// Requests for any other sender or method pass to the next handler.
type Signing struct {
	registry   *signer.Registry
	assembler  *signer.Assembler
	completer  *txparams.Completer
	serializer *nonce.Serializer
	upstream   txparams.Caller
	chainID    *big.Int
	eip155     types.Signer
	metrics    *metrics.Metrics
}

// NewSigning creates the signing handler.
func NewSigning(cfg SigningConfig) *Signing {
	return &Signing{
		registry:   cfg.Registry,
		assembler:  cfg.Assembler,
		completer:  cfg.Completer,
		serializer: cfg.Serializer,
		upstream:   cfg.Upstream,
		chainID:    cfg.ChainID,
		eip155:     types.NewEIP155Signer(cfg.ChainID),
		metrics:    cfg.Metrics,
	}
}

// Handle implements pipeline.Handler.
func (s *Signing) Handle(ctx context.Context, req *pipeline.Request) (res pipeline.Result, err error) {
	switch req.Method {
	case methodSendTransaction, methodSignTransaction, methodAccounts, methodPersonalSign, methodSign:
	default:
		return pipeline.Pass(), nil
	}

	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case res.Passed():
			outcome = "passed"
		}
		s.metrics.ObserveRequest(req.Method, outcome)
	}()

	switch req.Method {
	case methodSendTransaction:
		return s.sendTransaction(ctx, req)
	case methodSignTransaction:
		return s.signTransaction(ctx, req)
	case methodAccounts:
		return pipeline.Ok(s.registry.Accounts()), nil
	case methodPersonalSign:
		return s.signMessage(req, 0, 1)
	default:
		return s.signMessage(req, 1, 0)
	}
}

func (s *Signing) sendTransaction(ctx context.Context, req *pipeline.Request) (pipeline.Result, error) {
	args, err := decodeTxArgs(req)
	if err != nil {
		return pipeline.Result{}, err
	}
	from := args.Sender()
	if !s.registry.Has(from) {
		return pipeline.Pass(), nil
	}
	args.ChainID = (*hexutil.Big)(s.chainID)

	logger := zerolog.Ctx(ctx).With().Str("method", req.Method).Str("from", from.Hex()).Logger()
	ctx = logger.WithContext(ctx)

	var hash common.Hash
	err = s.serializer.Do(ctx, from, args.NoncePinned(), func(ctx context.Context) error {
		raw, tx, err := s.signTx(ctx, args)
		if err != nil {
			return err
		}

		logger.Debug().Str("stage", "submitting").Uint64("nonce", tx.Nonce()).Msg("Submitting signed transaction")
		if err := s.upstream.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
			return nonce.Classify(err)
		}
		return nil
	})
	if err != nil {
		logger.Debug().Str("stage", "failed").Err(err).Msg("Transaction not submitted")
		return pipeline.Result{}, err
	}

	logger.Debug().Str("stage", "done").Str("hash", hash.Hex()).Msg("Transaction submitted")
	return pipeline.Ok(hash), nil
}

func (s *Signing) signTransaction(ctx context.Context, req *pipeline.Request) (pipeline.Result, error) {
	args, err := decodeTxArgs(req)
	if err != nil {
		return pipeline.Result{}, err
	}
	from := args.Sender()
	if !s.registry.Has(from) {
		return pipeline.Pass(), nil
	}
	args.ChainID = (*hexutil.Big)(s.chainID)

	logger := zerolog.Ctx(ctx).With().Str("method", req.Method).Str("from", from.Hex()).Logger()
	ctx = logger.WithContext(ctx)

	var signed SignedTransaction
	// Nothing is submitted, so no attempt can lose a nonce race.
	err = s.serializer.Do(ctx, from, true, func(ctx context.Context) error {
		raw, tx, err := s.signTx(ctx, args)
		if err != nil {
			return err
		}
		signed = SignedTransaction{Raw: raw, Tx: tx}
		return nil
	})
	if err != nil {
		logger.Debug().Str("stage", "failed").Err(err).Msg("Transaction not signed")
		return pipeline.Result{}, err
	}

	logger.Debug().Str("stage", "done").Str("hash", signed.Tx.Hash().Hex()).Msg("Transaction signed")
	return pipeline.Ok(&signed), nil
}

// signTx completes args from upstream and signs the resulting transaction.
// args is the request as the caller sent it, so each retry refetches what
// the caller left open.
func (s *Signing) signTx(ctx context.Context, args txparams.TxArgs) ([]byte, *types.Transaction, error) {
	logger := zerolog.Ctx(ctx)
	from := args.Sender()

	logger.Debug().Str("stage", "completing_params").Msg("Completing transaction parameters")
	full, err := s.completer.Complete(ctx, args)
	if err != nil {
		return nil, nil, err
	}

	sign, err := s.registry.Get(from)
	if err != nil {
		return nil, nil, err
	}

	tx := full.ToTransaction()
	logger.Debug().Str("stage", "signing").Uint64("nonce", tx.Nonce()).Msg("Signing transaction")
	sig, err := s.assembler.Assemble(ctx, s.eip155.Hash(tx), from, sign, s.chainID)
	if err != nil {
		return nil, nil, err
	}

	signed, err := tx.WithSignature(s.eip155, sig.RecoveryBytes(s.chainID))
	if err != nil {
		return nil, nil, errors.Wrap(signer.ErrSignature, err.Error())
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to encode signed transaction")
	}
	return raw, signed, nil
}

// signMessage handles personal_sign and eth_sign, which differ only in the
// order of their data and address params.
func (s *Signing) signMessage(req *pipeline.Request, dataIdx, addrIdx int) (pipeline.Result, error) {
	params, err := req.PositionalParams()
	if err != nil {
		return pipeline.Result{}, err
	}

	var data, address string
	if len(params) > dataIdx {
		_ = json.Unmarshal(params[dataIdx], &data)
	}
	if data == "" {
		return pipeline.Result{}, ErrMessageDataMissing
	}
	if len(params) > addrIdx {
		_ = json.Unmarshal(params[addrIdx], &address)
	}
	if !common.IsHexAddress(address) || !s.registry.Has(common.HexToAddress(address)) {
		return pipeline.Pass(), nil
	}
	return pipeline.Result{}, errors.Wrapf(ErrNotImplemented, "%s", req.Method)
}

func decodeTxArgs(req *pipeline.Request) (txparams.TxArgs, error) {
	params, err := req.PositionalParams()
	if err != nil {
		return txparams.TxArgs{}, err
	}
	if len(params) == 0 {
		return txparams.TxArgs{}, errors.Wrap(pipeline.ErrInvalidParams, "missing transaction object")
	}

	var args txparams.TxArgs
	if err := json.Unmarshal(params[0], &args); err != nil {
		return txparams.TxArgs{}, errors.Wrap(pipeline.ErrInvalidParams, err.Error())
	}
	if !common.IsHexAddress(args.From) {
		return txparams.TxArgs{}, errors.Wrapf(ErrInvalidSender, "%q", args.From)
	}
	return args, nil
}
