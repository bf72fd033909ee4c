package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xueqianLu/txsigner/internal/metrics"
)

// DefaultMaxSignAttempts bounds how often a signer is asked again after
// returning a non-canonical signature.
const DefaultMaxSignAttempts = 8

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// Signature is a complete EIP-155 signature.
type Signature struct {
	R [32]byte
	S [32]byte
	V *big.Int
}

// RecoveryBytes returns r||s||recid, the form expected by
// types.Transaction.WithSignature for an EIP-155 signer.
func (s *Signature) RecoveryBytes(chainID *big.Int) []byte {
	sig := make([]byte, crypto.SignatureLength)
	copy(sig[:32], s.R[:])
	copy(sig[32:64], s.S[:])
	recID := new(big.Int).Sub(s.V, eip155Offset(chainID))
	sig[crypto.RecoveryIDOffset] = byte(recID.Uint64())
	return sig
}

// Assembler turns raw signer output into a chain-correct signature.
type Assembler struct {
	maxAttempts int
	metrics     *metrics.Metrics
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithMaxAttempts sets the number of signer calls allowed per Assemble.
func WithMaxAttempts(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithMetrics records signer calls and rejections.
func WithMetrics(m *metrics.Metrics) AssemblerOption {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// NewAssembler creates an Assembler.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{maxAttempts: DefaultMaxSignAttempts}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble asks sign for a signature over digest and resolves the EIP-155 v
// under which the signature recovers to from.
func (a *Assembler) Assemble(ctx context.Context, digest common.Hash, from common.Address, sign SignFunc, chainID *big.Int) (*Signature, error) {
	logger := zerolog.Ctx(ctx)

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		a.metrics.SignerCalled()
		raw, err := sign(ctx, digest)
		if err != nil {
			return nil, errors.Wrap(err, "external signer failed")
		}
		if len(raw) != 64 && len(raw) != 65 {
			return nil, errors.Wrapf(ErrSignature, "signer returned %d bytes, want 64 or 65", len(raw))
		}

		sig := &Signature{}
		copy(sig.R[:], raw[:32])
		copy(sig.S[:], raw[32:64])

		// Chains following the homestead rules reject s in the upper half of the order.
		if new(big.Int).SetBytes(sig.S[:]).Cmp(secp256k1HalfN) > 0 {
			a.metrics.NonCanonicalSignature()
			logger.Debug().Int("attempt", attempt).Str("from", from.Hex()).Msg("Signer returned high-S signature, requesting another")
			continue
		}

		if len(raw) == 65 {
			if recID, ok := normalizeRecoveryID(raw[64], chainID); ok && recoversTo(digest, sig, recID, from) {
				sig.V = new(big.Int).Add(eip155Offset(chainID), big.NewInt(int64(recID)))
				return sig, nil
			}
			logger.Debug().Uint8("v", raw[64]).Str("from", from.Hex()).Msg("Provisional recovery byte does not match sender, resolving")
		}

		v, err := resolveV(digest, sig, from, chainID)
		if err != nil {
			a.metrics.RecoveryFailed()
			return nil, err
		}
		sig.V = v
		return sig, nil
	}

	return nil, errors.Wrapf(ErrSignature, "no canonical signature for %s after %d attempts", from.Hex(), a.maxAttempts)
}

// resolveV tries chainId*2+36 first and chainId*2+35 second.
func resolveV(digest common.Hash, sig *Signature, from common.Address, chainID *big.Int) (*big.Int, error) {
	offset := eip155Offset(chainID)
	for _, recID := range []byte{1, 0} {
		if recoversTo(digest, sig, recID, from) {
			return new(big.Int).Add(offset, big.NewInt(int64(recID))), nil
		}
	}
	return nil, errors.Wrapf(ErrSignature, "no recovery parameter yields %s", from.Hex())
}

func recoversTo(digest common.Hash, sig *Signature, recID byte, expected common.Address) bool {
	if recID > 1 {
		return false
	}
	sigWithV := make([]byte, crypto.SignatureLength)
	copy(sigWithV[:32], sig.R[:])
	copy(sigWithV[32:64], sig.S[:])
	sigWithV[crypto.RecoveryIDOffset] = recID

	recoveredPub, err := crypto.Ecrecover(digest.Bytes(), sigWithV)
	if err != nil {
		return false
	}
	pubkey, err := crypto.UnmarshalPubkey(recoveredPub)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pubkey) == expected
}

// normalizeRecoveryID maps the raw forms 0/1, 27/28 and chainId*2+35/36 onto 0/1.
func normalizeRecoveryID(v byte, chainID *big.Int) (byte, bool) {
	switch v {
	case 0, 1:
		return v, true
	case 27, 28:
		return v - 27, true
	}
	recID := new(big.Int).Sub(big.NewInt(int64(v)), eip155Offset(chainID))
	if recID.Sign() >= 0 && recID.Cmp(big.NewInt(1)) <= 0 {
		return byte(recID.Uint64()), true
	}
	return 0, false
}

func eip155Offset(chainID *big.Int) *big.Int {
	offset := new(big.Int).Mul(chainID, big.NewInt(2))
	return offset.Add(offset, big.NewInt(35))
}
