package txparams

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxArgs is the partially specified transaction of eth_sendTransaction and
// eth_signTransaction.
type TxArgs struct {
	From     string          `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     *hexutil.Bytes  `json:"data,omitempty"`
	Input    *hexutil.Bytes  `json:"input,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
	ChainID  *hexutil.Big    `json:"chainId,omitempty"`
}

// Sender returns the from address. Callers validate it first.
func (args *TxArgs) Sender() common.Address {
	return common.HexToAddress(args.From)
}

// NoncePinned reports whether the caller chose the nonce.
func (args *TxArgs) NoncePinned() bool {
	return args.Nonce != nil
}

// data prefers input over data, as geth does.
func (args *TxArgs) data() []byte {
	if args.Input != nil {
		return *args.Input
	}
	if args.Data != nil {
		return *args.Data
	}
	return nil
}

// ToTransaction builds the unsigned legacy transaction. args must be complete.
func (args *TxArgs) ToTransaction() *types.Transaction {
	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    uint64(*args.Nonce),
		GasPrice: args.GasPrice.ToInt(),
		Gas:      uint64(*args.Gas),
		To:       args.To,
		Value:    value,
		Data:     args.data(),
	})
}

// Complete reports whether every field needed for signing is set.
func (args *TxArgs) Complete() bool {
	return args.Nonce != nil && args.Gas != nil && args.GasPrice != nil
}
