package handler

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

const jsonrpcVersion = "2.0"

var nullID = json.RawMessage("null")

// Response is a JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthResponse is served by /health.
type HealthResponse struct {
	Status   string       `json:"status"`
	ChainID  *hexutil.Big `json:"chainId"`
	Accounts int          `json:"accounts"`
}

func newHealthResponse(chainID *big.Int, accounts int) HealthResponse {
	return HealthResponse{Status: "ok", ChainID: (*hexutil.Big)(chainID), Accounts: accounts}
}
