// Package client talks to the signer proxy over authenticated JSON-RPC.
package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxArgs is the transaction object of eth_sendTransaction and
// eth_signTransaction. Unset fields are filled in by the proxy.
type TxArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     *hexutil.Bytes  `json:"data,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
}

// SignedTransaction is the result of eth_signTransaction.
type SignedTransaction struct {
	Raw hexutil.Bytes      `json:"raw"`
	Tx  *types.Transaction `json:"tx"`
}

// HealthStatus is the body of /health.
type HealthStatus struct {
	Status   string       `json:"status"`
	ChainID  *hexutil.Big `json:"chainId"`
	Accounts int          `json:"accounts"`
}

// RPCError is a JSON-RPC error returned by the proxy or relayed from the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// ErrorCode returns the JSON-RPC error code.
func (e *RPCError) ErrorCode() int { return e.Code }

const (
	apiKeyHeader    = "X-API-Key"
	signatureHeader = "X-Signature"
	timestampHeader = "X-Timestamp"
)

// Client is a client for the signer proxy.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	nextID     uint64
}

// NewClient creates a new client. An empty apiKey sends unauthenticated requests.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Health checks the health of the signer service.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Accounts lists the addresses the proxy signs for.
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := c.Call(ctx, &accounts, "eth_accounts")
	return accounts, err
}

// SendTransaction signs and submits args, returning the transaction hash.
func (c *Client) SendTransaction(ctx context.Context, args TxArgs) (common.Hash, error) {
	var hash common.Hash
	err := c.Call(ctx, &hash, "eth_sendTransaction", args)
	return hash, err
}

// SignTransaction signs args without submitting it.
func (c *Client) SignTransaction(ctx context.Context, args TxArgs) (*SignedTransaction, error) {
	var signed SignedTransaction
	if err := c.Call(ctx, &signed, "eth_signTransaction", args); err != nil {
		return nil, err
	}
	return &signed, nil
}

// ChainID returns the chain id reported by the upstream node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.Call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call performs a JSON-RPC call and decodes the result into result.
// Errors from the proxy are returned as *RPCError.
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	}

	var resp rpcResponse
	if err := c.doRequest(ctx, http.MethodPost, "/", req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, data, result interface{}) error {
	var reqBody []byte
	var err error

	if data != nil {
		reqBody, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(apiKeyHeader, c.apiKey)
		req.Header.Set(timestampHeader, timestamp)
		req.Header.Set(signatureHeader, c.calculateSignature(timestamp, reqBody))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

func (c *Client) calculateSignature(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
