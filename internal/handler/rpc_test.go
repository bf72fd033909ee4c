package handler

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xueqianLu/txsigner/internal/middleware"
	"github.com/xueqianLu/txsigner/internal/nonce"
	"github.com/xueqianLu/txsigner/internal/pipeline"
	"github.com/xueqianLu/txsigner/internal/signer"
)

type upstreamError struct {
	code int
	msg  string
}

func (e *upstreamError) Error() string          { return e.msg }
func (e *upstreamError) ErrorCode() int         { return e.code }
func (e *upstreamError) ErrorData() interface{} { return "0xdead" }

func testChain() *pipeline.Chain {
	return pipeline.NewChain(nil, pipeline.HandlerFunc(func(_ context.Context, req *pipeline.Request) (pipeline.Result, error) {
		switch req.Method {
		case "ok":
			return pipeline.Ok("0x1"), nil
		case "null":
			return pipeline.Ok(nil), nil
		case "sender":
			return pipeline.Result{}, errors.Wrap(middleware.ErrInvalidSender, "bad")
		case "message":
			return pipeline.Result{}, middleware.ErrNotImplemented
		case "race":
			return pipeline.Result{}, nonce.Classify(&upstreamError{code: -32000, msg: "nonce too low"})
		case "reverted":
			return pipeline.Result{}, &upstreamError{code: 3, msg: "execution reverted"}
		case "signature":
			return pipeline.Result{}, signer.ErrSignature
		}
		return pipeline.Pass(), nil
	}))
}

func serve(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	NewRPCHandler(testChain()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRPCHandlerResult(t *testing.T) {
	resp := decodeResponse(t, serve(t, `{"jsonrpc":"2.0","id":7,"method":"ok"}`))
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.Equal(t, float64(7), resp["id"])
	assert.Equal(t, "0x1", resp["result"])
	assert.NotContains(t, resp, "error")
}

func TestRPCHandlerNullResult(t *testing.T) {
	rec := serve(t, `{"jsonrpc":"2.0","id":"a","method":"null"}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"a","result":null}`, rec.Body.String())
}

func TestRPCHandlerErrorCodes(t *testing.T) {
	tests := []struct {
		method string
		code   float64
	}{
		{"sender", codeInvalidParams},
		{"message", codeMethodNotFound},
		{"unknown", codeMethodNotFound},
		{"race", -32000},
		{"reverted", 3},
		{"signature", codeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			resp := decodeResponse(t, serve(t, `{"jsonrpc":"2.0","id":1,"method":"`+tt.method+`"}`))
			rpcErr, ok := resp["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.code, rpcErr["code"])
			assert.NotContains(t, resp, "result")
		})
	}
}

func TestRPCHandlerKeepsUpstreamData(t *testing.T) {
	resp := decodeResponse(t, serve(t, `{"jsonrpc":"2.0","id":1,"method":"reverted"}`))
	rpcErr := resp["error"].(map[string]interface{})
	assert.Equal(t, "0xdead", rpcErr["data"])
	assert.Equal(t, "execution reverted", rpcErr["message"])
}

func TestRPCHandlerMalformed(t *testing.T) {
	resp := decodeResponse(t, serve(t, `{"jsonrpc":`))
	assert.Equal(t, float64(codeParseError), resp["error"].(map[string]interface{})["code"])
	assert.Nil(t, resp["id"])

	resp = decodeResponse(t, serve(t, `{"jsonrpc":"2.0","id":2}`))
	assert.Equal(t, float64(codeInvalidRequest), resp["error"].(map[string]interface{})["code"])
}

func TestRPCHandlerBatch(t *testing.T) {
	rec := serve(t, `[{"jsonrpc":"2.0","id":1,"method":"ok"},{"jsonrpc":"2.0","id":2,"method":"sender"}]`)

	var resps []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resps))
	require.Len(t, resps, 2)
	assert.Equal(t, float64(1), resps[0]["id"])
	assert.Equal(t, "0x1", resps[0]["result"])
	assert.Equal(t, float64(2), resps[1]["id"])
	assert.Equal(t, float64(codeInvalidParams), resps[1]["error"].(map[string]interface{})["code"])

	resp := decodeResponse(t, serve(t, `[]`))
	assert.Equal(t, float64(codeInvalidRequest), resp["error"].(map[string]interface{})["code"])
}

func TestRPCHandlerRejectsGet(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRPCHandler(testChain()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAccountsAndHealth(t *testing.T) {
	registry := signer.NewRegistry()
	a := common.HexToAddress("0x02")
	b := common.HexToAddress("0x01")
	noop := func(context.Context, common.Hash) ([]byte, error) { return nil, nil }
	registry.Add(a, noop)
	registry.Add(b, noop)

	rec := httptest.NewRecorder()
	NewAccountsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var accounts []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	assert.Equal(t, []string{b.Hex(), a.Hex()}, accounts)

	rec = httptest.NewRecorder()
	NewHealthHandler(registry, big.NewInt(1337)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"ok","chainId":"0x539","accounts":2}`, rec.Body.String())
}
