package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xueqianLu/txsigner/internal/middleware"
	"github.com/xueqianLu/txsigner/internal/pipeline"
)

const maxRequestSize = 5 * 1024 * 1024

// RPCHandler serves JSON-RPC 2.0 over HTTP, single requests and batches,
// through a pipeline chain.
type RPCHandler struct {
	chain *pipeline.Chain
}

// NewRPCHandler creates a new RPCHandler.
func NewRPCHandler(chain *pipeline.Chain) *RPCHandler {
	return &RPCHandler{chain: chain}
}

// ServeHTTP implements the http.Handler interface.
func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	logger := log.With().Str("request_id", uuid.New().String()).Logger()
	ctx := logger.WithContext(r.Context())

	var resp interface{}
	if trimmed := bytes.TrimLeft(body, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		resp = h.handleBatch(ctx, body)
	} else {
		resp = h.handle(ctx, body)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// handleBatch answers the members of a batch in order.
func (h *RPCHandler) handleBatch(ctx context.Context, body []byte) interface{} {
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return errorResponse(nullID, codeParseError, "parse error")
	}
	if len(batch) == 0 {
		return errorResponse(nullID, codeInvalidRequest, "empty batch")
	}

	responses := make([]*Response, 0, len(batch))
	for _, raw := range batch {
		responses = append(responses, h.handle(ctx, raw))
	}
	return responses
}

func (h *RPCHandler) handle(ctx context.Context, raw []byte) *Response {
	var req pipeline.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nullID, codeParseError, "parse error")
	}
	id := req.ID
	if len(id) == 0 {
		id = nullID
	}
	if req.Method == "" {
		return errorResponse(id, codeInvalidRequest, "missing method")
	}

	logger := zerolog.Ctx(ctx).With().Str("method", req.Method).RawJSON("id", id).Logger()
	ctx = logger.WithContext(ctx)

	result, err := h.chain.Handle(ctx, &req)
	if err != nil {
		rpcErr := toError(err)
		logger.Warn().Err(err).Int("code", rpcErr.Code).Msg("Request failed")
		return &Response{JSONRPC: jsonrpcVersion, ID: id, Error: rpcErr}
	}
	if result == nil {
		result = nullID
	}
	logger.Debug().Msg("Request served")
	return &Response{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

// toError maps a pipeline error onto a JSON-RPC error. Upstream errors keep
// their code and data.
func toError(err error) *Error {
	var upstream rpc.Error
	if errors.As(err, &upstream) {
		e := &Error{Code: upstream.ErrorCode(), Message: err.Error()}
		var withData rpc.DataError
		if errors.As(err, &withData) {
			e.Data = withData.ErrorData()
		}
		return e
	}

	code := codeServerError
	switch {
	case errors.Is(err, pipeline.ErrInvalidParams),
		errors.Is(err, middleware.ErrInvalidSender),
		errors.Is(err, middleware.ErrMessageDataMissing):
		code = codeInvalidParams
	case errors.Is(err, pipeline.ErrMethodNotHandled),
		errors.Is(err, middleware.ErrNotImplemented):
		code = codeMethodNotFound
	}
	return &Error{Code: code, Message: err.Error()}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: id, Error: &Error{Code: code, Message: message}}
}
