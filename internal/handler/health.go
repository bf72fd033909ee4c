package handler

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/xueqianLu/txsigner/internal/signer"
)

// HealthHandler handles health checks.
type HealthHandler struct {
	registry *signer.Registry
	chainID  *big.Int
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(registry *signer.Registry, chainID *big.Int) *HealthHandler {
	return &HealthHandler{registry: registry, chainID: chainID}
}

// ServeHTTP implements the http.Handler interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(newHealthResponse(h.chainID, len(h.registry.Accounts())))
}
