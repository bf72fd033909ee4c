package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xueqianLu/txsigner/internal/signer"
)

// AccountsHandler lists the addresses the proxy signs for.
type AccountsHandler struct {
	registry *signer.Registry
}

// NewAccountsHandler creates a new AccountsHandler.
func NewAccountsHandler(registry *signer.Registry) *AccountsHandler {
	return &AccountsHandler{registry: registry}
}

// ServeHTTP implements the http.Handler interface.
func (h *AccountsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accounts := h.registry.Accounts()
	accStrs := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		accStrs = append(accStrs, acc.Hex())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(accStrs); err != nil {
		http.Error(w, "Failed to encode accounts", http.StatusInternalServerError)
	}
}
