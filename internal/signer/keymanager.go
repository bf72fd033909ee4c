package signer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// KeyManager is a read-only source of signing capabilities.
// It abstracts the underlying key storage, which can be a local keystore or a remote service like Vault.
type KeyManager interface {
	// GetAccounts returns a list of all Ethereum addresses managed by the KeyManager.
	GetAccounts() []common.Address

	// Signer returns the opaque signing capability for the specified address.
	Signer(address common.Address) (SignFunc, error)
}

// RegisterAll adds a capability for every account of km to reg.
func RegisterAll(reg *Registry, km KeyManager) error {
	for _, addr := range km.GetAccounts() {
		sign, err := km.Signer(addr)
		if err != nil {
			return errors.Wrapf(err, "failed to load signer for %s", addr.Hex())
		}
		reg.Add(addr, sign)
		log.Info().Str("address", addr.Hex()).Msg("Registered signer")
	}
	return nil
}
