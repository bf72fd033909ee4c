package signer

import (
	"context"
	"crypto/ecdsa"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LocalKeyManager serves keys read from an encrypted keystore directory.
// The key set is fixed once loaded.
type LocalKeyManager struct {
	keyDir string
	keys   map[common.Address]*ecdsa.PrivateKey
}

// NewLocalKeyManager loads every keystore file in keyDir that decrypts with password.
// Files that cannot be read or decrypted are skipped with a warning.
func NewLocalKeyManager(keyDir, password string) (*LocalKeyManager, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key directory")
	}

	km := &LocalKeyManager{
		keyDir: keyDir,
		keys:   make(map[common.Address]*ecdsa.PrivateKey),
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		filePath := filepath.Join(keyDir, file.Name())
		keyJSON, err := os.ReadFile(filePath)
		if err != nil {
			log.Warn().Err(err).Str("file", file.Name()).Msg("Failed to read key file")
			continue
		}
		key, err := keystore.DecryptKey(keyJSON, password)
		if err != nil {
			log.Warn().Err(err).Str("file", file.Name()).Msg("Failed to decrypt key file")
			continue
		}
		km.keys[key.Address] = key.PrivateKey
		log.Info().Str("address", key.Address.Hex()).Msg("Loaded local key")
	}

	return km, nil
}

// GetAccounts returns all managed account addresses.
func (km *LocalKeyManager) GetAccounts() []common.Address {
	addresses := make([]common.Address, 0, len(km.keys))
	for addr := range km.keys {
		addresses = append(addresses, addr)
	}
	return addresses
}

// Signer returns a capability producing 65-byte signatures whose last byte
// is the 0/1 recovery id.
func (km *LocalKeyManager) Signer(address common.Address) (SignFunc, error) {
	privateKey, ok := km.keys[address]
	if !ok {
		return nil, errors.Wrapf(ErrSignerNotFound, "no local key for %s", address.Hex())
	}

	return func(_ context.Context, digest common.Hash) ([]byte, error) {
		sig, err := crypto.Sign(digest.Bytes(), privateKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to sign digest")
		}
		return sig, nil
	}, nil
}
