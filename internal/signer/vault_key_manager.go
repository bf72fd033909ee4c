package signer

import (
	"context"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// VaultKeyManager signs with secp256k1 keys held by a Vault transit engine.
// Vault never returns a recovery id, so its signatures are 64 bytes.
type VaultKeyManager struct {
	vaultClient  *api.Client
	transitPath  string
	addressToKey map[common.Address]string // Map ETH address to Vault key name
	mu           sync.RWMutex
}

// NewVaultKeyManager creates a new VaultKeyManager and initializes it with keys from Vault.
func NewVaultKeyManager(ctx context.Context, vaultClient *api.Client, transitPath string) (*VaultKeyManager, error) {
	km := &VaultKeyManager{
		vaultClient:  vaultClient,
		transitPath:  transitPath,
		addressToKey: make(map[common.Address]string),
	}

	if err := km.enableTransitEngine(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to enable transit secrets engine")
	}

	if err := km.loadExistingKeys(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load existing keys from vault")
	}

	return km, nil
}

func (km *VaultKeyManager) enableTransitEngine(ctx context.Context) error {
	mounts, err := km.vaultClient.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return err
	}

	mountPath := km.transitPath + "/"
	if _, ok := mounts[mountPath]; !ok {
		log.Info().Str("path", km.transitPath).Msg("Transit secrets engine not found, enabling it")
		return km.vaultClient.Sys().MountWithContext(ctx, km.transitPath, &api.MountInput{
			Type: "transit",
		})
	}
	log.Debug().Str("path", km.transitPath).Msg("Transit secrets engine already enabled")
	return nil
}

func (km *VaultKeyManager) loadExistingKeys(ctx context.Context) error {
	path := fmt.Sprintf("%s/keys", km.transitPath)
	secret, err := km.vaultClient.Logical().ListWithContext(ctx, path)
	if err != nil {
		return err
	}

	if secret == nil || secret.Data["keys"] == nil {
		log.Info().Msg("No existing keys found in Vault transit engine")
		return nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return errors.New("unexpected format for keys from vault")
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	for _, k := range keys {
		keyName, ok := k.(string)
		if !ok {
			continue
		}

		address, err := km.getAddressForKey(ctx, keyName)
		if err != nil {
			log.Warn().Err(err).Str("key", keyName).Msg("Could not get address for key")
			continue
		}
		km.addressToKey[address] = keyName
		log.Info().Str("key", keyName).Str("address", address.Hex()).Msg("Loaded vault key")
	}

	return nil
}

// GetAccounts returns all managed account addresses.
func (km *VaultKeyManager) GetAccounts() []common.Address {
	km.mu.RLock()
	defer km.mu.RUnlock()

	addresses := make([]common.Address, 0, len(km.addressToKey))
	for addr := range km.addressToKey {
		addresses = append(addresses, addr)
	}
	return addresses
}

// Signer returns a capability that signs through Vault and yields r||s.
func (km *VaultKeyManager) Signer(address common.Address) (SignFunc, error) {
	keyName, err := km.getKeyName(address)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, digest common.Hash) ([]byte, error) {
		return km.signWithVault(ctx, keyName, digest.Bytes())
	}, nil
}

func (km *VaultKeyManager) getKeyName(address common.Address) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	keyName, ok := km.addressToKey[address]
	if !ok {
		return "", errors.Wrapf(ErrSignerNotFound, "no vault key for %s", address.Hex())
	}
	return keyName, nil
}

// subjectPublicKeyInfo is decoded by hand because crypto/x509 rejects secp256k1.
type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

func (km *VaultKeyManager) getAddressForKey(ctx context.Context, keyName string) (common.Address, error) {
	path := fmt.Sprintf("%s/keys/%s", km.transitPath, keyName)
	secret, err := km.vaultClient.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return common.Address{}, err
	}
	if secret == nil || secret.Data["keys"] == nil {
		return common.Address{}, errors.Errorf("key '%s' not found in vault", keyName)
	}

	keysData, ok := secret.Data["keys"].(map[string]interface{})
	if !ok {
		return common.Address{}, errors.New("unexpected format for key data")
	}

	latestVersion, latest := "", -1
	for v := range keysData {
		n, err := strconv.Atoi(v)
		if err == nil && n > latest {
			latestVersion, latest = v, n
		}
	}

	keyData, ok := keysData[latestVersion].(map[string]interface{})
	if !ok {
		return common.Address{}, errors.New("unexpected format for key version data")
	}

	pubKeyPEM, ok := keyData["public_key"].(string)
	if !ok {
		return common.Address{}, errors.New("public key not found in key data")
	}

	return addressFromPEM(pubKeyPEM)
}

func addressFromPEM(pubKeyPEM string) (common.Address, error) {
	block, _ := pem.Decode([]byte(pubKeyPEM))
	if block == nil {
		return common.Address{}, errors.New("failed to parse PEM block containing the public key")
	}

	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(block.Bytes, &spki); err != nil {
		return common.Address{}, errors.Wrap(err, "failed to parse DER encoded public key")
	}

	pub, err := crypto.UnmarshalPubkey(spki.PublicKey.RightAlign())
	if err != nil {
		return common.Address{}, errors.Wrap(err, "key is not a secp256k1 public key")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (km *VaultKeyManager) signWithVault(ctx context.Context, keyName string, digest []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/sign/%s", km.transitPath, keyName)

	resp, err := km.vaultClient.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"input":                base64.StdEncoding.EncodeToString(digest),
		"prehashed":            true,
		"hash_algorithm":       "sha2-256",
		"marshaling_algorithm": "jws",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign with vault")
	}
	if resp == nil {
		return nil, errors.New("empty response from vault")
	}

	signature, ok := resp.Data["signature"].(string)
	if !ok {
		return nil, errors.New("signature not found in vault response")
	}

	// vault:v<version>:<base64url(r||s)>
	parts := strings.SplitN(signature, ":", 3)
	if len(parts) != 3 {
		return nil, errors.Errorf("invalid signature format from vault: %s", signature)
	}

	rs, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[2], "="))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode signature")
	}
	if len(rs) != 64 {
		return nil, errors.Errorf("unexpected signature length %d from vault", len(rs))
	}
	return rs, nil
}
