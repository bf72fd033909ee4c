package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1      = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

func secp256k1PEM(t *testing.T, pub *ecdsa.PublicKey) string {
	t.Helper()
	params, err := asn1.Marshal(oidSecp256k1)
	require.NoError(t, err)
	point := crypto.FromECDSAPub(pub)
	der, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: pkix.AlgorithmIdentifier{
			Algorithm:  oidPublicKeyECDSA,
			Parameters: asn1.RawValue{FullBytes: params},
		},
		PublicKey: asn1.BitString{Bytes: point, BitLength: len(point) * 8},
	})
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// fakeTransit emulates the subset of the Vault transit API used by VaultKeyManager.
type fakeTransit struct {
	t   *testing.T
	key *ecdsa.PrivateKey

	mu        sync.Mutex
	mounted   bool
	signCalls int
	highSOnce bool
}

func (f *fakeTransit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reply := func(data map[string]interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}

	switch {
	case r.URL.Path == "/v1/sys/mounts" && r.Method == http.MethodGet:
		data := map[string]interface{}{}
		if f.isMounted() {
			data["transit/"] = map[string]interface{}{"type": "transit"}
		}
		reply(data)
	case r.URL.Path == "/v1/sys/mounts/transit":
		f.mu.Lock()
		f.mounted = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/v1/transit/keys":
		reply(map[string]interface{}{"keys": []string{"eth-key-1"}})
	case r.URL.Path == "/v1/transit/keys/eth-key-1":
		reply(map[string]interface{}{
			"keys": map[string]interface{}{
				"1": map[string]interface{}{"public_key": secp256k1PEM(f.t, &f.key.PublicKey)},
			},
		})
	case r.URL.Path == "/v1/transit/sign/eth-key-1":
		var body struct {
			Input     string `json:"input"`
			Prehashed bool   `json:"prehashed"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(f.t, body.Prehashed)
		digest, err := base64.StdEncoding.DecodeString(body.Input)
		require.NoError(f.t, err)

		sig, err := crypto.Sign(digest, f.key)
		require.NoError(f.t, err)
		rs := sig[:64]

		f.mu.Lock()
		f.signCalls++
		if f.highSOnce {
			f.highSOnce = false
			s := new(big.Int).SetBytes(rs[32:])
			new(big.Int).Sub(secp256k1N, s).FillBytes(rs[32:])
		}
		f.mu.Unlock()

		reply(map[string]interface{}{
			"signature": "vault:v1:" + base64.RawURLEncoding.EncodeToString(rs),
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeTransit) isMounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted
}

func (f *fakeTransit) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signCalls
}

func newVaultClient(t *testing.T, handler http.Handler) *api.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := api.DefaultConfig()
	cfg.Address = srv.URL
	cfg.MaxRetries = 0
	client, err := api.NewClient(cfg)
	require.NoError(t, err)
	client.SetToken("test-token")
	return client
}

func TestVaultKeyManagerSignsThroughTransit(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	transit := &fakeTransit{t: t, key: key, highSOnce: true}

	km, err := NewVaultKeyManager(context.Background(), newVaultClient(t, transit), "transit")
	require.NoError(t, err)
	assert.True(t, transit.isMounted())
	assert.Equal(t, []common.Address{from}, km.GetAccounts())

	sign, err := km.Signer(from)
	require.NoError(t, err)

	digest := crypto.Keccak256Hash([]byte("vault"))
	sig, err := NewAssembler().Assemble(context.Background(), digest, from, sign, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, 2, transit.calls(), "high-S signature must be requested again")
	assert.Contains(t, []int64{37, 38}, sig.V.Int64())
}

func TestVaultKeyManagerUnknownAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	transit := &fakeTransit{t: t, key: key, mounted: true}

	km, err := NewVaultKeyManager(context.Background(), newVaultClient(t, transit), "transit")
	require.NoError(t, err)

	_, err = km.Signer(common.HexToAddress("0x01"))
	assert.ErrorIs(t, err, ErrSignerNotFound)
}

func TestAddressFromPEMRejectsGarbage(t *testing.T) {
	_, err := addressFromPEM("not pem")
	assert.Error(t, err)
}
