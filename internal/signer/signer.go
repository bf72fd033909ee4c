package signer

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	// ErrSignerNotFound is returned when no signing capability is registered for an address.
	ErrSignerNotFound = errors.New("signer for address not found")

	// ErrSignature is returned when no chain-correct signature could be assembled.
	ErrSignature = errors.New("could not make valid signature")
)

// SignFunc is an opaque signing capability. It signs a 32-byte digest and
// returns the raw signature r||s, optionally followed by a recovery byte.
type SignFunc func(ctx context.Context, digest common.Hash) ([]byte, error)

// Registry maps account addresses to their signing capabilities.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	signers map[common.Address]SignFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		signers: make(map[common.Address]SignFunc),
	}
}

// Add registers sign for address, replacing any previous entry.
func (r *Registry) Add(address common.Address, sign SignFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[address] = sign
}

// Remove drops the capability for address. It is a no-op if none is registered.
func (r *Registry) Remove(address common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.signers, address)
}

// Has reports whether address is locally managed.
func (r *Registry) Has(address common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.signers[address]
	return ok
}

// Get returns the capability registered for address.
func (r *Registry) Get(address common.Address) (SignFunc, error) {
	r.mu.RLock()
	sign, ok := r.signers[address]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrSignerNotFound, "address %s", address.Hex())
	}
	return sign, nil
}

// Accounts returns every registered address in ascending byte order.
func (r *Registry) Accounts() []common.Address {
	r.mu.RLock()
	addresses := make([]common.Address, 0, len(r.signers))
	for addr := range r.signers {
		addresses = append(addresses, addr)
	}
	r.mu.RUnlock()

	sort.Slice(addresses, func(i, j int) bool {
		return bytes.Compare(addresses[i][:], addresses[j][:]) < 0
	})
	return addresses
}
