package nonce

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// slot is the serialization token of one address. Waiters are served in
// arrival order; the slot is handed directly to the next waiter on release.
type slot struct {
	held    bool
	waiters []chan struct{}
}

// LockTable holds one FIFO slot per address. Slots are created on first use
// and never removed.
type LockTable struct {
	mu    sync.Mutex
	slots map[common.Address]*slot
}

// NewLockTable creates an empty LockTable.
func NewLockTable() *LockTable {
	return &LockTable{slots: make(map[common.Address]*slot)}
}

// Lock blocks until the slot of address is held by the caller or ctx is done.
func (t *LockTable) Lock(ctx context.Context, address common.Address) error {
	t.mu.Lock()
	s, ok := t.slots[address]
	if !ok {
		s = &slot{}
		t.slots[address] = s
	}
	if !s.held {
		s.held = true
		t.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	t.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-ready:
		// Handed over while giving up; pass it on.
		s.release()
	default:
		s.remove(ready)
	}
	return ctx.Err()
}

// Unlock releases the slot of address. It panics if the slot is not held.
func (t *LockTable) Unlock(address common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[address]
	if !ok || !s.held {
		panic("nonce: unlock of unlocked address " + address.Hex())
	}
	s.release()
}

// WithAddressLock runs fn while holding the slot of address. The slot is
// released when fn returns or panics.
func (t *LockTable) WithAddressLock(ctx context.Context, address common.Address, fn func(context.Context) error) error {
	if err := t.Lock(ctx, address); err != nil {
		return err
	}
	defer t.Unlock(address)
	return fn(ctx)
}

func (s *slot) release() {
	if len(s.waiters) == 0 {
		s.held = false
		return
	}
	next := s.waiters[0]
	s.waiters[0] = nil
	s.waiters = s.waiters[1:]
	close(next)
}

func (s *slot) remove(ready chan struct{}) {
	for i, w := range s.waiters {
		if w == ready {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}
