package identity

import (
	"fmt"
	"sync"
)

// Resolver decides whether a peer presenting key at address is trusted.
// Verify returns nil to accept, ErrUnknownPeer or ErrKeyMismatch to refuse.
type Resolver interface {
	Verify(address string, key PublicKey) error
}

// AllowAll accepts every peer. Channels opened without an expected identity
// and without a resolver still authenticate the peer's key, they simply do
// not pin it.
type AllowAll struct{}

func (AllowAll) Verify(string, PublicKey) error { return nil }

// StaticResolver is an in-memory address to key table.
type StaticResolver struct {
	mu   sync.RWMutex
	keys map[string]PublicKey
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{keys: make(map[string]PublicKey)}
}

// Add trusts key for address, replacing any previous entry.
func (r *StaticResolver) Add(address string, key PublicKey) {
	r.mu.Lock()
	r.keys[address] = key
	r.mu.Unlock()
}

func (r *StaticResolver) Verify(address string, key PublicKey) error {
	r.mu.RLock()
	want, ok := r.keys[address]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPeer, address)
	}
	if !want.Equal(key) {
		return fmt.Errorf("%w: %q", ErrKeyMismatch, address)
	}
	return nil
}
