// Package pinstore is a bbolt backed peer key store. It implements
// identity.Resolver and can optionally pin unknown peers on first contact.
package pinstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/internal/bin"
	bolt "go.etcd.io/bbolt"
)

const (
	peersBucket     = "peers"
	firstSeenBucket = "first_seen"

	maxAddressSize = 255
)

// ErrNoSuchPeer is returned by Lookup, Remove and Pin(update) for unknown addresses.
var ErrNoSuchPeer = errors.New("pinstore: no such peer")

type Option func(*Store)

// WithTrustOnFirstUse makes Verify pin the key of a previously unknown peer
// instead of rejecting it.
func WithTrustOnFirstUse() Option {
	return func(s *Store) { s.trustOnFirstUse = true }
}

// WithClock overrides the clock used to stamp first-seen times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is safe for concurrent use.
type Store struct {
	sync.RWMutex

	db    *bolt.DB
	cache map[string]identity.PublicKey

	trustOnFirstUse bool
	now             func() time.Time
}

var _ identity.Resolver = (*Store)(nil)

// Open opens (creating if needed) the pin database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, cache: make(map[string]identity.PublicKey), now: time.Now}
	for _, o := range opts {
		o(s)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(peersBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(firstSeenBucket)); err != nil {
			return err
		}
		return bkt.ForEach(func(k, v []byte) error {
			pub, err := identity.PublicKeyFromBytes(v)
			if err != nil {
				return fmt.Errorf("pinstore: corrupt entry for %q: %w", k, err)
			}
			s.cache[string(k)] = pub
			return nil
		})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Verify accepts key if it matches the pinned key for address. Unknown
// addresses are pinned when trust-on-first-use is enabled and rejected
// otherwise.
func (s *Store) Verify(address string, key identity.PublicKey) error {
	if !addressOk(address) {
		return fmt.Errorf("%w: invalid address", identity.ErrUnknownPeer)
	}
	s.RLock()
	pinned, ok := s.cache[address]
	s.RUnlock()
	if ok {
		if !pinned.Equal(key) {
			return fmt.Errorf("%w: %q (pinned %s)", identity.ErrKeyMismatch, address, pinned.Fingerprint())
		}
		return nil
	}
	if !s.trustOnFirstUse {
		return fmt.Errorf("%w: %q", identity.ErrUnknownPeer, address)
	}
	if err := s.Pin(address, key, false); err != nil {
		// Lost a race with another session pinning the same peer.
		if got, lerr := s.Lookup(address); lerr == nil && got.Equal(key) {
			return nil
		}
		return err
	}
	return nil
}

// Pin stores key for address. With update=false the address must be new;
// with update=true it must already exist.
func (s *Store) Pin(address string, key identity.PublicKey, update bool) error {
	if !addressOk(address) {
		return fmt.Errorf("pinstore: invalid address %q", address)
	}
	if key.IsZero() {
		return errors.New("pinstore: must provide a public key")
	}

	s.Lock()
	defer s.Unlock()

	_, exists := s.cache[address]
	switch {
	case exists && !update:
		return fmt.Errorf("pinstore: peer %q already pinned", address)
	case !exists && update:
		return ErrNoSuchPeer
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(peersBucket)).Put([]byte(address), key.Bytes()); err != nil {
			return err
		}
		if exists {
			return nil
		}
		ts := bin.AppendU64BE(nil, uint64(s.now().Unix()))
		return tx.Bucket([]byte(firstSeenBucket)).Put([]byte(address), ts)
	})
	if err == nil {
		s.cache[address] = key
	}
	return err
}

// Lookup returns the pinned key for address.
func (s *Store) Lookup(address string) (identity.PublicKey, error) {
	s.RLock()
	defer s.RUnlock()
	k, ok := s.cache[address]
	if !ok {
		return identity.PublicKey{}, ErrNoSuchPeer
	}
	return k, nil
}

// FirstSeen returns when address was first pinned.
func (s *Store) FirstSeen(address string) (time.Time, error) {
	var ts time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(firstSeenBucket)).Get([]byte(address))
		if len(v) != 8 {
			return ErrNoSuchPeer
		}
		ts = time.Unix(int64(bin.U64BE(v)), 0)
		return nil
	})
	return ts, err
}

// Remove forgets address.
func (s *Store) Remove(address string) error {
	s.Lock()
	defer s.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(peersBucket))
		if bkt.Get([]byte(address)) == nil {
			return ErrNoSuchPeer
		}
		if err := bkt.Delete([]byte(address)); err != nil {
			return err
		}
		return tx.Bucket([]byte(firstSeenBucket)).Delete([]byte(address))
	})
	if err == nil {
		delete(s.cache, address)
	}
	return err
}

// Peers returns the pinned addresses.
func (s *Store) Peers() []string {
	s.RLock()
	defer s.RUnlock()
	out := make([]string, 0, len(s.cache))
	for a := range s.cache {
		out = append(out, a)
	}
	return out
}

func (s *Store) Close() error {
	return s.db.Close()
}

func addressOk(a string) bool {
	return len(a) > 0 && len(a) <= maxAddressSize
}
