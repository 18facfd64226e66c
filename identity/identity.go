// Package identity holds the long-term X25519 key material that authenticates
// each side of a secure channel.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/floegence/sechannel/internal/base64url"
	"golang.org/x/crypto/curve25519"
)

// KeySize is the length of X25519 public and private keys.
const KeySize = curve25519.PointSize

var (
	ErrUnknownPeer = errors.New("identity: unknown peer")
	ErrKeyMismatch = errors.New("identity: peer key mismatch")
)

// PublicKey is a static X25519 public key.
type PublicKey [KeySize]byte

// ParsePublicKey decodes the base64url form produced by String.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	if err := base64url.DecodeFixed(k[:], s); err != nil {
		return PublicKey{}, fmt.Errorf("identity: invalid public key: %w", err)
	}
	return k, nil
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var k PublicKey
	if len(b) != KeySize {
		return k, fmt.Errorf("identity: public key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k PublicKey) String() string { return base64url.Encode(k[:]) }

// Bytes returns a copy of the key.
func (k PublicKey) Bytes() []byte { return append([]byte(nil), k[:]...) }

// IsZero reports whether k is unset.
func (k PublicKey) IsZero() bool { return k == PublicKey{} }

// Equal compares keys in constant time.
func (k PublicKey) Equal(o PublicKey) bool {
	return subtle.ConstantTimeCompare(k[:], o[:]) == 1
}

// Fingerprint returns a short hex digest suitable for display.
func (k PublicKey) Fingerprint() string {
	sum := sha256.Sum256(k[:])
	return hex.EncodeToString(sum[:10])
}

// Keypair is a static X25519 key pair.
type Keypair struct {
	Private [KeySize]byte
	Public  PublicKey
}

// Generate returns a fresh key pair read from r (crypto/rand when nil).
func Generate(r io.Reader) (*Keypair, error) {
	if r == nil {
		r = rand.Reader
	}
	var priv [KeySize]byte
	if _, err := io.ReadFull(r, priv[:]); err != nil {
		return nil, fmt.Errorf("identity: read random: %w", err)
	}
	return FromPrivate(priv[:])
}

// FromPrivate derives the public half of priv. The private key is clamped
// per RFC 7748.
func FromPrivate(priv []byte) (*Keypair, error) {
	if len(priv) != KeySize {
		return nil, fmt.Errorf("identity: private key must be %d bytes, got %d", KeySize, len(priv))
	}
	kp := &Keypair{}
	copy(kp.Private[:], priv)
	clamp(&kp.Private)
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Wipe zeroes the private key.
func (kp *Keypair) Wipe() {
	if kp == nil {
		return
	}
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

func clamp(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
