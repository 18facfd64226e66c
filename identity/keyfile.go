package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/floegence/sechannel/internal/base64url"
	"github.com/floegence/sechannel/internal/securefile"
)

// KeyFile is the on-disk JSON layout of a static identity. Keep it secret.
type KeyFile struct {
	Address    string `json:"address,omitempty"`
	PrivKeyB64 string `json:"privkey_b64u"`
	PubKeyB64  string `json:"pubkey_b64u"`
}

// SaveKeyFile writes kp to path with owner-only permissions.
func SaveKeyFile(path string, address string, kp *Keypair) error {
	if kp == nil {
		return errors.New("identity: missing keypair")
	}
	b, err := json.MarshalIndent(KeyFile{
		Address:    address,
		PrivKeyB64: base64url.Encode(kp.Private[:]),
		PubKeyB64:  kp.Public.String(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := securefile.MkdirAllOwnerOnly(dir); err != nil {
			return err
		}
	}
	return securefile.WriteFileAtomic(path, append(b, '\n'), 0o600)
}

// LoadKeyFile reads a key file and checks that the stored public key matches
// the private key.
func LoadKeyFile(path string) (*Keypair, string, error) {
	if err := securefile.CheckOwnerOnly(path); err != nil {
		return nil, "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var f KeyFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, "", fmt.Errorf("identity: parse %s: %w", path, err)
	}
	if f.PrivKeyB64 == "" {
		return nil, "", errors.New("identity: invalid key file")
	}
	var priv [KeySize]byte
	if err := base64url.DecodeFixed(priv[:], f.PrivKeyB64); err != nil {
		return nil, "", fmt.Errorf("identity: private key: %w", err)
	}
	kp, err := FromPrivate(priv[:])
	if err != nil {
		return nil, "", err
	}
	if f.PubKeyB64 != "" {
		pub, err := ParsePublicKey(f.PubKeyB64)
		if err != nil {
			return nil, "", err
		}
		if !pub.Equal(kp.Public) {
			return nil, "", fmt.Errorf("%w: key file public key does not match private key", ErrKeyMismatch)
		}
	}
	return kp, f.Address, nil
}
