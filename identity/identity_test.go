package identity

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func TestGenerate_DerivesMatchingPublicKey(t *testing.T) {
	kp, err := Generate(nil)
	require.NoError(t, err)
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	require.NoError(t, err)
	require.Equal(t, pub, kp.Public[:])
	require.Equal(t, byte(0), kp.Private[0]&7, "private key must be clamped")
}

func TestGenerate_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, KeySize)
	a, err := Generate(bytes.NewReader(seed))
	require.NoError(t, err)
	b, err := FromPrivate(seed)
	require.NoError(t, err)
	require.True(t, a.Public.Equal(b.Public))
}

func TestPublicKey_StringRoundTrip(t *testing.T) {
	kp, err := Generate(nil)
	require.NoError(t, err)
	got, err := ParsePublicKey(kp.Public.String())
	require.NoError(t, err)
	require.Equal(t, kp.Public, got)
	require.Len(t, kp.Public.Fingerprint(), 20)

	_, err = ParsePublicKey("short")
	require.Error(t, err)
}

func TestKeyFile_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "node.json")
	kp, err := Generate(nil)
	require.NoError(t, err)
	require.NoError(t, SaveKeyFile(path, "alice", kp))

	if runtime.GOOS != "windows" {
		st, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	}

	got, addr, err := LoadKeyFile(path)
	require.NoError(t, err)
	require.Equal(t, "alice", addr)
	require.Equal(t, kp.Private, got.Private)
	require.True(t, kp.Public.Equal(got.Public))
}

func TestKeyFile_RejectsMismatchedPublicKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	other, err := Generate(nil)
	require.NoError(t, err)
	body := `{"privkey_b64u":"` + mustKeyB64(t) + `","pubkey_b64u":"` + other.Public.String() + `"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	_, _, err = LoadKeyFile(path)
	require.ErrorIs(t, err, ErrKeyMismatch)
}

func TestStaticResolver(t *testing.T) {
	a, _ := Generate(nil)
	b, _ := Generate(nil)
	r := NewStaticResolver()
	r.Add("alice", a.Public)
	require.NoError(t, r.Verify("alice", a.Public))
	require.ErrorIs(t, r.Verify("alice", b.Public), ErrKeyMismatch)
	require.ErrorIs(t, r.Verify("bob", b.Public), ErrUnknownPeer)
	require.NoError(t, AllowAll{}.Verify("anyone", b.Public))
}

func mustKeyB64(t *testing.T) string {
	t.Helper()
	kp, err := Generate(nil)
	require.NoError(t, err)
	return PublicKey(kp.Private).String()
}
