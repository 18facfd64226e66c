package pinstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/floegence/sechannel/identity"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) identity.PublicKey {
	t.Helper()
	kp, err := identity.Generate(nil)
	require.NoError(t, err)
	return kp.Public
}

func TestStore_StrictRejectsUnknown(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "pins.db"))
	require.NoError(t, err)
	defer s.Close()

	require.ErrorIs(t, s.Verify("alice", newKey(t)), identity.ErrUnknownPeer)

	k := newKey(t)
	require.NoError(t, s.Pin("alice", k, false))
	require.NoError(t, s.Verify("alice", k))
	require.ErrorIs(t, s.Verify("alice", newKey(t)), identity.ErrKeyMismatch)
}

func TestStore_TrustOnFirstUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.db")
	at := time.Unix(1700000000, 0)
	s, err := Open(path, WithTrustOnFirstUse(), WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	k := newKey(t)
	require.NoError(t, s.Verify("bob", k))
	require.NoError(t, s.Verify("bob", k))
	require.ErrorIs(t, s.Verify("bob", newKey(t)), identity.ErrKeyMismatch)

	seen, err := s.FirstSeen("bob")
	require.NoError(t, err)
	require.True(t, seen.Equal(at))
	require.NoError(t, s.Close())

	// Pins survive reopen.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Lookup("bob")
	require.NoError(t, err)
	require.Equal(t, k, got)
	require.Equal(t, []string{"bob"}, s.Peers())
}

func TestStore_PinUpdateAndRemove(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "pins.db"))
	require.NoError(t, err)
	defer s.Close()

	require.ErrorIs(t, s.Pin("carol", newKey(t), true), ErrNoSuchPeer)
	require.NoError(t, s.Pin("carol", newKey(t), false))
	require.Error(t, s.Pin("carol", newKey(t), false))

	k := newKey(t)
	require.NoError(t, s.Pin("carol", k, true))
	require.NoError(t, s.Verify("carol", k))

	require.NoError(t, s.Remove("carol"))
	require.ErrorIs(t, s.Remove("carol"), ErrNoSuchPeer)
	_, err = s.Lookup("carol")
	require.ErrorIs(t, err, ErrNoSuchPeer)
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "pins.db"))
	require.NoError(t, err)
	defer s.Close()

	require.Error(t, s.Pin("", newKey(t), false))
	require.Error(t, s.Pin("dave", identity.PublicKey{}, false))
	require.ErrorIs(t, s.Verify("", newKey(t)), identity.ErrUnknownPeer)
}
