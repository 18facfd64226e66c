package nonce

import (
	"errors"
	"testing"

	"github.com/floegence/sechannel/secerrors"
	"github.com/stretchr/testify/require"
)

func TestSender_MonotonicFromZero(t *testing.T) {
	s := NewSender(0)
	for want := Nonce(0); want < 100; want++ {
		got, err := s.Next()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.EqualValues(t, 100, s.Issued())
}

func TestSender_Exhaustion(t *testing.T) {
	s := NewSender(3)
	for i := 0; i < 3; i++ {
		_, err := s.Next()
		require.NoError(t, err)
	}
	_, err := s.Next()
	require.ErrorIs(t, err, secerrors.ErrNonceExhausted)
	_, err = s.Next()
	require.ErrorIs(t, err, secerrors.ErrNonceExhausted, "exhaustion must be sticky")
}

func TestReceiver_Strict(t *testing.T) {
	r := NewReceiver(Strict, 0)
	require.NoError(t, r.Validate(0))
	require.NoError(t, r.Validate(1))
	require.NoError(t, r.Validate(5))

	for _, n := range []Nonce{5, 4, 0} {
		err := r.Validate(n)
		require.True(t, errors.Is(err, secerrors.ErrInvalidNonce), "nonce %d: %v", n, err)
	}
	// A rejected counter must not move the window.
	require.NoError(t, r.Validate(6))
}

func TestReceiver_StrictFirstCounterMayBeNonZero(t *testing.T) {
	r := NewReceiver(Strict, 0)
	require.NoError(t, r.Validate(9))
	require.ErrorIs(t, r.Validate(9), secerrors.ErrInvalidNonce)
}

func TestReceiver_Sliding(t *testing.T) {
	r := NewReceiver(Sliding, 0)
	require.NoError(t, r.Validate(10))
	require.NoError(t, r.Validate(8), "reordered but unseen counter is accepted")
	require.ErrorIs(t, r.Validate(8), secerrors.ErrInvalidNonce)
	require.ErrorIs(t, r.Validate(10), secerrors.ErrInvalidNonce)

	require.NoError(t, r.Validate(10+WindowSize+100))
	require.ErrorIs(t, r.Validate(9), secerrors.ErrInvalidNonce, "counter fell out of the window")
}

func TestReceiver_Limit(t *testing.T) {
	for _, p := range []Policy{Strict, Sliding} {
		r := NewReceiver(p, 4)
		require.NoError(t, r.Validate(3))
		require.ErrorIs(t, r.Validate(4), secerrors.ErrInvalidNonce, p.String())
	}
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{"": Strict, "strict": Strict, " Sliding ": Sliding, "window": Sliding}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParsePolicy("lenient")
	require.Error(t, err)
}
