package relay

import (
	"bytes"
	"testing"

	"github.com/floegence/sechannel/secerrors"
	"github.com/floegence/sechannel/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func stage2(id uuid.UUID) *wire.Message {
	return &wire.Message{
		Version:   wire.Version,
		Kind:      wire.KindHandshake,
		Stage:     wire.StageResponse,
		SessionID: id,
		Payload:   bytes.Repeat([]byte{1}, 80),
		Tag:       bytes.Repeat([]byte{2}, wire.TagSize),
	}
}

// stamp mimics the hub rewriting the origin of a forwarded frame.
func stamp(t *testing.T, raw []byte, origin string) *Envelope {
	t.Helper()
	env, err := Decode(raw)
	require.NoError(t, err)
	env.Origin = origin
	b, err := Encode(env)
	require.NoError(t, err)
	env, err = Decode(b)
	require.NoError(t, err)
	return env
}

func TestValidate_Accepts(t *testing.T) {
	id := uuid.New()
	raw, err := WrapFrom("", "alice", stage2(id))
	require.NoError(t, err)
	env := stamp(t, raw, "bob")

	msg, err := Validate(env, Expect{Local: "alice", Origin: "bob", SessionID: id, Kind: wire.KindHandshake, Stage: wire.StageResponse})
	require.NoError(t, err)
	require.Equal(t, id, msg.SessionID)
}

func TestValidate_Rejects(t *testing.T) {
	id := uuid.New()
	raw, err := WrapFrom("", "alice", stage2(id))
	require.NoError(t, err)

	cases := []struct {
		name   string
		origin string
		want   Expect
		mutate func(*Envelope)
	}{
		{name: "origin mismatch", origin: "mallory", want: Expect{Local: "alice", Origin: "bob"}},
		{name: "missing origin", origin: "", want: Expect{Local: "alice"}},
		{name: "wrong destination", origin: "bob", want: Expect{Local: "carol"}},
		{name: "session mismatch", origin: "bob", want: Expect{Local: "alice", SessionID: uuid.New()}},
		{name: "stage mismatch", origin: "bob", want: Expect{Local: "alice", Stage: wire.StageConfirm}},
		{name: "kind mismatch", origin: "bob", want: Expect{Local: "alice", Kind: wire.KindApplication}},
		{name: "version", origin: "bob", want: Expect{Local: "alice"}, mutate: func(e *Envelope) { e.Version = 2 }},
		{name: "garbage payload", origin: "bob", want: Expect{Local: "alice"}, mutate: func(e *Envelope) { e.Payload = []byte{0xff} }},
		{name: "padded origin", origin: " bob", want: Expect{Local: "alice"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := stamp(t, raw, tc.origin)
			if tc.mutate != nil {
				tc.mutate(env)
			}
			_, err := Validate(env, tc.want)
			require.ErrorIs(t, err, secerrors.ErrInvalidHubResponse)
		})
	}
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte("not cbor at all"))
	require.ErrorIs(t, err, secerrors.ErrInvalidHubResponse)
	_, err = Decode(nil)
	require.ErrorIs(t, err, secerrors.ErrInvalidHubResponse)
}

func TestRoute(t *testing.T) {
	r := ViaHub("hub", "bob")
	require.True(t, r.Untrusted())
	require.NoError(t, r.Validate())
	require.Equal(t, "hub -> bob", r.String())

	d := Direct("bob")
	require.False(t, d.Untrusted())
	require.Equal(t, "bob", d.String())

	require.Error(t, Direct("").Validate())
	require.Error(t, Route{Relays: []string{" "}, Destination: "bob"}.Validate())
}

func TestWrapFrom(t *testing.T) {
	id := uuid.New()
	raw, err := WrapFrom("bob", "alice", stage2(id))
	require.NoError(t, err)
	env, err := Decode(raw)
	require.NoError(t, err)
	msg, err := Validate(env, Expect{Local: "alice", Origin: "bob", SessionID: id})
	require.NoError(t, err)
	require.Equal(t, wire.StageResponse, msg.Stage)
}
