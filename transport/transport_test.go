package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/floegence/sechannel/hub"
	"github.com/floegence/sechannel/relay"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	a, b := Pipe(4)
	ctx := context.Background()

	buf := []byte("hello")
	require.NoError(t, a.WriteBinary(ctx, buf))
	buf[0] = 'j'
	got, err := b.ReadBinary(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = a.ReadBinary(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, b.Close())
	_, err = a.ReadBinary(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.True(t, errors.Is(a.WriteBinary(ctx, []byte("x")), ErrClosed))
}

func TestDialHub(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := hub.DefaultConfig()
	cfg.AllowedOrigins = []string{"https://app.example"}
	cfg.Logger = logrus.NewEntry(logger)
	s, err := hub.New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	mux := http.NewServeMux()
	s.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts := HubOptions{Origin: "https://app.example", Logger: logrus.NewEntry(logger), PingInterval: 50 * time.Millisecond}
	alice, err := DialHub(ctx, url, "alice", opts)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := DialHub(ctx, url, "bob", opts)
	require.NoError(t, err)
	defer bob.Close()
	require.NotEmpty(t, alice.InstanceID())
	require.Equal(t, "bob", bob.Address())

	frame, err := relay.Encode(&relay.Envelope{Version: relay.EnvelopeVersion, Destination: "bob", Payload: []byte{0xa0}})
	require.NoError(t, err)
	require.NoError(t, alice.WriteBinary(ctx, frame))

	got, err := bob.ReadBinary(ctx)
	require.NoError(t, err)
	env, err := relay.Decode(got)
	require.NoError(t, err)
	require.Equal(t, "alice", env.Origin)

	_, err = DialHub(ctx, url, "mallory", HubOptions{Origin: "https://evil.example"})
	require.Error(t, err)
}
