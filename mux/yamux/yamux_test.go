package yamux

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/floegence/sechannel/endpoint"
	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/relay"
	"github.com/floegence/sechannel/streamhello"
	"github.com/floegence/sechannel/transport"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestStreamsOverChannel(t *testing.T) {
	l, _ := test.NewNullLogger()
	log := logrus.NewEntry(l)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	at, bt := transport.Pipe(64)
	akp, err := identity.Generate(nil)
	require.NoError(t, err)
	bkp, err := identity.Generate(nil)
	require.NoError(t, err)
	alice, err := endpoint.New(at, "alice", akp, endpoint.WithLogger(log))
	require.NoError(t, err)
	defer alice.Close()
	bob, err := endpoint.New(bt, "bob", bkp, endpoint.WithLogger(log))
	require.NoError(t, err)
	defer bob.Close()

	accepted := make(chan *endpoint.Handle, 1)
	go func() {
		h, err := bob.Accept(ctx)
		if err == nil {
			accepted <- h
		}
	}()
	ah, err := alice.OpenChannel(ctx, relay.Direct("bob"), &bkp.Public)
	require.NoError(t, err)
	bh := <-accepted

	client, err := NewClient(ah, nil)
	require.NoError(t, err)
	defer client.Close()
	server, err := NewServer(bh, nil)
	require.NoError(t, err)
	defer server.Close()

	go func() {
		s, err := server.Accept()
		if err != nil {
			return
		}
		defer s.Close()
		if h, err := streamhello.ReadStreamHello(s, streamhello.DefaultMaxHelloBytes); err != nil || h.Kind != "echo" {
			return
		}
		_, _ = io.Copy(s, s)
	}()

	s, err := client.Open()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, streamhello.WriteStreamHello(s, "echo"))
	_, err = s.Write([]byte("over yamux"))
	require.NoError(t, err)
	buf := make([]byte, len("over yamux"))
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	require.Equal(t, "over yamux", string(buf))
}
