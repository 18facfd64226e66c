package hub

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/floegence/sechannel/hub/protocol"
	"github.com/floegence/sechannel/relay"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.AllowNoOrigin = true
	cfg.Logger = logrus.NewEntry(logger)
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	mux := http.NewServeMux()
	s.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts.URL
}

func wsURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/ws"
}

func attachAs(t *testing.T, base string, address string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL(base), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	b, err := protocol.NewAttach(address).Marshal()
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, b))
	return c
}

func sendEnvelope(t *testing.T, c *websocket.Conn, env *relay.Envelope) {
	t.Helper()
	b, err := relay.Encode(env)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, b))
}

func readEnvelope(t *testing.T, c *websocket.Conn) *relay.Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, b, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	env, err := relay.Decode(b)
	require.NoError(t, err)
	return env
}

func waitEndpoints(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Stats().EndpointCount == n }, 2*time.Second, 5*time.Millisecond)
}

func TestNewRequiresOriginPolicy(t *testing.T) {
	_, err := New(DefaultConfig())
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	_, base := newTestHub(t, nil)
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestRouteStampsOrigin(t *testing.T) {
	s, base := newTestHub(t, nil)
	alice := attachAs(t, base, "alice")
	bob := attachAs(t, base, "bob")
	waitEndpoints(t, s, 2)

	// A forged origin is overwritten with the attached address.
	sendEnvelope(t, alice, &relay.Envelope{
		Version:     relay.EnvelopeVersion,
		Origin:      "mallory",
		Destination: "bob",
		Payload:     []byte{0xa0},
	})
	env := readEnvelope(t, bob)
	require.Equal(t, "alice", env.Origin)
	require.Equal(t, "bob", env.Destination)
	require.Equal(t, []byte{0xa0}, env.Payload)
}

func TestBufferUntilAttach(t *testing.T) {
	s, base := newTestHub(t, nil)
	alice := attachAs(t, base, "alice")
	waitEndpoints(t, s, 1)

	sendEnvelope(t, alice, &relay.Envelope{Version: relay.EnvelopeVersion, Destination: "bob", Payload: []byte("one")})
	sendEnvelope(t, alice, &relay.Envelope{Version: relay.EnvelopeVersion, Destination: "bob", Payload: []byte("two")})
	require.Eventually(t, func() bool { return s.Stats().PendingBytes > 0 }, 2*time.Second, 5*time.Millisecond)

	bob := attachAs(t, base, "bob")
	require.Equal(t, []byte("one"), readEnvelope(t, bob).Payload)
	require.Equal(t, []byte("two"), readEnvelope(t, bob).Payload)
	require.Equal(t, 0, s.Stats().PendingBytes)
}

func TestInvalidAttachIsRejected(t *testing.T) {
	_, base := newTestHub(t, nil)
	c, _, err := websocket.DefaultDialer.Dial(wsURL(base), nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"v":1,"address":""}`)))

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = c.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected CloseError, got %T: %v", err, err)
	require.Equal(t, websocket.CloseProtocolError, ce.Code)
	require.Equal(t, "invalid_attach", ce.Text)
}

func TestBadEnvelopeClosesSender(t *testing.T) {
	s, base := newTestHub(t, nil)
	alice := attachAs(t, base, "alice")
	waitEndpoints(t, s, 1)

	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0x00}))
	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := alice.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected CloseError, got %T: %v", err, err)
	require.Equal(t, "bad_envelope", ce.Text)
	waitEndpoints(t, s, 0)
}

func TestReattachReplacesEndpoint(t *testing.T) {
	s, base := newTestHub(t, nil)
	first := attachAs(t, base, "alice")
	waitEndpoints(t, s, 1)
	second := attachAs(t, base, "alice")

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected CloseError, got %T: %v", err, err)
	require.Equal(t, "replaced", ce.Text)

	bob := attachAs(t, base, "bob")
	waitEndpoints(t, s, 2)
	sendEnvelope(t, bob, &relay.Envelope{Version: relay.EnvelopeVersion, Destination: "alice", Payload: []byte("hi")})
	require.Equal(t, "bob", readEnvelope(t, second).Origin)
}

func TestSweepExpiresPending(t *testing.T) {
	s, _ := newTestHub(t, func(c *Config) {
		c.PendingTTL = time.Second
		c.CleanupInterval = time.Hour
	})
	now := time.Now()
	s.mu.Lock()
	require.True(t, s.bufferLocked("bob", []byte("stale"), now.Add(-2*time.Second)))
	require.True(t, s.bufferLocked("bob", []byte("fresh"), now))
	s.mu.Unlock()

	s.sweep(now)
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.pending["bob"].frames, 1)
	require.Equal(t, len("fresh"), s.pendingBytes)
}

func TestPendingBudget(t *testing.T) {
	s, _ := newTestHub(t, func(c *Config) { c.MaxPendingBytes = 4 })
	s.mu.Lock()
	defer s.mu.Unlock()
	require.True(t, s.bufferLocked("bob", []byte("abcd"), time.Now()))
	require.False(t, s.bufferLocked("bob", []byte("e"), time.Now()))
	require.True(t, s.bufferLocked("carol", []byte("e"), time.Now()))
}
