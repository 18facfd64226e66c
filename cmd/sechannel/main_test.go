package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/floegence/sechannel/config"
	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/internal/cmdutil"
	"github.com/floegence/sechannel/internal/logging"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	l, err := logging.New(config.Log{Disable: true}, io.Discard)
	require.NoError(t, err)
	return &app{stdout: io.Discard, stderr: io.Discard, cfg: config.Default(), log: l}
}

func keygen(t *testing.T, dir, address string) (string, keygenOutput) {
	t.Helper()
	path := filepath.Join(dir, address+".key")
	var stdout, stderr bytes.Buffer
	code := run([]string{"keygen", "--out", path, "--address", address}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	var out keygenOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	return path, out
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"version"}, &stdout, &stderr), stderr.String())
	require.NotEmpty(t, strings.TrimSpace(stdout.String()))

	stdout.Reset()
	require.Equal(t, 0, run([]string{"version", "--json"}, &stdout, &stderr))
	var info map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &info))
	require.NotEmpty(t, info["version"])
}

func TestKeygen(t *testing.T) {
	dir := t.TempDir()
	path, out := keygen(t, dir, "alice")
	require.Equal(t, "alice", out.Address)
	kp, address, err := identity.LoadKeyFile(path)
	require.NoError(t, err)
	require.Equal(t, "alice", address)
	require.Equal(t, out.PublicKey, kp.Public.String())
	require.Equal(t, out.Fingerprint, kp.Public.Fingerprint())

	var stdout, stderr bytes.Buffer
	require.Equal(t, 2, run([]string{"keygen", "--out", path}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "refusing to overwrite")
}

func TestUsageErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"hub without origins", []string{"hub"}},
		{"hub bad tls", []string{"hub", "--allow-no-origin", "--tls-cert-file", "c.pem"}},
		{"keygen without out", []string{"keygen"}},
		{"ping without key", []string{"ping", "bob", "--hub", "ws://127.0.0.1:1/ws"}},
		{"ping bad count", []string{"ping", "bob", "--count", "0"}},
		{"bad log level", []string{"version", "--log-level", "loud"}},
		{"missing config", []string{"version", "--config", "/nonexistent/sechannel.toml"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			require.Equal(t, 2, run(tc.args, &stdout, &stderr), stderr.String())
		})
	}
}

func TestSetupAppliesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sechannel.toml")
	require.NoError(t, os.WriteFile(path, []byte("[hub]\nlisten = \"127.0.0.1:7000\"\nmax_conns = 5\n"), 0o600))
	t.Setenv("SECHANNEL_CONFIG", path)
	t.Setenv("SECHANNEL_HUB_MAX_CONNS", "9")
	t.Setenv("SECHANNEL_HUB_ALLOW_ORIGIN", "a.example, b.example")
	t.Setenv("SECHANNEL_HANDSHAKE_TIMEOUT", "3s")

	a := &app{stdout: io.Discard, stderr: io.Discard}
	require.NoError(t, a.setup())
	require.Equal(t, "127.0.0.1:7000", a.cfg.Hub.Listen)
	require.Equal(t, 9, a.cfg.Hub.MaxConns)
	require.Equal(t, []string{"a.example", "b.example"}, a.cfg.Hub.AllowedOrigins)
	require.Equal(t, 3*time.Second, a.cfg.Channel.HandshakeTimeout.Std())

	t.Setenv("SECHANNEL_HUB_MAX_CONNS", "lots")
	err := (&app{stdout: io.Discard, stderr: io.Discard}).setup()
	require.True(t, cmdutil.IsUsage(err), "got %v", err)
}

// startHub runs serveHub on a loopback port and returns its ready line.
func startHub(t *testing.T) hubReady {
	t.Helper()
	a := newTestApp(t)
	a.cfg.Hub.Listen = "127.0.0.1:0"
	a.cfg.Hub.AllowNoOrigin = true
	a.cfg.Metrics.Listen = "127.0.0.1:0"
	pr, pw := io.Pipe()
	a.stdout = pw

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHub(ctx, a, hubTLS{}, nil) }()
	t.Cleanup(func() {
		cancel()
		_ = pr.Close()
		require.NoError(t, <-done)
	})

	var ready hubReady
	require.NoError(t, json.NewDecoder(pr).Decode(&ready))
	require.NotEmpty(t, ready.MetricsURL)
	return ready
}

func TestPingThroughHub(t *testing.T) {
	ready := startHub(t)
	dir := t.TempDir()
	alicePath, _ := keygen(t, dir, "alice")
	bobPath, bob := keygen(t, dir, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := newTestApp(t)
	b.cfg.Endpoint.KeyFile = bobPath
	b.cfg.Endpoint.HubURL = ready.WSURL
	echo, err := b.dialEndpoint(ctx, nil)
	require.NoError(t, err)
	defer echo.Close()
	go func() { _ = runEcho(ctx, echo.ep, logging.Component(b.log, "echo")) }()

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"ping", "bob",
		"--hub", ready.WSURL,
		"--key-file", alicePath,
		"--peer-key", bob.PublicKey,
		"--count", "2",
		"--interval", "10ms",
		"--log-level", "error",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "fingerprint="+bob.Fingerprint)
	require.Contains(t, stdout.String(), "pong from bob: seq=2")

	other, err := identity.Generate(nil)
	require.NoError(t, err)
	stdout.Reset()
	stderr.Reset()
	code = run([]string{
		"ping", "bob",
		"--hub", ready.WSURL,
		"--key-file", alicePath,
		"--peer-key", other.Public.String(),
		"--log-level", "error",
	}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.NotContains(t, stdout.String(), "pong")
}

func TestPingOverStreams(t *testing.T) {
	ready := startHub(t)
	dir := t.TempDir()
	alicePath, _ := keygen(t, dir, "alice")
	bobPath, bob := keygen(t, dir, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := newTestApp(t)
	b.cfg.Endpoint.KeyFile = bobPath
	b.cfg.Endpoint.HubURL = ready.WSURL
	echo, err := b.dialEndpoint(ctx, nil)
	require.NoError(t, err)
	defer echo.Close()
	go func() { _ = runEcho(ctx, echo.ep, logging.Component(b.log, "echo")) }()

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"ping", "bob",
		"--hub", ready.WSURL,
		"--key-file", alicePath,
		"--peer-key", bob.PublicKey,
		"--streams",
		"--count", "3",
		"--interval", "10ms",
		"--log-level", "error",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "pong from bob: seq=3")
}

func TestPingUsesPinStore(t *testing.T) {
	ready := startHub(t)
	dir := t.TempDir()
	alicePath, _ := keygen(t, dir, "alice")
	bobPath, _ := keygen(t, dir, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := newTestApp(t)
	b.cfg.Endpoint.KeyFile = bobPath
	b.cfg.Endpoint.HubURL = ready.WSURL
	echo, err := b.dialEndpoint(ctx, nil)
	require.NoError(t, err)
	defer echo.Close()
	go func() { _ = runEcho(ctx, echo.ep, logging.Component(b.log, "echo")) }()

	pins := filepath.Join(dir, "pins.db")
	cfgPath := filepath.Join(dir, "alice.toml")
	doc := "[endpoint]\npin_store = \"" + pins + "\"\ntrust_on_first_use = true\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o600))

	for i := 0; i < 2; i++ {
		var stdout, stderr bytes.Buffer
		code := run([]string{
			"ping", "bob",
			"--config", cfgPath,
			"--hub", ready.WSURL,
			"--key-file", alicePath,
			"--log-level", "error",
		}, &stdout, &stderr)
		require.Equal(t, 0, code, stderr.String())
		require.Contains(t, stdout.String(), "pong from bob: seq=1")
	}
}
