// Package config loads the TOML configuration shared by the sechannel
// commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/floegence/sechannel/channel"
	"github.com/floegence/sechannel/crypto/nonce"
	"github.com/floegence/sechannel/endpoint"
	"github.com/floegence/sechannel/hub"
	"github.com/floegence/sechannel/internal/defaults"
	"github.com/floegence/sechannel/relay"
)

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Log configures the process logger.
type Log struct {
	// Level is a logrus level name.
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
	// Disable discards all log output.
	Disable bool `toml:"disable"`
}

// Hub configures the relay hub.
type Hub struct {
	Listen               string   `toml:"listen"`
	Path                 string   `toml:"path"`
	AllowedOrigins       []string `toml:"allowed_origins"`
	AllowNoOrigin        bool     `toml:"allow_no_origin"`
	MaxConns             int      `toml:"max_conns"`
	MaxFrameBytes        int      `toml:"max_frame_bytes"`
	MaxPendingBytes      int      `toml:"max_pending_bytes"`
	MaxTotalPendingBytes int      `toml:"max_total_pending_bytes"`
	MaxWriteQueueBytes   int      `toml:"max_write_queue_bytes"`
	AttachTimeout        Duration `toml:"attach_timeout"`
	IdleTimeout          Duration `toml:"idle_timeout"`
	PendingTTL           Duration `toml:"pending_ttl"`
	WriteTimeout         Duration `toml:"write_timeout"`
}

// Endpoint configures a local endpoint and how it reaches the hub.
type Endpoint struct {
	Address        string   `toml:"address"`
	KeyFile        string   `toml:"key_file"`
	HubURL         string   `toml:"hub_url"`
	Origin         string   `toml:"origin"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	// PinStore is a bbolt file of pinned peer keys. Empty disables pinning.
	PinStore        string `toml:"pin_store"`
	TrustOnFirstUse bool   `toml:"trust_on_first_use"`
	AcceptBacklog   int    `toml:"accept_backlog"`
	MaxSessions     int    `toml:"max_sessions"`
	InboxSize       int    `toml:"inbox_size"`
}

// Channel configures per-session behavior.
type Channel struct {
	StepTimeout      Duration `toml:"step_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	IdleTimeout      Duration `toml:"idle_timeout"`
	WriteTimeout     Duration `toml:"write_timeout"`
	NoncePolicy      string   `toml:"nonce_policy"`
	OnReplay         string   `toml:"on_replay"`
	MaxPayload       int      `toml:"max_payload"`
}

// Metrics configures the Prometheus listener. An empty Listen disables it.
type Metrics struct {
	Listen string `toml:"listen"`
}

type Config struct {
	Log      Log      `toml:"log"`
	Hub      Hub      `toml:"hub"`
	Endpoint Endpoint `toml:"endpoint"`
	Channel  Channel  `toml:"channel"`
	Metrics  Metrics  `toml:"metrics"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	h := hub.DefaultConfig()
	return &Config{
		Log: Log{Level: "info", Format: "text"},
		Hub: Hub{
			Listen:               "127.0.0.1:8080",
			Path:                 h.Path,
			MaxConns:             h.MaxConns,
			MaxFrameBytes:        h.MaxFrameBytes,
			MaxPendingBytes:      h.MaxPendingBytes,
			MaxTotalPendingBytes: h.MaxTotalPendingBytes,
			MaxWriteQueueBytes:   h.MaxWriteQueueBytes,
			AttachTimeout:        Duration(h.AttachTimeout),
			IdleTimeout:          Duration(h.IdleTimeout),
			PendingTTL:           Duration(h.PendingTTL),
			WriteTimeout:         Duration(h.WriteTimeout),
		},
		Endpoint: Endpoint{
			ConnectTimeout: Duration(defaults.ConnectTimeout),
			AcceptBacklog:  16,
			MaxSessions:    4096,
			InboxSize:      defaults.InboxSize,
		},
		Channel: Channel{
			StepTimeout:      Duration(defaults.StepTimeout),
			HandshakeTimeout: Duration(defaults.HandshakeTimeout),
			IdleTimeout:      Duration(defaults.IdleTimeout),
			WriteTimeout:     Duration(defaults.StepTimeout),
			NoncePolicy:      nonce.Strict.String(),
			OnReplay:         channel.ReplayReject.String(),
			MaxPayload:       defaults.MaxPayloadBytes,
		},
	}
}

// Load parses and validates a TOML document. Keys not present keep their
// defaults; unknown keys are an error.
func Load(b []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses the TOML file at path.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log: unknown format %q", c.Log.Format)
	}
	if !strings.HasPrefix(c.Hub.Path, "/") {
		return errors.New("config: hub: path must start with /")
	}
	if c.Hub.MaxFrameBytes <= 0 || c.Hub.MaxPendingBytes < 0 || c.Hub.MaxTotalPendingBytes < 0 || c.Hub.MaxConns < 0 {
		return errors.New("config: hub: limits must not be negative and max_frame_bytes must be positive")
	}
	if c.Endpoint.Address != "" && !relay.ValidAddress(c.Endpoint.Address) {
		return fmt.Errorf("config: endpoint: invalid address %q", c.Endpoint.Address)
	}
	if c.Endpoint.AcceptBacklog <= 0 || c.Endpoint.MaxSessions <= 0 || c.Endpoint.InboxSize <= 0 {
		return errors.New("config: endpoint: accept_backlog, max_sessions and inbox_size must be positive")
	}
	if c.Endpoint.TrustOnFirstUse && c.Endpoint.PinStore == "" {
		return errors.New("config: endpoint: trust_on_first_use requires pin_store")
	}
	if c.Channel.StepTimeout <= 0 || c.Channel.HandshakeTimeout <= 0 {
		return errors.New("config: channel: step and handshake timeouts must be positive")
	}
	if c.Channel.IdleTimeout < 0 || c.Channel.WriteTimeout < 0 {
		return errors.New("config: channel: timeouts must not be negative")
	}
	if c.Channel.MaxPayload <= 0 {
		return errors.New("config: channel: max_payload must be positive")
	}
	if _, err := nonce.ParsePolicy(c.Channel.NoncePolicy); err != nil {
		return fmt.Errorf("config: channel: %w", err)
	}
	if _, err := channel.ParseReplayAction(c.Channel.OnReplay); err != nil {
		return fmt.Errorf("config: channel: %w", err)
	}
	return nil
}

// ServerConfig converts the [hub] section into a hub.Config. Observer and
// Logger are left for the caller.
func (h Hub) ServerConfig() hub.Config {
	cfg := hub.DefaultConfig()
	cfg.Path = h.Path
	cfg.AllowedOrigins = append([]string(nil), h.AllowedOrigins...)
	cfg.AllowNoOrigin = h.AllowNoOrigin
	cfg.MaxConns = h.MaxConns
	cfg.MaxFrameBytes = h.MaxFrameBytes
	cfg.MaxPendingBytes = h.MaxPendingBytes
	cfg.MaxTotalPendingBytes = h.MaxTotalPendingBytes
	cfg.MaxWriteQueueBytes = h.MaxWriteQueueBytes
	cfg.AttachTimeout = h.AttachTimeout.Std()
	cfg.IdleTimeout = h.IdleTimeout.Std()
	cfg.PendingTTL = h.PendingTTL.Std()
	cfg.WriteTimeout = h.WriteTimeout.Std()
	return cfg
}

// EndpointOptions converts the [endpoint] and [channel] sections into
// endpoint options. Logger, observer and resolver are left for the caller.
func (c *Config) EndpointOptions() ([]endpoint.Option, error) {
	policy, err := nonce.ParsePolicy(c.Channel.NoncePolicy)
	if err != nil {
		return nil, err
	}
	action, err := channel.ParseReplayAction(c.Channel.OnReplay)
	if err != nil {
		return nil, err
	}
	return []endpoint.Option{
		endpoint.WithStepTimeout(c.Channel.StepTimeout.Std()),
		endpoint.WithHandshakeTimeout(c.Channel.HandshakeTimeout.Std()),
		endpoint.WithIdleTimeout(c.Channel.IdleTimeout.Std()),
		endpoint.WithWriteTimeout(c.Channel.WriteTimeout.Std()),
		endpoint.WithNoncePolicy(policy),
		endpoint.WithReplayAction(action),
		endpoint.WithMaxPayload(c.Channel.MaxPayload),
		endpoint.WithInboxSize(c.Endpoint.InboxSize),
		endpoint.WithAcceptBacklog(c.Endpoint.AcceptBacklog),
		endpoint.WithMaxSessions(c.Endpoint.MaxSessions),
	}, nil
}
