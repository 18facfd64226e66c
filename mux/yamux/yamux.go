// Package yamux multiplexes streams over an established secure channel.
package yamux

import (
	"io"

	"github.com/floegence/sechannel/endpoint"
	"github.com/hashicorp/yamux"
)

// DefaultConfig disables yamux keepalives, since the channel sends its own
// encrypted pings, and discards yamux logging.
func DefaultConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = false
	cfg.LogOutput = io.Discard
	return cfg
}

// NewClient creates a yamux client session over h. The side that opened the
// channel is normally the client.
func NewClient(h *endpoint.Handle, cfg *yamux.Config) (*yamux.Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return yamux.Client(h.Conn(), cfg)
}

// NewServer creates a yamux server session over h.
func NewServer(h *endpoint.Handle, cfg *yamux.Config) (*yamux.Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return yamux.Server(h.Conn(), cfg)
}
