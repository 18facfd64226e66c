package defaults

import "time"

const (
	// ConnectTimeout is the default timeout for dialing the hub.
	ConnectTimeout = 10 * time.Second
	// StepTimeout bounds a single awaited handshake message.
	StepTimeout = 10 * time.Second
	// HandshakeTimeout bounds the whole three-message exchange.
	HandshakeTimeout = 30 * time.Second
	// IdleTimeout is how long the hub keeps a silent connection.
	IdleTimeout = 60 * time.Second
)

const (
	// MaxPayloadBytes caps a single application plaintext.
	MaxPayloadBytes = 1 << 20
	// MaxHandshakePayload caps the Hello payload carried by stages 2 and 3.
	MaxHandshakePayload = 8 * 1024
	// InboxSize is the per-session buffered inbound queue depth.
	InboxSize = 64
)

const minKeepaliveInterval = 500 * time.Millisecond

// KeepaliveInterval returns the encrypted ping interval for a given idle timeout.
//
// It uses idle/2, clamps to a small minimum, and guarantees the result is
// strictly less than idle.
func KeepaliveInterval(idle time.Duration) time.Duration {
	if idle <= 0 {
		return 0
	}
	interval := idle / 2
	if interval < minKeepaliveInterval {
		interval = minKeepaliveInterval
	}
	if interval >= idle {
		interval = idle / 2
	}
	return interval
}
