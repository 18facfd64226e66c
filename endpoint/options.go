package endpoint

import (
	"fmt"
	"io"
	"time"

	"github.com/floegence/sechannel/channel"
	"github.com/floegence/sechannel/crypto/nonce"
	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/internal/defaults"
	"github.com/floegence/sechannel/observability"
	"github.com/sirupsen/logrus"
)

// Option configures an Endpoint.
//
// Omit an option to use the library default. For timeouts, a value of 0 disables the timeout.
type Option func(*options) error

type options struct {
	log      *logrus.Entry
	obs      observability.SessionObserver
	resolver identity.Resolver
	random   io.Reader

	untrustedLink bool

	stepTimeout      time.Duration
	handshakeTimeout time.Duration
	idleTimeout      time.Duration
	writeTimeout     time.Duration

	noncePolicy nonce.Policy
	nonceLimit  nonce.Nonce
	onReplay    channel.ReplayAction
	maxPayload  int

	inboxSize     int
	recvBuffer    int
	acceptBacklog int
	maxSessions   int
}

func defaultOptions() options {
	return options{
		obs:              observability.NoopSessionObserver,
		stepTimeout:      defaults.StepTimeout,
		handshakeTimeout: defaults.HandshakeTimeout,
		idleTimeout:      defaults.IdleTimeout,
		writeTimeout:     defaults.StepTimeout,
		maxPayload:       defaults.MaxPayloadBytes,
		inboxSize:        defaults.InboxSize,
		recvBuffer:       defaults.InboxSize,
		acceptBacklog:    16,
		maxSessions:      4096,
	}
}

func applyOptions(opts []Option) (options, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return options{}, err
		}
	}
	if cfg.log == nil {
		cfg.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return cfg, nil
}

// WithLogger sets the entry every session logger derives from.
func WithLogger(l *logrus.Entry) Option {
	return func(cfg *options) error {
		cfg.log = l
		return nil
	}
}

// WithObserver sets the session metrics observer.
func WithObserver(obs observability.SessionObserver) Option {
	return func(cfg *options) error {
		if obs == nil {
			obs = observability.NoopSessionObserver
		}
		cfg.obs = obs
		return nil
	}
}

// WithResolver authorizes peers by announced address and proven key. A
// pinstore.Store gives trust-on-first-use.
func WithResolver(r identity.Resolver) Option {
	return func(cfg *options) error {
		cfg.resolver = r
		return nil
	}
}

// WithRandom overrides the entropy source for ephemeral keys.
func WithRandom(r io.Reader) Option {
	return func(cfg *options) error {
		cfg.random = r
		return nil
	}
}

// WithUntrustedLink marks the transport as passing through a hub. Every
// inbound frame is then checked against the session it claims to belong to.
func WithUntrustedLink(untrusted bool) Option {
	return func(cfg *options) error {
		cfg.untrustedLink = untrusted
		return nil
	}
}

// WithStepTimeout bounds the wait for each handshake message; 0 disables it.
func WithStepTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("step timeout must be >= 0")
		}
		cfg.stepTimeout = d
		return nil
	}
}

// WithHandshakeTimeout bounds the whole handshake; 0 disables it.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("handshake timeout must be >= 0")
		}
		cfg.handshakeTimeout = d
		return nil
	}
}

// WithIdleTimeout closes established sessions that hear nothing from the
// peer for d, and sends encrypted pings at half that interval; 0 disables both.
func WithIdleTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("idle timeout must be >= 0")
		}
		cfg.idleTimeout = d
		return nil
	}
}

// WithWriteTimeout bounds internally initiated writes such as handshake
// replies, pings and close records; 0 disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("write timeout must be >= 0")
		}
		cfg.writeTimeout = d
		return nil
	}
}

// WithNoncePolicy chooses strict or windowed replay checking for records.
func WithNoncePolicy(p nonce.Policy) Option {
	return func(cfg *options) error {
		cfg.noncePolicy = p
		return nil
	}
}

// WithNonceLimit caps per-direction counters, after which the session fails.
func WithNonceLimit(n nonce.Nonce) Option {
	return func(cfg *options) error {
		cfg.nonceLimit = n
		return nil
	}
}

// WithReplayAction chooses whether a replayed record is dropped or destroys the session.
func WithReplayAction(a channel.ReplayAction) Option {
	return func(cfg *options) error {
		cfg.onReplay = a
		return nil
	}
}

// WithMaxPayload caps the plaintext size of one record. Conn splits larger
// writes.
func WithMaxPayload(n int) Option {
	return func(cfg *options) error {
		if n <= 0 {
			return fmt.Errorf("max payload must be > 0")
		}
		cfg.maxPayload = n
		return nil
	}
}

// WithInboxSize sets the per-session inbound frame queue depth. A session
// whose queue is full when a frame arrives fails with ErrReceiveOverflow.
func WithInboxSize(n int) Option {
	return func(cfg *options) error {
		if n <= 0 {
			return fmt.Errorf("inbox size must be > 0")
		}
		cfg.inboxSize = n
		return nil
	}
}

// WithRecvBuffer caps records held for a session that has not called
// Receive yet. One more record fails the session with ErrReceiveOverflow
// and closes it on the peer.
func WithRecvBuffer(n int) Option {
	return func(cfg *options) error {
		if n <= 0 {
			return fmt.Errorf("receive buffer must be > 0")
		}
		cfg.recvBuffer = n
		return nil
	}
}

// WithAcceptBacklog caps established inbound sessions waiting for Accept.
func WithAcceptBacklog(n int) Option {
	return func(cfg *options) error {
		if n <= 0 {
			return fmt.Errorf("accept backlog must be > 0")
		}
		cfg.acceptBacklog = n
		return nil
	}
}

// WithMaxSessions caps live sessions; further opens fail with ErrTooManySessions.
func WithMaxSessions(n int) Option {
	return func(cfg *options) error {
		if n <= 0 {
			return fmt.Errorf("max sessions must be > 0")
		}
		cfg.maxSessions = n
		return nil
	}
}
