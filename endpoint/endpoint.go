// Package endpoint runs secure channels over a transport.
//
// An Endpoint owns an arena of sessions keyed by session id. Each session is
// driven by its own goroutine, which is the only code that touches its
// channel.Session. The endpoint's read loop decodes inbound envelopes and
// hands them to the owning worker; a stage 1 handshake for an unknown id
// creates a responder.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/floegence/sechannel/channel"
	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/observability"
	"github.com/floegence/sechannel/relay"
	"github.com/floegence/sechannel/secerrors"
	"github.com/floegence/sechannel/transport"
	"github.com/floegence/sechannel/wire"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Endpoint is one addressable party. It is safe for concurrent use.
type Endpoint struct {
	address string
	static  *identity.Keypair
	t       transport.Transport
	opts    options
	log     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[uuid.UUID]*worker
	closed   bool

	accepted chan *Handle
	closing  chan struct{} // graceful shutdown requested
	down     chan struct{} // read loop exited
	linkErr  error         // set before down is closed

	closeOnce sync.Once
}

// New starts an endpoint for address over t. The endpoint takes ownership of
// t and closes it on Close.
func New(t transport.Transport, address string, static *identity.Keypair, opts ...Option) (*Endpoint, error) {
	if t == nil {
		return nil, ErrMissingTransport
	}
	if static == nil {
		return nil, ErrMissingIdentity
	}
	if !relay.ValidAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		address:  address,
		static:   static,
		t:        t,
		opts:     cfg,
		log:      cfg.log.WithFields(logrus.Fields{"component": "endpoint", "address": address}),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[uuid.UUID]*worker),
		accepted: make(chan *Handle, cfg.acceptBacklog),
		closing:  make(chan struct{}),
		down:     make(chan struct{}),
	}
	go e.readLoop()
	return e, nil
}

func (e *Endpoint) Address() string { return e.address }

// Public returns the endpoint's static public key.
func (e *Endpoint) Public() identity.PublicKey { return e.static.Public }

// Sessions returns the number of live sessions in the arena.
func (e *Endpoint) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Done is closed once the transport read loop has stopped.
func (e *Endpoint) Done() <-chan struct{} { return e.down }

// Err returns why the read loop stopped, after Done is closed.
func (e *Endpoint) Err() error {
	select {
	case <-e.down:
		return e.linkErr
	default:
		return nil
	}
}

// OpenChannel runs the initiator side of a handshake to route.Destination
// and returns once the channel is Established. expectedPeer, when non-nil,
// pins the responder's static key. Cancelling ctx destroys the session.
func (e *Endpoint) OpenChannel(ctx context.Context, route relay.Route, expectedPeer *identity.PublicKey) (*Handle, error) {
	if err := route.Validate(); err != nil {
		return nil, secerrors.Wrap(secerrors.StageOpen, secerrors.CodeInvalidInput, err)
	}
	sess, err := channel.NewInitiator(e.channelConfig(route.Destination, expectedPeer))
	if err != nil {
		return nil, secerrors.Wrap(secerrors.StageOpen, secerrors.CodeInvalidInput, err)
	}
	w := newWorker(e, sess, route.Destination, e.opts.untrustedLink || route.Untrusted())
	if err := e.add(w); err != nil {
		return nil, secerrors.Wrap(secerrors.StageOpen, secerrors.CodeSessionClosed, err)
	}
	w.log.WithField("route", route.String()).Debug("opening channel")
	go w.run(nil)

	select {
	case <-w.established:
		return newHandle(w), nil
	case <-w.done:
		return nil, secerrors.WrapClassified(secerrors.StageHandshake, w.cause(), secerrors.CodeKeyExchangeFailed)
	case <-ctx.Done():
		w.abort(ctx.Err())
		return nil, secerrors.WrapClassified(secerrors.StageOpen, ctx.Err(), secerrors.CodeCanceled)
	}
}

// Accept returns the next inbound channel once it is Established.
func (e *Endpoint) Accept(ctx context.Context) (*Handle, error) {
	select {
	case h := <-e.accepted:
		return h, nil
	case <-e.closing:
		return nil, ErrEndpointClosed
	case <-e.down:
		if isClosed(e.closing) {
			return nil, ErrEndpointClosed
		}
		return nil, secerrors.Wrap(secerrors.StageTransport, secerrors.CodeTransportFailed, e.linkErr)
	case <-ctx.Done():
		return nil, secerrors.WrapClassified(secerrors.StageOpen, ctx.Err(), secerrors.CodeCanceled)
	}
}

// Close sends an authenticated close to every established peer, waits for
// the session workers to exit and closes the transport.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		workers := make([]*worker, 0, len(e.sessions))
		for _, w := range e.sessions {
			workers = append(workers, w)
		}
		e.mu.Unlock()

		close(e.closing)
		for _, w := range workers {
			<-w.done
		}
		e.cancel()
		err = e.t.Close()
		<-e.down
		e.log.Info("endpoint closed")
	})
	return err
}

func (e *Endpoint) channelConfig(peerAddress string, expectedPeer *identity.PublicKey) channel.Config {
	return channel.Config{
		Static:       e.static,
		LocalAddress: e.address,
		PeerAddress:  peerAddress,
		ExpectedPeer: expectedPeer,
		Resolver:     e.opts.resolver,
		NoncePolicy:  e.opts.noncePolicy,
		NonceLimit:   e.opts.nonceLimit,
		OnReplay:     e.opts.onReplay,
		MaxPayload:   e.opts.maxPayload,
		Random:       e.opts.random,
	}
}

func (e *Endpoint) add(w *worker) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEndpointClosed
	}
	if len(e.sessions) >= e.opts.maxSessions {
		e.mu.Unlock()
		return ErrTooManySessions
	}
	e.sessions[w.id] = w
	n := len(e.sessions)
	e.mu.Unlock()
	e.opts.obs.SessionCount(n)
	return nil
}

func (e *Endpoint) remove(w *worker) {
	e.mu.Lock()
	if e.sessions[w.id] == w {
		delete(e.sessions, w.id)
	}
	n := len(e.sessions)
	e.mu.Unlock()
	e.opts.obs.SessionCount(n)
}

func (e *Endpoint) readLoop() {
	var err error
	defer func() {
		e.linkErr = err
		close(e.down)
	}()
	for {
		var b []byte
		b, err = e.t.ReadBinary(e.ctx)
		if err != nil {
			select {
			case <-e.closing:
				err = ErrEndpointClosed
			default:
				e.log.WithError(err).Warn("transport read failed")
			}
			return
		}
		e.dispatch(b)
	}
}

// dispatch routes one inbound frame to its session. Frames that cannot be
// attributed to a session are dropped.
func (e *Endpoint) dispatch(b []byte) {
	env, err := relay.Decode(b)
	if err == nil {
		var msg *wire.Message
		msg, err = relay.Validate(env, relay.Expect{Local: e.address})
		if err == nil {
			e.deliver(env, msg)
			return
		}
	}
	e.opts.obs.Record(observability.DirectionRecv, observability.RecordInvalidRelay)
	e.log.WithError(err).Debug("dropping inbound frame")
}

func (e *Endpoint) deliver(env *relay.Envelope, msg *wire.Message) {
	e.mu.Lock()
	w := e.sessions[msg.SessionID]
	e.mu.Unlock()
	if w != nil {
		if w.dropping {
			return
		}
		select {
		case w.inbox <- env:
		default:
			// Nothing after a lost frame may be delivered.
			w.dropping = true
			close(w.overflow)
		}
		return
	}
	if msg.Kind != wire.KindHandshake || msg.Stage != wire.StageInit {
		e.log.WithField("session", msg.SessionID).Debug("frame for unknown session")
		return
	}
	sess, err := channel.NewResponder(e.channelConfig(env.Origin, nil), msg.SessionID)
	if err != nil {
		e.log.WithError(err).Warn("cannot create responder")
		return
	}
	w = newWorker(e, sess, env.Origin, e.opts.untrustedLink)
	if err := e.add(w); err != nil {
		if !errors.Is(err, ErrEndpointClosed) {
			e.log.WithError(err).Warn("rejecting inbound channel")
		}
		return
	}
	w.log.Debug("inbound channel")
	go w.run(msg)
}

func (e *Endpoint) offer(h *Handle) bool {
	select {
	case e.accepted <- h:
		return true
	default:
		return false
	}
}
