// Package channel implements the secure channel state machine.
//
// A Session is advanced only by discrete calls (Start, Handle, Encrypt,
// Close, Timeout). It performs no I/O and starts no goroutines: the caller
// owns it and must not use it concurrently.
//
//	initiator: Initiating -Start-> AwaitingResponse -stage2-> Established
//	responder: Initiating -stage1-> AwaitingConfirmation -stage3-> Established
//
// Any failure moves the session to Errored. Close moves it to Closed.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/floegence/sechannel/crypto/kex"
	"github.com/floegence/sechannel/crypto/nonce"
	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/internal/defaults"
	"github.com/floegence/sechannel/localinfo"
	"github.com/floegence/sechannel/secerrors"
	"github.com/floegence/sechannel/wire"
	"github.com/google/uuid"
)

var (
	// ErrRemoteClosed is returned when the peer sent an authenticated close.
	ErrRemoteClosed = errors.New("channel: closed by peer")
	// ErrPayloadTooLarge is returned by Encrypt for oversized plaintext.
	ErrPayloadTooLarge = errors.New("channel: payload too large")
)

type Config struct {
	Static *identity.Keypair
	// LocalAddress is announced to the peer inside the encrypted Hello.
	LocalAddress string
	// PeerAddress, when set, must equal the address the peer announces.
	PeerAddress string
	// ExpectedPeer, when set, must equal the peer's proven static key.
	ExpectedPeer *identity.PublicKey
	// Resolver is consulted with the peer's announced address and key.
	// Nil accepts any authenticated peer.
	Resolver identity.Resolver

	NoncePolicy nonce.Policy
	// NonceLimit caps counters per direction; zero means nonce.MaxNonce.
	NonceLimit nonce.Nonce
	OnReplay   ReplayAction
	// MaxPayload caps plaintext size; zero means defaults.MaxPayloadBytes.
	MaxPayload int

	Random io.Reader
	Now    func() time.Time
}

// Session is one end of a secure channel.
type Session struct {
	id    uuid.UUID
	role  kex.Role
	cfg   Config
	state State
	err   error

	hs       *kex.Handshake
	keys     *kex.Result
	sender   *nonce.Sender
	receiver *nonce.Receiver

	peer        identity.PublicKey
	peerAddress string

	createdAt    time.Time
	lastActivity time.Time
}

// NewInitiator creates the connecting side with a fresh session id.
func NewInitiator(cfg Config) (*Session, error) {
	return newSession(cfg, kex.Initiator, uuid.New())
}

// NewResponder creates the accepting side for a session id taken from a
// received stage 1 message.
func NewResponder(cfg Config, id uuid.UUID) (*Session, error) {
	return newSession(cfg, kex.Responder, id)
}

func newSession(cfg Config, role kex.Role, id uuid.UUID) (*Session, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = defaults.MaxPayloadBytes
	}
	hs, err := kex.New(kex.Config{
		Role:         role,
		SessionID:    id,
		Static:       cfg.Static,
		ExpectedPeer: cfg.ExpectedPeer,
		Hello:        kex.Hello{Address: cfg.LocalAddress},
		Random:       cfg.Random,
	})
	if err != nil {
		return nil, err
	}
	now := cfg.Now()
	return &Session{
		id:           id,
		role:         role,
		cfg:          cfg,
		state:        Initiating,
		hs:           hs,
		sender:       nonce.NewSender(cfg.NonceLimit),
		receiver:     nonce.NewReceiver(cfg.NoncePolicy, cfg.NonceLimit),
		createdAt:    now,
		lastActivity: now,
	}, nil
}

func (s *Session) ID() uuid.UUID       { return s.id }
func (s *Session) Role() kex.Role      { return s.role }
func (s *Session) State() State        { return s.state }
func (s *Session) Err() error          { return s.err }
func (s *Session) PeerAddress() string { return s.peerAddress }

func (s *Session) CreatedAt() time.Time    { return s.createdAt }
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// RecordsSent counts sealed records, pings and closes included.
func (s *Session) RecordsSent() uint64 { return s.sender.Issued() }

// Peer returns the authenticated peer key once Established.
func (s *Session) Peer() (identity.PublicKey, bool) {
	if s.keys == nil {
		return identity.PublicKey{}, false
	}
	return s.peer, true
}

// Binding returns the handshake hash once Established.
func (s *Session) Binding() []byte {
	if s.keys == nil {
		return nil
	}
	return s.keys.Binding
}

// Info describes the channel for stream consumers.
func (s *Session) Info() localinfo.ChannelInfo {
	return localinfo.ChannelInfo{SessionID: s.id, Role: s.role.String(), Binding: s.Binding()}
}

// Start emits stage 1. Initiator only, from Initiating.
func (s *Session) Start() (*wire.Message, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if s.role != kex.Initiator || s.state != Initiating {
		return nil, s.fail(fmt.Errorf("%w: start in %s as %s", secerrors.ErrInvalidInternalState, s.state, s.role))
	}
	out, err := s.writeHandshake()
	if err != nil {
		return nil, s.fail(err)
	}
	s.state = AwaitingResponse
	return out, nil
}

// Result reports the effect of one inbound message.
type Result struct {
	// Reply must be sent to the peer when non-nil.
	Reply *wire.Message
	// Delivered is set for application data.
	Delivered *localinfo.TaggedPlaintext
	// Established is true when this message completed the handshake.
	Established bool
	// Closed is true when the peer closed the channel.
	Closed bool
}

// Handle dispatches one inbound message.
func (s *Session) Handle(msg *wire.Message) (Result, error) {
	if err := s.checkAlive(); err != nil {
		return Result{}, err
	}
	if msg == nil {
		return Result{}, fmt.Errorf("%w: nil message", secerrors.ErrInvalidInternalState)
	}
	switch msg.Kind {
	case wire.KindHandshake:
		before := s.state
		reply, err := s.HandleHandshake(msg)
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: reply, Established: before != Established && s.state == Established}, nil
	case wire.KindApplication:
		if s.state != Established {
			return Result{}, s.fail(fmt.Errorf("%w: application record in %s", secerrors.ErrInvalidInternalState, s.state))
		}
		tp, err := s.Decrypt(msg)
		if errors.Is(err, ErrRemoteClosed) {
			return Result{Closed: true}, nil
		}
		if err != nil {
			return Result{}, err
		}
		if msg.Flags&wire.FlagData == 0 {
			return Result{}, nil
		}
		return Result{Delivered: &tp}, nil
	default:
		return Result{}, fmt.Errorf("%w: unknown message kind %d", secerrors.ErrInvalidInternalState, msg.Kind)
	}
}

// HandleHandshake consumes one handshake message and returns the reply, if any.
func (s *Session) HandleHandshake(msg *wire.Message) (*wire.Message, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if msg.Kind != wire.KindHandshake {
		return nil, fmt.Errorf("%w: not a handshake message", secerrors.ErrInvalidInternalState)
	}
	if msg.SessionID != s.id {
		return nil, fmt.Errorf("%w: message for session %s", secerrors.ErrInvalidInternalState, msg.SessionID)
	}
	if want := s.expectedStage(); msg.Stage != want {
		return nil, s.fail(fmt.Errorf("%w: stage %d in %s", secerrors.ErrInvalidInternalState, msg.Stage, s.state))
	}
	if err := s.hs.ReadMessage(msg.Stage, msg.Sealed()); err != nil {
		return nil, s.fail(err)
	}
	s.touch()

	if msg.Stage != wire.StageInit {
		if err := s.authorizePeer(); err != nil {
			return nil, s.fail(err)
		}
	}

	switch msg.Stage {
	case wire.StageInit:
		out, err := s.writeHandshake()
		if err != nil {
			return nil, s.fail(err)
		}
		s.state = AwaitingConfirmation
		return out, nil
	case wire.StageResponse:
		out, err := s.writeHandshake()
		if err != nil {
			return nil, s.fail(err)
		}
		if err := s.establish(); err != nil {
			return nil, s.fail(err)
		}
		return out, nil
	default:
		if err := s.establish(); err != nil {
			return nil, s.fail(err)
		}
		return nil, nil
	}
}

// expectedStage returns the only stage acceptable in the current state, or
// StageNone when no handshake message is acceptable.
func (s *Session) expectedStage() wire.Stage {
	switch {
	case s.role == kex.Responder && s.state == Initiating:
		return wire.StageInit
	case s.role == kex.Initiator && s.state == AwaitingResponse:
		return wire.StageResponse
	case s.role == kex.Responder && s.state == AwaitingConfirmation:
		return wire.StageConfirm
	default:
		return wire.StageNone
	}
}

// Awaiting reports the kind and stage of the next acceptable inbound
// message. It returns zero values when nothing is expected.
func (s *Session) Awaiting() (wire.Kind, wire.Stage) {
	if s.state == Established {
		return wire.KindApplication, wire.StageNone
	}
	if st := s.expectedStage(); st != wire.StageNone {
		return wire.KindHandshake, st
	}
	return 0, wire.StageNone
}

func (s *Session) writeHandshake() (*wire.Message, error) {
	stage, raw, err := s.hs.WriteMessage()
	if err != nil {
		return nil, err
	}
	msg := &wire.Message{
		Version:   wire.Version,
		Kind:      wire.KindHandshake,
		Stage:     stage,
		SessionID: s.id,
		Payload:   raw,
	}
	if stage != wire.StageInit {
		body, tag, err := wire.SplitTag(raw)
		if err != nil {
			return nil, err
		}
		msg.Payload, msg.Tag = body, tag
	}
	return msg, nil
}

func (s *Session) authorizePeer() error {
	key, hello, ok := s.hs.Peer()
	if !ok {
		return fmt.Errorf("%w: peer identity unavailable", secerrors.ErrInvalidInternalState)
	}
	if s.cfg.PeerAddress != "" && hello.Address != s.cfg.PeerAddress {
		return fmt.Errorf("%w: peer announced %q, expected %q", secerrors.ErrKeyExchange, hello.Address, s.cfg.PeerAddress)
	}
	if s.cfg.Resolver != nil {
		if err := s.cfg.Resolver.Verify(hello.Address, key); err != nil {
			return fmt.Errorf("%w: %w", secerrors.ErrKeyExchange, err)
		}
	}
	return nil
}

func (s *Session) establish() error {
	res, err := s.hs.Result()
	if err != nil {
		return err
	}
	s.peer = res.PeerStatic
	s.peerAddress = res.PeerHello.Address
	s.keys = res
	s.state = Established
	return nil
}

// Encrypt seals plaintext as the next data record.
func (s *Session) Encrypt(plaintext []byte) (*wire.Message, error) {
	return s.seal(wire.FlagData, plaintext)
}

// Ping seals an empty keepalive record. The peer authenticates it but does
// not deliver it.
func (s *Session) Ping() (*wire.Message, error) {
	return s.seal(wire.FlagPing, nil)
}

func (s *Session) seal(flags wire.Flags, plaintext []byte) (*wire.Message, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if s.state != Established {
		return nil, fmt.Errorf("%w: state %s", secerrors.ErrKeyExchangeNotComplete, s.state)
	}
	if len(plaintext) > s.cfg.MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(plaintext), s.cfg.MaxPayload)
	}
	n, err := s.sender.Next()
	if err != nil {
		return nil, s.fail(err)
	}
	ad := wire.AssociatedData(s.id, wire.KindApplication, flags, n)
	sealed := s.keys.Send.Encrypt(nil, n, ad, plaintext)
	body, tag, err := wire.SplitTag(sealed)
	if err != nil {
		return nil, s.fail(err)
	}
	s.touch()
	return &wire.Message{
		Version:   wire.Version,
		Kind:      wire.KindApplication,
		SessionID: s.id,
		Nonce:     n,
		Flags:     flags,
		Payload:   body,
		Tag:       tag,
	}, nil
}

// Decrypt authenticates an application record and binds its payload to the
// peer's identity. Records that fail authentication are rejected without
// touching session state. Ping records return an empty payload; close
// records move the session to Closed and return ErrRemoteClosed.
func (s *Session) Decrypt(msg *wire.Message) (localinfo.TaggedPlaintext, error) {
	if err := s.checkAlive(); err != nil {
		return localinfo.TaggedPlaintext{}, err
	}
	if s.state != Established {
		return localinfo.TaggedPlaintext{}, fmt.Errorf("%w: state %s", secerrors.ErrKeyExchangeNotComplete, s.state)
	}
	if msg == nil || msg.Kind != wire.KindApplication {
		return localinfo.TaggedPlaintext{}, fmt.Errorf("%w: not an application record", secerrors.ErrInvalidInternalState)
	}
	if msg.SessionID != s.id {
		return localinfo.TaggedPlaintext{}, fmt.Errorf("%w: record for session %s", secerrors.ErrInvalidInternalState, msg.SessionID)
	}
	ad := wire.AssociatedData(s.id, wire.KindApplication, msg.Flags, msg.Nonce)
	pt, err := s.keys.Recv.Decrypt(nil, msg.Nonce, ad, msg.Sealed())
	if err != nil {
		return localinfo.TaggedPlaintext{}, fmt.Errorf("%w: nonce %d", secerrors.ErrRecordAuth, msg.Nonce)
	}
	if err := s.receiver.Validate(msg.Nonce); err != nil {
		if s.cfg.OnReplay == ReplayClose {
			return localinfo.TaggedPlaintext{}, s.fail(err)
		}
		return localinfo.TaggedPlaintext{}, err
	}
	s.touch()

	if msg.Flags&wire.FlagClose != 0 {
		s.state = Closed
		s.err = ErrRemoteClosed
		return localinfo.TaggedPlaintext{}, ErrRemoteClosed
	}
	return localinfo.Bind(pt, localinfo.IdentityInfo{
		SessionID:   s.id,
		Peer:        s.peer,
		PeerAddress: s.peerAddress,
		Binding:     s.keys.Binding,
	}), nil
}

// Timeout records that an awaited handshake step did not arrive in time.
// It has no effect once Established; it returns the resulting error otherwise.
func (s *Session) Timeout() error {
	if s.state.Terminal() {
		return s.err
	}
	if s.state == Established {
		return nil
	}
	return s.fail(fmt.Errorf("%w: %w in %s", secerrors.ErrKeyExchange, context.DeadlineExceeded, s.state))
}

// Fail moves a live session to Errored with err. It is used by the runtime
// for transport failures and cancellation.
func (s *Session) Fail(err error) error {
	if s.state.Terminal() {
		return s.err
	}
	return s.fail(err)
}

// Close moves the session to Closed. When Established it returns an
// authenticated close record for the peer; the record is nil if the send
// counter is exhausted.
func (s *Session) Close() (*wire.Message, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	var out *wire.Message
	if s.state == Established {
		if msg, err := s.seal(wire.FlagClose, nil); err == nil {
			out = msg
		}
	}
	s.state = Closed
	s.err = nil
	return out, nil
}

// Abandon fails the session with err. When Established it also returns an
// authenticated close record so the peer does not wait for its idle timeout.
func (s *Session) Abandon(err error) (*wire.Message, error) {
	if s.state.Terminal() {
		return nil, s.err
	}
	var out *wire.Message
	if s.state == Established {
		if msg, serr := s.seal(wire.FlagClose, nil); serr == nil {
			out = msg
		}
	}
	return out, s.fail(err)
}

func (s *Session) checkAlive() error {
	if s.state.Terminal() {
		return fmt.Errorf("%w: session is %s", secerrors.ErrInvalidInternalState, s.state)
	}
	return nil
}

func (s *Session) fail(err error) error {
	s.state = Errored
	s.err = err
	return err
}

func (s *Session) touch() { s.lastActivity = s.cfg.Now() }
