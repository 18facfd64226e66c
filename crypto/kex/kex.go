// Package kex runs the three-message Noise XX key exchange
// (Noise_XX_25519_ChaChaPoly_SHA256) that authenticates both static
// identities and derives the two directional session keys.
//
//	stage 1  -> e
//	stage 2  <- e, ee, s, es   + Hello
//	stage 3  -> s, se          + Hello
package kex

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/internal/defaults"
	"github.com/floegence/sechannel/secerrors"
	"github.com/floegence/sechannel/wire"
	"github.com/flynn/noise"
	"github.com/google/uuid"
)

const (
	ProtocolName    = "sechannel"
	ProtocolVersion = 1
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// Role says which side of the exchange a party plays.
type Role uint8

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Prologue is mixed into the transcript before the first message, binding
// both parties to the protocol version and the session id.
type Prologue struct {
	Protocol  string    `cbor:"1,keyasint"`
	Version   uint32    `cbor:"2,keyasint"`
	SessionID uuid.UUID `cbor:"3,keyasint"`
}

// Hello is the encrypted payload carried by stages 2 and 3.
type Hello struct {
	Address  string `cbor:"1,keyasint,omitempty"`
	Features uint64 `cbor:"2,keyasint,omitempty"`
}

// Config describes one party of a single exchange.
type Config struct {
	Role      Role
	SessionID uuid.UUID
	Static    *identity.Keypair
	// ExpectedPeer, when set, must equal the static key the peer proves.
	ExpectedPeer *identity.PublicKey
	Hello        Hello
	// Random defaults to crypto/rand.
	Random io.Reader
}

// Result is available once the exchange completes.
type Result struct {
	// Send and Recv are independent directional ciphers. The caller supplies
	// the nonce on every call.
	Send noise.Cipher
	Recv noise.Cipher

	PeerStatic identity.PublicKey
	PeerHello  Hello
	// Binding is the final handshake hash, unique to this transcript.
	Binding []byte
}

// Handshake is single-use and not safe for concurrent use.
type Handshake struct {
	role     Role
	hs       *noise.HandshakeState
	hello    Hello
	expected *identity.PublicKey

	next      wire.Stage
	failed    bool
	peerHello Hello
	peerSeen  bool
	result    *Result
}

// New prepares a handshake; the initiator writes the first message.
func New(cfg Config) (*Handshake, error) {
	if cfg.Static == nil {
		return nil, errors.New("kex: missing static keypair")
	}
	if cfg.SessionID == uuid.Nil {
		return nil, errors.New("kex: missing session id")
	}
	if cfg.Role != Initiator && cfg.Role != Responder {
		return nil, fmt.Errorf("kex: invalid role %d", cfg.Role)
	}
	prologue, err := wire.Marshal(Prologue{
		Protocol:  ProtocolName,
		Version:   ProtocolVersion,
		SessionID: cfg.SessionID,
	})
	if err != nil {
		return nil, err
	}
	random := cfg.Random
	if random == nil {
		random = rand.Reader
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Random:      random,
		Pattern:     noise.HandshakeXX,
		Initiator:   cfg.Role == Initiator,
		Prologue:    prologue,
		StaticKeypair: noise.DHKey{
			Private: append([]byte(nil), cfg.Static.Private[:]...),
			Public:  cfg.Static.Public.Bytes(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kex: init: %w", err)
	}
	return &Handshake{
		role:     cfg.Role,
		hs:       hs,
		hello:    cfg.Hello,
		expected: cfg.ExpectedPeer,
		next:     wire.StageInit,
	}, nil
}

func (h *Handshake) Role() Role { return h.role }

// Expected returns the next stage the exchange will process, or StageNone
// once complete.
func (h *Handshake) Expected() wire.Stage {
	if h.result != nil {
		return wire.StageNone
	}
	return h.next
}

func (h *Handshake) Complete() bool { return h.result != nil }

// Result returns the derived keys, or ErrKeyExchangeNotComplete.
func (h *Handshake) Result() (*Result, error) {
	if h.result == nil {
		return nil, secerrors.ErrKeyExchangeNotComplete
	}
	return h.result, nil
}

// Peer returns the peer's proven static key and Hello once the stage that
// carries them has been read. ok is false before that.
func (h *Handshake) Peer() (key identity.PublicKey, hello Hello, ok bool) {
	if h.failed || !h.peerSeen {
		return identity.PublicKey{}, Hello{}, false
	}
	key, err := identity.PublicKeyFromBytes(h.hs.PeerStatic())
	if err != nil {
		return identity.PublicKey{}, Hello{}, false
	}
	return key, h.peerHello, true
}

// writes reports whether this side sends stage s.
func (h *Handshake) writes(s wire.Stage) bool {
	initiatorSends := s == wire.StageInit || s == wire.StageConfirm
	return initiatorSends == (h.role == Initiator)
}

// WriteMessage produces the next outbound handshake message.
func (h *Handshake) WriteMessage() (wire.Stage, []byte, error) {
	stage := h.next
	if err := h.checkTurn(stage, true); err != nil {
		return 0, nil, err
	}
	var payload []byte
	if stage != wire.StageInit {
		p, err := wire.Marshal(h.hello)
		if err != nil {
			return 0, nil, err
		}
		if len(p) > defaults.MaxHandshakePayload {
			return 0, nil, fmt.Errorf("kex: hello payload too large (%d)", len(p))
		}
		payload = p
	}
	msg, cs1, cs2, err := h.hs.WriteMessage(nil, payload)
	if err != nil {
		h.failed = true
		return 0, nil, fmt.Errorf("%w: write stage %d: %v", secerrors.ErrKeyExchange, stage, err)
	}
	h.next++
	if cs1 != nil {
		h.finish(cs1, cs2)
	}
	return stage, msg, nil
}

// ReadMessage consumes an inbound handshake message for stage.
func (h *Handshake) ReadMessage(stage wire.Stage, msg []byte) error {
	if err := h.checkTurn(stage, false); err != nil {
		return err
	}
	payload, cs1, cs2, err := h.hs.ReadMessage(nil, msg)
	if err != nil {
		h.failed = true
		return fmt.Errorf("%w: read stage %d: %v", secerrors.ErrKeyExchange, stage, err)
	}
	var hello Hello
	if stage != wire.StageInit {
		if len(payload) > defaults.MaxHandshakePayload {
			h.failed = true
			return fmt.Errorf("%w: hello payload too large", secerrors.ErrKeyExchange)
		}
		if err := wire.Unmarshal(payload, &hello); err != nil {
			h.failed = true
			return fmt.Errorf("%w: decode hello: %v", secerrors.ErrKeyExchange, err)
		}
		if err := h.checkPeer(); err != nil {
			h.failed = true
			return err
		}
		h.peerHello = hello
		h.peerSeen = true
	}
	h.next++
	if cs1 != nil {
		h.finish(cs1, cs2)
	}
	return nil
}

func (h *Handshake) checkTurn(stage wire.Stage, write bool) error {
	switch {
	case h.failed:
		return fmt.Errorf("%w: handshake already failed", secerrors.ErrInvalidInternalState)
	case h.result != nil:
		return fmt.Errorf("%w: handshake already complete", secerrors.ErrInvalidInternalState)
	case !stage.Valid() || stage != h.next:
		return fmt.Errorf("%w: got stage %d, expected %d", secerrors.ErrInvalidInternalState, stage, h.next)
	case h.writes(stage) != write:
		verb := "read"
		if write {
			verb = "write"
		}
		return fmt.Errorf("%w: %s may not %s stage %d", secerrors.ErrInvalidInternalState, h.role, verb, stage)
	}
	return nil
}

func (h *Handshake) checkPeer() error {
	peer, err := identity.PublicKeyFromBytes(h.hs.PeerStatic())
	if err != nil {
		return fmt.Errorf("%w: %v", secerrors.ErrKeyExchange, err)
	}
	if h.expected != nil && !h.expected.Equal(peer) {
		return fmt.Errorf("%w: %w: got %s", secerrors.ErrKeyExchange, identity.ErrKeyMismatch, peer.Fingerprint())
	}
	return nil
}

func (h *Handshake) finish(cs1, cs2 *noise.CipherState) {
	// cs1 protects initiator -> responder, cs2 the reverse.
	send, recv := cs1, cs2
	if h.role == Responder {
		send, recv = cs2, cs1
	}
	peer, _ := identity.PublicKeyFromBytes(h.hs.PeerStatic())
	h.result = &Result{
		Send:       send.Cipher(),
		Recv:       recv.Cipher(),
		PeerStatic: peer,
		PeerHello:  h.peerHello,
		Binding:    append([]byte(nil), h.hs.ChannelBinding()...),
	}
}
