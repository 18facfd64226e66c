// Package relay defines the envelope that carries channel messages through
// the hub, and the checks applied to anything that transited it.
//
// The hub is untrusted. It may drop, reorder, duplicate or rewrite
// envelopes; Validate only establishes that an envelope is well-formed and
// plausibly addressed. Authenticity always comes from the channel's AEAD.
package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/floegence/sechannel/secerrors"
	"github.com/floegence/sechannel/wire"
	"github.com/google/uuid"
)

const EnvelopeVersion uint8 = 1

// MaxAddressLen bounds origin and destination addresses.
const MaxAddressLen = 255

// MaxEnvelopeSize bounds an encoded envelope carrying a maximum-size message.
const MaxEnvelopeSize = wire.MaxMessageSize + 2*MaxAddressLen + 64

// Envelope is one routed frame. Origin is written by the hub from the
// sender's attached address and is never trusted from the sender itself.
type Envelope struct {
	Version     uint8  `cbor:"1,keyasint"`
	Origin      string `cbor:"2,keyasint,omitempty"`
	Destination string `cbor:"3,keyasint"`
	Payload     []byte `cbor:"4,keyasint"`
}

// Encode returns the CBOR form of env.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("relay: nil envelope")
	}
	return wire.Marshal(env)
}

// Decode parses b. Any failure is reported as ErrInvalidHubResponse.
func Decode(b []byte) (*Envelope, error) {
	if len(b) == 0 || len(b) > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: envelope size %d", secerrors.ErrInvalidHubResponse, len(b))
	}
	var env Envelope
	if err := wire.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", secerrors.ErrInvalidHubResponse, err)
	}
	return &env, nil
}

// Expect describes what the receiving side asked for.
type Expect struct {
	// Local is our own address; the destination must equal it.
	Local string
	// Origin, when set, must equal the envelope origin.
	Origin string
	// SessionID, when set, must equal the carried message's session id.
	SessionID uuid.UUID
	// Kind and Stage, when non-zero, must match the carried message.
	Kind  wire.Kind
	Stage wire.Stage
}

// Validate checks env against want and returns the decoded channel message.
// Any discrepancy yields ErrInvalidHubResponse; the message is still
// unauthenticated.
func Validate(env *Envelope, want Expect) (*wire.Message, error) {
	if env == nil {
		return nil, invalid("missing envelope")
	}
	if env.Version != EnvelopeVersion {
		return nil, invalid("envelope version %d", env.Version)
	}
	if !ValidAddress(env.Origin) {
		return nil, invalid("missing or invalid origin")
	}
	if !ValidAddress(env.Destination) {
		return nil, invalid("missing or invalid destination")
	}
	if want.Local != "" && env.Destination != want.Local {
		return nil, invalid("destination %q, expected %q", env.Destination, want.Local)
	}
	if want.Origin != "" && env.Origin != want.Origin {
		return nil, invalid("origin %q, expected %q", env.Origin, want.Origin)
	}
	msg, err := wire.Decode(env.Payload)
	if err != nil {
		return nil, invalid("payload: %v", err)
	}
	if want.SessionID != uuid.Nil && msg.SessionID != want.SessionID {
		return nil, invalid("session %s, expected %s", msg.SessionID, want.SessionID)
	}
	if want.Kind != 0 && msg.Kind != want.Kind {
		return nil, invalid("kind %s, expected %s", msg.Kind, want.Kind)
	}
	if want.Stage != wire.StageNone && msg.Stage != want.Stage {
		return nil, invalid("stage %d, expected %d", msg.Stage, want.Stage)
	}
	return msg, nil
}

// WrapFrom builds an outbound envelope for msg with the sender's own address
// as origin. A hub overwrites it; on a direct link it is taken as given.
func WrapFrom(origin, destination string, msg *wire.Message) ([]byte, error) {
	payload, err := wire.Encode(msg)
	if err != nil {
		return nil, err
	}
	return Encode(&Envelope{Version: EnvelopeVersion, Origin: origin, Destination: destination, Payload: payload})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", secerrors.ErrInvalidHubResponse, fmt.Sprintf(format, args...))
}

// ValidAddress reports whether a is usable as an endpoint address.
func ValidAddress(a string) bool {
	return a != "" && len(a) <= MaxAddressLen && strings.TrimSpace(a) == a
}

// Route is the path a channel takes to its peer.
type Route struct {
	// Relays lists intermediate hops, nearest first. Any hop makes the
	// route untrusted.
	Relays      []string
	Destination string
}

// Direct returns a route with no intermediaries.
func Direct(destination string) Route { return Route{Destination: destination} }

// ViaHub returns a route through a single untrusted hub.
func ViaHub(hub string, destination string) Route {
	return Route{Relays: []string{hub}, Destination: destination}
}

// Untrusted reports whether any hop can tamper with traffic.
func (r Route) Untrusted() bool { return len(r.Relays) > 0 }

func (r Route) Validate() error {
	if !ValidAddress(r.Destination) {
		return fmt.Errorf("relay: invalid destination %q", r.Destination)
	}
	for _, h := range r.Relays {
		if strings.TrimSpace(h) == "" {
			return errors.New("relay: empty relay hop")
		}
	}
	return nil
}

func (r Route) String() string {
	if len(r.Relays) == 0 {
		return r.Destination
	}
	return strings.Join(r.Relays, " -> ") + " -> " + r.Destination
}
