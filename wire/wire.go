// Package wire defines the CBOR message exchanged between the two ends of a
// secure channel. The same message type carries the three handshake stages
// and post-handshake application records.
package wire

import (
	"errors"
	"fmt"

	"github.com/floegence/sechannel/internal/bin"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Version is the only wire version this package speaks.
const Version uint8 = 1

// TagSize is the AEAD tag length (ChaCha20-Poly1305).
const TagSize = 16

// MaxMessageSize bounds an encoded message.
const MaxMessageSize = 1<<20 + 1024

// ErrMalformed is returned by Decode for messages that cannot be interpreted.
var ErrMalformed = errors.New("wire: malformed message")

type Kind uint8

const (
	KindHandshake   Kind = 1
	KindApplication Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindApplication:
		return "application"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Stage numbers the handshake messages in the order they are exchanged.
type Stage uint8

const (
	StageNone     Stage = 0
	StageInit     Stage = 1 // initiator ephemeral
	StageResponse Stage = 2 // responder ephemeral, static, proof
	StageConfirm  Stage = 3 // initiator static, proof
)

func (s Stage) Valid() bool { return s >= StageInit && s <= StageConfirm }

// Flags qualify an application record.
type Flags uint8

const (
	FlagData  Flags = 1 << 0
	FlagPing  Flags = 1 << 1
	FlagClose Flags = 1 << 2

	knownFlags = FlagData | FlagPing | FlagClose
)

// Message is the unit exchanged between two sessions.
//
// For handshake stages 2 and 3, Payload holds the Noise message without its
// final 16 bytes and Tag holds those bytes. For application records, Payload
// is the ciphertext without its AEAD tag.
type Message struct {
	Version   uint8     `cbor:"1,keyasint"`
	Kind      Kind      `cbor:"2,keyasint"`
	Stage     Stage     `cbor:"3,keyasint,omitempty"`
	SessionID uuid.UUID `cbor:"4,keyasint"`
	Nonce     uint64    `cbor:"5,keyasint,omitempty"`
	Flags     Flags     `cbor:"6,keyasint,omitempty"`
	Payload   []byte    `cbor:"7,keyasint,omitempty"`
	Tag       []byte    `cbor:"8,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v with the package's deterministic CBOR settings.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes b into v, rejecting duplicate map keys.
func Unmarshal(b []byte, v any) error { return decMode.Unmarshal(b, v) }

// Encode validates m and returns its CBOR encoding.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(m)
}

// Decode parses and validates a message.
func Decode(b []byte) (*Message, error) {
	if len(b) == 0 || len(b) > MaxMessageSize {
		return nil, fmt.Errorf("%w: size %d", ErrMalformed, len(b))
	}
	var m Message
	if err := decMode.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the structural rules of a message. It never touches
// cryptographic content.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil", ErrMalformed)
	}
	if m.Version != Version {
		return fmt.Errorf("%w: version %d", ErrMalformed, m.Version)
	}
	if m.SessionID == uuid.Nil {
		return fmt.Errorf("%w: missing session id", ErrMalformed)
	}
	switch m.Kind {
	case KindHandshake:
		if !m.Stage.Valid() {
			return fmt.Errorf("%w: unknown handshake stage %d", ErrMalformed, m.Stage)
		}
		if m.Flags != 0 || m.Nonce != 0 {
			return fmt.Errorf("%w: handshake carries record fields", ErrMalformed)
		}
		if m.Stage == StageInit && len(m.Tag) != 0 {
			return fmt.Errorf("%w: stage 1 carries a tag", ErrMalformed)
		}
		if m.Stage != StageInit && len(m.Tag) != TagSize {
			return fmt.Errorf("%w: stage %d tag size %d", ErrMalformed, m.Stage, len(m.Tag))
		}
	case KindApplication:
		if m.Stage != StageNone {
			return fmt.Errorf("%w: application record carries stage %d", ErrMalformed, m.Stage)
		}
		if m.Flags == 0 || m.Flags&^knownFlags != 0 {
			return fmt.Errorf("%w: flags %#x", ErrMalformed, uint8(m.Flags))
		}
		if len(m.Tag) != TagSize {
			return fmt.Errorf("%w: tag size %d", ErrMalformed, len(m.Tag))
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformed, m.Kind)
	}
	return nil
}

// SplitTag separates the trailing AEAD tag from sealed.
func SplitTag(sealed []byte) (body []byte, tag []byte, err error) {
	if len(sealed) < TagSize {
		return nil, nil, fmt.Errorf("%w: sealed input shorter than tag", ErrMalformed)
	}
	n := len(sealed) - TagSize
	return sealed[:n:n], sealed[n:], nil
}

// Sealed rejoins Payload and Tag into the form the AEAD expects.
func (m *Message) Sealed() []byte {
	out := make([]byte, 0, len(m.Payload)+len(m.Tag))
	out = append(out, m.Payload...)
	return append(out, m.Tag...)
}

const adLabel = "sechannel/record/v1"

// AssociatedData binds an application record's header to its ciphertext.
func AssociatedData(sessionID uuid.UUID, kind Kind, flags Flags, nonce uint64) []byte {
	ad := make([]byte, 0, len(adLabel)+2+16+2+8)
	ad = bin.AppendLV(ad, []byte(adLabel))
	ad = append(ad, sessionID[:]...)
	ad = append(ad, byte(kind), byte(flags))
	return bin.AppendU64BE(ad, nonce)
}
