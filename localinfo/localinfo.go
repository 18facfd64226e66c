// Package localinfo attaches per-message metadata to decrypted plaintext so
// downstream handlers know which channel and which authenticated peer a
// payload came from.
//
// LocalInfo is a closed set: only this package can add variants, and a
// handler that asks for the wrong variant gets ErrInvalidLocalInfoType
// instead of a silently coerced value.
package localinfo

import (
	"fmt"

	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/secerrors"
	"github.com/google/uuid"
)

type Kind string

const (
	KindIdentity Kind = "identity"
	KindChannel  Kind = "channel"
)

// LocalInfo is implemented by IdentityInfo and ChannelInfo only.
type LocalInfo interface {
	Kind() Kind
	localInfo()
}

// IdentityInfo is bound to every application payload a channel delivers.
type IdentityInfo struct {
	SessionID   uuid.UUID
	Peer        identity.PublicKey
	PeerAddress string
	// Binding is the handshake transcript hash of the delivering channel.
	Binding []byte
}

func (IdentityInfo) Kind() Kind { return KindIdentity }
func (IdentityInfo) localInfo() {}

// ChannelInfo describes a channel rather than a message. Stream adapters
// attach it to data read through net.Conn.
type ChannelInfo struct {
	SessionID uuid.UUID
	Role      string
	Binding   []byte
}

func (ChannelInfo) Kind() Kind { return KindChannel }
func (ChannelInfo) localInfo() {}

// TaggedPlaintext is a decrypted payload plus exactly one LocalInfo.
type TaggedPlaintext struct {
	Payload []byte
	Info    LocalInfo
}

// Bind wraps payload with info.
func Bind(payload []byte, info LocalInfo) TaggedPlaintext {
	return TaggedPlaintext{Payload: payload, Info: info}
}

// ExpectType returns the payload if the attached info has the given kind.
func ExpectType(tp TaggedPlaintext, kind Kind) ([]byte, error) {
	if err := check(tp.Info, kind); err != nil {
		return nil, err
	}
	return tp.Payload, nil
}

// As extracts the typed info and payload.
func As[T LocalInfo](tp TaggedPlaintext) (T, []byte, error) {
	var zero T
	if tp.Info == nil {
		return zero, nil, fmt.Errorf("%w: no local info attached", secerrors.ErrInvalidLocalInfoType)
	}
	v, ok := tp.Info.(T)
	if !ok {
		return zero, nil, fmt.Errorf("%w: want %T, got %s", secerrors.ErrInvalidLocalInfoType, zero, tp.Info.Kind())
	}
	return v, tp.Payload, nil
}

// Identity is shorthand for As[IdentityInfo].
func Identity(tp TaggedPlaintext) (IdentityInfo, []byte, error) {
	return As[IdentityInfo](tp)
}

func check(info LocalInfo, kind Kind) error {
	if info == nil {
		return fmt.Errorf("%w: no local info attached", secerrors.ErrInvalidLocalInfoType)
	}
	switch info.Kind() {
	case KindIdentity, KindChannel:
	default:
		return fmt.Errorf("%w: unknown kind %q", secerrors.ErrInvalidLocalInfoType, info.Kind())
	}
	if info.Kind() != kind {
		return fmt.Errorf("%w: want %s, got %s", secerrors.ErrInvalidLocalInfoType, kind, info.Kind())
	}
	return nil
}
