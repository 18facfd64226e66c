// Package protocol defines the text handshake an endpoint sends when it
// attaches to a hub.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/floegence/sechannel/relay"
	"github.com/google/uuid"
)

// AttachVersion is the JSON attach envelope version.
const AttachVersion = 1

// Attach is the first websocket message on a hub connection. Everything
// after it is binary relay envelopes.
type Attach struct {
	V                  int    `json:"v"`
	Address            string `json:"address"`
	EndpointInstanceID string `json:"endpoint_instance_id"`
}

// NewAttach returns an attach message for address with a fresh instance id.
func NewAttach(address string) Attach {
	return Attach{V: AttachVersion, Address: address, EndpointInstanceID: uuid.NewString()}
}

func (a Attach) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// AttachConstraints caps attach payload sizes.
type AttachConstraints struct {
	MaxAttachBytes int // Maximum total attach JSON bytes.
}

func DefaultAttachConstraints() AttachConstraints {
	return AttachConstraints{MaxAttachBytes: 8 * 1024}
}

var (
	ErrAttachTooLarge       = errors.New("attach too large")
	ErrAttachInvalidJSON    = errors.New("attach invalid json")
	ErrAttachInvalidVersion = errors.New("attach invalid version")
	ErrAttachMissingAddress = errors.New("attach missing address")
	ErrAttachInvalidAddress = errors.New("attach invalid address")
	ErrAttachMissingEID     = errors.New("attach missing endpoint_instance_id")
	ErrAttachInvalidEID     = errors.New("attach invalid endpoint_instance_id")
)

// ParseAttach validates and parses an attach message using DefaultAttachConstraints.
func ParseAttach(b []byte) (*Attach, error) {
	return ParseAttachWithConstraints(b, DefaultAttachConstraints())
}

// ParseAttachWithConstraints validates and parses an attach message. A zero
// MaxAttachBytes falls back to the default.
func ParseAttachWithConstraints(b []byte, c AttachConstraints) (*Attach, error) {
	if c.MaxAttachBytes == 0 {
		c.MaxAttachBytes = DefaultAttachConstraints().MaxAttachBytes
	}
	if c.MaxAttachBytes > 0 && len(b) > c.MaxAttachBytes {
		return nil, ErrAttachTooLarge
	}
	var a Attach
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, ErrAttachInvalidJSON
	}
	if a.V != AttachVersion {
		return nil, ErrAttachInvalidVersion
	}
	if strings.TrimSpace(a.Address) == "" {
		return nil, ErrAttachMissingAddress
	}
	if !relay.ValidAddress(a.Address) {
		return nil, fmt.Errorf("address %q: %w", a.Address, ErrAttachInvalidAddress)
	}
	if a.EndpointInstanceID == "" {
		return nil, ErrAttachMissingEID
	}
	if id, err := uuid.Parse(a.EndpointInstanceID); err != nil || id == uuid.Nil {
		return nil, ErrAttachInvalidEID
	}
	return &a, nil
}
