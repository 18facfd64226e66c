package endpoint

import "errors"

var (
	ErrMissingTransport = errors.New("missing transport")
	ErrMissingIdentity  = errors.New("missing static identity")
	ErrInvalidAddress   = errors.New("invalid endpoint address")
	ErrEndpointClosed   = errors.New("endpoint is closed")
	ErrSessionClosed    = errors.New("session is closed")
	ErrTooManySessions  = errors.New("too many sessions")
	ErrReceiveOverflow  = errors.New("receive buffer overflow")
)
