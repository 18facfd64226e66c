// Package cborframe writes and reads length-prefixed CBOR values on a byte
// stream.
package cborframe

import (
	"errors"
	"io"

	"github.com/floegence/sechannel/internal/bin"
	"github.com/floegence/sechannel/wire"
)

var ErrFrameTooLarge = errors.New("cbor frame too large")

// DefaultMaxFrameBytes is the recommended maximum size for a single frame.
//
// Do not call ReadFrame with maxLen<=0 on untrusted inputs, because it disables size
// checks and may lead to large allocations.
const DefaultMaxFrameBytes = 1 << 20

// WriteFrame encodes v with the deterministic wire encoding and writes it
// behind a 4-byte big-endian length.
func WriteFrame(w io.Writer, v any) error {
	b, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 4, 4+len(b))
	bin.PutU32BE(buf, uint32(len(b)))
	_, err = w.Write(append(buf, b...))
	return err
}

// ReadFrame reads one length-prefixed frame of at most maxLen bytes.
func ReadFrame(r io.Reader, maxLen int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := bin.U32BE(hdr[:])
	if maxLen > 0 && uint64(n) > uint64(maxLen) {
		return nil, ErrFrameTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadValue reads one frame and decodes it into v.
func ReadValue(r io.Reader, maxLen int, v any) error {
	b, err := ReadFrame(r, maxLen)
	if err != nil {
		return err
	}
	return wire.Unmarshal(b, v)
}
