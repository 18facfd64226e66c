// Package streamhello names the purpose of a multiplexed stream with a small
// greeting written before any stream data.
package streamhello

import (
	"errors"
	"io"

	"github.com/floegence/sechannel/framing/cborframe"
)

// DefaultMaxHelloBytes bounds a greeting read from an untrusted peer.
const DefaultMaxHelloBytes = 8 * 1024

var ErrBadStreamHello = errors.New("bad stream hello")

type StreamHello struct {
	V    int    `cbor:"1,keyasint"`
	Kind string `cbor:"2,keyasint"`
}

// WriteStreamHello sends the greeting for a stream of the given kind.
func WriteStreamHello(w io.Writer, kind string) error {
	return cborframe.WriteFrame(w, StreamHello{V: 1, Kind: kind})
}

// ReadStreamHello reads and validates the stream greeting.
func ReadStreamHello(r io.Reader, maxLen int) (StreamHello, error) {
	var h StreamHello
	if err := cborframe.ReadValue(r, maxLen, &h); err != nil {
		if errors.Is(err, cborframe.ErrFrameTooLarge) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return StreamHello{}, err
		}
		return StreamHello{}, ErrBadStreamHello
	}
	if h.V != 1 || h.Kind == "" {
		return StreamHello{}, ErrBadStreamHello
	}
	return h, nil
}
