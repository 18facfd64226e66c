// Package transport provides the frame-delivery primitive a secure channel
// endpoint runs over.
package transport

import (
	"context"
	"errors"
	"sync"
)

// Transport delivers whole binary frames. Implementations must allow one
// concurrent reader and any number of concurrent writers.
type Transport interface {
	// ReadBinary reads the next frame, honoring the context deadline and cancellation.
	ReadBinary(ctx context.Context) ([]byte, error)
	// WriteBinary writes one frame, honoring the context deadline and cancellation.
	WriteBinary(ctx context.Context, b []byte) error
	// Close closes the transport and unblocks pending reads.
	Close() error
}

// ErrClosed is returned by pipe operations after either side closed.
var ErrClosed = errors.New("transport: closed")

type pipeState struct {
	once sync.Once
	done chan struct{}
}

func (p *pipeState) close() { p.once.Do(func() { close(p.done) }) }

// PipeEnd is one side of an in-memory Pipe.
type PipeEnd struct {
	state *pipeState
	in    <-chan []byte
	out   chan<- []byte
}

// Pipe returns two connected in-memory transports with the given per
// direction buffer depth. Closing either end closes both.
func Pipe(buffer int) (*PipeEnd, *PipeEnd) {
	if buffer < 0 {
		buffer = 0
	}
	st := &pipeState{done: make(chan struct{})}
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	return &PipeEnd{state: st, in: ba, out: ab}, &PipeEnd{state: st, in: ab, out: ba}
}

func (p *PipeEnd) ReadBinary(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-p.state.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PipeEnd) WriteBinary(ctx context.Context, b []byte) error {
	cp := append([]byte(nil), b...)
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- cp:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEnd) Close() error {
	p.state.close()
	return nil
}
