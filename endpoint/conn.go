package endpoint

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/floegence/sechannel/localinfo"
)

// Addr is a channel endpoint address.
type Addr string

func (a Addr) Network() string { return "sechannel" }
func (a Addr) String() string  { return string(a) }

// Conn is a net.Conn over a Handle. Writes larger than the payload limit are
// split into several records; record boundaries are not preserved.
type Conn struct {
	h *Handle

	rmu  sync.Mutex
	rbuf []byte

	wmu sync.Mutex

	dmu           sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

var _ net.Conn = (*Conn)(nil)

func newConn(h *Handle) *Conn { return &Conn{h: h} }

func (c *Conn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for len(c.rbuf) == 0 {
		ctx, cancel := c.deadlineCtx(true)
		tp, err := c.h.Receive(ctx)
		cancel()
		if err != nil {
			return 0, streamErr(err)
		}
		payload, err := localinfo.ExpectType(tp, localinfo.KindIdentity)
		if err != nil {
			return 0, err
		}
		c.rbuf = payload
	}
	n := copy(p, c.rbuf)
	c.rbuf = c.rbuf[n:]
	return n, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	max := c.h.w.e.opts.maxPayload
	written := 0
	for written < len(p) {
		end := written + max
		if end > len(p) {
			end = len(p)
		}
		ctx, cancel := c.deadlineCtx(false)
		err := c.h.Send(ctx, p[written:end])
		cancel()
		if err != nil {
			return written, streamErr(err)
		}
		written = end
	}
	return written, nil
}

func (c *Conn) Close() error { return c.h.Close() }

func (c *Conn) LocalAddr() net.Addr  { return Addr(c.h.w.e.address) }
func (c *Conn) RemoteAddr() net.Addr { return Addr(c.h.PeerAddress()) }

func (c *Conn) SetDeadline(t time.Time) error {
	c.dmu.Lock()
	c.readDeadline, c.writeDeadline = t, t
	c.dmu.Unlock()
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.dmu.Lock()
	c.readDeadline = t
	c.dmu.Unlock()
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.dmu.Lock()
	c.writeDeadline = t
	c.dmu.Unlock()
	return nil
}

func (c *Conn) deadlineCtx(read bool) (context.Context, context.CancelFunc) {
	c.dmu.Lock()
	d := c.writeDeadline
	if read {
		d = c.readDeadline
	}
	c.dmu.Unlock()
	if d.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), d)
}

// streamErr maps session errors onto the conventions net.Conn users expect.
func streamErr(err error) error {
	switch {
	case errors.Is(err, ErrSessionClosed):
		return io.EOF
	case errors.Is(err, context.DeadlineExceeded):
		return os.ErrDeadlineExceeded
	default:
		return err
	}
}
