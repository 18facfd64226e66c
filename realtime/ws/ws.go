// Package ws wraps gorilla/websocket with context-aware reads and writes.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a message-oriented websocket connection.
type Conn struct {
	c *websocket.Conn
}

// UpgraderOptions exposes a small set of websocket upgrader controls.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	// ReadLimit caps a single inbound message; zero leaves gorilla's default.
	ReadLimit int64
}

// Upgrade upgrades an HTTP request to a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if opts.ReadLimit > 0 {
		c.SetReadLimit(opts.ReadLimit)
	}
	return &Conn{c: c}, nil
}

type DialOptions struct {
	Header    http.Header
	Dialer    *websocket.Dialer
	ReadLimit int64
}

// Dial opens a websocket connection. The context deadline also bounds the
// opening handshake.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Conn, *http.Response, error) {
	d := websocket.Dialer{}
	if opts.Dialer != nil {
		d = *opts.Dialer
	}
	if deadline, ok := ctx.Deadline(); ok {
		if dl := time.Until(deadline); d.HandshakeTimeout == 0 || d.HandshakeTimeout > dl {
			d.HandshakeTimeout = dl
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	if opts.ReadLimit > 0 {
		c.SetReadLimit(opts.ReadLimit)
	}
	return &Conn{c: c}, resp, nil
}

// ReadMessage reads one message, honoring ctx deadline and cancellation.
func (c *Conn) ReadMessage(ctx context.Context) (mt int, b []byte, err error) {
	err = withDeadline(ctx, c.c.SetReadDeadline, func() error {
		var rerr error
		mt, b, rerr = c.c.ReadMessage()
		return rerr
	})
	if err != nil {
		return 0, nil, err
	}
	return mt, b, nil
}

// WriteMessage writes one message, honoring ctx deadline and cancellation.
func (c *Conn) WriteMessage(ctx context.Context, messageType int, data []byte) error {
	return withDeadline(ctx, c.c.SetWriteDeadline, func() error {
		return c.c.WriteMessage(messageType, data)
	})
}

// ReadBinary returns the next binary message. Text messages are a protocol error.
func (c *Conn) ReadBinary(ctx context.Context) ([]byte, error) {
	for {
		mt, b, err := c.ReadMessage(ctx)
		if err != nil {
			return nil, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return b, nil
		case websocket.TextMessage:
			return nil, ErrUnexpectedText
		}
	}
}

// WriteBinary writes b as a single binary message.
func (c *Conn) WriteBinary(ctx context.Context, b []byte) error {
	return c.WriteMessage(ctx, websocket.BinaryMessage, b)
}

// ErrUnexpectedText is returned by ReadBinary for text frames.
var ErrUnexpectedText = errors.New("ws: unexpected text message")

func (c *Conn) Close() error {
	return c.c.Close()
}

// CloseWithStatus sends a close control frame before closing.
func (c *Conn) CloseWithStatus(code int, text string) error {
	_ = c.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(2*time.Second))
	return c.c.Close()
}

// Underlying exposes the raw gorilla/websocket connection.
func (c *Conn) Underlying() *websocket.Conn {
	return c.c
}

// withDeadline maps ctx onto a socket deadline around op. gorilla/websocket
// only unblocks on deadlines, so cancellation forces the deadline to now and
// the resulting timeout is reported as ctx.Err().
func withDeadline(ctx context.Context, set func(time.Time) error, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	_ = set(deadline) // zero clears it
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if active.Load() {
				_ = set(time.Now())
			}
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	err := op()
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		// The socket deadline can fire just before the context timer.
		if hasDeadline && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return err
}
