package endpoint

import (
	"context"
	"net"
	"sync"

	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/localinfo"
	"github.com/floegence/sechannel/secerrors"
	"github.com/google/uuid"
)

// Handle is the caller's view of one Established channel. It is safe for
// concurrent use; every operation is carried out by the session's worker.
type Handle struct {
	w *worker

	connOnce sync.Once
	conn     *Conn
}

func newHandle(w *worker) *Handle { return &Handle{w: w} }

func (h *Handle) ID() uuid.UUID { return h.w.id }

// Peer returns the authenticated static key of the other side.
func (h *Handle) Peer() identity.PublicKey { return h.w.peer }

// PeerAddress returns the address the peer announced and proved during the handshake.
func (h *Handle) PeerAddress() string { return h.w.peerAddress }

// Info describes the channel itself.
func (h *Handle) Info() localinfo.ChannelInfo { return h.w.info }

// Done is closed when the session has ended.
func (h *Handle) Done() <-chan struct{} { return h.w.done }

// Err returns why the session ended, or nil while it is live or after a
// local Close.
func (h *Handle) Err() error {
	select {
	case <-h.w.done:
		return h.w.err
	default:
		return nil
	}
}

// Send encrypts plaintext as the next record and writes it.
func (h *Handle) Send(ctx context.Context, plaintext []byte) error {
	err := h.w.call(ctx, command{kind: cmdSend, ctx: ctx, payload: plaintext})
	if err != nil {
		return secerrors.WrapClassified(secerrors.StageTransport, err, secerrors.CodeTransportFailed)
	}
	return nil
}

// Receive returns the next authenticated plaintext, bound to the peer's
// identity. Records already received are still returned after the peer
// closes.
func (h *Handle) Receive(ctx context.Context) (localinfo.TaggedPlaintext, error) {
	select {
	case tp := <-h.w.recv:
		return tp, nil
	case <-h.w.done:
		if tp, ok := h.w.popLeftover(); ok {
			return tp, nil
		}
		return localinfo.TaggedPlaintext{}, h.w.closedErr()
	case <-ctx.Done():
		return localinfo.TaggedPlaintext{}, secerrors.WrapClassified(secerrors.StageTransport, ctx.Err(), secerrors.CodeCanceled)
	}
}

// Close sends an authenticated close to the peer and ends the session.
// Closing an already finished session is a no-op.
func (h *Handle) Close() error {
	err := h.w.call(context.Background(), command{kind: cmdClose})
	if err != nil && !isClosed(h.w.done) {
		return err
	}
	<-h.w.done
	return nil
}

// Conn adapts the channel to a byte stream.
func (h *Handle) Conn() net.Conn {
	h.connOnce.Do(func() { h.conn = newConn(h) })
	return h.conn
}

// call hands cmd to the worker and waits for its reply.
func (w *worker) call(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case w.cmds <- cmd:
		return <-cmd.reply
	case <-w.done:
		return w.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}
