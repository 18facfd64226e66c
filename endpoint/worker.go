package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/floegence/sechannel/channel"
	"github.com/floegence/sechannel/crypto/kex"
	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/internal/contextutil"
	"github.com/floegence/sechannel/internal/defaults"
	"github.com/floegence/sechannel/localinfo"
	"github.com/floegence/sechannel/observability"
	"github.com/floegence/sechannel/relay"
	"github.com/floegence/sechannel/secerrors"
	"github.com/floegence/sechannel/wire"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type cmdKind uint8

const (
	cmdSend cmdKind = iota + 1
	cmdClose
	cmdAbort
)

type command struct {
	kind    cmdKind
	ctx     context.Context
	payload []byte
	err     error
	reply   chan error
}

// worker owns one channel.Session. Only run and the methods it calls touch
// sess.
type worker struct {
	e           *Endpoint
	sess        *channel.Session
	id          uuid.UUID
	peerAddress string
	strict      bool
	log         *logrus.Entry

	inbox    chan *relay.Envelope
	cmds     chan command
	recv     chan localinfo.TaggedPlaintext
	overflow chan struct{} // closed by the read loop when inbox is full
	dropping bool          // read loop only

	established chan struct{}
	peer        identity.PublicKey    // set before established is closed
	info        localinfo.ChannelInfo // set before established is closed

	done chan struct{}
	err  error // set before done is closed

	mu       sync.Mutex
	leftover []localinfo.TaggedPlaintext

	started     time.Time
	deadline    time.Time
	lastInbound time.Time
	pending     []localinfo.TaggedPlaintext
	step        context.Context
	stepCancel  context.CancelFunc
	keepalive   *time.Ticker
}

func newWorker(e *Endpoint, sess *channel.Session, peerAddress string, strict bool) *worker {
	now := time.Now()
	w := &worker{
		e:           e,
		sess:        sess,
		id:          sess.ID(),
		peerAddress: peerAddress,
		strict:      strict,
		inbox:       make(chan *relay.Envelope, e.opts.inboxSize),
		cmds:        make(chan command),
		recv:        make(chan localinfo.TaggedPlaintext),
		overflow:    make(chan struct{}),
		established: make(chan struct{}),
		done:        make(chan struct{}),
		started:     now,
		lastInbound: now,
	}
	if e.opts.handshakeTimeout > 0 {
		w.deadline = now.Add(e.opts.handshakeTimeout)
	}
	w.log = e.log.WithFields(logrus.Fields{
		"session": w.id.String(),
		"peer":    peerAddress,
		"role":    sess.Role().String(),
	})
	return w
}

// run drives the session until it reaches a terminal state. first is the
// stage 1 message that created a responder.
func (w *worker) run(first *wire.Message) {
	defer w.finish()
	w.armStep()

	if w.sess.Role() == kex.Initiator {
		msg, err := w.sess.Start()
		if err != nil {
			return
		}
		if !w.send(msg) {
			return
		}
	} else if first != nil {
		w.handle(first)
	}

	for !w.sess.State().Terminal() {
		var out chan localinfo.TaggedPlaintext
		var next localinfo.TaggedPlaintext
		if len(w.pending) > 0 {
			out = w.recv
			next = w.pending[0]
		}

		select {
		case env := <-w.inbox:
			w.receive(env)
		case out <- next:
			w.pending[0] = localinfo.TaggedPlaintext{}
			w.pending = w.pending[1:]
		case cmd := <-w.cmds:
			w.command(cmd)
		case <-w.stepC():
			if err := w.sess.Timeout(); err != nil {
				w.log.WithError(err).Warn("handshake step timed out")
			}
		case <-w.tickC():
			w.tick()
		case <-w.e.closing:
			w.closeLocal()
		case <-w.overflow:
			w.overflowed()
		case <-w.e.down:
			_ = w.sess.Fail(secerrors.Wrap(secerrors.StageTransport, secerrors.CodeTransportFailed, w.e.linkErr))
		}
	}
}

func (w *worker) stepC() <-chan struct{} {
	if w.step == nil {
		return nil
	}
	return w.step.Done()
}

func (w *worker) tickC() <-chan time.Time {
	if w.keepalive == nil {
		return nil
	}
	return w.keepalive.C
}

// armStep restarts the wait for the next handshake message. The step ends
// at the earlier of the step timeout and the overall handshake deadline.
func (w *worker) armStep() {
	w.stopStep()
	if w.e.opts.stepTimeout <= 0 && w.deadline.IsZero() {
		return
	}
	w.step, w.stepCancel = contextutil.WithStep(context.Background(), w.e.opts.stepTimeout, w.deadline)
}

func (w *worker) stopStep() {
	if w.stepCancel != nil {
		w.stepCancel()
	}
	w.step, w.stepCancel = nil, nil
}

// receive checks an inbound envelope against what this session is waiting
// for and hands it to the state machine. On an untrusted link a mismatch is
// blamed on the hub.
func (w *worker) receive(env *relay.Envelope) {
	want := relay.Expect{Local: w.e.address, SessionID: w.id}
	if w.strict {
		want.Origin = w.peerAddress
		want.Kind, want.Stage = w.sess.Awaiting()
	}
	msg, err := relay.Validate(env, want)
	if err != nil {
		w.e.opts.obs.Record(observability.DirectionRecv, observability.RecordInvalidRelay)
		if w.sess.State() != channel.Established {
			w.log.WithError(err).Warn("invalid hub response during handshake")
			_ = w.sess.Fail(secerrors.Wrap(secerrors.StageRelay, secerrors.CodeInvalidHubResponse, err))
			return
		}
		w.log.WithError(err).Debug("dropping invalid relayed frame")
		return
	}
	w.handle(msg)
}

func (w *worker) handle(msg *wire.Message) {
	res, err := w.sess.Handle(msg)
	if err != nil {
		switch {
		case errors.Is(err, secerrors.ErrInvalidNonce):
			w.e.opts.obs.Record(observability.DirectionRecv, observability.RecordReplay)
		case errors.Is(err, secerrors.ErrRecordAuth):
			w.e.opts.obs.Record(observability.DirectionRecv, observability.RecordAuthFailed)
		}
		if w.sess.State().Terminal() {
			w.log.WithError(err).Warn("session failed")
		} else {
			w.log.WithError(err).Debug("dropping inbound message")
		}
		return
	}
	w.lastInbound = time.Now()

	if res.Reply != nil && !w.send(res.Reply) {
		return
	}
	switch {
	case res.Established:
		w.onEstablished()
	case msg.Kind == wire.KindHandshake:
		w.armStep()
	}
	if res.Delivered != nil {
		if len(w.pending) >= w.e.opts.recvBuffer {
			w.overflowed()
			return
		}
		w.e.opts.obs.Record(observability.DirectionRecv, observability.RecordOK)
		w.pending = append(w.pending, *res.Delivered)
	}
	if res.Closed {
		w.log.Info("channel closed by peer")
	}
}

func (w *worker) onEstablished() {
	w.stopStep()
	w.peer, _ = w.sess.Peer()
	w.info = w.sess.Info()
	close(w.established)
	w.e.opts.obs.Handshake(observability.HandshakeOK, time.Since(w.started))
	w.log.WithField("fingerprint", w.peer.Fingerprint()).Info("channel established")

	if interval := defaults.KeepaliveInterval(w.e.opts.idleTimeout); interval > 0 {
		w.keepalive = time.NewTicker(interval)
	}
	if w.sess.Role() == kex.Responder && !w.e.offer(newHandle(w)) {
		w.log.Warn("accept backlog full, closing inbound channel")
		w.closeLocal()
	}
}

func (w *worker) tick() {
	if idle := w.e.opts.idleTimeout; idle > 0 && time.Since(w.lastInbound) > idle {
		_ = w.sess.Fail(fmt.Errorf("channel idle for %s: %w", idle, context.DeadlineExceeded))
		w.log.Warn("channel idle timeout")
		return
	}
	msg, err := w.sess.Ping()
	if err != nil {
		return
	}
	w.send(msg)
}

func (w *worker) command(cmd command) {
	switch cmd.kind {
	case cmdSend:
		cmd.reply <- w.sendData(cmd.ctx, cmd.payload)
	case cmdClose:
		w.closeLocal()
		cmd.reply <- nil
	case cmdAbort:
		w.abandon(cmd.err)
		cmd.reply <- nil
	}
}

func (w *worker) sendData(ctx context.Context, payload []byte) error {
	msg, err := w.sess.Encrypt(payload)
	if err != nil {
		return err
	}
	if err := w.write(ctx, msg); err != nil {
		if ctx.Err() == nil {
			_ = w.sess.Fail(secerrors.Wrap(secerrors.StageTransport, secerrors.CodeTransportFailed, err))
		}
		return err
	}
	w.e.opts.obs.Record(observability.DirectionSend, observability.RecordOK)
	return nil
}

// closeLocal moves the session to Closed, telling an established peer.
func (w *worker) closeLocal() {
	msg, err := w.sess.Close()
	if err != nil {
		return
	}
	w.sendClose(msg)
}

// abandon fails the session with err, telling an established peer.
func (w *worker) abandon(err error) {
	msg, _ := w.sess.Abandon(err)
	w.sendClose(msg)
}

func (w *worker) sendClose(msg *wire.Message) {
	if msg == nil {
		return
	}
	ctx, cancel := contextutil.WithTimeout(w.e.ctx, w.e.opts.writeTimeout)
	defer cancel()
	if err := w.write(ctx, msg); err != nil {
		w.log.WithError(err).Debug("close record not delivered")
	}
}

// overflowed fails a session whose reader fell behind. Records already
// queued stay readable; nothing after the first lost one is delivered.
func (w *worker) overflowed() {
	w.log.WithField("buffered", len(w.pending)).Warn("receive buffer overflow, failing session")
	w.abandon(secerrors.Wrap(secerrors.StageTransport, secerrors.CodeReceiveOverflow, ErrReceiveOverflow))
}

// send writes an internally generated message. A failed write fails the
// session; it reports whether the session is still usable.
func (w *worker) send(msg *wire.Message) bool {
	ctx, cancel := contextutil.WithTimeout(w.e.ctx, w.e.opts.writeTimeout)
	defer cancel()
	if err := w.write(ctx, msg); err != nil {
		_ = w.sess.Fail(secerrors.Wrap(secerrors.StageTransport, secerrors.CodeTransportFailed, err))
		w.log.WithError(err).Warn("transport write failed")
		return false
	}
	return true
}

func (w *worker) write(ctx context.Context, msg *wire.Message) error {
	frame, err := relay.WrapFrom(w.e.address, w.peerAddress, msg)
	if err != nil {
		return err
	}
	return w.e.t.WriteBinary(ctx, frame)
}

func (w *worker) finish() {
	w.stopStep()
	if w.keepalive != nil {
		w.keepalive.Stop()
	}
	err := w.sess.Err()
	established := isClosed(w.established)

	var reason observability.SessionCloseReason
	switch {
	case err == nil:
		reason = observability.SessionCloseLocal
	case errors.Is(err, channel.ErrRemoteClosed):
		reason = observability.SessionCloseRemote
	default:
		reason = observability.SessionCloseError
	}
	if !established {
		w.e.opts.obs.Handshake(handshakeResult(err), time.Since(w.started))
	}
	w.e.opts.obs.SessionClose(reason)

	w.mu.Lock()
	w.leftover = w.pending
	w.pending = nil
	w.mu.Unlock()
	w.err = err
	w.e.remove(w)
	close(w.done)
	w.log.WithFields(logrus.Fields{
		"reason":  reason,
		"sent":    w.sess.RecordsSent(),
		"elapsed": time.Since(w.sess.CreatedAt()).Round(time.Millisecond),
	}).Debug("session finished")
}

// abort fails a session that has not been handed out yet. If it has just
// become Established the peer is sent a close record.
func (w *worker) abort(err error) {
	reply := make(chan error, 1)
	select {
	case w.cmds <- command{kind: cmdAbort, err: err, reply: reply}:
		<-reply
	case <-w.done:
	}
	<-w.done
}

// cause returns the terminal error, after done is closed.
func (w *worker) cause() error {
	if w.err != nil {
		return w.err
	}
	return ErrSessionClosed
}

// closedErr describes why a finished session can no longer be used.
func (w *worker) closedErr() error {
	err := ErrSessionClosed
	if w.err != nil {
		err = fmt.Errorf("%w: %w", ErrSessionClosed, w.err)
	}
	return secerrors.Wrap(secerrors.StageClose, secerrors.CodeSessionClosed, err)
}

func (w *worker) popLeftover() (localinfo.TaggedPlaintext, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.leftover) == 0 {
		return localinfo.TaggedPlaintext{}, false
	}
	tp := w.leftover[0]
	w.leftover = w.leftover[1:]
	return tp, true
}

func handshakeResult(err error) observability.HandshakeResult {
	switch secerrors.KindOf(err) {
	case secerrors.KindTimeout:
		return observability.HandshakeTimeout
	case secerrors.KindCanceled:
		return observability.HandshakeCanceled
	default:
		return observability.HandshakeFailed
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
