package observability

import (
	"sync/atomic"
	"time"
)

type AttachResult string

const (
	AttachResultOK   AttachResult = "ok"
	AttachResultFail AttachResult = "fail"
)

type AttachReason string

const (
	AttachReasonOK                 AttachReason = "ok"
	AttachReasonUpgradeError       AttachReason = "upgrade_error"
	AttachReasonTooManyConnections AttachReason = "too_many_connections"
	AttachReasonExpectedAttach     AttachReason = "expected_attach"
	AttachReasonInvalidAttach      AttachReason = "invalid_attach"
	AttachReasonReplaced           AttachReason = "replaced"
)

type CloseReason string

const (
	CloseReasonPeerClosed      CloseReason = "peer_closed"
	CloseReasonNonBinaryFrame  CloseReason = "non_binary_frame"
	CloseReasonFrameTooLarge   CloseReason = "frame_too_large"
	CloseReasonBadEnvelope     CloseReason = "bad_envelope"
	CloseReasonPendingOverflow CloseReason = "pending_overflow"
	CloseReasonWriteError      CloseReason = "write_error"
	CloseReasonIdleTimeout     CloseReason = "idle_timeout"
	CloseReasonReplaced        CloseReason = "replaced"
	CloseReasonShutdown        CloseReason = "shutdown"
)

type FrameResult string

const (
	FrameRouted   FrameResult = "routed"
	FrameBuffered FrameResult = "buffered"
	FrameExpired  FrameResult = "expired"
	FrameDropped  FrameResult = "dropped"
)

// HubObserver receives hub-level metric events.
type HubObserver interface {
	ConnCount(n int64)
	EndpointCount(n int)
	Attach(result AttachResult, reason AttachReason)
	Close(reason CloseReason)
	Frame(result FrameResult)
	PendingBytes(n int64)
}

type HandshakeResult string

const (
	HandshakeOK       HandshakeResult = "ok"
	HandshakeFailed   HandshakeResult = "failed"
	HandshakeTimeout  HandshakeResult = "timeout"
	HandshakeCanceled HandshakeResult = "canceled"
)

type SessionCloseReason string

const (
	SessionCloseLocal  SessionCloseReason = "local"
	SessionCloseRemote SessionCloseReason = "remote"
	SessionCloseError  SessionCloseReason = "error"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type RecordResult string

const (
	RecordOK           RecordResult = "ok"
	RecordReplay       RecordResult = "replay"
	RecordAuthFailed   RecordResult = "auth_failed"
	RecordInvalidRelay RecordResult = "invalid_relay"
)

// SessionObserver receives per-endpoint secure channel events.
type SessionObserver interface {
	SessionCount(n int)
	Handshake(result HandshakeResult, d time.Duration)
	SessionClose(reason SessionCloseReason)
	Record(dir Direction, result RecordResult)
}

type noopHubObserver struct{}

func (noopHubObserver) ConnCount(int64)                   {}
func (noopHubObserver) EndpointCount(int)                 {}
func (noopHubObserver) Attach(AttachResult, AttachReason) {}
func (noopHubObserver) Close(CloseReason)                 {}
func (noopHubObserver) Frame(FrameResult)                 {}
func (noopHubObserver) PendingBytes(int64)                {}

type noopSessionObserver struct{}

func (noopSessionObserver) SessionCount(int)                         {}
func (noopSessionObserver) Handshake(HandshakeResult, time.Duration) {}
func (noopSessionObserver) SessionClose(SessionCloseReason)          {}
func (noopSessionObserver) Record(Direction, RecordResult)           {}

// NoopHubObserver is used when metrics are disabled.
var NoopHubObserver HubObserver = noopHubObserver{}

// NoopSessionObserver is used when metrics are disabled.
var NoopSessionObserver SessionObserver = noopSessionObserver{}

// AtomicHubObserver swaps its delegate at runtime. The zero value is usable.
type AtomicHubObserver struct {
	v atomic.Pointer[hubHolder]
}

type hubHolder struct{ obs HubObserver }

func NewAtomicHubObserver() *AtomicHubObserver { return &AtomicHubObserver{} }

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicHubObserver) Set(obs HubObserver) {
	if obs == nil {
		obs = NoopHubObserver
	}
	a.v.Store(&hubHolder{obs: obs})
}

func (a *AtomicHubObserver) load() HubObserver {
	if h := a.v.Load(); h != nil {
		return h.obs
	}
	return NoopHubObserver
}

func (a *AtomicHubObserver) ConnCount(n int64)   { a.load().ConnCount(n) }
func (a *AtomicHubObserver) EndpointCount(n int) { a.load().EndpointCount(n) }
func (a *AtomicHubObserver) Attach(result AttachResult, reason AttachReason) {
	a.load().Attach(result, reason)
}
func (a *AtomicHubObserver) Close(reason CloseReason) { a.load().Close(reason) }
func (a *AtomicHubObserver) Frame(result FrameResult) { a.load().Frame(result) }
func (a *AtomicHubObserver) PendingBytes(n int64)     { a.load().PendingBytes(n) }

// AtomicSessionObserver swaps its delegate at runtime. The zero value is usable.
type AtomicSessionObserver struct {
	v atomic.Pointer[sessionHolder]
}

type sessionHolder struct{ obs SessionObserver }

func NewAtomicSessionObserver() *AtomicSessionObserver { return &AtomicSessionObserver{} }

func (a *AtomicSessionObserver) Set(obs SessionObserver) {
	if obs == nil {
		obs = NoopSessionObserver
	}
	a.v.Store(&sessionHolder{obs: obs})
}

func (a *AtomicSessionObserver) load() SessionObserver {
	if h := a.v.Load(); h != nil {
		return h.obs
	}
	return NoopSessionObserver
}

func (a *AtomicSessionObserver) SessionCount(n int) { a.load().SessionCount(n) }
func (a *AtomicSessionObserver) Handshake(result HandshakeResult, d time.Duration) {
	a.load().Handshake(result, d)
}
func (a *AtomicSessionObserver) SessionClose(reason SessionCloseReason) {
	a.load().SessionClose(reason)
}
func (a *AtomicSessionObserver) Record(dir Direction, result RecordResult) {
	a.load().Record(dir, result)
}
