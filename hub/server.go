// Package hub implements the untrusted relay that endpoints attach to.
//
// The hub only understands relay envelopes. It stamps the sender's attached
// address as the envelope origin and forwards the frame to the destination,
// buffering for a short time if the destination is not attached yet. It never
// sees plaintext and endpoints never trust it.
package hub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floegence/sechannel/hub/protocol"
	"github.com/floegence/sechannel/observability"
	"github.com/floegence/sechannel/realtime/ws"
	"github.com/floegence/sechannel/relay"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultMaxFrameBytes fits a maximum-size channel message plus envelope
// overhead.
const DefaultMaxFrameBytes = relay.MaxEnvelopeSize

type Config struct {
	Path                 string // WebSocket endpoint path (e.g. "/ws").
	MaxAttachBytes       int    // Max bytes for the attach JSON.
	MaxFrameBytes        int    // Max bytes for a relay envelope.
	MaxPendingBytes      int    // Max bytes buffered per unattached destination.
	MaxTotalPendingBytes int    // Max bytes buffered across all destinations.
	MaxConns             int    // Maximum concurrent websocket connections.

	AllowedOrigins []string // Allowed Origin header values.
	AllowNoOrigin  bool     // Whether to allow an empty Origin (non-browser endpoints).

	AttachTimeout      time.Duration // Time allowed for the attach message.
	IdleTimeout        time.Duration // Close endpoints idle beyond this duration.
	PendingTTL         time.Duration // Drop buffered frames older than this.
	CleanupInterval    time.Duration // Background cleanup cadence.
	WriteTimeout       time.Duration // Per-frame websocket write deadline (0 disables).
	MaxWriteQueueBytes int           // Max buffered bytes for websocket writes per endpoint.

	Observer observability.HubObserver // Optional hub metrics observer.
	Logger   *logrus.Entry             // Optional logger.
}

// DefaultConfig returns conservative defaults for a hub.
func DefaultConfig() Config {
	return Config{
		Path:                 "/ws",
		MaxAttachBytes:       8 * 1024,
		MaxFrameBytes:        DefaultMaxFrameBytes,
		MaxPendingBytes:      256 * 1024,
		MaxTotalPendingBytes: 64 * 1024 * 1024,
		MaxConns:             12000,
		AttachTimeout:        10 * time.Second,
		IdleTimeout:          60 * time.Second,
		PendingTTL:           30 * time.Second,
		CleanupInterval:      500 * time.Millisecond,
		WriteTimeout:         10 * time.Second,
		MaxWriteQueueBytes:   4 << 20,
		Observer:             observability.NoopHubObserver,
	}
}

// Server accepts endpoint attachments and relays envelopes between them.
type Server struct {
	cfg Config
	obs observability.HubObserver
	log *logrus.Entry

	mu           sync.Mutex
	endpoints    map[string]*endpointConn // attached endpoints by address
	pending      map[string]*pendingQueue // frames for unattached destinations
	pendingBytes int

	connCount int64
	connSet   sync.Map // key: *websocket.Conn, value: struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Stats captures a snapshot of hub counts.
type Stats struct {
	ConnCount     int64
	EndpointCount int
	PendingBytes  int
}

type pendingFrame struct {
	frame []byte
	at    time.Time
}

type pendingQueue struct {
	frames []pendingFrame
	bytes  int
}

type endpointConn struct {
	address  string
	instance string
	ws       *websocket.Conn
	out      *writeQueue

	lastActive atomic.Int64 // unix nanos of the last inbound frame or ping
	closeOnce  sync.Once
}

func (ep *endpointConn) touch(now time.Time) { ep.lastActive.Store(now.UnixNano()) }

func (ep *endpointConn) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, ep.lastActive.Load()))
}

// New validates cfg and starts background cleanup.
func New(cfg Config) (*Server, error) {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if len(cfg.AllowedOrigins) == 0 && !cfg.AllowNoOrigin {
		return nil, errors.New("missing allowed origins")
	}
	if cfg.MaxAttachBytes <= 0 {
		cfg.MaxAttachBytes = def.MaxAttachBytes
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	if cfg.MaxPendingBytes <= 0 {
		cfg.MaxPendingBytes = def.MaxPendingBytes
	}
	if cfg.MaxTotalPendingBytes < 0 {
		cfg.MaxTotalPendingBytes = 0
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	if cfg.AttachTimeout <= 0 {
		cfg.AttachTimeout = def.AttachTimeout
	}
	if cfg.IdleTimeout < 0 {
		cfg.IdleTimeout = 0
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = def.PendingTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.WriteTimeout < 0 {
		cfg.WriteTimeout = 0
	}
	if cfg.MaxWriteQueueBytes <= 0 {
		cfg.MaxWriteQueueBytes = def.MaxWriteQueueBytes
	}
	if cfg.MaxWriteQueueBytes < cfg.MaxFrameBytes {
		return nil, errors.New("max write queue bytes must be >= max frame bytes")
	}
	if cfg.MaxWriteQueueBytes < cfg.MaxPendingBytes {
		return nil, errors.New("max write queue bytes must be >= max pending bytes")
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopHubObserver
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		cfg:       cfg,
		obs:       cfg.Observer,
		log:       cfg.Logger.WithField("component", "hub"),
		endpoints: make(map[string]*endpointConn),
		pending:   make(map[string]*pendingQueue),
		stopCh:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Stats returns a point-in-time view of hub counts.
func (s *Server) Stats() Stats {
	connCount := atomic.LoadInt64(&s.connCount)
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{ConnCount: connCount, EndpointCount: len(s.endpoints), PendingBytes: s.pendingBytes}
}

// Register installs the websocket and health endpoints on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// Close stops background cleanup and disconnects every endpoint.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		eps := make([]*endpointConn, 0, len(s.endpoints))
		for _, ep := range s.endpoints {
			eps = append(eps, ep)
		}
		s.mu.Unlock()
		for _, ep := range eps {
			s.detach(ep, observability.CloseReasonShutdown)
		}
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := ws.Upgrade(w, r, ws.UpgraderOptions{
		CheckOrigin: s.checkOrigin,
		ReadLimit:   int64(s.cfg.MaxAttachBytes),
	})
	if err != nil {
		s.obs.Attach(observability.AttachResultFail, observability.AttachReasonUpgradeError)
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	uc := c.Underlying()
	if !s.trackConn(uc) {
		s.obs.Attach(observability.AttachResultFail, observability.AttachReasonTooManyConnections)
		_ = c.CloseWithStatus(websocket.CloseTryAgainLater, "too_many_connections")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AttachTimeout)
	defer cancel()

	mt, msg, err := c.ReadMessage(ctx)
	if err != nil || mt != websocket.TextMessage {
		s.obs.Attach(observability.AttachResultFail, observability.AttachReasonExpectedAttach)
		_ = c.CloseWithStatus(websocket.CloseProtocolError, "expected_attach")
		s.untrackConn(uc)
		return
	}
	attach, err := protocol.ParseAttachWithConstraints(msg, protocol.AttachConstraints{
		MaxAttachBytes: s.cfg.MaxAttachBytes,
	})
	if err != nil {
		s.obs.Attach(observability.AttachResultFail, observability.AttachReasonInvalidAttach)
		s.log.WithError(err).Debug("rejected attach")
		_ = c.CloseWithStatus(websocket.CloseProtocolError, "invalid_attach")
		s.untrackConn(uc)
		return
	}

	uc.SetReadLimit(int64(s.cfg.MaxFrameBytes))
	_ = uc.SetReadDeadline(time.Time{})
	s.attach(attach, uc)
	s.obs.Attach(observability.AttachResultOK, observability.AttachReasonOK)
}

// attach registers uc under its address, replacing any previous endpoint
// there, and hands it whatever was buffered for that address.
func (s *Server) attach(a *protocol.Attach, uc *websocket.Conn) {
	now := time.Now()
	ep := &endpointConn{address: a.Address, instance: a.EndpointInstanceID, ws: uc, out: newWriteQueue()}
	ep.touch(now)
	uc.SetPingHandler(func(data string) error {
		ep.touch(time.Now())
		err := uc.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	var flushed, expired int
	s.mu.Lock()
	old := s.endpoints[a.Address]
	s.endpoints[a.Address] = ep
	if pq := s.pending[a.Address]; pq != nil {
		delete(s.pending, a.Address)
		s.pendingBytes -= pq.bytes
		frames := make([][]byte, 0, len(pq.frames))
		for _, f := range pq.frames {
			if now.Sub(f.at) > s.cfg.PendingTTL {
				expired++
				continue
			}
			frames = append(frames, f.frame)
		}
		ep.out.preload(frames)
		flushed = len(frames)
	}
	count := len(s.endpoints)
	pendingBytes := s.pendingBytes
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{"address": a.Address, "instance": a.EndpointInstanceID})
	if old != nil {
		log.WithField("previous_instance", old.instance).Info("endpoint replaced")
		s.obs.Attach(observability.AttachResultOK, observability.AttachReasonReplaced)
		s.closeEndpoint(old, observability.CloseReasonReplaced)
	}
	s.obs.EndpointCount(count)
	s.obs.PendingBytes(int64(pendingBytes))
	for i := 0; i < expired; i++ {
		s.obs.Frame(observability.FrameExpired)
	}
	log.WithField("flushed", flushed).Info("endpoint attached")

	go s.writePump(ep)
	go s.pump(ep)
}

// pump reads envelopes from src, stamps the origin and routes them.
func (s *Server) pump(src *endpointConn) {
	reason := observability.CloseReasonPeerClosed
	for {
		mt, b, err := src.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				reason = observability.CloseReasonFrameTooLarge
			}
			break
		}
		if mt != websocket.BinaryMessage {
			reason = observability.CloseReasonNonBinaryFrame
			break
		}
		if len(b) > s.cfg.MaxFrameBytes {
			reason = observability.CloseReasonFrameTooLarge
			break
		}
		src.touch(time.Now())

		env, err := relay.Decode(b)
		if err != nil || env.Version != relay.EnvelopeVersion || !relay.ValidAddress(env.Destination) {
			reason = observability.CloseReasonBadEnvelope
			break
		}
		env.Origin = src.address
		out, err := relay.Encode(env)
		if err != nil {
			reason = observability.CloseReasonBadEnvelope
			break
		}
		s.route(env.Destination, out)
	}
	s.obs.Close(reason)
	s.detach(src, reason)
}

// route delivers frame to dest, or buffers it if dest is not attached.
func (s *Server) route(dest string, frame []byte) {
	s.mu.Lock()
	dst := s.endpoints[dest]
	if dst == nil {
		ok := s.bufferLocked(dest, frame, time.Now())
		pendingBytes := s.pendingBytes
		s.mu.Unlock()
		if !ok {
			s.obs.Frame(observability.FrameDropped)
			s.log.WithField("destination", dest).Debug("pending buffer full, dropping frame")
			return
		}
		s.obs.Frame(observability.FrameBuffered)
		s.obs.PendingBytes(int64(pendingBytes))
		return
	}
	s.mu.Unlock()
	if err := dst.out.push(frame, s.cfg.MaxWriteQueueBytes); err != nil {
		s.obs.Frame(observability.FrameDropped)
		return
	}
	s.obs.Frame(observability.FrameRouted)
}

func (s *Server) bufferLocked(dest string, frame []byte, now time.Time) bool {
	pq := s.pending[dest]
	if pq == nil {
		pq = &pendingQueue{}
	}
	if pq.bytes+len(frame) > s.cfg.MaxPendingBytes {
		return false
	}
	if s.cfg.MaxTotalPendingBytes > 0 && s.pendingBytes+len(frame) > s.cfg.MaxTotalPendingBytes {
		return false
	}
	pq.frames = append(pq.frames, pendingFrame{frame: frame, at: now})
	pq.bytes += len(frame)
	s.pending[dest] = pq
	s.pendingBytes += len(frame)
	return true
}

func (s *Server) writePump(dst *endpointConn) {
	for {
		frame, err := dst.out.pop()
		if err != nil {
			return
		}
		if s.cfg.WriteTimeout > 0 {
			_ = dst.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		} else {
			_ = dst.ws.SetWriteDeadline(time.Time{})
		}
		err = dst.ws.WriteMessage(websocket.BinaryMessage, frame)
		dst.out.done(len(frame))
		if err != nil {
			s.obs.Close(observability.CloseReasonWriteError)
			s.detach(dst, observability.CloseReasonWriteError)
			return
		}
	}
}

// detach removes ep from the address table if it is still current and
// closes it.
func (s *Server) detach(ep *endpointConn, reason observability.CloseReason) {
	s.mu.Lock()
	removed := false
	if s.endpoints[ep.address] == ep {
		delete(s.endpoints, ep.address)
		removed = true
	}
	count := len(s.endpoints)
	s.mu.Unlock()
	if removed {
		s.obs.EndpointCount(count)
	}
	s.closeEndpoint(ep, reason)
}

func (s *Server) closeEndpoint(ep *endpointConn, reason observability.CloseReason) {
	ep.closeOnce.Do(func() {
		ep.out.close(nil)
		_ = ep.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason)),
			time.Now().Add(time.Second))
		_ = ep.ws.Close()
		s.untrackConn(ep.ws)
		s.log.WithFields(logrus.Fields{
			"address":  ep.address,
			"instance": ep.instance,
			"reason":   reason,
		}).Info("endpoint detached")
	})
}

// checkOrigin validates the Origin header against the allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	return ws.IsOriginAllowed(r, s.cfg.AllowedOrigins, s.cfg.AllowNoOrigin)
}

// trackConn increments the connection count and enforces MaxConns.
func (s *Server) trackConn(c *websocket.Conn) bool {
	newCount := atomic.AddInt64(&s.connCount, 1)
	if s.cfg.MaxConns > 0 && newCount > int64(s.cfg.MaxConns) {
		newCount = atomic.AddInt64(&s.connCount, -1)
		s.obs.ConnCount(newCount)
		return false
	}
	s.obs.ConnCount(newCount)
	s.connSet.Store(c, struct{}{})
	return true
}

// untrackConn decrements the connection count if tracked.
func (s *Server) untrackConn(c *websocket.Conn) {
	if _, ok := s.connSet.LoadAndDelete(c); !ok {
		return
	}
	s.obs.ConnCount(atomic.AddInt64(&s.connCount, -1))
}

// cleanupLoop closes idle endpoints and expires stale pending frames.
func (s *Server) cleanupLoop() {
	t := time.NewTicker(s.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-t.C:
			s.sweep(now)
		}
	}
}

func (s *Server) sweep(now time.Time) {
	var idle []*endpointConn
	var expired int
	s.mu.Lock()
	if s.cfg.IdleTimeout > 0 {
		for _, ep := range s.endpoints {
			if ep.idleSince(now) > s.cfg.IdleTimeout {
				idle = append(idle, ep)
			}
		}
	}
	for dest, pq := range s.pending {
		keep := pq.frames[:0]
		for _, f := range pq.frames {
			if now.Sub(f.at) > s.cfg.PendingTTL {
				expired++
				pq.bytes -= len(f.frame)
				s.pendingBytes -= len(f.frame)
				continue
			}
			keep = append(keep, f)
		}
		pq.frames = keep
		if len(pq.frames) == 0 {
			delete(s.pending, dest)
		}
	}
	pendingBytes := s.pendingBytes
	s.mu.Unlock()

	for i := 0; i < expired; i++ {
		s.obs.Frame(observability.FrameExpired)
	}
	if expired > 0 {
		s.obs.PendingBytes(int64(pendingBytes))
	}
	for _, ep := range idle {
		s.obs.Close(observability.CloseReasonIdleTimeout)
		s.detach(ep, observability.CloseReasonIdleTimeout)
	}
}
