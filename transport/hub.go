package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/floegence/sechannel/hub/protocol"
	"github.com/floegence/sechannel/internal/contextutil"
	"github.com/floegence/sechannel/internal/defaults"
	"github.com/floegence/sechannel/realtime/ws"
	"github.com/floegence/sechannel/relay"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type HubOptions struct {
	// Origin is sent as the Origin header; hubs with an allow-list need it.
	Origin string
	Header http.Header
	Dialer *websocket.Dialer
	// ReadLimit caps inbound frames; zero means the hub default frame size.
	ReadLimit int64
	// ConnectTimeout bounds dialing and attaching; zero means the default.
	ConnectTimeout time.Duration
	// PingInterval sends websocket pings so an idle hub link stays attached.
	// Zero derives it from defaults.IdleTimeout; negative disables pings.
	PingInterval time.Duration
	// InstanceID overrides the random endpoint instance id.
	InstanceID string
	Logger     *logrus.Entry
}

// HubLink is an endpoint's attached connection to a hub.
type HubLink struct {
	c        *ws.Conn
	address  string
	instance string
	log      *logrus.Entry

	wmu       sync.Mutex
	stop      chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*HubLink)(nil)

// DialHub connects to the hub websocket at url and attaches as address.
func DialHub(ctx context.Context, url string, address string, opts HubOptions) (*HubLink, error) {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaults.ConnectTimeout
	}
	connectCtx, cancel := contextutil.WithTimeout(ctx, connectTimeout)
	defer cancel()

	h := cloneHeader(opts.Header)
	if opts.Origin != "" {
		h.Set("Origin", opts.Origin)
	}
	readLimit := opts.ReadLimit
	if readLimit == 0 {
		readLimit = int64(relay.MaxEnvelopeSize)
	}
	c, _, err := ws.Dial(connectCtx, url, ws.DialOptions{Header: h, Dialer: opts.Dialer, ReadLimit: readLimit})
	if err != nil {
		return nil, err
	}

	attach := protocol.NewAttach(address)
	if opts.InstanceID != "" {
		attach.EndpointInstanceID = opts.InstanceID
	}
	b, err := attach.Marshal()
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.WriteMessage(connectCtx, websocket.TextMessage, b); err != nil {
		_ = c.Close()
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	l := &HubLink{
		c:        c,
		address:  address,
		instance: attach.EndpointInstanceID,
		log:      log.WithFields(logrus.Fields{"component": "hub_link", "address": address}),
		stop:     make(chan struct{}),
	}
	interval := opts.PingInterval
	if interval == 0 {
		interval = defaults.KeepaliveInterval(defaults.IdleTimeout)
	}
	if interval > 0 {
		go l.pingLoop(interval)
	}
	return l, nil
}

func (l *HubLink) Address() string    { return l.address }
func (l *HubLink) InstanceID() string { return l.instance }

func (l *HubLink) ReadBinary(ctx context.Context) ([]byte, error) {
	return l.c.ReadBinary(ctx)
}

func (l *HubLink) WriteBinary(ctx context.Context, b []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.c.WriteBinary(ctx, b)
}

func (l *HubLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stop)
		err = l.c.CloseWithStatus(websocket.CloseNormalClosure, "bye")
	})
	return err
}

func (l *HubLink) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			err := l.c.Underlying().WriteControl(websocket.PingMessage, nil, time.Now().Add(interval))
			if err != nil {
				l.log.WithError(err).Debug("hub ping failed")
				return
			}
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
