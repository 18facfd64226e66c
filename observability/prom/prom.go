package prom

import (
	"net/http"
	"time"

	"github.com/floegence/sechannel/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// HubObserver exports hub metrics to Prometheus.
type HubObserver struct {
	connGauge     prometheus.Gauge
	endpointGauge prometheus.Gauge
	pendingGauge  prometheus.Gauge
	attachTotal   *prometheus.CounterVec
	closeTotal    *prometheus.CounterVec
	frameTotal    *prometheus.CounterVec
}

var _ observability.HubObserver = (*HubObserver)(nil)

// NewHubObserver registers hub metrics on the registry.
func NewHubObserver(reg *prometheus.Registry) *HubObserver {
	o := &HubObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sechannel_hub_connections",
			Help: "Current websocket connection count.",
		}),
		endpointGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sechannel_hub_endpoints",
			Help: "Currently attached endpoint addresses.",
		}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sechannel_hub_pending_bytes",
			Help: "Bytes buffered for destinations that are not attached.",
		}),
		attachTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sechannel_hub_attach_total",
			Help: "Attach attempts by result and reason.",
		}, []string{"result", "reason"}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sechannel_hub_close_total",
			Help: "Endpoint connection close reasons.",
		}, []string{"reason"}),
		frameTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sechannel_hub_frames_total",
			Help: "Relayed frames by outcome.",
		}, []string{"result"}),
	}
	reg.MustRegister(o.connGauge, o.endpointGauge, o.pendingGauge, o.attachTotal, o.closeTotal, o.frameTotal)
	return o
}

func (o *HubObserver) ConnCount(n int64)   { o.connGauge.Set(float64(n)) }
func (o *HubObserver) EndpointCount(n int) { o.endpointGauge.Set(float64(n)) }
func (o *HubObserver) PendingBytes(n int64) {
	o.pendingGauge.Set(float64(n))
}

func (o *HubObserver) Attach(result observability.AttachResult, reason observability.AttachReason) {
	o.attachTotal.WithLabelValues(string(result), string(reason)).Inc()
}

func (o *HubObserver) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

func (o *HubObserver) Frame(result observability.FrameResult) {
	o.frameTotal.WithLabelValues(string(result)).Inc()
}

// SessionObserver exports secure channel metrics to Prometheus.
type SessionObserver struct {
	sessionGauge     prometheus.Gauge
	handshakeTotal   *prometheus.CounterVec
	handshakeLatency prometheus.Histogram
	closeTotal       *prometheus.CounterVec
	recordTotal      *prometheus.CounterVec
}

var _ observability.SessionObserver = (*SessionObserver)(nil)

// NewSessionObserver registers session metrics on the registry.
func NewSessionObserver(reg *prometheus.Registry) *SessionObserver {
	o := &SessionObserver{
		sessionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sechannel_sessions",
			Help: "Live secure channel sessions.",
		}),
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sechannel_handshakes_total",
			Help: "Key exchange outcomes.",
		}, []string{"result"}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sechannel_handshake_latency_seconds",
			Help:    "Time from session creation to Established.",
			Buckets: prometheus.DefBuckets,
		}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sechannel_session_close_total",
			Help: "Session close reasons.",
		}, []string{"reason"}),
		recordTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sechannel_records_total",
			Help: "Application records by direction and outcome.",
		}, []string{"direction", "result"}),
	}
	reg.MustRegister(o.sessionGauge, o.handshakeTotal, o.handshakeLatency, o.closeTotal, o.recordTotal)
	return o
}

func (o *SessionObserver) SessionCount(n int) { o.sessionGauge.Set(float64(n)) }

func (o *SessionObserver) Handshake(result observability.HandshakeResult, d time.Duration) {
	o.handshakeTotal.WithLabelValues(string(result)).Inc()
	if result == observability.HandshakeOK {
		o.handshakeLatency.Observe(d.Seconds())
	}
}

func (o *SessionObserver) SessionClose(reason observability.SessionCloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

func (o *SessionObserver) Record(dir observability.Direction, result observability.RecordResult) {
	o.recordTotal.WithLabelValues(string(dir), string(result)).Inc()
}
