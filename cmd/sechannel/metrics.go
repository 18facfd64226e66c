package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/floegence/sechannel/hub"
	"github.com/floegence/sechannel/observability"
	"github.com/floegence/sechannel/observability/prom"
)

// metricsController swaps the live observers between Prometheus exporters
// and no-ops.
type metricsController struct {
	mu      sync.Mutex
	enabled bool
	handler *switchHandler

	hubObs     *observability.AtomicHubObserver
	sessionObs *observability.AtomicSessionObserver
	srv        *hub.Server
}

func (c *metricsController) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return
	}
	reg := prom.NewRegistry()
	if c.hubObs != nil {
		o := prom.NewHubObserver(reg)
		if c.srv != nil {
			stats := c.srv.Stats()
			o.ConnCount(stats.ConnCount)
			o.EndpointCount(stats.EndpointCount)
			o.PendingBytes(int64(stats.PendingBytes))
		}
		c.hubObs.Set(o)
	}
	if c.sessionObs != nil {
		c.sessionObs.Set(prom.NewSessionObserver(reg))
	}
	c.handler.Set(prom.Handler(reg))
	c.enabled = true
}

func (c *metricsController) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.handler.Set(nil)
	if c.hubObs != nil {
		c.hubObs.Set(nil)
	}
	if c.sessionObs != nil {
		c.sessionObs.Set(nil)
	}
	c.enabled = false
}

// startMetrics serves /metrics on listen until ctx ends. It returns the bound
// address.
func startMetrics(ctx context.Context, listen string, c *metricsController, tlsCert, tlsKey string, log *logrus.Entry) (string, error) {
	c.handler = newSwitchHandler()
	c.Enable()
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.handler)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return "", err
	}
	srv := newHTTPServer(mux, tlsCert != "")
	go func() {
		var err error
		if tlsCert != "" {
			err = srv.ServeTLS(ln, tlsCert, tlsKey)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	return ln.Addr().String(), nil
}
