package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/floegence/sechannel/hub"
	"github.com/floegence/sechannel/internal/cmdutil"
	"github.com/floegence/sechannel/internal/logging"
	"github.com/floegence/sechannel/internal/version"
	"github.com/floegence/sechannel/observability"
)

type hubReady struct {
	Version    string `json:"version"`
	Listen     string `json:"listen"`
	WSPath     string `json:"ws_path"`
	WSURL      string `json:"ws_url"`
	HealthzURL string `json:"healthz_url"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

type hubTLS struct {
	certFile string
	keyFile  string
}

func newHubCmd(a *app) *cobra.Command {
	var listen, path, metricsListen string
	var origins []string
	var allowNoOrigin bool
	var tlsFiles hubTLS
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the untrusted relay hub",
		Long: "Run the untrusted relay hub.\n\n" +
			"Prints a JSON ready line on stdout once listening.\n" +
			"SIGUSR1 enables and SIGUSR2 disables /metrics (requires --metrics-listen).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if f.Changed("listen") {
				a.cfg.Hub.Listen = listen
			}
			if f.Changed("path") {
				a.cfg.Hub.Path = path
			}
			if f.Changed("allow-origin") {
				a.cfg.Hub.AllowedOrigins = origins
			}
			if f.Changed("allow-no-origin") {
				a.cfg.Hub.AllowNoOrigin = allowNoOrigin
			}
			if f.Changed("metrics-listen") {
				a.cfg.Metrics.Listen = metricsListen
			}
			if err := a.revalidate(); err != nil {
				return err
			}
			if err := validateTLSFiles(tlsFiles.certFile, tlsFiles.keyFile); err != nil {
				return &cmdutil.UsageError{Msg: err.Error()}
			}
			if len(a.cfg.Hub.AllowedOrigins) == 0 && !a.cfg.Hub.AllowNoOrigin {
				return &cmdutil.UsageError{Msg: "missing --allow-origin (or --allow-no-origin)"}
			}

			sigs := make(chan os.Signal, 2)
			signal.Notify(sigs, notifySignals()...)
			defer signal.Stop(sigs)
			return serveHub(cmd.Context(), a, tlsFiles, sigs)
		},
	}
	f := cmd.Flags()
	f.StringVar(&listen, "listen", "", "listen address (default: hub.listen) (env: SECHANNEL_HUB_LISTEN)")
	f.StringVar(&path, "path", "", "websocket path (default: hub.path) (env: SECHANNEL_HUB_PATH)")
	f.StringSliceVar(&origins, "allow-origin", nil, "allowed Origin value (repeatable): full Origin, hostname, hostname:port or *.example.com (env: SECHANNEL_HUB_ALLOW_ORIGIN)")
	f.BoolVar(&allowNoOrigin, "allow-no-origin", false, "allow requests without an Origin header (env: SECHANNEL_HUB_ALLOW_NO_ORIGIN)")
	f.StringVar(&metricsListen, "metrics-listen", "", "listen address for /metrics (empty disables) (env: SECHANNEL_METRICS_LISTEN)")
	f.StringVar(&tlsFiles.certFile, "tls-cert-file", "", "enable TLS with the given certificate file")
	f.StringVar(&tlsFiles.keyFile, "tls-key-file", "", "enable TLS with the given private key file")
	return cmd
}

// serveHub runs the hub until ctx ends or a shutdown signal arrives.
func serveHub(ctx context.Context, a *app, tlsFiles hubTLS, sigs <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := logging.Component(a.log, "hub")

	observer := observability.NewAtomicHubObserver()
	cfg := a.cfg.Hub.ServerConfig()
	cfg.Observer = observer
	cfg.Logger = log
	s, err := hub.New(cfg)
	if err != nil {
		return &cmdutil.UsageError{Msg: err.Error()}
	}
	defer s.Close()

	mux := http.NewServeMux()
	s.Register(mux)

	tlsEnabled := tlsFiles.certFile != ""
	httpScheme, wsScheme := "http", "ws"
	if tlsEnabled {
		httpScheme, wsScheme = "https", "wss"
	}

	var metrics *metricsController
	ready := hubReady{Version: version.Current().Version, WSPath: cfg.Path}
	if a.cfg.Metrics.Listen != "" {
		metrics = &metricsController{hubObs: observer, srv: s}
		addr, err := startMetrics(ctx, a.cfg.Metrics.Listen, metrics, tlsFiles.certFile, tlsFiles.keyFile, log)
		if err != nil {
			return err
		}
		ready.MetricsURL = httpScheme + "://" + addr + "/metrics"
	}

	ln, err := net.Listen("tcp", a.cfg.Hub.Listen)
	if err != nil {
		return err
	}
	srv := newHTTPServer(mux, tlsEnabled)
	serveErr := make(chan error, 1)
	go func() {
		if tlsEnabled {
			serveErr <- srv.ServeTLS(ln, tlsFiles.certFile, tlsFiles.keyFile)
		} else {
			serveErr <- srv.Serve(ln)
		}
	}()

	bound := ln.Addr().String()
	ready.Listen = bound
	ready.WSURL = wsScheme + "://" + bound + cfg.Path
	ready.HealthzURL = httpScheme + "://" + bound + "/healthz"
	if err := json.NewEncoder(a.stdout).Encode(ready); err != nil {
		return err
	}
	log.WithField("listen", bound).Info("hub listening")

	shutdown := func() error {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	}
	for {
		select {
		case <-ctx.Done():
			return shutdown()
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case sig := <-sigs:
			if handleSignal(sig, log, metrics) {
				continue
			}
			log.WithField("signal", sig.String()).Info("shutting down")
			return shutdown()
		}
	}
}
