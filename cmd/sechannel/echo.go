package main

import (
	"bytes"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/floegence/sechannel/endpoint"
	"github.com/floegence/sechannel/internal/logging"
	"github.com/floegence/sechannel/observability"
)

func newEchoCmd(a *app) *cobra.Command {
	var ef endpointFlags
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Accept channels and echo every message (answers ping with pong, serves echo streams)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ef.apply(a, cmd.Flags().Changed)
			if err := a.revalidate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var obs observability.SessionObserver
			if a.cfg.Metrics.Listen != "" {
				sessionObs := observability.NewAtomicSessionObserver()
				m := &metricsController{sessionObs: sessionObs}
				if _, err := startMetrics(ctx, a.cfg.Metrics.Listen, m, "", "", logging.Component(a.log, "metrics")); err != nil {
					return err
				}
				obs = sessionObs
			}
			c, err := a.dialEndpoint(ctx, obs)
			if err != nil {
				return err
			}
			defer c.Close()
			return runEcho(ctx, c.ep, logging.Component(a.log, "echo"))
		},
	}
	bindEndpointFlags(cmd, &ef)
	return cmd
}

func bindEndpointFlags(cmd *cobra.Command, ef *endpointFlags) {
	f := cmd.Flags()
	f.StringVar(&ef.address, "address", "", "local address (default: endpoint.address or the key file) (env: SECHANNEL_ADDRESS)")
	f.StringVar(&ef.keyFile, "key-file", "", "identity key file (env: SECHANNEL_KEY_FILE)")
	f.StringVar(&ef.hubURL, "hub", "", "hub websocket URL (env: SECHANNEL_HUB_URL)")
	f.StringVar(&ef.origin, "origin", "", "Origin header sent to the hub (env: SECHANNEL_ORIGIN)")
	f.StringVar(&ef.pinStore, "pin-store", "", "pinned peer key database (env: SECHANNEL_PIN_STORE)")
}

// runEcho serves inbound channels until ctx ends or the endpoint stops.
func runEcho(ctx context.Context, ep *endpoint.Endpoint, log *logrus.Entry) error {
	log.WithField("address", ep.Address()).WithField("fingerprint", ep.Public().Fingerprint()).Info("echo ready")
	for {
		h, err := ep.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go serveEcho(ctx, h, log)
	}
}

func serveEcho(ctx context.Context, h *endpoint.Handle, log *logrus.Entry) {
	defer h.Close()
	l := log.WithFields(logrus.Fields{
		"session":     h.ID().String(),
		"peer":        h.PeerAddress(),
		"fingerprint": h.Peer().Fingerprint(),
	})
	l.Info("channel accepted")
	for {
		msg, err := h.Receive(ctx)
		if err != nil {
			l.WithError(err).Debug("channel ended")
			return
		}
		reply := msg.Payload
		switch {
		case bytes.Equal(reply, streamsPayload):
			serveStreams(ctx, h, l)
			return
		case bytes.Equal(reply, pingPayload):
			reply = pongPayload
		}
		if err := h.Send(ctx, reply); err != nil {
			l.WithError(err).Warn("send failed")
			return
		}
	}
}
