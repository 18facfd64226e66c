package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/floegence/sechannel/endpoint"
	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/internal/cmdutil"
	"github.com/floegence/sechannel/relay"
	"github.com/floegence/sechannel/secerrors"
)

var errUnexpectedReply = errors.New("unexpected reply")

func newPingCmd(a *app) *cobra.Command {
	var ef endpointFlags
	var peerKey string
	var count int
	var interval time.Duration
	var streams bool
	cmd := &cobra.Command{
		Use:   "ping <address>",
		Short: "Open a channel through the hub and measure ping/pong round trips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ef.apply(a, cmd.Flags().Changed)
			if err := a.revalidate(); err != nil {
				return err
			}
			if count <= 0 {
				return &cmdutil.UsageError{Msg: "--count must be > 0"}
			}
			var expected *identity.PublicKey
			if peerKey != "" {
				k, err := identity.ParsePublicKey(peerKey)
				if err != nil {
					return &cmdutil.UsageError{Msg: fmt.Sprintf("invalid --peer-key: %v", err)}
				}
				expected = &k
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := a.dialEndpoint(ctx, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			dest := args[0]
			h, err := c.ep.OpenChannel(ctx, relay.ViaHub(a.cfg.Endpoint.HubURL, dest), expected)
			if err != nil {
				if secerrors.Retryable(err) {
					return fmt.Errorf("open %s (retryable): %w", dest, err)
				}
				return fmt.Errorf("open %s: %w", dest, err)
			}
			defer h.Close()
			fmt.Fprintf(a.stdout, "connected to %s session=%s fingerprint=%s\n", dest, h.ID(), h.Peer().Fingerprint())

			ping := func() (time.Duration, error) { return pingOnce(ctx, h) }
			if streams {
				sess, err := openStreams(ctx, h)
				if err != nil {
					return fmt.Errorf("open streams: %w", err)
				}
				defer sess.Close()
				ping = func() (time.Duration, error) { return pingStream(ctx, sess) }
			}

			for seq := 1; seq <= count; seq++ {
				rtt, err := ping()
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "pong from %s: seq=%d time=%s\n", dest, seq, rtt.Round(time.Microsecond))
				if seq < count {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(interval):
					}
				}
			}
			return nil
		},
	}
	bindEndpointFlags(cmd, &ef)
	f := cmd.Flags()
	f.StringVar(&peerKey, "peer-key", "", "expected peer public key (base64url); empty relies on the pin store")
	f.IntVarP(&count, "count", "n", 1, "number of pings")
	f.DurationVar(&interval, "interval", time.Second, "delay between pings")
	f.BoolVar(&streams, "streams", false, "ping over multiplexed echo streams instead of records")
	return cmd
}

// pingOnce sends a ping over h and waits for the pong.
func pingOnce(ctx context.Context, h *endpoint.Handle) (time.Duration, error) {
	start := time.Now()
	if err := h.Send(ctx, pingPayload); err != nil {
		return 0, err
	}
	msg, err := h.Receive(ctx)
	if err != nil {
		return 0, err
	}
	if !bytes.Equal(msg.Payload, pongPayload) {
		return 0, fmt.Errorf("%w: %q", errUnexpectedReply, msg.Payload)
	}
	return time.Since(start), nil
}
