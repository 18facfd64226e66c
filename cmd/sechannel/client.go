package main

import (
	"context"
	"errors"

	"github.com/floegence/sechannel/endpoint"
	"github.com/floegence/sechannel/identity"
	"github.com/floegence/sechannel/identity/pinstore"
	"github.com/floegence/sechannel/internal/cmdutil"
	"github.com/floegence/sechannel/internal/logging"
	"github.com/floegence/sechannel/observability"
	"github.com/floegence/sechannel/transport"
)

var (
	pingPayload = []byte("ping")
	pongPayload = []byte("pong")
)

// attached is an endpoint attached to the hub plus the resources it owns.
type attached struct {
	ep    *endpoint.Endpoint
	store *pinstore.Store
}

func (c *attached) Close() error {
	err := c.ep.Close()
	if c.store != nil {
		err = errors.Join(err, c.store.Close())
	}
	return err
}

// dialEndpoint loads the configured identity, attaches to the hub and starts
// an endpoint over the untrusted link.
func (a *app) dialEndpoint(ctx context.Context, obs observability.SessionObserver) (*attached, error) {
	ec := a.cfg.Endpoint
	if ec.KeyFile == "" {
		return nil, &cmdutil.UsageError{Msg: "missing key file (--key-file or endpoint.key_file)"}
	}
	if ec.HubURL == "" {
		return nil, &cmdutil.UsageError{Msg: "missing hub url (--hub or endpoint.hub_url)"}
	}
	kp, fileAddress, err := identity.LoadKeyFile(ec.KeyFile)
	if err != nil {
		return nil, err
	}
	address := ec.Address
	if address == "" {
		address = fileAddress
	}
	if address == "" {
		return nil, &cmdutil.UsageError{Msg: "missing address (--address, endpoint.address or the key file)"}
	}

	opts, err := a.cfg.EndpointOptions()
	if err != nil {
		return nil, &cmdutil.UsageError{Msg: err.Error()}
	}
	opts = append(opts,
		endpoint.WithLogger(logging.Component(a.log, "endpoint").WithField("address", address)),
		endpoint.WithUntrustedLink(true),
	)
	if obs != nil {
		opts = append(opts, endpoint.WithObserver(obs))
	}

	c := &attached{}
	if ec.PinStore != "" {
		var popts []pinstore.Option
		if ec.TrustOnFirstUse {
			popts = append(popts, pinstore.WithTrustOnFirstUse())
		}
		c.store, err = pinstore.Open(ec.PinStore, popts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, endpoint.WithResolver(c.store))
	}

	link, err := transport.DialHub(ctx, ec.HubURL, address, transport.HubOptions{
		Origin:         ec.Origin,
		ConnectTimeout: ec.ConnectTimeout.Std(),
		Logger:         logging.Component(a.log, "transport"),
	})
	if err != nil {
		if c.store != nil {
			_ = c.store.Close()
		}
		return nil, err
	}
	c.ep, err = endpoint.New(link, address, kp, opts...)
	if err != nil {
		_ = link.Close()
		if c.store != nil {
			_ = c.store.Close()
		}
		return nil, err
	}
	return c, nil
}

// endpointFlags binds the flags shared by echo and ping.
type endpointFlags struct {
	address, keyFile, hubURL, origin, pinStore string
}

func (f *endpointFlags) apply(a *app, changed func(string) bool) {
	if changed("address") {
		a.cfg.Endpoint.Address = f.address
	}
	if changed("key-file") {
		a.cfg.Endpoint.KeyFile = f.keyFile
	}
	if changed("hub") {
		a.cfg.Endpoint.HubURL = f.hubURL
	}
	if changed("origin") {
		a.cfg.Endpoint.Origin = f.origin
	}
	if changed("pin-store") {
		a.cfg.Endpoint.PinStore = f.pinStore
	}
}
