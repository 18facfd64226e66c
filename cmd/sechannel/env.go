package main

import (
	"errors"

	"github.com/floegence/sechannel/config"
	"github.com/floegence/sechannel/internal/cmdutil"
)

func applyEnv(env cmdutil.Env, cfg *config.Config) error {
	env.String("LOG_LEVEL", &cfg.Log.Level)
	env.String("LOG_FORMAT", &cfg.Log.Format)

	env.String("HUB_LISTEN", &cfg.Hub.Listen)
	env.String("HUB_PATH", &cfg.Hub.Path)
	env.CSV("HUB_ALLOW_ORIGIN", &cfg.Hub.AllowedOrigins)

	env.String("ADDRESS", &cfg.Endpoint.Address)
	env.String("KEY_FILE", &cfg.Endpoint.KeyFile)
	env.String("HUB_URL", &cfg.Endpoint.HubURL)
	env.String("ORIGIN", &cfg.Endpoint.Origin)
	env.String("PIN_STORE", &cfg.Endpoint.PinStore)

	env.String("NONCE_POLICY", &cfg.Channel.NoncePolicy)
	env.String("ON_REPLAY", &cfg.Channel.OnReplay)

	env.String("METRICS_LISTEN", &cfg.Metrics.Listen)

	return errors.Join(
		env.Bool("HUB_ALLOW_NO_ORIGIN", &cfg.Hub.AllowNoOrigin),
		env.Int("HUB_MAX_CONNS", &cfg.Hub.MaxConns),
		env.Int("HUB_MAX_PENDING_BYTES", &cfg.Hub.MaxPendingBytes),
		cmdutil.Duration(env, "HUB_IDLE_TIMEOUT", &cfg.Hub.IdleTimeout),
		cmdutil.Duration(env, "HUB_PENDING_TTL", &cfg.Hub.PendingTTL),
		env.Bool("TRUST_ON_FIRST_USE", &cfg.Endpoint.TrustOnFirstUse),
		cmdutil.Duration(env, "CONNECT_TIMEOUT", &cfg.Endpoint.ConnectTimeout),
		cmdutil.Duration(env, "HANDSHAKE_TIMEOUT", &cfg.Channel.HandshakeTimeout),
		cmdutil.Duration(env, "IDLE_TIMEOUT", &cfg.Channel.IdleTimeout),
	)
}
