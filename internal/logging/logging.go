// Package logging builds the logrus logger used by the sechannel commands.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/floegence/sechannel/config"
)

// New returns a logger writing to out at the configured level and format.
func New(cfg config.Log, out io.Writer) (*logrus.Logger, error) {
	l := logrus.New()
	if cfg.Disable {
		l.SetOutput(io.Discard)
	} else {
		l.SetOutput(out)
	}
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(lv)
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return l, nil
}

// Component returns an entry tagged with the component field.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	return l.WithField("component", name)
}
