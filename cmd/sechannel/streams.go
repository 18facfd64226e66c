package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	hyamux "github.com/hashicorp/yamux"
	"github.com/sirupsen/logrus"

	"github.com/floegence/sechannel/endpoint"
	"github.com/floegence/sechannel/mux/yamux"
	"github.com/floegence/sechannel/streamhello"
)

// streamsPayload is the first record of a channel that carries yamux
// streams instead of ping records.
var streamsPayload = []byte("streams")

const streamKindEcho = "echo"

// openStreams switches h to stream mode and starts the client side.
func openStreams(ctx context.Context, h *endpoint.Handle) (*hyamux.Session, error) {
	if err := h.Send(ctx, streamsPayload); err != nil {
		return nil, err
	}
	return yamux.NewClient(h, nil)
}

// pingStream opens one echo stream, sends a ping and waits for it to come back.
func pingStream(ctx context.Context, sess *hyamux.Session) (time.Duration, error) {
	start := time.Now()
	s, err := sess.OpenStream()
	if err != nil {
		return 0, err
	}
	defer s.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(dl)
	}
	if err := streamhello.WriteStreamHello(s, streamKindEcho); err != nil {
		return 0, err
	}
	if _, err := s.Write(pingPayload); err != nil {
		return 0, err
	}
	buf := make([]byte, len(pingPayload))
	if _, err := io.ReadFull(s, buf); err != nil {
		return 0, err
	}
	if !bytes.Equal(buf, pingPayload) {
		return 0, fmt.Errorf("%w: %q", errUnexpectedReply, buf)
	}
	return time.Since(start), nil
}

// serveStreams accepts streams on h until the stream session or ctx ends.
func serveStreams(ctx context.Context, h *endpoint.Handle, log *logrus.Entry) {
	sess, err := yamux.NewServer(h, nil)
	if err != nil {
		log.WithError(err).Warn("stream session failed")
		return
	}
	defer sess.Close()
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Close()
		case <-sess.CloseChan():
		}
	}()
	log.Debug("serving streams")
	for {
		s, err := sess.AcceptStream()
		if err != nil {
			log.WithError(err).Debug("stream session ended")
			return
		}
		go serveStream(s, log)
	}
}

func serveStream(s *hyamux.Stream, log *logrus.Entry) {
	defer s.Close()
	hello, err := streamhello.ReadStreamHello(s, streamhello.DefaultMaxHelloBytes)
	if err != nil {
		log.WithError(err).Debug("bad stream greeting")
		return
	}
	switch hello.Kind {
	case streamKindEcho:
		_, _ = io.Copy(s, s)
	default:
		log.WithField("kind", hello.Kind).Warn("unknown stream kind")
	}
}
