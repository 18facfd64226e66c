package streamhello

import (
	"bytes"
	"errors"
	"testing"

	"github.com/floegence/sechannel/framing/cborframe"
)

func TestStreamHelloRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteStreamHello(&buf, "echo"); err != nil {
		t.Fatalf("WriteStreamHello failed: %v", err)
	}
	h, err := ReadStreamHello(&buf, DefaultMaxHelloBytes)
	if err != nil {
		t.Fatalf("ReadStreamHello failed: %v", err)
	}
	if h.Kind != "echo" {
		t.Fatalf("unexpected kind %q", h.Kind)
	}
}

func TestReadStreamHelloRejectsBadInputs(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	if err := cborframe.WriteFrame(buf, StreamHello{Kind: "", V: 1}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := ReadStreamHello(buf, DefaultMaxHelloBytes); !errors.Is(err, ErrBadStreamHello) {
		t.Fatalf("expected ErrBadStreamHello for empty kind, got %v", err)
	}
	buf.Reset()
	if err := cborframe.WriteFrame(buf, StreamHello{Kind: "rpc", V: 0}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := ReadStreamHello(buf, DefaultMaxHelloBytes); !errors.Is(err, ErrBadStreamHello) {
		t.Fatalf("expected ErrBadStreamHello for bad version, got %v", err)
	}
	buf.Reset()
	buf.Write([]byte{0, 0, 0, 1, 0xff})
	if _, err := ReadStreamHello(buf, DefaultMaxHelloBytes); !errors.Is(err, ErrBadStreamHello) {
		t.Fatalf("expected ErrBadStreamHello for garbage, got %v", err)
	}
}
