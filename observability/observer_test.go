package observability

import (
	"testing"
	"time"
)

type countingSessionObserver struct {
	handshakes int
	records    int
}

func (c *countingSessionObserver) SessionCount(int)                         {}
func (c *countingSessionObserver) Handshake(HandshakeResult, time.Duration) { c.handshakes++ }
func (c *countingSessionObserver) SessionClose(SessionCloseReason)          {}
func (c *countingSessionObserver) Record(Direction, RecordResult)           { c.records++ }

func TestAtomicSessionObserver_Swap(t *testing.T) {
	var a AtomicSessionObserver
	// Zero value forwards to the no-op observer.
	a.Handshake(HandshakeOK, time.Second)

	c := &countingSessionObserver{}
	a.Set(c)
	a.Handshake(HandshakeOK, time.Second)
	a.Record(DirectionSend, RecordOK)
	if c.handshakes != 1 || c.records != 1 {
		t.Fatalf("unexpected counts: %+v", c)
	}

	a.Set(nil)
	a.Handshake(HandshakeFailed, 0)
	if c.handshakes != 1 {
		t.Fatalf("expected delegate to be detached")
	}
}

func TestAtomicHubObserver_ZeroValue(t *testing.T) {
	var a AtomicHubObserver
	a.ConnCount(1)
	a.Frame(FrameRouted)
	a.Set(NoopHubObserver)
	a.Close(CloseReasonIdleTimeout)
}
