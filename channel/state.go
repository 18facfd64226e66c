package channel

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of a Session.
type State uint8

const (
	Initiating State = iota
	AwaitingResponse
	AwaitingConfirmation
	Established
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Initiating:
		return "Initiating"
	case AwaitingResponse:
		return "AwaitingResponse"
	case AwaitingConfirmation:
		return "AwaitingConfirmation"
	case Established:
		return "Established"
	case Closed:
		return "Closed"
	case Errored:
		return "Errored"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Closed || s == Errored }

// ReplayAction decides what a replayed or stale record does to the session.
type ReplayAction uint8

const (
	// ReplayReject drops the record and keeps the session.
	ReplayReject ReplayAction = iota
	// ReplayClose moves the session to Errored.
	ReplayClose
)

func (a ReplayAction) String() string {
	if a == ReplayClose {
		return "close"
	}
	return "reject"
}

// ParseReplayAction parses "reject" or "close". Empty means reject.
func ParseReplayAction(s string) (ReplayAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject", "drop":
		return ReplayReject, nil
	case "close", "destroy":
		return ReplayClose, nil
	default:
		return 0, fmt.Errorf("unknown replay action %q", s)
	}
}
