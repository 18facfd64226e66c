// Package nonce allocates per-direction message counters and validates
// inbound counters against replay.
//
// Neither type locks: a Sender and a Receiver belong to exactly one session,
// and the session is owned by one goroutine.
package nonce

import (
	"fmt"
	"math"
	"strings"

	"github.com/floegence/sechannel/secerrors"
	"golang.zx2c4.com/wireguard/replay"
)

// Nonce is a per-direction message counter.
type Nonce = uint64

// MaxNonce is the exclusive upper bound on usable counters. Noise reserves
// 2^64-1 for rekeying, so the last usable value is 2^64-2.
const MaxNonce Nonce = math.MaxUint64

// WindowSize is how far behind the newest accepted counter a Sliding receiver
// still accepts unseen counters.
const WindowSize = 8128

// Policy selects how a Receiver treats out-of-order counters.
type Policy uint8

const (
	// Strict accepts only counters greater than every accepted counter.
	Strict Policy = iota
	// Sliding accepts unseen counters within WindowSize of the newest.
	Sliding
)

func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Sliding:
		return "sliding"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy parses "strict" or "sliding". An empty string means Strict.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "sliding", "window":
		return Sliding, nil
	default:
		return 0, fmt.Errorf("unknown nonce policy %q", s)
	}
}

// Sender hands out strictly increasing counters starting at zero.
type Sender struct {
	next  Nonce
	limit Nonce
}

// NewSender returns a Sender that fails once limit counters have been issued.
// A zero limit means MaxNonce.
func NewSender(limit Nonce) *Sender {
	if limit == 0 {
		limit = MaxNonce
	}
	return &Sender{limit: limit}
}

// Next returns the next counter, or ErrNonceExhausted once the space is used up.
// An exhausted Sender stays exhausted.
func (s *Sender) Next() (Nonce, error) {
	if s.next >= s.limit {
		return 0, secerrors.ErrNonceExhausted
	}
	n := s.next
	s.next++
	return n, nil
}

// Issued reports how many counters have been handed out.
func (s *Sender) Issued() uint64 { return s.next }

// Receiver validates inbound counters for one direction.
type Receiver struct {
	policy Policy
	limit  Nonce

	// Strict state.
	seen   bool
	newest Nonce

	// Sliding state.
	filter replay.Filter
}

// NewReceiver returns a Receiver with the given policy. A zero limit means MaxNonce.
func NewReceiver(policy Policy, limit Nonce) *Receiver {
	if limit == 0 {
		limit = MaxNonce
	}
	r := &Receiver{policy: policy, limit: limit}
	r.filter.Reset()
	return r
}

// Policy returns the receiver's replay policy.
func (r *Receiver) Policy() Policy { return r.policy }

// Validate accepts n and records it, or returns ErrInvalidNonce without
// changing any state. Callers must only pass counters from messages that
// already authenticated.
func (r *Receiver) Validate(n Nonce) error {
	if n >= r.limit {
		return fmt.Errorf("%w: %d out of range", secerrors.ErrInvalidNonce, n)
	}
	switch r.policy {
	case Sliding:
		if !r.filter.ValidateCounter(n, r.limit) {
			return fmt.Errorf("%w: %d replayed or outside window", secerrors.ErrInvalidNonce, n)
		}
		return nil
	default:
		if r.seen && n <= r.newest {
			return fmt.Errorf("%w: %d not after %d", secerrors.ErrInvalidNonce, n, r.newest)
		}
		r.seen = true
		r.newest = n
		return nil
	}
}
