package secerrors

import "errors"

// Protocol-level failures. Each secure channel operation reports one of these
// (possibly wrapped) so callers can branch with errors.Is.
var (
	ErrKeyExchange            = errors.New("the key exchange process failed")
	ErrKeyExchangeNotComplete = errors.New("key exchange process did not complete")
	ErrInvalidInternalState   = errors.New("internal state is invalid")
	ErrInvalidNonce           = errors.New("expected nonce was invalid")
	ErrNonceExhausted         = errors.New("nonce space exhausted")
	ErrInvalidHubResponse     = errors.New("invalid response received from the hub")
	ErrInvalidLocalInfoType   = errors.New("invalid local info type")
	ErrRecordAuth             = errors.New("record authentication failed")
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	// KindProtocol means the peer or the exchange misbehaved.
	KindProtocol Kind = "protocol"
	// KindInvalid means a message or local state failed validation.
	KindInvalid  Kind = "invalid"
	KindTimeout  Kind = "timeout"
	KindCanceled Kind = "canceled"
	KindUnknown  Kind = "unknown"
)

// KindOf reports the Kind of err. Timeouts and cancellation take precedence
// over any wrapped sentinel.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case isDeadline(err):
		return KindTimeout
	case isCanceled(err):
		return KindCanceled
	case errors.Is(err, ErrKeyExchange), errors.Is(err, ErrKeyExchangeNotComplete):
		return KindProtocol
	case errors.Is(err, ErrInvalidInternalState),
		errors.Is(err, ErrInvalidNonce),
		errors.Is(err, ErrRecordAuth),
		errors.Is(err, ErrNonceExhausted),
		errors.Is(err, ErrInvalidHubResponse),
		errors.Is(err, ErrInvalidLocalInfoType):
		return KindInvalid
	default:
		return KindUnknown
	}
}

// Retryable reports whether a fresh attempt may succeed. Cryptographic and
// state violations are never retried on the same session.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidHubResponse) || isDeadline(err)
}
