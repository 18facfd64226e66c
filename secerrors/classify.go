package secerrors

import (
	"context"
	"errors"
)

// Classify maps err to a stable Code, returning fallback when nothing matches.
func Classify(err error, fallback Code) Code {
	var se *Error
	switch {
	case errors.As(err, &se) && se.Code != "":
		return se.Code
	case isDeadline(err):
		return CodeTimeout
	case isCanceled(err):
		return CodeCanceled
	case errors.Is(err, ErrKeyExchangeNotComplete):
		return CodeKeyExchangeNotDone
	case errors.Is(err, ErrKeyExchange):
		return CodeKeyExchangeFailed
	case errors.Is(err, ErrInvalidInternalState):
		return CodeInvalidInternalState
	case errors.Is(err, ErrNonceExhausted):
		return CodeNonceExhausted
	case errors.Is(err, ErrInvalidNonce):
		return CodeInvalidNonce
	case errors.Is(err, ErrRecordAuth):
		return CodeRecordAuthFailed
	case errors.Is(err, ErrInvalidHubResponse):
		return CodeInvalidHubResponse
	case errors.Is(err, ErrInvalidLocalInfoType):
		return CodeInvalidLocalInfoType
	default:
		return fallback
	}
}

// ClassifyHandshakeCode maps a key exchange error to a stable Code.
func ClassifyHandshakeCode(err error) Code {
	return Classify(err, CodeKeyExchangeFailed)
}

// ClassifyTransportCode maps a delivery-layer error to a stable Code.
func ClassifyTransportCode(err error) Code {
	return Classify(err, CodeTransportFailed)
}

func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func isCanceled(err error) bool { return errors.Is(err, context.Canceled) }
