package secerrors

import "fmt"

// Stage identifies which step of the channel lifecycle failed.
type Stage string

const (
	StageOpen      Stage = "open"
	StageHandshake Stage = "handshake"
	StageTransport Stage = "transport"
	StageRelay     Stage = "relay"
	StageLocalInfo Stage = "localinfo"
	StageClose     Stage = "close"
)

// Code is a stable, programmatic error identifier for user-facing operations.
type Code string

const (
	CodeTimeout              Code = "timeout"
	CodeCanceled             Code = "canceled"
	CodeKeyExchangeFailed    Code = "key_exchange_failed"
	CodeKeyExchangeNotDone   Code = "key_exchange_not_complete"
	CodeInvalidInternalState Code = "invalid_internal_state"
	CodeInvalidNonce         Code = "invalid_nonce"
	CodeRecordAuthFailed     Code = "record_auth_failed"
	CodeNonceExhausted       Code = "nonce_exhausted"
	CodeInvalidHubResponse   Code = "invalid_hub_response"
	CodeInvalidLocalInfoType Code = "invalid_local_info_type"
	CodeSessionClosed        Code = "session_closed"
	CodeTransportFailed      Code = "transport_failed"
	CodeReceiveOverflow      Code = "receive_overflow"
	CodeInvalidInput         Code = "invalid_input"
)

// Error is a structured, programmatically identifiable error for user-facing operations.
type Error struct {
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches stage and code to err. A nil err stays nil.
func Wrap(stage Stage, code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: stage, Code: code, Err: err}
}

// WrapClassified wraps err with the code Classify picks for it.
func WrapClassified(stage Stage, err error, fallback Code) error {
	if err == nil {
		return nil
	}
	return Wrap(stage, Classify(err, fallback), err)
}
