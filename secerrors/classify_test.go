package secerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"timeout", fmt.Errorf("%w: %w", ErrKeyExchange, context.DeadlineExceeded), CodeTimeout},
		{"canceled", context.Canceled, CodeCanceled},
		{"key_exchange", ErrKeyExchange, CodeKeyExchangeFailed},
		{"not_complete", ErrKeyExchangeNotComplete, CodeKeyExchangeNotDone},
		{"state", ErrInvalidInternalState, CodeInvalidInternalState},
		{"nonce", fmt.Errorf("recv: %w", ErrInvalidNonce), CodeInvalidNonce},
		{"exhausted", ErrNonceExhausted, CodeNonceExhausted},
		{"record_auth", fmt.Errorf("recv: %w", ErrRecordAuth), CodeRecordAuthFailed},
		{"hub", ErrInvalidHubResponse, CodeInvalidHubResponse},
		{"local_info", ErrInvalidLocalInfoType, CodeInvalidLocalInfoType},
		{"structured", Wrap(StageClose, CodeSessionClosed, errors.New("x")), CodeSessionClosed},
		{"fallback", errors.New("x"), CodeTransportFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err, CodeTransportFailed); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{ErrKeyExchange, KindProtocol},
		{ErrKeyExchangeNotComplete, KindProtocol},
		{ErrInvalidInternalState, KindInvalid},
		{ErrInvalidNonce, KindInvalid},
		{ErrRecordAuth, KindInvalid},
		{ErrInvalidHubResponse, KindInvalid},
		{ErrInvalidLocalInfoType, KindInvalid},
		{fmt.Errorf("%w: %w", ErrKeyExchange, context.DeadlineExceeded), KindTimeout},
		{context.Canceled, KindCanceled},
		{errors.New("x"), KindUnknown},
		{nil, KindUnknown},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v)=%q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(fmt.Errorf("relay: %w", ErrInvalidHubResponse)) {
		t.Fatal("hub response errors should be retryable")
	}
	if !Retryable(fmt.Errorf("%w: %w", ErrKeyExchange, context.DeadlineExceeded)) {
		t.Fatal("handshake timeouts should be retryable")
	}
	for _, err := range []error{ErrKeyExchange, ErrInvalidNonce, ErrInvalidInternalState, nil} {
		if Retryable(err) {
			t.Fatalf("%v should not be retryable", err)
		}
	}
}

func TestErrorWrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(StageHandshake, CodeKeyExchangeFailed, base)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if se.Stage != StageHandshake || se.Code != CodeKeyExchangeFailed {
		t.Fatalf("unexpected fields: %+v", se)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected Unwrap to expose the cause")
	}
	if got := err.Error(); got != "handshake (key_exchange_failed): boom" {
		t.Fatalf("unexpected message %q", got)
	}
	if Wrap(StageOpen, CodeTimeout, nil) != nil {
		t.Fatal("wrapping nil should stay nil")
	}
}
