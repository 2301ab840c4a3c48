package session

import (
	"errors"
	"fmt"
)

// Kind classifies session failures. Values are stable and safe to log.
type Kind string

const (
	// KindUnauthenticated: never logged in, or the refresh token expired.
	// The caller must force a new login and must not retry.
	KindUnauthenticated Kind = "auth.unauthenticated"
	// KindAuth: login or registration rejected; Message is for the user.
	KindAuth Kind = "auth.rejected"
	// KindRequest: the server rejected a request; Message is its detail.
	KindRequest Kind = "request.rejected"
	// KindData: a body could not be parsed. Not retryable.
	KindData Kind = "data.malformed"
	// KindTransport: the request or connection never completed.
	KindTransport Kind = "transport.failed"
	// KindStreamClosed: the real-time stream ended.
	KindStreamClosed Kind = "stream.closed"
)

var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Message: "unauthenticated"}
	ErrStreamClosed    = &Error{Kind: KindStreamClosed, Message: "message stream closed"}
)

// Error is the typed failure returned by every Client operation.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status, 0 when none was received
	Message string // human-readable, shown verbatim for KindAuth and KindRequest
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrUnauthenticated)
// holds for every unauthenticated failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not a session error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the user-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func dataError(message string, cause error) *Error {
	return &Error{Kind: KindData, Message: message, Cause: cause}
}

func transportError(message string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: message, Cause: cause}
}
