package chat

import (
	"errors"
	"fmt"
)

// Kind classifies errors surfaced by the manager.
type Kind string

const (
	KindMissingCredential Kind = "missing_credential"
	KindConnection        Kind = "connection"
	KindQuery             Kind = "query"
	KindNotFound          Kind = "not_found"
	KindSend              Kind = "send"
)

// Error is the only error type collaborator failures are reported as.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrQuery) holds for
// every query error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrMissingCredential = &Error{Kind: KindMissingCredential, Message: "missing session credential"}
	ErrConnection        = &Error{Kind: KindConnection, Message: "connection failed"}
	ErrQuery             = &Error{Kind: KindQuery, Message: "query failed"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "conversation not found"}
	ErrSend              = &Error{Kind: KindSend, Message: "send failed"}
)

var (
	// ErrInvalidIdentity is returned when connecting with an empty identity id
	ErrInvalidIdentity = errors.New("chat: identity id is required")
	// ErrSessionBusy is returned when a connect overlaps an in-flight transition
	ErrSessionBusy = errors.New("chat: session transition in progress")
	// ErrNotConnected is returned by operations that need a connected session
	ErrNotConnected = errors.New("chat: session is not connected")
)

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a manager error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
