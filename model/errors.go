package model

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced to callers.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidRequest covers schema and validation failures.
	KindInvalidRequest
	// KindForbiddenContent means input matched a blocked pattern.
	KindForbiddenContent
	// KindTooManyMessages means the message list exceeded its cap.
	KindTooManyMessages
	// KindModelUnavailable is reserved. Resolution always falls back to the
	// default model, so nothing produces it today.
	KindModelUnavailable
	// KindEngineFailure wraps an error raised by the execution engine.
	KindEngineFailure
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindForbiddenContent:
		return "ForbiddenContent"
	case KindTooManyMessages:
		return "TooManyMessages"
	case KindModelUnavailable:
		return "ModelUnavailable"
	case KindEngineFailure:
		return "EngineFailure"
	default:
		return "Unknown"
	}
}

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind   Kind
	Field  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindForbiddenContent:
		return "content rejected"
	case KindEngineFailure:
		if e.Err != nil {
			return fmt.Sprintf("engine failure: %v", e.Err)
		}
		return "engine failure"
	}
	msg := e.Kind.String()
	if e.Field != "" {
		msg += " [" + e.Field + "]"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Field == "" && t.Detail == "" && t.Err == nil
}

var (
	ErrInvalidRequest   = &Error{Kind: KindInvalidRequest}
	ErrForbiddenContent = &Error{Kind: KindForbiddenContent}
	ErrTooManyMessages  = &Error{Kind: KindTooManyMessages}
	ErrModelUnavailable = &Error{Kind: KindModelUnavailable}
	ErrEngineFailure    = &Error{Kind: KindEngineFailure}
)

// InvalidRequest builds a validation error for field.
func InvalidRequest(field, detail string) *Error {
	return &Error{Kind: KindInvalidRequest, Field: field, Detail: detail}
}

// TooManyMessages reports a message list of n entries against a cap of limit.
func TooManyMessages(n, limit int) *Error {
	return &Error{Kind: KindTooManyMessages, Field: "messages", Detail: fmt.Sprintf("%d messages exceeds limit of %d", n, limit)}
}

// EngineFailure wraps err raised by the execution engine.
func EngineFailure(err error) *Error {
	return &Error{Kind: KindEngineFailure, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
