// Package apperr classifies errors surfaced at the HTTP boundary into
// the six kinds the core distinguishes, each mapped to one HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the six error classes surfaced at the HTTP boundary.
type Kind string

const (
	Validation   Kind = "VALIDATION"
	Unauthorized Kind = "UNAUTHORIZED"
	NotFound     Kind = "NOT_FOUND"
	Conflict     Kind = "CONFLICT"
	Upstream     Kind = "UPSTREAM"
	Internal     Kind = "INTERNAL"
)

// Error wraps an underlying cause with a Kind for status mapping.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to its HTTP status code.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
