package service

import (
	"errors"
	"fmt"
)

// Kind classifies service failures independently of any transport.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindAuthRequired     Kind = "auth_required"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindPasswordRequired Kind = "password_required"
	KindInvalidPassword  Kind = "invalid_password"
	KindNotFound         Kind = "not_found"
	KindInternal         Kind = "internal"
)

// Error is returned by LinkService operations. Redirect optionally tells the caller
// where to send the user (login, password or handshake page).
type Error struct {
	Kind     Kind
	Message  string
	Redirect string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind of err, treating anything unclassified as internal.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

func invalidInput(msg string) error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

func notFound() error {
	return &Error{Kind: KindNotFound, Message: "link not found"}
}

func internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}
