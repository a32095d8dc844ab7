package app

import (
	"errors"
	"maps"
)

// Kind classifies an application error for the transport layer.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindRateLimited  Kind = "rate_limited"
)

// Error is a client-facing failure. Message is safe to show to end users.
type Error struct {
	Kind    Kind
	Message string
	// Fields maps request field names to their validation messages.
	Fields map[string][]string
	// Extra is merged into the response body (e.g. missing_books).
	Extra map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrForbidden    = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrRateLimited  = &Error{Kind: KindRateLimited, Message: "too many requests"}
	ErrBookNotFound = &Error{Kind: KindNotFound, Message: "Not found."}

	ErrCredentialsRequired = &Error{Kind: KindValidation, Message: "Please provide both the credentials"}
	ErrInvalidCredentials  = &Error{Kind: KindValidation, Message: "Unable to login with this credentials"}
	ErrUserDisabled        = &Error{Kind: KindValidation, Message: "User account is disabled"}

	ErrAlreadySaved = &Error{Kind: KindConflict, Message: "Book already saved"}
	ErrNotInCart    = &Error{Kind: KindConflict, Message: "Book not in cart"}
)

const (
	msgBookDoesNotExist = "Book does not exist."
	msgNothingToIssue   = "Please select at least one book to issue."
	msgNotInCart        = "Some books are not in cart"
	msgInvalidInput     = "Invalid input."
)

// KindOf returns the Kind of err, or "" for internal errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// AsError unwraps err into an *Error.
func AsError(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// FieldErrors collects per-field validation messages.
type FieldErrors map[string][]string

func (f FieldErrors) Add(field, msg string) {
	f[field] = append(f[field], msg)
}

// Err returns nil when no field failed. A single failing field lends its
// first message to the top-level error.
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	msg := msgInvalidInput
	if len(f) == 1 {
		for _, msgs := range f {
			msg = msgs[0]
		}
	}
	return &Error{Kind: KindValidation, Message: msg, Fields: maps.Clone(f)}
}

func fieldError(field, msg string) error {
	return &Error{Kind: KindValidation, Message: msg, Fields: map[string][]string{field: {msg}}}
}

func missingFromCartError(missing []int64) error {
	return &Error{Kind: KindConflict, Message: msgNotInCart, Extra: map[string]any{"missing_books": missing}}
}
