// Package apperr carries the error taxonomy surfaced to realtime clients.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation decisions.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindNotFound
	KindModeration
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindModeration:
		return "moderation"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Stable client-visible codes.
const (
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeTokenMalformed        = "TOKEN_MALFORMED"
	CodeAuthenticationFailed  = "AUTHENTICATION_FAILED"
	CodeUnauthenticated       = "UNAUTHENTICATED"
	CodeAlreadyAuthenticated  = "ALREADY_AUTHENTICATED"
	CodeAuthUnavailable       = "AUTH_UNAVAILABLE"
	CodeAccountDisabled       = "ACCOUNT_DISABLED"
	CodeNotGroupMember        = "NOT_GROUP_MEMBER"
	CodeForbidden             = "FORBIDDEN"
	CodeInvalidPayload        = "INVALID_PAYLOAD"
	CodeEmptyContent          = "EMPTY_CONTENT"
	CodeContentTooLong        = "CONTENT_TOO_LONG"
	CodeInvalidMessageType    = "INVALID_MESSAGE_TYPE"
	CodeGroupNotFound         = "GROUP_NOT_FOUND"
	CodeMessageNotFound       = "MESSAGE_NOT_FOUND"
	CodeModerationRejected    = "MODERATION_REJECTED"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	CodeUnknownEvent          = "UNKNOWN_EVENT"
	CodeInternal              = "INTERNAL"
)

// Error is a classified failure with a stable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without a cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error around cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func Forbidden(code, message string) *Error {
	return New(KindAuthorization, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func Transient(message string, cause error) *Error {
	return Wrap(KindTransient, CodeDependencyUnavailable, message, cause)
}

// From returns err as an *Error, classifying unknown errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(KindInternal, CodeInternal, "internal error", err)
}

// KindOf reports the kind of err.
func KindOf(err error) Kind {
	return From(err).Kind
}
