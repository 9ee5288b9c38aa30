package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError carries a machine readable code next to a human message.
// Cause is kept for logging and never serialized.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(CodeValidation, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Transport(msg string, cause error) error {
	return Wrap(CodeTransport, msg, cause)
}

func Conflict(msg string, cause error) error {
	return Wrap(CodeConflict, msg, cause)
}

func Unauthenticated(msg string) error {
	return New(CodeUnauthenticated, msg)
}

func RateLimited(msg string) error {
	return New(CodeRateLimited, msg)
}

func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf returns the code of the first AppError in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func IsValidation(err error) bool { return err != nil && CodeOf(err) == CodeValidation }
func IsNotFound(err error) bool   { return err != nil && CodeOf(err) == CodeNotFound }
func IsTransport(err error) bool  { return err != nil && CodeOf(err) == CodeTransport }

// Terminal reports whether retrying err over another transport is pointless.
func Terminal(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeUnauthenticated:
		return true
	}
	return false
}

// HTTPStatus maps a code onto the status the REST layer answers with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeConflict:
		return http.StatusConflict
	case CodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus is the inverse used by clients decoding a response without a body.
func FromStatus(status int, msg string) error {
	switch {
	case status == http.StatusBadRequest:
		return Validation(msg)
	case status == http.StatusNotFound || status == http.StatusForbidden:
		return NotFound(msg)
	case status == http.StatusUnauthorized:
		return Unauthenticated(msg)
	case status == http.StatusTooManyRequests:
		return RateLimited(msg)
	case status == http.StatusConflict:
		return Conflict(msg, nil)
	default:
		return Transport(msg, nil)
	}
}
