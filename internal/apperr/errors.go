// Package apperr holds the error taxonomy shared by the memorial, donation and
// entitlement services and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Validation codes.
const (
	CodeEmptySlug               = "EMPTY_SLUG"
	CodeInvalidInput            = "INVALID_INPUT"
	CodeInvalidPayoutTransition = "INVALID_PAYOUT_TRANSITION"
	CodeUnknownFeature          = "UNKNOWN_FEATURE"
	CodeInvalidPlan             = "INVALID_PLAN"
)

// Conflict codes.
const (
	CodeSlugTaken      = "SLUG_TAKEN"
	CodeAlreadyClaimed = "ALREADY_CLAIMED"
)

// ErrStoreUnavailable marks transient failures of the persistent store.
// Adapters wrap transport errors with it; the core never retries them.
var ErrStoreUnavailable = errors.New("store unavailable")

// ValidationError is returned for input the caller must correct.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ConflictError is a structured rejection, e.g. a slug held by another memorial.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFoundError reports an operation on a resource that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Invalid builds a ValidationError.
func Invalid(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a ConflictError.
func Conflict(code, format string, args ...interface{}) *ConflictError {
	return &ConflictError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// HTTPStatus maps an error from the core onto a response status.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		ce *ConflictError
		nf *NotFoundError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable code carried by err, if any.
func Code(err error) string {
	var (
		ve *ValidationError
		ce *ConflictError
		nf *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Code
	case errors.As(err, &ce):
		return ce.Code
	case errors.As(err, &nf):
		return "NOT_FOUND"
	case errors.Is(err, ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// PublicMessage is the message shown to end users. Validation and conflict
// messages are shown verbatim; transient failures get a generic retry hint.
func PublicMessage(err error) string {
	var (
		ve *ValidationError
		ce *ConflictError
		nf *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &ce):
		return ce.Message
	case errors.As(err, &nf):
		return nf.Error()
	case errors.Is(err, ErrStoreUnavailable):
		return "Something went wrong, please try again."
	default:
		return "internal error"
	}
}
