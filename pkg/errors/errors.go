// Package errors defines the coded errors services return and the metadata
// the HTTP layer uses to render them.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable machine-readable identifier sent to clients.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Order lifecycle codes.
const (
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeCrossFacilityCart Code = "CROSS_FACILITY_CART"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeAmountMismatch    Code = "AMOUNT_MISMATCH"
	CodeDuplicatePayment  Code = "DUPLICATE_PAYMENT"
	CodeAlreadyAssigned   Code = "ALREADY_ASSIGNED"
	CodeGatewayTimeout    Code = "GATEWAY_TIMEOUT"
	CodePaymentDeclined   Code = "PAYMENT_DECLINED"
)

// Metadata controls how a code is rendered over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	hideDetails = false
	showDetails = true
)

// final marks a code the client should not retry unchanged.
func final(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, DetailsAllowed: details}
}

// transient marks a code worth retrying with backoff.
func transient(status int, public string, details bool) Metadata {
	m := final(status, public, details)
	m.Retryable = true
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    final(http.StatusBadRequest, "validation failed", showDetails),
	CodeUnauthorized:  final(http.StatusUnauthorized, "authentication required", hideDetails),
	CodeForbidden:     final(http.StatusForbidden, "access denied", hideDetails),
	CodeNotFound:      final(http.StatusNotFound, "resource not found", hideDetails),
	CodeConflict:      final(http.StatusConflict, "conflict detected", hideDetails),
	CodeStateConflict: final(http.StatusUnprocessableEntity, "state transition disallowed", showDetails),
	CodeIdempotency:   final(http.StatusConflict, "idempotency key reused", showDetails),
	CodeRateLimit:     final(http.StatusTooManyRequests, "rate limit exceeded", hideDetails),
	CodeInternal:      transient(http.StatusInternalServerError, "internal server error", hideDetails),
	CodeDependency:    transient(http.StatusServiceUnavailable, "dependency unavailable", showDetails),

	CodeInsufficientStock: final(http.StatusConflict, "insufficient stock", showDetails),
	CodeCrossFacilityCart: final(http.StatusUnprocessableEntity, "all items must come from one facility", showDetails),
	CodeInvalidTransition: final(http.StatusConflict, "status transition not allowed", showDetails),
	CodeAmountMismatch:    final(http.StatusUnprocessableEntity, "payment amount does not match order total", showDetails),
	CodeDuplicatePayment:  final(http.StatusConflict, "order already has an active payment", showDetails),
	CodeAlreadyAssigned:   final(http.StatusConflict, "delivery already assigned", hideDetails),
	// The gateway may still settle the charge, so a blind retry could double-charge.
	CodeGatewayTimeout:  final(http.StatusGatewayTimeout, "payment gateway did not respond", showDetails),
	CodePaymentDeclined: final(http.StatusPaymentRequired, "payment declined", showDetails),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	meta, ok := metadataByCode[code]
	if !ok {
		return metadataByCode[CodeInternal]
	}
	return meta
}

// Error is a coded error with an optional cause and client-facing details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	default:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if !stdErrors.As(err, &typed) {
		return nil
	}
	return typed
}

// Is reports whether the outermost *Error in err's chain carries code.
func Is(err error, code Code) bool {
	return As(err).codeOrEmpty() == code
}

func (e *Error) codeOrEmpty() Code {
	if e == nil {
		return ""
	}
	return e.code
}
