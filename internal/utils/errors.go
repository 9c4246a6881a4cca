// internal/utils/errors.go
package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindPrecondition ErrorKind = "precondition"
	KindStructural   ErrorKind = "structural"
	KindNotFound     ErrorKind = "not_found"
	KindNotEligible  ErrorKind = "not_eligible"
	KindForbidden    ErrorKind = "forbidden"
)

// Stable machine-readable error codes.
const (
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeRateMismatch           = "RATE_MISMATCH"
	CodeDuplicate              = "DUPLICATE"
	CodeSplitLocked            = "SPLIT_LOCKED"
	CodePaymentNotPaid         = "PAYMENT_NOT_PAID"
	CodeSplitNotLocked         = "SPLIT_NOT_LOCKED"
	CodeParentSplitNotLocked   = "PARENT_SPLIT_NOT_LOCKED"
	CodeClearanceRequired      = "CLEARANCE_REQUIRED"
	CodeMultipleParents        = "MULTIPLE_PARENTS_NOT_SUPPORTED"
	CodeNotFound               = "NOT_FOUND"
	CodeNotEligible            = "NOT_ELIGIBLE"
	CodeForbidden              = "FORBIDDEN"
	CodeSettlementUnbalanced   = "SETTLEMENT_UNBALANCED"
	CodePaymentDetailsMismatch = "PAYMENT_DETAILS_MISMATCH"
)

// AppError is a structured failure that crosses the API boundary unchanged.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the same call may succeed once an external
// condition clears. Structural errors need a data fix first.
func (e *AppError) Retryable() bool {
	return e.Kind == KindPrecondition
}

func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindPrecondition:
		return http.StatusPreconditionFailed
	case KindStructural:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindNotEligible, KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func newAppError(kind ErrorKind, code, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewValidationError(format string, args ...interface{}) *AppError {
	return newAppError(KindValidation, CodeValidationFailed, format, args...)
}

func NewConflictError(code, format string, args ...interface{}) *AppError {
	return newAppError(KindConflict, code, format, args...)
}

func NewPreconditionError(code, format string, args ...interface{}) *AppError {
	return newAppError(KindPrecondition, code, format, args...)
}

func NewStructuralError(code, format string, args ...interface{}) *AppError {
	return newAppError(KindStructural, code, format, args...)
}

func NewNotFoundError(resource string) *AppError {
	return newAppError(KindNotFound, CodeNotFound, "%s not found", resource)
}

func NewNotEligibleError(format string, args ...interface{}) *AppError {
	return newAppError(KindNotEligible, CodeNotEligible, format, args...)
}

func NewForbiddenError(format string, args ...interface{}) *AppError {
	return newAppError(KindForbidden, CodeForbidden, format, args...)
}

// AsAppError unwraps err into an *AppError if it carries one.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
