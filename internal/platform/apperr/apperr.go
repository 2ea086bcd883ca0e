// Package apperr defines the error taxonomy shared by the telecare services.
// Callers branch on Kind for transport mapping and on Code for client-facing
// machine readable reasons.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindPhaseMismatch   Kind = "phase_mismatch"
	KindExternalService Kind = "external_service"
	KindInternal        Kind = "internal"
)

type Code string

const (
	CodeInvalidInput             Code = "INVALID_INPUT"
	CodeInvalidTransition        Code = "INVALID_TRANSITION"
	CodeInvalidID                Code = "INVALID_ID"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeSessionNotFound          Code = "SESSION_NOT_FOUND"
	CodeConsultationNotFound     Code = "CONSULTATION_NOT_FOUND"
	CodePatientMismatch          Code = "PATIENT_MISMATCH"
	CodeConsultationMismatch     Code = "CONSULTATION_MISMATCH"
	CodeActiveConsultationExists Code = "ACTIVE_CONSULTATION_EXISTS"
	CodeStaleUpdate              Code = "STALE_UPDATE"
	CodePhaseMismatch            Code = "PHASE_MISMATCH"
	CodeServiceUnavailable       Code = "SERVICE_UNAVAILABLE"
	CodePaymentNotCompleted      Code = "PAYMENT_NOT_COMPLETED"
	CodePaymentAlreadyConfirmed  Code = "PAYMENT_ALREADY_CONFIRMED"
	CodePayloadTooLarge          Code = "PAYLOAD_TOO_LARGE"
	CodeInternal                 Code = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and code to an underlying cause.
func Wrap(err error, kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code Code, format string, args ...any) *Error {
	return New(KindValidation, code, format, args...)
}

func NotFound(code Code, format string, args ...any) *Error {
	return New(KindNotFound, code, format, args...)
}

func Conflict(code Code, format string, args ...any) *Error {
	return New(KindConflict, code, format, args...)
}

func PhaseMismatch(format string, args ...any) *Error {
	return New(KindPhaseMismatch, CodePhaseMismatch, format, args...)
}

func ServiceUnavailable(err error, format string, args ...any) *Error {
	return Wrap(err, KindExternalService, CodeServiceUnavailable, fmt.Sprintf(format, args...))
}

func Internal(err error, message string) *Error {
	return Wrap(err, KindInternal, CodeInternal, message)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return CodeInternal
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindPhaseMismatch:
		return http.StatusConflict
	case KindExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts err into an echo error carrying the code and message.
// Internal errors never leak their cause.
func HTTPError(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	ae, ok := As(err)
	if !ok || ae.Kind == KindInternal {
		return echo.NewHTTPError(status, map[string]string{
			"code":    string(CodeInternal),
			"message": "internal error",
		})
	}
	return echo.NewHTTPError(status, map[string]string{
		"code":    string(ae.Code),
		"message": ae.Message,
	})
}
