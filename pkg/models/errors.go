package models

import (
	"errors"
	"fmt"
)

const (
	BadRequestErrorCode     = 400
	UnauthorizedErrorCode   = 401
	NotFoundErrorCode       = 404
	ConflictErrorCode       = 409
	GoneErrorCode           = 410
	InternalServerErrorCode = 500
	ServiceUnavailableCode  = 503
	GatewayTimeoutCode      = 504
)

var (
	ErrUnauthorized       = errors.New("session is not authorized")
	ErrOfferWindowExpired = errors.New("bag offer window expired")
	ErrSuperseded         = errors.New("request superseded by a newer one")
	ErrNotFound           = errors.New("not found")
	ErrNotConnected       = errors.New("wallet is not connected")

	ErrFileTooLarge    = errors.New("files are too large")
	ErrTooManyFiles    = errors.New("too many files")
	ErrNoFiles         = errors.New("no files selected")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidPeriod   = errors.New("invalid storage period")
	ErrInvalidBagID    = errors.New("invalid bag id")
	ErrNoProviders     = errors.New("no providers selected")
	ErrSpanMismatch    = errors.New("providers have no common proof span")
	ErrPaymentRejected = errors.New("transaction was rejected")

	ErrConfirmationTimeout = errors.New("transaction was not confirmed in time")
)

type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("app error %d", e.Code)
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.err
}

func NewAppError(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapAppError keeps err reachable through errors.Is while exposing code and message to the API layer.
func WrapAppError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, err: err}
}

// ErrorCode maps an error to the status code the local API should answer with.
func ErrorCode(err error) int {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Code
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotConnected):
		return UnauthorizedErrorCode
	case errors.Is(err, ErrOfferWindowExpired):
		return GoneErrorCode
	case errors.Is(err, ErrNotFound):
		return NotFoundErrorCode
	case errors.Is(err, ErrSuperseded), errors.Is(err, ErrPaymentRejected):
		return ConflictErrorCode
	case errors.Is(err, ErrConfirmationTimeout):
		return GatewayTimeoutCode
	case IsValidation(err):
		return BadRequestErrorCode
	default:
		return InternalServerErrorCode
	}
}

func IsValidation(err error) bool {
	for _, v := range []error{
		ErrFileTooLarge, ErrTooManyFiles, ErrNoFiles, ErrInvalidAddress,
		ErrInvalidPeriod, ErrInvalidBagID, ErrNoProviders, ErrSpanMismatch,
	} {
		if errors.Is(err, v) {
			return true
		}
	}

	return false
}
