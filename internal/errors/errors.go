// Package errors defines the service error taxonomy shared by all handlers.
// Every error that reaches the API boundary carries a stable machine-readable
// code plus an HTTP status so clients can branch without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class to API clients.
type Code string

const (
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalidToken        Code = "INVALID_OR_EXPIRED_SESSION"
	CodeSignatureMismatch   Code = "SIGNATURE_MISMATCH"
	CodeSecretNotSet        Code = "SECRET_NOT_SET"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeOnChain             Code = "ONCHAIN_ERROR"
	CodeWebhookAuthenticity Code = "INVALID_WEBHOOK_SIGNATURE"
	CodeNotFound            Code = "NOT_FOUND"
	CodeRateLimited         Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// ServiceError is the canonical error type surfaced by the API layer.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair for the client payload.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Unauthorized covers missing or malformed credentials.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken covers bad or expired bearer sessions.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired session", err)
}

// SignatureMismatch covers wallet signatures that do not recover to the
// claimed address.
func SignatureMismatch(message string) *ServiceError {
	return newError(CodeSignatureMismatch, http.StatusUnauthorized, message, nil)
}

// SecretNotSet gates ledger reads behind enrollment. The missing secret kind
// is carried in the details so the client can prompt re-enrollment.
func SecretNotSet(kind string) *ServiceError {
	e := newError(CodeSecretNotSet, http.StatusForbidden,
		fmt.Sprintf("%s secret not set", kind), nil)
	return e.WithDetails("missing_secret", kind)
}

// Validation covers malformed addresses, amounts and tokens.
func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

// InsufficientBalance is a business-rule rejection, never a clamp.
func InsufficientBalance() *ServiceError {
	return newError(CodeInsufficientBalance, http.StatusBadRequest, "Insufficient balance", nil)
}

// OnChain covers RPC and transaction submission failures.
func OnChain(message string, err error) *ServiceError {
	return newError(CodeOnChain, http.StatusBadGateway, message, err)
}

// WebhookAuthenticity is terminal: a bad HMAC is never retried.
func WebhookAuthenticity(message string) *ServiceError {
	return newError(CodeWebhookAuthenticity, http.StatusUnauthorized, message, nil)
}

// NotFound covers absent resources.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

// RateLimited covers throttled clients.
func RateLimited() *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "Too many requests", nil)
}

// Internal covers everything unexpected.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
