package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNetwork       = errors.New("network failure")
	ErrInvalidItem   = errors.New("invalid cart item")
	ErrPaymentFailed = errors.New("payment failed")
	ErrOrderFailed   = errors.New("order failed")
	ErrUpstreamError = errors.New("upstream error")
)

// ErrorKind tags an APIError with the failure class callers branch on.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"       // bad credentials, refresh rejected
	KindNetwork    ErrorKind = "network"    // transport failure or timeout
	KindValidation ErrorKind = "validation" // cart line failed normalization
	KindPayment    ErrorKind = "payment"    // capture did not return captured
	KindOrder      ErrorKind = "order"      // order creation rejected
	KindUpstream   ErrorKind = "upstream"   // any other non-2xx from the backend
	KindInternal   ErrorKind = "internal"
)

// APIError represents a structured backend or client-side failure.
// Implements error interface and supports unwrapping.
type APIError struct {
	Kind       ErrorKind `json:"kind"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status,omitempty"`
	Detail     any       `json:"detail,omitempty"` // parsed response body, or raw text
	Err        error     `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first APIError in err's chain.
// Errors that carry no APIError report KindInternal.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// NewAuthError creates an error for rejected credentials or a failed refresh.
func NewAuthError(reason string, status int, detail any) *APIError {
	return &APIError{
		Kind:       KindAuth,
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: status,
		Detail:     detail,
		Err:        ErrUnauthorized,
	}
}

// NewNetworkError wraps a transport failure talking to the backend.
func NewNetworkError(op string, err error) *APIError {
	return &APIError{
		Kind:    KindNetwork,
		Code:    "NETWORK_ERROR",
		Message: fmt.Sprintf("%s: backend unreachable", op),
		Err:     fmt.Errorf("%w: %v", ErrNetwork, err),
	}
}

// NewValidationError creates an error for a cart that fails normalization.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Err:     ErrInvalidItem,
	}
}

// NewPaymentError creates an error for a capture that did not succeed.
func NewPaymentError(reason string) *APIError {
	return &APIError{
		Kind:       KindPayment,
		Code:       "PAYMENT_ERROR",
		Message:    reason,
		StatusCode: 402,
		Err:        ErrPaymentFailed,
	}
}

// NewOrderError creates an error for a rejected order, keeping the backend's
// detail text verbatim.
func NewOrderError(status int, detail any) *APIError {
	return &APIError{
		Kind:       KindOrder,
		Code:       "ORDER_ERROR",
		Message:    fmt.Sprintf("order error (%d): %s", status, DetailText(detail)),
		StatusCode: status,
		Detail:     detail,
		Err:        ErrOrderFailed,
	}
}

// NewUpstreamError creates an error for a non-2xx backend response.
func NewUpstreamError(status int, detail any) *APIError {
	return &APIError{
		Kind:       KindUpstream,
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("backend returned %d", status),
		StatusCode: status,
		Detail:     detail,
		Err:        ErrUpstreamError,
	}
}

// NewInternalError creates an error for unexpected client-side failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Kind:    KindInternal,
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Err:     err,
	}
}

// DetailText renders a backend error body for humans.
// Prefers the conventional "detail" field, falls back to the raw JSON.
func DetailText(detail any) string {
	switch d := detail.(type) {
	case nil:
		return ""
	case string:
		return d
	case map[string]any:
		if msg, ok := d["detail"].(string); ok {
			return msg
		}
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Sprint(detail)
	}
	return string(data)
}
