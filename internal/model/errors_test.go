package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "without wrapped error",
			err: &APIError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
			},
			want: "TEST_ERROR: something went wrong",
		},
		{
			name: "with wrapped error",
			err: &APIError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
				Err:     errors.New("underlying cause"),
			},
			want: "TEST_ERROR: something went wrong (underlying cause)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &APIError{
		Code:    "TEST",
		Message: "test",
		Err:     underlying,
	}

	unwrapped := err.Unwrap()
	if unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}

	// Test nil case
	errNoWrap := &APIError{Code: "TEST", Message: "test"}
	if errNoWrap.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no wrapped error")
	}
}

func TestNewAuthError(t *testing.T) {
	detail := map[string]any{"detail": "Token is invalid or expired"}
	err := NewAuthError("refresh rejected", 401, detail)

	if err.Kind != KindAuth {
		t.Errorf("Kind = %q, want %q", err.Kind, KindAuth)
	}
	if err.Code != "UNAUTHORIZED" {
		t.Errorf("Code = %q, want %q", err.Code, "UNAUTHORIZED")
	}
	if err.StatusCode != 401 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 401)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Error("error should wrap ErrUnauthorized sentinel")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("cart", "no valid lines")

	if err.Kind != KindValidation {
		t.Errorf("Kind = %q, want %q", err.Kind, KindValidation)
	}
	if err.Message != "invalid cart: no valid lines" {
		t.Errorf("Message = %q, want %q", err.Message, "invalid cart: no valid lines")
	}
	if !errors.Is(err, ErrInvalidItem) {
		t.Error("error should wrap ErrInvalidItem sentinel")
	}
}

func TestNewNetworkError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := NewNetworkError("POST cart/sync/", underlying)

	if err.Kind != KindNetwork {
		t.Errorf("Kind = %q, want %q", err.Kind, KindNetwork)
	}
	if err.Message != "POST cart/sync/: backend unreachable" {
		t.Errorf("Message = %q", err.Message)
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("error should wrap ErrNetwork sentinel")
	}
}

func TestNewOrderError(t *testing.T) {
	tests := []struct {
		name   string
		detail any
		want   string
	}{
		{"detail field", map[string]any{"detail": "Menu item unavailable"}, "order error (400): Menu item unavailable"},
		{"raw text", "Bad Gateway", "order error (400): Bad Gateway"},
		{"field errors", map[string]any{"items": []any{"This field is required."}}, `order error (400): {"items":["This field is required."]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewOrderError(400, tt.detail)
			if err.Message != tt.want {
				t.Errorf("Message = %q, want %q", err.Message, tt.want)
			}
			if !errors.Is(err, ErrOrderFailed) {
				t.Error("error should wrap ErrOrderFailed sentinel")
			}
		})
	}
}

func TestNewPaymentError(t *testing.T) {
	err := NewPaymentError("payment failed")

	if err.Code != "PAYMENT_ERROR" {
		t.Errorf("Code = %q, want %q", err.Code, "PAYMENT_ERROR")
	}
	if err.StatusCode != 402 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 402)
	}
	if !errors.Is(err, ErrPaymentFailed) {
		t.Error("error should wrap ErrPaymentFailed sentinel")
	}
}

func TestNewInternalError(t *testing.T) {
	underlying := errors.New("null pointer dereference")
	err := NewInternalError(underlying)

	if err.Code != "INTERNAL_ERROR" {
		t.Errorf("Code = %q, want %q", err.Code, "INTERNAL_ERROR")
	}
	if err.Err != underlying {
		t.Error("wrapped error should be preserved")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"auth", NewAuthError("x", 401, nil), KindAuth},
		{"wrapped payment", fmt.Errorf("capturing: %w", NewPaymentError("x")), KindPayment},
		{"upstream", NewUpstreamError(500, nil), KindUpstream},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(fmt.Errorf("x: %w", NewUpstreamError(503, nil))); got != 503 {
		t.Errorf("StatusOf() = %d, want 503", got)
	}
	if got := StatusOf(errors.New("boom")); got != 0 {
		t.Errorf("StatusOf() = %d, want 0", got)
	}
}

// TestErrorsIs verifies that errors.Is() works correctly with all sentinel errors.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		sentinel error
	}{
		{"Auth", NewAuthError("x", 401, nil), ErrUnauthorized},
		{"Network", NewNetworkError("x", errors.New("y")), ErrNetwork},
		{"Validation", NewValidationError("x", "y"), ErrInvalidItem},
		{"Payment", NewPaymentError("x"), ErrPaymentFailed},
		{"Order", NewOrderError(400, nil), ErrOrderFailed},
		{"Upstream", NewUpstreamError(500, nil), ErrUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%T, %v) = false, want true", tt.err, tt.sentinel)
			}
		})
	}
}

// TestAPIErrorImplementsError verifies the error interface is properly implemented.
func TestAPIErrorImplementsError(t *testing.T) {
	var err error = &APIError{Code: "TEST", Message: "test"}
	_ = err.Error()

	wrapped := fmt.Errorf("outer: %w", err)
	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Error("errors.As should find *APIError in wrapped error")
	}
}
