package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType string

const (
	ErrConfig           ErrorType = "CONFIG_ERROR"
	ErrSigning          ErrorType = "SIGNING_ERROR"
	ErrExchange         ErrorType = "EXCHANGE_ERROR"
	ErrNetwork          ErrorType = "NETWORK_ERROR"
	ErrSizing           ErrorType = "SIZING_ERROR"
	ErrReconcileTimeout ErrorType = "RECONCILE_TIMEOUT"
	ErrInvalidRequest   ErrorType = "INVALID_REQUEST"
	ErrInternal         ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type    ErrorType `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: msg,
		Cause:   cause,
	}
}

func NewConfig(format string, args ...any) *AppError {
	return New(ErrConfig, fmt.Sprintf(format, args...), nil)
}

// NewInvalidRequest reports a malformed status server request.
func NewInvalidRequest(format string, args ...any) *AppError {
	return New(ErrInvalidRequest, fmt.Sprintf(format, args...), nil)
}

func NewSigning(msg string, cause error) *AppError {
	return New(ErrSigning, msg, cause)
}

func NewSizing(format string, args ...any) *AppError {
	return New(ErrSizing, fmt.Sprintf(format, args...), nil)
}

func NewNetwork(msg string, cause error) *AppError {
	return New(ErrNetwork, msg, cause)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if TypeOf(err) == ErrExchange {
		return New(ErrExchange, "exchange request failed", err)
	}
	return New(ErrInternal, err.Error(), err)
}

// TypeOf reports the category of err. ExchangeError values count as
// ErrExchange; network failures keep their own type so callers can tell
// them apart, but IsExchange treats both the same.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return ErrExchange
	}
	return ErrInternal
}

func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsExchange is true for exchange-reported failures and for network
// failures on the way to the exchange.
func IsExchange(err error) bool {
	t := TypeOf(err)
	return t == ErrExchange || t == ErrNetwork
}

// ExchangeError is returned for any HTTP status >= 400 or a response body
// carrying a negative exchange error code.
type ExchangeError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Body    string `json:"body"`
	Path    string `json:"path"`
}

func (e *ExchangeError) Error() string {
	var b strings.Builder
	b.WriteString("exchange error")
	if e.Path != "" {
		b.WriteString(" on ")
		b.WriteString(e.Path)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " code %d", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}
