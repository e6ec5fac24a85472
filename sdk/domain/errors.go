package domain

import (
	"errors"
	"fmt"
)

// ErrorCode representa un código de error del dominio de trading.
type ErrorCode string

// Códigos de error estándar
const (
	// ErrNoError indica éxito (sin error)
	ErrNoError ErrorCode = "NO_ERROR"

	// Configuración (fail-closed)
	ErrConfigMissing ErrorCode = "CONFIG_MISSING"

	// Preflight / política
	ErrLinkedOrderTypeForbidden ErrorCode = "LINKED_ORDER_TYPE_FORBIDDEN"
	ErrOrderTypeMarketForbidden ErrorCode = "ORDER_TYPE_MARKET_FORBIDDEN"
	ErrOrderTypeStopForbidden   ErrorCode = "ORDER_TYPE_STOP_FORBIDDEN"
	ErrModeForbidsOpen          ErrorCode = "MODE_FORBIDS_OPEN"
	ErrModeForbidsClose         ErrorCode = "MODE_FORBIDS_CLOSE"
	ErrExposureExceeded         ErrorCode = "EXPOSURE_EXCEEDED"
	ErrOrderQtyExceeded         ErrorCode = "ORDER_QTY_EXCEEDED"

	// Cuantización
	ErrInstrumentMetadataMissing ErrorCode = "INSTRUMENT_METADATA_MISSING"
	ErrTooSmallAfterQuantization ErrorCode = "TOO_SMALL_AFTER_QUANTIZATION"
	ErrInvalidInput              ErrorCode = "INVALID_INPUT"

	// Despacho
	ErrDispatchAmbiguous ErrorCode = "DISPATCH_AMBIGUOUS"
	ErrDispatchFailed    ErrorCode = "DISPATCH_FAILED"
	ErrTooManyRequests   ErrorCode = "TOO_MANY_REQUESTS"
	ErrTimeout           ErrorCode = "TIMEOUT"

	// Sistema
	ErrMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"
	ErrDuplicateIntent      ErrorCode = "DUPLICATE_INTENT"
	ErrJournalConflict      ErrorCode = "JOURNAL_CONFLICT"
	ErrDeterminismViolation ErrorCode = "DETERMINISM_VIOLATION"
	ErrConnectionLost       ErrorCode = "CONNECTION_LOST"
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrUnknown              ErrorCode = "UNKNOWN"
)

// TradingError representa un error del dominio de trading con contexto.
type TradingError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implementa la interfaz error.
func (e *TradingError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implementa la interfaz errors.Unwrap.
func (e *TradingError) Unwrap() error {
	return e.Wrapped
}

// WithDetail agrega un detalle al error.
func (e *TradingError) WithDetail(key string, value interface{}) *TradingError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError crea un nuevo TradingError.
//
// Example:
//
//	err := domain.NewError(domain.ErrInstrumentMetadataMissing, "tick_size is zero")
func NewError(code ErrorCode, message string) *TradingError {
	return &TradingError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError envuelve un error existente con contexto de trading.
func WrapError(code ErrorCode, message string, wrapped error) *TradingError {
	return &TradingError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: wrapped,
	}
}

// CodeOf extrae el ErrorCode de un error; ErrUnknown si no es TradingError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNoError
	}
	var te *TradingError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrUnknown
}

// IsRetryable indica si un error de despacho puede reintentarse tras
// reconciliación. Los rechazos de gates nunca son retriables.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrTooManyRequests, ErrTimeout, ErrConnectionLost:
		return true
	default:
		return false
	}
}

// IsFatal indica si un error es fatal (no se debe reintentar bajo ninguna
// circunstancia).
func IsFatal(code ErrorCode) bool {
	switch code {
	case ErrDuplicateIntent, ErrJournalConflict, ErrDeterminismViolation,
		ErrMissingRequiredField:
		return true
	default:
		return false
	}
}
