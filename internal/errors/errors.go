package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a ticket or registered service was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates an entry with the same id already exists.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"

	// ErrCodeTicketExpired indicates the ticket, or one of its ancestors, is expired.
	ErrCodeTicketExpired ErrorCode = "ticket_expired"
	// ErrCodeTicketAlreadyUsed indicates a single-use ticket was presented twice.
	ErrCodeTicketAlreadyUsed ErrorCode = "ticket_already_used"
	// ErrCodeProxyNotAuthorized indicates the service may not obtain proxy granting tickets.
	ErrCodeProxyNotAuthorized ErrorCode = "proxy_not_authorized"
	// ErrCodeInvalidService indicates a ticket was presented by a service it was not issued for.
	ErrCodeInvalidService ErrorCode = "invalid_service"
	// ErrCodeConcurrentModification indicates a stale read lost a write race in the registry.
	ErrCodeConcurrentModification ErrorCode = "concurrent_modification"

	// ErrCodeEncodingTooLarge indicates an encoded ticket exceeded the transcoder ceiling.
	ErrCodeEncodingTooLarge ErrorCode = "encoding_too_large"
	// ErrCodeUnknownType indicates no codec is registered for a ticket type.
	ErrCodeUnknownType ErrorCode = "unknown_type"
	// ErrCodeCorruptEncoding indicates stored bytes could not be decoded.
	ErrCodeCorruptEncoding ErrorCode = "corrupt_encoding"

	// ErrCodeAuthenticationFailed indicates no authentication handler accepted the credential.
	ErrCodeAuthenticationFailed ErrorCode = "authentication_failed"
	// ErrCodeInvalidCredentials indicates a handler rejected the credential.
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	// ErrCodeHandlerUnavailable indicates a handler could not reach its backing store.
	ErrCodeHandlerUnavailable ErrorCode = "handler_unavailable"
	// ErrCodeSecurity indicates a handler refused the credential for policy reasons.
	ErrCodeSecurity ErrorCode = "security_error"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return newf(ErrCodeNotFound, format, args...)
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return newf(ErrCodeConflict, format, args...)
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return newf(ErrCodeInternal, format, args...)
}

// TicketExpired reports that the ticket with the given id may no longer be used.
func TicketExpired(id string) *AppError {
	return newf(ErrCodeTicketExpired, "ticket %s is expired", id)
}

// TicketAlreadyUsed reports a second validation of a single-use ticket.
func TicketAlreadyUsed(id string) *AppError {
	return newf(ErrCodeTicketAlreadyUsed, "ticket %s has already been used", id)
}

// ProxyNotAuthorized reports that serviceID is not allowed to request proxy tickets.
func ProxyNotAuthorized(serviceID string) *AppError {
	return newf(ErrCodeProxyNotAuthorized, "service %s is not authorized to proxy", serviceID)
}

// InvalidService reports a service mismatch during ticket validation.
func InvalidService(id, serviceID string) *AppError {
	return newf(ErrCodeInvalidService, "ticket %s was not issued for service %s", id, serviceID)
}

// ConcurrentModification reports that the stored ticket changed since it was read.
func ConcurrentModification(id string) *AppError {
	return newf(ErrCodeConcurrentModification, "ticket %s was modified concurrently", id)
}

// EncodingTooLarge reports that an encoding would exceed limit bytes.
func EncodingTooLarge(id string, limit int) *AppError {
	return newf(ErrCodeEncodingTooLarge, "encoding of ticket %s exceeds %d bytes", id, limit)
}

// UnknownType reports a ticket type with no registered codec.
func UnknownType(tag string) *AppError {
	return newf(ErrCodeUnknownType, "no codec registered for type %q", tag)
}

// CorruptEncoding wraps a decoding failure.
func CorruptEncoding(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeCorruptEncoding,
		Message: "corrupt ticket encoding",
		Cause:   cause,
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// IsTicketExpired checks if an error is a TicketExpired error.
func IsTicketExpired(err error) bool {
	return isCode(err, ErrCodeTicketExpired)
}

// IsTicketAlreadyUsed checks if an error is a TicketAlreadyUsed error.
func IsTicketAlreadyUsed(err error) bool {
	return isCode(err, ErrCodeTicketAlreadyUsed)
}

// IsProxyNotAuthorized checks if an error is a ProxyNotAuthorized error.
func IsProxyNotAuthorized(err error) bool {
	return isCode(err, ErrCodeProxyNotAuthorized)
}

// IsInvalidService checks if an error is an InvalidService error.
func IsInvalidService(err error) bool {
	return isCode(err, ErrCodeInvalidService)
}

// IsConcurrentModification checks if an error is a ConcurrentModification error.
func IsConcurrentModification(err error) bool {
	return isCode(err, ErrCodeConcurrentModification)
}

// IsEncodingTooLarge checks if an error is an EncodingTooLarge error.
func IsEncodingTooLarge(err error) bool {
	return isCode(err, ErrCodeEncodingTooLarge)
}

// IsUnknownType checks if an error is an UnknownType error.
func IsUnknownType(err error) bool {
	return isCode(err, ErrCodeUnknownType)
}

// IsCorruptEncoding checks if an error is a CorruptEncoding error.
func IsCorruptEncoding(err error) bool {
	return isCode(err, ErrCodeCorruptEncoding)
}

// IsAuthenticationFailed checks if an error is an AuthenticationFailed error.
func IsAuthenticationFailed(err error) bool {
	return isCode(err, ErrCodeAuthenticationFailed)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
