// internal/services/errors.go
package services

import "fmt"

// ValidationError reports caller input that fails a precondition before any
// state is touched.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ParseError reports a malformed gateway reference number.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

func NewParseError(format string, args ...interface{}) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}

// EcommerceError reports a reconciliation failure: the books and the incoming
// event disagree in a way that must not be silently absorbed.
type EcommerceError struct {
	Message string
}

func (e *EcommerceError) Error() string {
	return e.Message
}

func NewEcommerceError(format string, args ...interface{}) *EcommerceError {
	return &EcommerceError{Message: fmt.Sprintf(format, args...)}
}

// InvalidApplicationStateError reports an application event arriving while the
// application is in a state that does not accept it.
type InvalidApplicationStateError struct {
	Message string
}

func (e *InvalidApplicationStateError) Error() string {
	return e.Message
}

func NewInvalidApplicationStateError(format string, args ...interface{}) *InvalidApplicationStateError {
	return &InvalidApplicationStateError{Message: fmt.Sprintf(format, args...)}
}
