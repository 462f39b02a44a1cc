package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCategory represents the class of failure surfaced to callers.
// Policy refusals are not errors; they are returned as rejected results.
type ErrorCategory string

const (
	// Malformed input, always raised and never coerced to zero
	ErrorCategoryInvalidInput ErrorCategory = "INVALID_INPUT"
	// Persistence port could not read or write state
	ErrorCategoryStorage ErrorCategory = "STORAGE"
	// Configuration failed validation
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
)

// Sentinel errors. Match with errors.Is; RiskError unwraps to them.
var (
	ErrInvalidInput        = stderrors.New("invalid input")
	ErrInvalidEquity       = stderrors.New("invalid equity")
	ErrInvalidStopDistance = stderrors.New("invalid stop distance")
	ErrDivisionByZero      = stderrors.New("division by zero")
	ErrNoDebt              = stderrors.New("position has no debt")
	ErrPositionNotFound    = stderrors.New("position not found")
	ErrDuplicatePosition   = stderrors.New("position already open")
	ErrStorage             = stderrors.New("storage failure")
	ErrInvalidConfig       = stderrors.New("invalid configuration")
)

// RiskError represents a categorized error with context
type RiskError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *RiskError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

// Unwrap returns the underlying error for error unwrapping
func (e *RiskError) Unwrap() error {
	return e.Underlying
}

// WithContext adds context information to the error
func (e *RiskError) WithContext(key string, value interface{}) *RiskError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsInvalidInput reports whether err is a malformed-input error.
func IsInvalidInput(err error) bool {
	return hasCategory(err, ErrorCategoryInvalidInput)
}

// IsStorage reports whether err came from the persistence port.
func IsStorage(err error) bool {
	return hasCategory(err, ErrorCategoryStorage)
}

func hasCategory(err error, category ErrorCategory) bool {
	var re *RiskError
	if stderrors.As(err, &re) {
		return re.Category == category
	}
	return false
}

// NewInvalidInput builds an INVALID_INPUT error. sentinel selects the errors.Is
// target; nil defaults to ErrInvalidInput.
func NewInvalidInput(component, operation, message string, sentinel error) *RiskError {
	if sentinel == nil {
		sentinel = ErrInvalidInput
	}
	return &RiskError{
		Category:   ErrorCategoryInvalidInput,
		Component:  component,
		Operation:  operation,
		Message:    message,
		Underlying: sentinel,
	}
}

// NewStorageError wraps a persistence failure. The result matches both
// ErrStorage and the original error; a nil err yields nil.
func NewStorageError(component, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &RiskError{
		Category:   ErrorCategoryStorage,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: fmt.Errorf("%w: %w", ErrStorage, err),
	}
}

// NewConfigurationError reports an invalid configuration value.
func NewConfigurationError(component, field, message string) *RiskError {
	return &RiskError{
		Category:   ErrorCategoryConfiguration,
		Component:  component,
		Operation:  "validate",
		Message:    message,
		Underlying: ErrInvalidConfig,
		Context:    map[string]interface{}{"field": field},
	}
}
