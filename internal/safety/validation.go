package safety

import (
	"fmt"
	"math"
	"strings"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
	// Sentinel is the error matched by errors.Is when the result is turned into an error.
	Sentinel error
}

// Err converts a failed result into an INVALID_INPUT error; nil when valid.
func (r ValidationResult) Err(component, operation string) error {
	if r.Valid {
		return nil
	}
	return rerrors.NewInvalidInput(component, operation, r.Message, r.Sentinel).
		WithContext("code", r.Code)
}

var valid = ValidationResult{Valid: true}

// Validator checks the numeric inputs of risk decisions
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

func notANumber(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// ValidateEquity requires a finite, positive account equity
func (v *Validator) ValidateEquity(equity float64) ValidationResult {
	if notANumber(equity) {
		return ValidationResult{
			Message:  fmt.Sprintf("equity %v is not a finite number", equity),
			Code:     "EQUITY_NAN",
			Sentinel: rerrors.ErrInvalidEquity,
		}
	}
	if equity <= 0 {
		return ValidationResult{
			Message:  fmt.Sprintf("equity $%.2f must be positive", equity),
			Code:     "EQUITY_NON_POSITIVE",
			Sentinel: rerrors.ErrInvalidEquity,
		}
	}
	return valid
}

// ValidateStopDistance requires a finite, positive stop distance in USD
func (v *Validator) ValidateStopDistance(stop float64, symbol string) ValidationResult {
	if notANumber(stop) || stop <= 0 {
		return ValidationResult{
			Message:  fmt.Sprintf("stop distance %v for %s must be a positive number", stop, symbol),
			Code:     "STOP_DISTANCE_NON_POSITIVE",
			Sentinel: rerrors.ErrInvalidStopDistance,
		}
	}
	return valid
}

// ValidateNonNegative requires a finite value >= 0
func (v *Validator) ValidateNonNegative(value float64, fieldName string) ValidationResult {
	if notANumber(value) {
		return ValidationResult{
			Message: fmt.Sprintf("%s is not a finite number", fieldName),
			Code:    "VALUE_NAN",
		}
	}
	if value < 0 {
		return ValidationResult{
			Message: fmt.Sprintf("%s %.8f cannot be negative", fieldName, value),
			Code:    "VALUE_NEGATIVE",
		}
	}
	return valid
}

// ValidatePositive requires a finite value > 0
func (v *Validator) ValidatePositive(value float64, fieldName string) ValidationResult {
	if r := v.ValidateNonNegative(value, fieldName); !r.Valid {
		return r
	}
	if value == 0 {
		return ValidationResult{
			Message: fmt.Sprintf("%s must be positive", fieldName),
			Code:    "VALUE_ZERO",
		}
	}
	return valid
}

// ValidateFractionRange validates a fraction is within [min, max]
func (v *Validator) ValidateFractionRange(fraction, min, max float64, fieldName string) ValidationResult {
	if math.IsNaN(fraction) {
		return ValidationResult{
			Message: fmt.Sprintf("%s is NaN", fieldName),
			Code:    "FRACTION_NAN",
		}
	}
	if fraction < min {
		return ValidationResult{
			Message: fmt.Sprintf("%s %.4f below minimum %.4f", fieldName, fraction, min),
			Code:    "FRACTION_BELOW_MIN",
		}
	}
	if fraction > max {
		return ValidationResult{
			Message: fmt.Sprintf("%s %.4f above maximum %.4f", fieldName, fraction, max),
			Code:    "FRACTION_ABOVE_MAX",
		}
	}
	return valid
}

// ValidateSymbol validates a trading symbol
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return ValidationResult{
			Message: "symbol cannot be empty",
			Code:    "SYMBOL_EMPTY",
		}
	}
	if len(symbol) > 20 {
		return ValidationResult{
			Message: fmt.Sprintf("symbol '%s' too long: maximum 20 characters allowed", symbol),
			Code:    "SYMBOL_TOO_LONG",
		}
	}
	for _, char := range symbol {
		if !((char >= 'A' && char <= 'Z') || (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9') || char == '-' || char == '/') {
			return ValidationResult{
				Message: fmt.Sprintf("symbol '%s' contains invalid characters", symbol),
				Code:    "SYMBOL_INVALID_CHARS",
			}
		}
	}
	return valid
}

// ValidateStringNotEmpty validates that a string field is not empty
func (v *Validator) ValidateStringNotEmpty(value, fieldName string) ValidationResult {
	if strings.TrimSpace(value) == "" {
		return ValidationResult{
			Message: fmt.Sprintf("%s cannot be empty", fieldName),
			Code:    "STRING_EMPTY",
		}
	}
	return valid
}

// First returns the first failed result, or a valid result.
func First(results ...ValidationResult) ValidationResult {
	for _, r := range results {
		if !r.Valid {
			return r
		}
	}
	return valid
}
