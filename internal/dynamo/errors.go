package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for controller operations.
var (
	// ErrConfiguration indicates inconsistent construction-time settings.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrInvalidState indicates a state vector containing NaN or Inf.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrParameterBounds indicates a parameter value is outside valid range.
	ErrParameterBounds = errors.New("dynamo: parameter out of valid bounds")

	// ErrSnapshot indicates an exported weight blob that cannot be restored.
	ErrSnapshot = errors.New("dynamo: malformed snapshot")

	// ErrContextCanceled indicates the closed-loop run was interrupted.
	ErrContextCanceled = errors.New("dynamo: run canceled by context")
)

// ConfigError wraps ErrConfiguration with the offending field.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s=%v: %s", ErrConfiguration, e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// NewConfigError is a shorthand used by the Validate methods.
func NewConfigError(field string, value any, reason string) error {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

// TickError records a non-fatal problem observed during a closed-loop tick.
type TickError struct {
	Tick    int
	Time    float64
	State   State
	Wrapped error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("tick %d (t=%.4f): %v", e.Tick, e.Time, e.Wrapped)
}

func (e *TickError) Unwrap() error {
	return e.Wrapped
}
