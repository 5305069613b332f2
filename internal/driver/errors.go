package driver

import (
	"errors"
	"fmt"
)

// ErrConfiguration indicates missing or unreadable configuration, such as the platform script.
var ErrConfiguration = errors.New("configuration error")

// IsConfigurationError reports whether err is a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// ConvergenceError wraps a failure raised by the convergence engine. The
// environment is left in whatever state the engine produced.
type ConvergenceError struct {
	// Stage is "begin", the script name being executed, or "converge".
	Stage string
	// Err is the engine error, unchanged.
	Err error
}

func (e *ConvergenceError) Error() string {
	if e == nil || e.Err == nil {
		return "convergence failed"
	}
	return fmt.Sprintf("convergence failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the engine error.
func (e *ConvergenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsConvergenceError reports whether err is a convergence failure.
func IsConvergenceError(err error) bool {
	var target *ConvergenceError
	return errors.As(err, &target)
}
