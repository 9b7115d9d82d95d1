package tool

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds carried in result metadata and surfaced to callers.
const (
	KindValidation = "validation"
	KindDuplicate  = "duplicate_name"
	KindNotFound   = "not_found"
	KindSecurity   = "security"
	KindTimeout    = "timeout"
	KindExecution  = "execution"
)

// ValidationError reports a bad, missing, or unknown parameter. It is
// locally recoverable and never retried automatically.
type ValidationError struct {
	Parameter string
	Expected  string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invalid parameter %q: expected %s", e.Parameter, e.Expected)
}

// DuplicateNameError reports a registration conflict. The registry is
// left unchanged when it is returned.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// NotFoundError reports a lookup for a name or alias with no entry.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// SecurityError reports an action denied by the security policy. It is
// always surfaced, never silently downgraded.
type SecurityError struct {
	Level           string
	AttemptedAction string
	Message         string
}

func (e *SecurityError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("security policy (%s) denied action: %s", e.Level, e.AttemptedAction)
}

// TimeoutError reports a sandboxed execution exceeding its wall-clock
// timeout.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q execution timeout after %v", e.Tool, e.Timeout)
}

// ExecutionError reports a tool-internal failure.
type ExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %q execution failed: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("tool %q execution failed: %s", e.Tool, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// KindOf classifies an error into one of the error kinds. Unknown
// errors classify as execution failures.
func KindOf(err error) string {
	var (
		ve *ValidationError
		de *DuplicateNameError
		ne *NotFoundError
		se *SecurityError
		te *TimeoutError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &de):
		return KindDuplicate
	case errors.As(err, &ne):
		return KindNotFound
	case errors.As(err, &se):
		return KindSecurity
	case errors.As(err, &te):
		return KindTimeout
	default:
		return KindExecution
	}
}
