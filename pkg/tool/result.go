package tool

import (
	"time"
)

// Result is the typed outcome of a tool execution. A failed result
// never carries data; callers that want a default must opt in via
// UnwrapOr.
type Result struct {
	Success   bool                   `json:"success"`
	Data      interface{}            `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Duration  time.Duration          `json:"duration"`
}

// Ok builds a successful result.
func Ok(data interface{}, duration time.Duration) Result {
	return Result{
		Success:  true,
		Data:     data,
		Metadata: map[string]interface{}{},
		Duration: duration,
	}
}

// Fail builds a failed result from a typed error. The error kind is
// recorded in the result metadata.
func Fail(toolName string, err error, duration time.Duration) Result {
	return Result{
		Success: false,
		Error:   err.Error(),
		Metadata: map[string]interface{}{
			"tool":       toolName,
			"error_kind": KindOf(err),
		},
		Duration: duration,
	}
}

// Kind returns the error kind of a failed result, or "" for success.
func (r Result) Kind() string {
	if r.Success {
		return ""
	}
	kind, _ := r.Metadata["error_kind"].(string)
	if kind == "" {
		return KindExecution
	}
	return kind
}

// Unwrap returns the payload, or an ExecutionError if the result is a
// failure. Failed results fail loudly; they never yield a zero value.
func (r Result) Unwrap() (interface{}, error) {
	if !r.Success {
		name, _ := r.Metadata["tool"].(string)
		msg := r.Error
		if msg == "" {
			msg = "tool execution failed"
		}
		return nil, &ExecutionError{Tool: name, Message: msg}
	}
	return r.Data, nil
}

// UnwrapOr returns the payload for a success, or def for a failure.
// This is the only default-substituting accessor.
func (r Result) UnwrapOr(def interface{}) interface{} {
	if !r.Success {
		return def
	}
	return r.Data
}
